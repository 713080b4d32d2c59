package store

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attribute names managed by the store on every document.
const (
	// IDAttribute holds the document id. It is the sort key of every
	// container table.
	IDAttribute = "id"

	// ETagAttribute holds an opaque version token regenerated on every write.
	ETagAttribute = "_etag"

	// TimestampAttribute holds the Unix time of the last write.
	TimestampAttribute = "_ts"

	// TTLAttribute holds the Unix time after which the document expires.
	TTLAttribute = "ttl"
)

// PartitionKey is the value of a document's partition key.
type PartitionKey struct {
	value string
}

// NewPartitionKeyString returns a partition key with a string value.
func NewPartitionKeyString(value string) PartitionKey {
	return PartitionKey{value: value}
}

// String returns the partition key value.
func (pk PartitionKey) String() string { return pk.value }

func (pk PartitionKey) attributeValue() types.AttributeValue {
	return &types.AttributeValueMemberS{Value: pk.value}
}

// ItemOptions configures a single point write. ReadItem ignores it.
type ItemOptions struct {
	// IfMatchETag makes ReplaceItem and DeleteItem fail with
	// ErrPreconditionFailed unless the stored etag equals this value.
	IfMatchETag string

	// TimeToLive sets the document's expiry in seconds from now on writes.
	// Zero keeps the container default; negative disables expiry for this
	// document.
	TimeToLive int32
}

// ItemResponse is the result of a point operation.
type ItemResponse struct {
	// ID is the document id.
	ID string

	// ETag is the document's version token after the operation.
	// Empty for deletes.
	ETag string

	// RequestCharge is the capacity consumed by the operation.
	RequestCharge float64

	// Raw is the stored document, including managed attributes.
	// Nil for deletes.
	Raw map[string]types.AttributeValue
}

// Unmarshal decodes the document into out, which must be a pointer.
func (r *ItemResponse) Unmarshal(out any) error {
	if r.Raw == nil {
		return fmt.Errorf("unmarshal %q: %w", r.ID, ErrNotFound)
	}
	return DecodeDocument(r.Raw, out)
}

// EncodeDocument converts a Go value into a DynamoDB item. Struct fields use
// their json tags, so a type renders identically as JSON and as an item.
// A map[string]types.AttributeValue is copied as is.
func EncodeDocument(in any) (map[string]types.AttributeValue, error) {
	if raw, ok := in.(map[string]types.AttributeValue); ok {
		return copyItem(raw), nil
	}
	item, err := attributevalue.MarshalMapWithOptions(in, func(o *attributevalue.EncoderOptions) {
		o.TagKey = "json"
	})
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return item, nil
}

// DecodeDocument converts a DynamoDB item into out using json tags.
// Managed attributes without a matching field are ignored.
func DecodeDocument(item map[string]types.AttributeValue, out any) error {
	if err := attributevalue.UnmarshalMapWithOptions(item, out, func(o *attributevalue.DecoderOptions) {
		o.TagKey = "json"
	}); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	return nil
}

// documentID extracts the id attribute of an item.
func documentID(item map[string]types.AttributeValue) (string, error) {
	v, ok := item[IDAttribute].(*types.AttributeValueMemberS)
	if !ok || v.Value == "" {
		return "", ErrMissingID
	}
	return v.Value, nil
}

// etagOf returns the etag of a stored item, or "" if it has none.
func etagOf(item map[string]types.AttributeValue) string {
	if v, ok := item[ETagAttribute].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// checkPartitionKey verifies that the item carries pk under attr.
func checkPartitionKey(item map[string]types.AttributeValue, attr string, pk PartitionKey) error {
	v, ok := item[attr].(*types.AttributeValueMemberS)
	if !ok {
		return fmt.Errorf("%w: item has no string %q attribute", ErrPartitionKeyMismatch, attr)
	}
	if v.Value != pk.value {
		return fmt.Errorf("%w: item %q is %q, operation addressed %q", ErrPartitionKeyMismatch, attr, v.Value, pk.value)
	}
	return nil
}

// requestCharge extracts the consumed capacity units of a response.
func requestCharge(cc *types.ConsumedCapacity) float64 {
	if cc == nil || cc.CapacityUnits == nil {
		return 0
	}
	return *cc.CapacityUnits
}

func numberAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
