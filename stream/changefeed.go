// Package stream provides DynamoDB Streams handlers for container change feeds.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/familydb/store"
)

// Kind is the kind of change made to a document.
type Kind string

const (
	KindCreated  Kind = "created"
	KindReplaced Kind = "replaced"
	KindDeleted  Kind = "deleted"
)

// ttlPrincipal is the stream user identity of deletions made by TTL expiry.
const ttlPrincipal = "dynamodb.amazonaws.com"

// Change is a document change read from a container's stream.
type Change struct {
	Kind         Kind
	EventID      string
	ID           string
	PartitionKey string
	ETag         string

	// Timestamp is the document's _ts, the Unix time of its last write.
	Timestamp int64

	// Expired is set on deletions made by TTL expiry.
	Expired bool

	// Document is the new image for creates and replaces, the old image for
	// deletes.
	Document map[string]types.AttributeValue
}

// Decode unmarshals the change's document into out.
func (c Change) Decode(out any) error {
	return store.DecodeDocument(c.Document, out)
}

// Processor handles document changes.
type Processor interface {
	Process(ctx context.Context, change Change) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(ctx context.Context, change Change) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, change Change) error {
	return f(ctx, change)
}

// Handler processes DynamoDB stream events of container tables.
type Handler struct {
	processor Processor
	logger    *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(p Processor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		processor: p,
		logger:    logger,
	}
}

// HandleChangeFeed converts stream records into changes and passes them to
// the processor in order. A processor error fails the whole batch so Lambda
// retries it.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleChangeFeed(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		change, ok := h.toChange(record)
		if !ok {
			continue
		}
		if h.processor == nil {
			continue
		}
		if err := h.processor.Process(ctx, change); err != nil {
			h.logger.Error("failed to process change",
				"eventID", record.EventID,
				"id", change.ID,
				"error", err,
			)
			return fmt.Errorf("process %s %q: %w", change.Kind, change.ID, err)
		}
	}
	return nil
}

// toChange builds a Change from a stream record. Records without a usable
// image are skipped.
func (h *Handler) toChange(record events.DynamoDBEventRecord) (Change, bool) {
	var kind Kind
	image := record.Change.NewImage
	switch record.EventName {
	case string(events.DynamoDBOperationTypeInsert):
		kind = KindCreated
	case string(events.DynamoDBOperationTypeModify):
		kind = KindReplaced
	case string(events.DynamoDBOperationTypeRemove):
		kind = KindDeleted
		image = record.Change.OldImage
	default:
		h.logger.Warn("skipping unknown stream event",
			"eventID", record.EventID,
			"eventName", record.EventName,
		)
		return Change{}, false
	}

	keys := record.Change.Keys
	if len(keys) == 0 {
		keys = image
	}
	id := getStringAttr(keys, store.IDAttribute)
	if id == "" {
		h.logger.Warn("skipping stream record without document id",
			"eventID", record.EventID,
		)
		return Change{}, false
	}
	if len(image) == 0 {
		h.logger.Warn("skipping stream record without image",
			"eventID", record.EventID,
			"id", id,
			"streamViewType", record.Change.StreamViewType,
		)
		return Change{}, false
	}

	change := Change{
		Kind:         kind,
		EventID:      record.EventID,
		ID:           id,
		PartitionKey: partitionKeyOf(keys),
		ETag:         getStringAttr(image, store.ETagAttribute),
		Timestamp:    getNumberAttr(image, store.TimestampAttribute),
		Document:     ConvertImage(image),
	}
	if kind == KindDeleted && record.UserIdentity != nil &&
		record.UserIdentity.Type == "Service" && record.UserIdentity.PrincipalID == ttlPrincipal {
		change.Expired = true
	}
	return change, true
}

// partitionKeyOf returns the string value of the key attribute that is not
// the document id.
func partitionKeyOf(keys map[string]events.DynamoDBAttributeValue) string {
	for name, v := range keys {
		if name == store.IDAttribute {
			continue
		}
		switch v.DataType() {
		case events.DataTypeString:
			return v.String()
		case events.DataTypeNumber:
			return v.Number()
		}
	}
	return ""
}

// LogProcessor returns a Processor that logs every change.
func LogProcessor(logger *slog.Logger) Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return ProcessorFunc(func(ctx context.Context, change Change) error {
		logger.InfoContext(ctx, "document changed",
			"kind", change.Kind,
			"id", change.ID,
			"partitionKey", change.PartitionKey,
			"etag", change.ETag,
			"expired", change.Expired,
		)
		return nil
	})
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// ConvertImage converts a DynamoDB stream image to SDK attribute values, so
// it can be decoded like any stored document.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	if image == nil {
		return nil
	}
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := convertValue(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convertValue(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeList:
		list := v.List()
		out := make([]types.AttributeValue, 0, len(list))
		for _, item := range list {
			if av := convertValue(item); av != nil {
				out = append(out, av)
			}
		}
		return &types.AttributeValueMemberL{Value: out}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertImage(v.Map())}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	}
	return nil
}
