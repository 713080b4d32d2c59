package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsExpired checks if an item has a TTL at or before now.
// DynamoDB removes expired items lazily, so reads must filter them.
func IsExpired(item map[string]types.AttributeValue, now time.Time) bool {
	ttlAttr, exists := item[TTLAttribute]
	if !exists {
		return false // No TTL = never expires
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= now.Unix()
}

// TTLFilterExpr returns the filter expression to exclude expired items.
// Use with TTLFilterNames and TTLFilterValues.
func TTLFilterExpr() string {
	return "attribute_not_exists(#ttl) OR #ttl > :now"
}

// TTLFilterNames returns expression attribute names for the TTL filter.
func TTLFilterNames() map[string]string {
	return map[string]string{"#ttl": TTLAttribute}
}

// TTLFilterValues returns expression attribute values for the TTL filter.
func TTLFilterValues(now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": numberAttr(now.Unix()),
	}
}

// expiry computes the ttl attribute for a write, or nil when the document
// should not expire.
func expiry(now time.Time, containerDefault, itemTTL int32) types.AttributeValue {
	seconds := containerDefault
	if itemTTL != 0 {
		seconds = itemTTL
	}
	if seconds <= 0 {
		return nil
	}
	return numberAttr(now.Unix() + int64(seconds))
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
