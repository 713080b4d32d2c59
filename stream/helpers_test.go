package stream

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// --- getStringAttr Tests ---

func TestGetStringAttr(t *testing.T) {
	tests := []struct {
		name     string
		image    map[string]events.DynamoDBAttributeValue
		expected string
	}{
		{"string", map[string]events.DynamoDBAttributeValue{"_etag": events.NewStringAttribute("abc")}, "abc"},
		{"unicode", map[string]events.DynamoDBAttributeValue{"_etag": events.NewStringAttribute("家族")}, "家族"},
		{"empty value", map[string]events.DynamoDBAttributeValue{"_etag": events.NewStringAttribute("")}, ""},
		{"missing key", map[string]events.DynamoDBAttributeValue{"other": events.NewStringAttribute("x")}, ""},
		{"number attribute", map[string]events.DynamoDBAttributeValue{"_etag": events.NewNumberAttribute("1")}, ""},
		{"empty image", map[string]events.DynamoDBAttributeValue{}, ""},
		{"nil image", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getStringAttr(tt.image, "_etag"); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

// --- getNumberAttr Tests ---

func TestGetNumberAttr(t *testing.T) {
	tests := []struct {
		name     string
		image    map[string]events.DynamoDBAttributeValue
		expected int64
	}{
		{"valid", map[string]events.DynamoDBAttributeValue{"_ts": events.NewNumberAttribute("1700000000")}, 1700000000},
		{"zero", map[string]events.DynamoDBAttributeValue{"_ts": events.NewNumberAttribute("0")}, 0},
		{"negative", map[string]events.DynamoDBAttributeValue{"_ts": events.NewNumberAttribute("-100")}, -100},
		{"max int64", map[string]events.DynamoDBAttributeValue{"_ts": events.NewNumberAttribute("9223372036854775807")}, 9223372036854775807},
		{"decimal", map[string]events.DynamoDBAttributeValue{"_ts": events.NewNumberAttribute("1.5")}, 0},
		{"string attribute", map[string]events.DynamoDBAttributeValue{"_ts": events.NewStringAttribute("soon")}, 0},
		{"missing key", map[string]events.DynamoDBAttributeValue{"ttl": events.NewNumberAttribute("42")}, 0},
		{"nil image", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getNumberAttr(tt.image, "_ts"); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

// --- partitionKeyOf Tests ---

func TestPartitionKeyOf(t *testing.T) {
	tests := []struct {
		name     string
		keys     map[string]events.DynamoDBAttributeValue
		expected string
	}{
		{
			name: "string key",
			keys: map[string]events.DynamoDBAttributeValue{
				"LastName": events.NewStringAttribute("Adamski"),
				"id":       events.NewStringAttribute("Adamski.1"),
			},
			expected: "Adamski",
		},
		{
			name: "number key",
			keys: map[string]events.DynamoDBAttributeValue{
				"Year": events.NewNumberAttribute("1983"),
				"id":   events.NewStringAttribute("Orlando.1983"),
			},
			expected: "1983",
		},
		{
			name:     "id only",
			keys:     map[string]events.DynamoDBAttributeValue{"id": events.NewStringAttribute("x")},
			expected: "",
		},
		{"nil keys", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := partitionKeyOf(tt.keys); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

// --- toChange Tests ---

func TestToChange_Kinds(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"LastName": events.NewStringAttribute("Orlando"),
		"id":       events.NewStringAttribute("Orlando.1983"),
		"_etag":    events.NewStringAttribute("etag-1"),
		"_ts":      events.NewNumberAttribute("1700000000"),
	}
	keys := map[string]events.DynamoDBAttributeValue{
		"LastName": events.NewStringAttribute("Orlando"),
		"id":       events.NewStringAttribute("Orlando.1983"),
	}

	tests := []struct {
		eventName string
		newImage  map[string]events.DynamoDBAttributeValue
		oldImage  map[string]events.DynamoDBAttributeValue
		expected  Kind
	}{
		{"INSERT", image, nil, KindCreated},
		{"MODIFY", image, image, KindReplaced},
		{"REMOVE", nil, image, KindDeleted},
	}

	h := NewHandler(nil, nil)
	for _, tt := range tests {
		t.Run(tt.eventName, func(t *testing.T) {
			change, ok := h.toChange(events.DynamoDBEventRecord{
				EventID:   "event-1",
				EventName: tt.eventName,
				Change: events.DynamoDBStreamRecord{
					Keys:     keys,
					NewImage: tt.newImage,
					OldImage: tt.oldImage,
				},
			})
			if !ok {
				t.Fatal("expected a change")
			}
			if change.Kind != tt.expected {
				t.Errorf("expected kind %q, got %q", tt.expected, change.Kind)
			}
			if change.ID != "Orlando.1983" || change.PartitionKey != "Orlando" {
				t.Errorf("expected Orlando.1983 in Orlando, got %q in %q", change.ID, change.PartitionKey)
			}
			if change.ETag != "etag-1" {
				t.Errorf("expected etag 'etag-1', got %q", change.ETag)
			}
			if change.Timestamp != 1700000000 {
				t.Errorf("expected timestamp 1700000000, got %d", change.Timestamp)
			}
			if change.Expired {
				t.Error("expected Expired false")
			}
		})
	}
}

func TestToChange_Skips(t *testing.T) {
	h := NewHandler(nil, nil)
	tests := []struct {
		name   string
		record events.DynamoDBEventRecord
	}{
		{"unknown event", events.DynamoDBEventRecord{EventName: "UNKNOWN"}},
		{"no id", events.DynamoDBEventRecord{
			EventName: "INSERT",
			Change: events.DynamoDBStreamRecord{
				NewImage: map[string]events.DynamoDBAttributeValue{"LastName": events.NewStringAttribute("Adamski")},
			},
		}},
		{"keys only", events.DynamoDBEventRecord{
			EventName: "MODIFY",
			Change: events.DynamoDBStreamRecord{
				Keys:           map[string]events.DynamoDBAttributeValue{"id": events.NewStringAttribute("Adamski.1")},
				StreamViewType: "KEYS_ONLY",
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := h.toChange(tt.record); ok {
				t.Error("expected record to be skipped")
			}
		})
	}
}

func TestToChange_TTLExpiry(t *testing.T) {
	h := NewHandler(nil, nil)
	change, ok := h.toChange(events.DynamoDBEventRecord{
		EventName: "REMOVE",
		Change: events.DynamoDBStreamRecord{
			OldImage: map[string]events.DynamoDBAttributeValue{
				"LastName": events.NewStringAttribute("Adamski"),
				"id":       events.NewStringAttribute("Adamski.1"),
			},
		},
		UserIdentity: &events.DynamoDBUserIdentity{Type: "Service", PrincipalID: "dynamodb.amazonaws.com"},
	})
	if !ok {
		t.Fatal("expected a change")
	}
	if !change.Expired {
		t.Error("expected Expired for a TTL deletion")
	}
	if change.PartitionKey != "Adamski" {
		t.Errorf("expected partition key from the image when keys are absent, got %q", change.PartitionKey)
	}
}

// --- convertValue Tests ---

func TestConvertValue_Scalars(t *testing.T) {
	if v, ok := convertValue(events.NewBooleanAttribute(true)).(*types.AttributeValueMemberBOOL); !ok || !v.Value {
		t.Error("expected BOOL true")
	}
	if _, ok := convertValue(events.NewNullAttribute()).(*types.AttributeValueMemberNULL); !ok {
		t.Error("expected NULL")
	}
	if v, ok := convertValue(events.NewBinaryAttribute([]byte{1, 2})).(*types.AttributeValueMemberB); !ok || len(v.Value) != 2 {
		t.Error("expected B with 2 bytes")
	}
}

func TestConvertValue_Sets(t *testing.T) {
	if v, ok := convertValue(events.NewStringSetAttribute([]string{"a", "b"})).(*types.AttributeValueMemberSS); !ok || len(v.Value) != 2 {
		t.Error("expected SS with 2 members")
	}
	if v, ok := convertValue(events.NewNumberSetAttribute([]string{"1"})).(*types.AttributeValueMemberNS); !ok || v.Value[0] != "1" {
		t.Error("expected NS [1]")
	}
	if v, ok := convertValue(events.NewBinarySetAttribute([][]byte{{1}})).(*types.AttributeValueMemberBS); !ok || len(v.Value) != 1 {
		t.Error("expected BS with 1 member")
	}
}

// --- Benchmark Tests ---

func BenchmarkConvertImage(b *testing.B) {
	image := map[string]events.DynamoDBAttributeValue{
		"id":       events.NewStringAttribute("Orlando.1983"),
		"LastName": events.NewStringAttribute("Orlando"),
		"Children": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
				"FirstName": events.NewStringAttribute("Megan"),
				"Grade":     events.NewNumberAttribute("8"),
			}),
		}),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ConvertImage(image)
	}
}

func BenchmarkGetNumberAttr(b *testing.B) {
	image := map[string]events.DynamoDBAttributeValue{
		"_ts": events.NewNumberAttribute("1704067200"),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		getNumberAttr(image, "_ts")
	}
}
