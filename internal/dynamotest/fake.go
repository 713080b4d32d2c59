// Package dynamotest provides an in-memory DynamoDB for tests.
//
// Fake implements the subset of the DynamoDB API the store uses, evaluates
// condition, key condition and filter expressions, and reports every table
// as ACTIVE so table waiters return on their first attempt.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Operation names accepted by Calls and FailNext.
const (
	OpGetItem          = "GetItem"
	OpPutItem          = "PutItem"
	OpDeleteItem       = "DeleteItem"
	OpQuery            = "Query"
	OpScan             = "Scan"
	OpCreateTable      = "CreateTable"
	OpDescribeTable    = "DescribeTable"
	OpDeleteTable      = "DeleteTable"
	OpUpdateTimeToLive = "UpdateTimeToLive"
)

// Fake is an in-memory DynamoDB. The zero value is not usable; call New.
type Fake struct {
	mu       sync.Mutex
	tables   map[string]*table
	calls    map[string]int
	failures map[string][]error
}

type table struct {
	desc     types.TableDescription
	hashKey  string
	rangeKey string
	ttlAttr  string
	items    map[string]map[string]types.AttributeValue
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		tables:   make(map[string]*table),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// FailNext makes the next invocation of op return err. Failures queue up.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

// TableNames returns the names of all tables in sorted order.
func (f *Fake) TableNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.tables))
	for name := range f.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Item returns the stored item with the given key, or nil.
func (f *Fake) Item(tableName string, key map[string]types.AttributeValue) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableName]
	if !ok {
		return nil
	}
	k, err := t.keyOf(key)
	if err != nil {
		return nil
	}
	if item, ok := t.items[k]; ok {
		return copyItem(item)
	}
	return nil
}

// ItemCount returns the number of items stored in a table.
func (f *Fake) ItemCount(tableName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tables[tableName]; ok {
		return len(t.items)
	}
	return 0
}

// PutRaw stores an item without evaluating conditions.
func (f *Fake) PutRaw(tableName string, item map[string]types.AttributeValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(aws.String(tableName))
	if err != nil {
		return err
	}
	k, err := t.keyOf(item)
	if err != nil {
		return err
	}
	t.items[k] = copyItem(item)
	return nil
}

// TimeToLiveAttribute returns the TTL attribute enabled on a table, or "".
func (f *Fake) TimeToLiveAttribute(tableName string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tables[tableName]; ok {
		return t.ttlAttr
	}
	return ""
}

// begin counts the call and pops a queued failure. The caller holds f.mu.
func (f *Fake) begin(op string) error {
	f.calls[op]++
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) table(name *string) (*table, error) {
	t, ok := f.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Requested resource not found: Table: %s not found", aws.ToString(name))),
		}
	}
	return t, nil
}

// keyOf returns the storage key of an item. Both key attributes must be
// present and scalar.
func (t *table) keyOf(item map[string]types.AttributeValue) (string, error) {
	hash, err := scalar(item, t.hashKey)
	if err != nil {
		return "", err
	}
	if t.rangeKey == "" {
		return hash, nil
	}
	rng, err := scalar(item, t.rangeKey)
	if err != nil {
		return "", err
	}
	return hash + "\x00" + rng, nil
}

func (t *table) keyAttributes(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	key := map[string]types.AttributeValue{t.hashKey: item[t.hashKey]}
	if t.rangeKey != "" {
		key[t.rangeKey] = item[t.rangeKey]
	}
	return key
}

// sorted returns the table's items ordered by key.
func (t *table) sorted() []map[string]types.AttributeValue {
	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]map[string]types.AttributeValue, len(keys))
	for i, k := range keys {
		items[i] = t.items[k]
	}
	return items
}

func scalar(item map[string]types.AttributeValue, attr string) (string, error) {
	switch v := item[attr].(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return v.Value, nil
	case nil:
		return "", validation("One of the required keys was not given a value: %s", attr)
	default:
		return "", validation("Type mismatch for key %s", attr)
	}
}

func validation(format string, args ...any) error {
	return &smithyError{code: "ValidationException", message: fmt.Sprintf(format, args...)}
}

// smithyError mimics a generic service error.
type smithyError struct {
	code    string
	message string
}

func (e *smithyError) Error() string { return e.code + ": " + e.message }

// ErrorCode returns the service error code.
func (e *smithyError) ErrorCode() string { return e.code }

func consumed(tableName string, units float64, mode types.ReturnConsumedCapacity) *types.ConsumedCapacity {
	if mode != types.ReturnConsumedCapacityTotal && mode != types.ReturnConsumedCapacityIndexes {
		return nil
	}
	return &types.ConsumedCapacity{TableName: aws.String(tableName), CapacityUnits: aws.Float64(units)}
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// --- Items ---

// GetItem implements the DynamoDB GetItem operation.
func (f *Fake) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpGetItem); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}

	units := 0.5
	if aws.ToBool(in.ConsistentRead) {
		units = 1
	}
	out := &dynamodb.GetItemOutput{
		ConsumedCapacity: consumed(aws.ToString(in.TableName), units, in.ReturnConsumedCapacity),
	}
	if item, ok := t.items[k]; ok {
		out.Item = copyItem(item)
	}
	return out, nil
}

// PutItem implements the DynamoDB PutItem operation.
func (f *Fake) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpPutItem); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Item)
	if err != nil {
		return nil, err
	}

	old, exists := t.items[k]
	if err := checkCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues,
		old, exists, in.ReturnValuesOnConditionCheckFailure); err != nil {
		return nil, err
	}

	t.items[k] = copyItem(in.Item)
	out := &dynamodb.PutItemOutput{
		ConsumedCapacity: consumed(aws.ToString(in.TableName), 1, in.ReturnConsumedCapacity),
	}
	if exists && in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = copyItem(old)
	}
	return out, nil
}

// DeleteItem implements the DynamoDB DeleteItem operation.
func (f *Fake) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpDeleteItem); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k, err := t.keyOf(in.Key)
	if err != nil {
		return nil, err
	}

	old, exists := t.items[k]
	if err := checkCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues,
		old, exists, in.ReturnValuesOnConditionCheckFailure); err != nil {
		return nil, err
	}

	delete(t.items, k)
	out := &dynamodb.DeleteItemOutput{
		ConsumedCapacity: consumed(aws.ToString(in.TableName), 1, in.ReturnConsumedCapacity),
	}
	if exists && in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = copyItem(old)
	}
	return out, nil
}

// checkCondition evaluates a condition expression against the stored item,
// or against an empty item when none exists.
func checkCondition(expr *string, names map[string]string, values map[string]types.AttributeValue,
	old map[string]types.AttributeValue, exists bool, onFailure types.ReturnValuesOnConditionCheckFailure) error {
	if aws.ToString(expr) == "" {
		return nil
	}
	pred, err := compile(aws.ToString(expr), names, values)
	if err != nil {
		return validation("Invalid ConditionExpression: %v", err)
	}
	target := old
	if !exists {
		target = map[string]types.AttributeValue{}
	}
	if pred(target) {
		return nil
	}
	condErr := &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	if exists && onFailure == types.ReturnValuesOnConditionCheckFailureAllOld {
		condErr.Item = copyItem(old)
	}
	return condErr
}

// --- Reads ---

// Query implements the DynamoDB Query operation.
func (f *Fake) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpQuery); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	if aws.ToString(in.KeyConditionExpression) == "" {
		return nil, validation("Query requires a KeyConditionExpression")
	}
	keyCond, err := compile(aws.ToString(in.KeyConditionExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, validation("Invalid KeyConditionExpression: %v", err)
	}
	filter, err := compile(aws.ToString(in.FilterExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, validation("Invalid FilterExpression: %v", err)
	}

	var matched []map[string]types.AttributeValue
	for _, item := range t.sorted() {
		if keyCond(item) {
			matched = append(matched, item)
		}
	}
	page, scanned, last, err := t.page(matched, in.ExclusiveStartKey, in.Limit, filter)
	if err != nil {
		return nil, err
	}
	return &dynamodb.QueryOutput{
		Items:            page,
		Count:            int32(len(page)),
		ScannedCount:     int32(scanned),
		LastEvaluatedKey: last,
		ConsumedCapacity: consumed(aws.ToString(in.TableName), readUnits(scanned, in.ConsistentRead), in.ReturnConsumedCapacity),
	}, nil
}

// Scan implements the DynamoDB Scan operation.
func (f *Fake) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpScan); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	filter, err := compile(aws.ToString(in.FilterExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, validation("Invalid FilterExpression: %v", err)
	}

	page, scanned, last, err := t.page(t.sorted(), in.ExclusiveStartKey, in.Limit, filter)
	if err != nil {
		return nil, err
	}
	return &dynamodb.ScanOutput{
		Items:            page,
		Count:            int32(len(page)),
		ScannedCount:     int32(scanned),
		LastEvaluatedKey: last,
		ConsumedCapacity: consumed(aws.ToString(in.TableName), readUnits(scanned, in.ConsistentRead), in.ReturnConsumedCapacity),
	}, nil
}

// page applies ExclusiveStartKey and Limit to candidates, in key order, and
// filters the evaluated items. Limit counts evaluated items, as in DynamoDB.
func (t *table) page(candidates []map[string]types.AttributeValue, start map[string]types.AttributeValue,
	limit *int32, filter predicate) ([]map[string]types.AttributeValue, int, map[string]types.AttributeValue, error) {
	if len(start) > 0 {
		startKey, err := t.keyOf(start)
		if err != nil {
			return nil, 0, nil, err
		}
		i := sort.Search(len(candidates), func(i int) bool {
			k, _ := t.keyOf(candidates[i])
			return k > startKey
		})
		candidates = candidates[i:]
	}

	var last map[string]types.AttributeValue
	if limit != nil && *limit > 0 && int(*limit) < len(candidates) {
		candidates = candidates[:*limit]
		last = t.keyAttributes(candidates[len(candidates)-1])
	}

	items := []map[string]types.AttributeValue{}
	for _, item := range candidates {
		if filter(item) {
			items = append(items, copyItem(item))
		}
	}
	return items, len(candidates), last, nil
}

func readUnits(scanned int, consistent *bool) float64 {
	units := float64(scanned) * 0.5
	if units < 0.5 {
		units = 0.5
	}
	if aws.ToBool(consistent) {
		units *= 2
	}
	return units
}

// --- Tables ---

// CreateTable implements the DynamoDB CreateTable operation.
// The table is ACTIVE immediately.
func (f *Fake) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreateTable); err != nil {
		return nil, err
	}
	name := aws.ToString(in.TableName)
	if name == "" {
		return nil, validation("TableName is required")
	}
	if _, ok := f.tables[name]; ok {
		return nil, &types.ResourceInUseException{
			Message: aws.String(fmt.Sprintf("Table already exists: %s", name)),
		}
	}

	t := &table{items: make(map[string]map[string]types.AttributeValue)}
	for _, k := range in.KeySchema {
		switch k.KeyType {
		case types.KeyTypeHash:
			t.hashKey = aws.ToString(k.AttributeName)
		case types.KeyTypeRange:
			t.rangeKey = aws.ToString(k.AttributeName)
		}
	}
	if t.hashKey == "" {
		return nil, validation("KeySchema must contain a HASH key")
	}
	defined := make(map[string]bool, len(in.AttributeDefinitions))
	for _, d := range in.AttributeDefinitions {
		defined[aws.ToString(d.AttributeName)] = true
	}
	for _, k := range in.KeySchema {
		if !defined[aws.ToString(k.AttributeName)] {
			return nil, validation("Key attribute %s has no AttributeDefinition", aws.ToString(k.AttributeName))
		}
	}

	arn := "arn:aws:dynamodb:local:000000000000:table/" + name
	t.desc = types.TableDescription{
		TableName:            aws.String(name),
		TableArn:             aws.String(arn),
		TableStatus:          types.TableStatusActive,
		KeySchema:            in.KeySchema,
		AttributeDefinitions: in.AttributeDefinitions,
		StreamSpecification:  in.StreamSpecification,
	}
	if in.BillingMode != "" {
		t.desc.BillingModeSummary = &types.BillingModeSummary{BillingMode: in.BillingMode}
	}
	if in.StreamSpecification != nil && aws.ToBool(in.StreamSpecification.StreamEnabled) {
		t.desc.LatestStreamArn = aws.String(arn + "/stream/0")
	}
	f.tables[name] = t

	desc := t.desc
	desc.TableStatus = types.TableStatusCreating
	return &dynamodb.CreateTableOutput{TableDescription: &desc}, nil
}

// DescribeTable implements the DynamoDB DescribeTable operation.
func (f *Fake) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpDescribeTable); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	desc := t.desc
	desc.ItemCount = aws.Int64(int64(len(t.items)))
	return &dynamodb.DescribeTableOutput{Table: &desc}, nil
}

// DeleteTable implements the DynamoDB DeleteTable operation.
// The table is gone immediately.
func (f *Fake) DeleteTable(_ context.Context, in *dynamodb.DeleteTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpDeleteTable); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	delete(f.tables, aws.ToString(in.TableName))
	desc := t.desc
	desc.TableStatus = types.TableStatusDeleting
	return &dynamodb.DeleteTableOutput{TableDescription: &desc}, nil
}

// UpdateTimeToLive implements the DynamoDB UpdateTimeToLive operation.
func (f *Fake) UpdateTimeToLive(_ context.Context, in *dynamodb.UpdateTimeToLiveInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpUpdateTimeToLive); err != nil {
		return nil, err
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	spec := in.TimeToLiveSpecification
	if spec == nil || aws.ToString(spec.AttributeName) == "" {
		return nil, validation("TimeToLiveSpecification requires an AttributeName")
	}
	if aws.ToBool(spec.Enabled) {
		t.ttlAttr = aws.ToString(spec.AttributeName)
	} else {
		t.ttlAttr = ""
	}
	return &dynamodb.UpdateTimeToLiveOutput{TimeToLiveSpecification: spec}, nil
}

// IsValidation reports whether err is a validation error raised by the fake.
func IsValidation(err error) bool {
	var se *smithyError
	return errors.As(err, &se) && se.code == "ValidationException"
}

// Describe is a convenience for tests that need a table's key schema.
func (f *Fake) Describe(tableName string) (types.TableDescription, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableName]
	if !ok {
		return types.TableDescription{}, false
	}
	return t.desc, true
}
