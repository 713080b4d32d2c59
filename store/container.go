package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Container is a handle for a container: a table whose hash key is the
// partition key attribute and whose range key is the document id.
type Container struct {
	db    *Database
	id    string
	table string

	mu       sync.Mutex
	props    ContainerProperties
	keyAttr  string
	resolved bool
}

// ID returns the container id.
func (c *Container) ID() string { return c.id }

// Database returns the database the container belongs to.
func (c *Container) Database() *Database { return c.db }

func (c *Container) setProperties(props ContainerProperties) {
	attr, err := partitionKeyAttribute(props.PartitionKeyPath)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.props = props
	c.keyAttr = attr
	c.resolved = true
	c.mu.Unlock()
}

// resolve loads the container's properties on first use: from the catalog,
// or from the table's key schema for tables the catalog doesn't know.
func (c *Container) resolve(ctx context.Context) (ContainerProperties, string, error) {
	c.mu.Lock()
	if c.resolved {
		props, attr := c.props, c.keyAttr
		c.mu.Unlock()
		return props, attr, nil
	}
	c.mu.Unlock()

	entry, err := c.db.readCatalogEntry(ctx, c.id)
	var props ContainerProperties
	switch {
	case err == nil:
		props = entry.properties()
	case errors.Is(err, ErrNotFound):
		desc, err := c.db.client.describeTable(ctx, c.table)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ContainerProperties{}, "", fmt.Errorf("container %q: %w", c.id, ErrNotFound)
			}
			return ContainerProperties{}, "", err
		}
		props = ContainerProperties{ID: c.id, PartitionKeyPath: "/" + hashKeyOf(desc)}
	default:
		return ContainerProperties{}, "", err
	}

	attr, err := partitionKeyAttribute(props.PartitionKeyPath)
	if err != nil {
		return ContainerProperties{}, "", fmt.Errorf("container %q: %w", c.id, err)
	}
	c.setProperties(props)
	return props, attr, nil
}

// Read returns the container's properties, or ErrNotFound.
func (c *Container) Read(ctx context.Context) (*ContainerResponse, error) {
	props, _, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return &ContainerResponse{ID: c.id, Properties: props}, nil
}

// Delete removes the container and all its documents.
func (c *Container) Delete(ctx context.Context) (*ContainerResponse, error) {
	if err := c.db.client.deleteTable(ctx, c.table); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("container %q: %w", c.id, ErrNotFound)
		}
		return nil, fmt.Errorf("delete container %q: %w", c.id, err)
	}
	if err := c.db.deleteCatalogEntry(ctx, c.id); err != nil {
		return nil, fmt.Errorf("unregister container %q: %w", c.id, err)
	}

	c.mu.Lock()
	c.resolved = false
	c.mu.Unlock()
	c.db.containers.remove(c.id)

	return &ContainerResponse{ID: c.id}, nil
}

func (c *Container) key(attr string, pk PartitionKey, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attr:        pk.attributeValue(),
		IDAttribute: &types.AttributeValueMemberS{Value: id},
	}
}

// ReadItem reads a document by partition key and id.
// Missing and expired documents return ErrNotFound. Point reads are
// unconditional, so opts is accepted for symmetry with the writes and ignored.
func (c *Container) ReadItem(ctx context.Context, pk PartitionKey, id string, opts *ItemOptions) (*ItemResponse, error) {
	if id == "" {
		return nil, fmt.Errorf("read item: %w", ErrMissingID)
	}
	_, attr, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}

	out, err := c.db.client.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:              aws.String(c.table),
		Key:                    c.key(attr, pk, id),
		ConsistentRead:         aws.Bool(c.db.client.config.ConsistentReads),
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	})
	if err != nil {
		return nil, c.mapError(err, "read", id)
	}
	if out.Item == nil || IsExpired(out.Item, c.db.client.now()) {
		return nil, fmt.Errorf("item %q in partition %q: %w", id, pk, ErrNotFound)
	}

	return &ItemResponse{
		ID:            id,
		ETag:          etagOf(out.Item),
		RequestCharge: requestCharge(out.ConsumedCapacity),
		Raw:           out.Item,
	}, nil
}

// CreateItem stores a new document. It fails with ErrAlreadyExists when a
// document with the same id exists in the partition.
func (c *Container) CreateItem(ctx context.Context, pk PartitionKey, item any, opts *ItemOptions) (*ItemResponse, error) {
	return c.write(ctx, "create", pk, "", item, opts)
}

// UpsertItem stores a document, fully replacing any existing document with
// the same id in the partition.
func (c *Container) UpsertItem(ctx context.Context, pk PartitionKey, item any, opts *ItemOptions) (*ItemResponse, error) {
	return c.write(ctx, "upsert", pk, "", item, opts)
}

// ReplaceItem fully replaces an existing document. It fails with ErrNotFound
// when the document doesn't exist.
func (c *Container) ReplaceItem(ctx context.Context, pk PartitionKey, id string, item any, opts *ItemOptions) (*ItemResponse, error) {
	if id == "" {
		return nil, fmt.Errorf("replace item: %w", ErrMissingID)
	}
	return c.write(ctx, "replace", pk, id, item, opts)
}

// write implements create, upsert and replace as a conditional put.
func (c *Container) write(ctx context.Context, op string, pk PartitionKey, id string, item any, opts *ItemOptions) (*ItemResponse, error) {
	if opts == nil {
		opts = &ItemOptions{}
	}
	props, attr, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := EncodeDocument(item)
	if err != nil {
		return nil, fmt.Errorf("%s item: %w", op, err)
	}
	docID, err := documentID(doc)
	if err != nil {
		return nil, fmt.Errorf("%s item: %w", op, err)
	}
	if id != "" && docID != id {
		return nil, fmt.Errorf("%s item: %w: item has %q, operation addressed %q", op, ErrIDMismatch, docID, id)
	}
	if err := checkPartitionKey(doc, attr, pk); err != nil {
		return nil, fmt.Errorf("%s item %q: %w", op, docID, err)
	}

	now := c.db.client.now()
	etag := c.db.client.newETag()
	doc[ETagAttribute] = &types.AttributeValueMemberS{Value: etag}
	doc[TimestampAttribute] = numberAttr(now.Unix())
	delete(doc, TTLAttribute)
	if ttl := expiry(now, props.DefaultTimeToLive, opts.TimeToLive); ttl != nil {
		doc[TTLAttribute] = ttl
	}

	input := &dynamodb.PutItemInput{
		TableName:              aws.String(c.table),
		Item:                   doc,
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	}
	switch op {
	case "create":
		// An expired document that DynamoDB hasn't swept yet doesn't block
		// creation.
		input.ConditionExpression = aws.String("attribute_not_exists(#id) OR #ttl <= :now")
		input.ExpressionAttributeNames = map[string]string{"#id": IDAttribute, "#ttl": TTLAttribute}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{":now": numberAttr(now.Unix())}
	case "replace":
		cond, names, values := existsCondition(now, opts)
		input.ConditionExpression = aws.String(cond)
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
		input.ReturnValuesOnConditionCheckFailure = types.ReturnValuesOnConditionCheckFailureAllOld
	}

	out, err := c.db.client.api.PutItem(ctx, input)
	if err != nil {
		return nil, c.mapError(err, op, docID)
	}

	return &ItemResponse{
		ID:            docID,
		ETag:          etag,
		RequestCharge: requestCharge(out.ConsumedCapacity),
		Raw:           doc,
	}, nil
}

// DeleteItem removes a document. It fails with ErrNotFound when the
// document doesn't exist.
func (c *Container) DeleteItem(ctx context.Context, pk PartitionKey, id string, opts *ItemOptions) (*ItemResponse, error) {
	if id == "" {
		return nil, fmt.Errorf("delete item: %w", ErrMissingID)
	}
	if opts == nil {
		opts = &ItemOptions{}
	}
	_, attr, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}

	cond, names, values := existsCondition(c.db.client.now(), opts)
	out, err := c.db.client.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                           aws.String(c.table),
		Key:                                 c.key(attr, pk, id),
		ConditionExpression:                 aws.String(cond),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnConsumedCapacity:              types.ReturnConsumedCapacityTotal,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		return nil, c.mapError(err, "delete", id)
	}

	return &ItemResponse{
		ID:            id,
		RequestCharge: requestCharge(out.ConsumedCapacity),
	}, nil
}

// existsCondition requires a live document, and a matching etag when opts
// asks for one.
func existsCondition(now time.Time, opts *ItemOptions) (string, map[string]string, map[string]types.AttributeValue) {
	expr := "attribute_exists(#id) AND (" + TTLFilterExpr() + ")"
	names := mergeExprNames(map[string]string{"#id": IDAttribute}, TTLFilterNames())
	values := TTLFilterValues(now)
	if opts.IfMatchETag != "" {
		expr += " AND #etag = :etag"
		names["#etag"] = ETagAttribute
		values[":etag"] = &types.AttributeValueMemberS{Value: opts.IfMatchETag}
	}
	return expr, names, values
}

// mapError translates conditional check failures into store errors.
// When the failure returned the old item, the document existed and the etag
// didn't match; otherwise the document was missing.
func (c *Container) mapError(err error, op, id string) error {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		if op == "create" {
			return fmt.Errorf("create item %q: %w", id, ErrAlreadyExists)
		}
		if len(condErr.Item) > 0 && !IsExpired(condErr.Item, c.db.client.now()) {
			return fmt.Errorf("%s item %q: %w", op, id, ErrPreconditionFailed)
		}
		return fmt.Errorf("%s item %q: %w", op, id, ErrNotFound)
	}
	if isResourceNotFound(err) {
		return fmt.Errorf("container %q: %w", c.id, ErrNotFound)
	}
	return fmt.Errorf("%s item %q: %w", op, id, err)
}
