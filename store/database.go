package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/familydb/internal/tablename"
)

const (
	// catalogPK is the partition key attribute of a database's catalog table.
	catalogPK = "pk"

	// containerKind is the catalog partition holding container entries.
	containerKind = "container"
)

// Database is a handle for a database. A database is a catalog table that
// records the containers created in it.
type Database struct {
	client     *Client
	id         string
	table      string
	containers *registry[Container]
}

// ContainerProperties describes a container.
type ContainerProperties struct {
	// ID is the container id.
	ID string

	// PartitionKeyPath is the document path of the partition key, e.g.
	// "/LastName". Only top-level paths are supported.
	PartitionKeyPath string

	// DefaultTimeToLive is the expiry in seconds applied to documents written
	// without their own TimeToLive. Zero disables expiry.
	DefaultTimeToLive int32

	// ChangeFeed enables a DynamoDB stream with old and new images.
	ChangeFeed bool
}

// ContainerResponse is the result of a container operation.
type ContainerResponse struct {
	// ID is the container id.
	ID string

	// Created is false when the container already existed.
	Created bool

	// Properties are the properties of the stored container.
	Properties ContainerProperties
}

// catalogEntry is a container record in the catalog table.
type catalogEntry struct {
	PK                string `dynamodbav:"pk"`
	ID                string `dynamodbav:"id"`
	PartitionKeyPath  string `dynamodbav:"partition_key_path"`
	TableName         string `dynamodbav:"table_name"`
	DefaultTimeToLive int32  `dynamodbav:"default_ttl,omitempty"`
	ChangeFeed        bool   `dynamodbav:"change_feed,omitempty"`
	CreatedAt         string `dynamodbav:"created_at"`
}

func (e catalogEntry) properties() ContainerProperties {
	return ContainerProperties{
		ID:                e.ID,
		PartitionKeyPath:  e.PartitionKeyPath,
		DefaultTimeToLive: e.DefaultTimeToLive,
		ChangeFeed:        e.ChangeFeed,
	}
}

func catalogKey(containerID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		catalogPK:   &types.AttributeValueMemberS{Value: containerKind},
		IDAttribute: &types.AttributeValueMemberS{Value: containerID},
	}
}

// ID returns the database id.
func (d *Database) ID() string { return d.id }

// Read returns ErrNotFound when the database doesn't exist.
func (d *Database) Read(ctx context.Context) (*DatabaseResponse, error) {
	if _, err := d.client.describeTable(ctx, d.table); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("database %q: %w", d.id, ErrNotFound)
		}
		return nil, err
	}
	return &DatabaseResponse{ID: d.id}, nil
}

// Container returns a handle for the container with the given id.
// No request is made until the first operation.
func (d *Database) Container(id string) *Container {
	return d.containers.get(id, func() *Container {
		return &Container{
			db:    d,
			id:    id,
			table: tablename.Container(d.client.config.TablePrefix, d.id, id),
		}
	})
}

// CreateContainerIfNotExists creates the container unless it already exists.
// The database must exist.
func (d *Database) CreateContainerIfNotExists(ctx context.Context, props ContainerProperties) (*ContainerResponse, error) {
	if props.ID == "" {
		return nil, fmt.Errorf("create container: %w", ErrMissingID)
	}
	keyAttr, err := partitionKeyAttribute(props.PartitionKeyPath)
	if err != nil {
		return nil, fmt.Errorf("create container %q: %w", props.ID, err)
	}
	if _, err := d.Read(ctx); err != nil {
		return nil, fmt.Errorf("create container %q: %w", props.ID, err)
	}

	c := d.Container(props.ID)
	input := &dynamodb.CreateTableInput{
		TableName: aws.String(c.table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(keyAttr), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(IDAttribute), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(keyAttr), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(IDAttribute), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
		Tags: []types.Tag{
			{Key: aws.String(databaseTag), Value: aws.String(d.id)},
			{Key: aws.String(containerTag), Value: aws.String(props.ID)},
		},
	}
	if props.ChangeFeed {
		input.StreamSpecification = &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		}
	}

	desc, created, err := d.client.ensureTable(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create container %q: %w", props.ID, err)
	}

	if !created {
		entry, err := d.readCatalogEntry(ctx, props.ID)
		switch {
		case err == nil:
			props = entry.properties()
		case errors.Is(err, ErrNotFound):
			props.PartitionKeyPath = "/" + hashKeyOf(desc)
		default:
			return nil, fmt.Errorf("create container %q: %w", props.ID, err)
		}
		c.setProperties(props)
		return &ContainerResponse{ID: props.ID, Created: false, Properties: props}, nil
	}

	if props.DefaultTimeToLive > 0 {
		if _, err := d.client.api.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
			TableName: aws.String(c.table),
			TimeToLiveSpecification: &types.TimeToLiveSpecification{
				AttributeName: aws.String(TTLAttribute),
				Enabled:       aws.Bool(true),
			},
		}); err != nil {
			return nil, fmt.Errorf("enable ttl on container %q: %w", props.ID, err)
		}
	}

	if err := d.putCatalogEntry(ctx, catalogEntry{
		PK:                containerKind,
		ID:                props.ID,
		PartitionKeyPath:  props.PartitionKeyPath,
		TableName:         c.table,
		DefaultTimeToLive: props.DefaultTimeToLive,
		ChangeFeed:        props.ChangeFeed,
		CreatedAt:         d.client.now().UTC().Format(time.RFC3339),
	}); err != nil {
		return nil, fmt.Errorf("register container %q: %w", props.ID, err)
	}

	c.setProperties(props)
	return &ContainerResponse{ID: props.ID, Created: true, Properties: props}, nil
}

// ListContainers returns the properties of every container in the database.
func (d *Database) ListContainers(ctx context.Context) ([]ContainerProperties, error) {
	entries, err := d.catalogEntries(ctx)
	if err != nil {
		return nil, err
	}
	props := make([]ContainerProperties, 0, len(entries))
	for _, e := range entries {
		props = append(props, e.properties())
	}
	return props, nil
}

// Delete removes the database, its containers and all their documents.
func (d *Database) Delete(ctx context.Context) (*DatabaseResponse, error) {
	if _, err := d.Read(ctx); err != nil {
		return nil, err
	}

	entries, err := d.catalogEntries(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := d.client.deleteTable(ctx, e.TableName); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("delete container %q: %w", e.ID, err)
		}
		d.containers.remove(e.ID)
	}

	if err := d.client.deleteTable(ctx, d.table); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("database %q: %w", d.id, ErrNotFound)
		}
		return nil, fmt.Errorf("delete database %q: %w", d.id, err)
	}
	d.containers.clear()
	d.client.databases.remove(d.id)

	return &DatabaseResponse{ID: d.id}, nil
}

// catalogEntries returns every container entry of the catalog table.
func (d *Database) catalogEntries(ctx context.Context) ([]catalogEntry, error) {
	var entries []catalogEntry
	paginator := dynamodb.NewQueryPaginator(d.client.api, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": catalogPK,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: containerKind},
		},
		ConsistentRead: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			if isResourceNotFound(err) {
				return nil, fmt.Errorf("database %q: %w", d.id, ErrNotFound)
			}
			return nil, fmt.Errorf("list containers: %w", err)
		}
		var pageEntries []catalogEntry
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageEntries); err != nil {
			return nil, fmt.Errorf("unmarshal catalog: %w", err)
		}
		entries = append(entries, pageEntries...)
	}
	return entries, nil
}

func (d *Database) readCatalogEntry(ctx context.Context, containerID string) (*catalogEntry, error) {
	out, err := d.client.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            catalogKey(containerID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		if isResourceNotFound(err) {
			return nil, fmt.Errorf("database %q: %w", d.id, ErrNotFound)
		}
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("container %q: %w", containerID, ErrNotFound)
	}
	var entry catalogEntry
	if err := attributevalue.UnmarshalMap(out.Item, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal catalog entry: %w", err)
	}
	return &entry, nil
}

// putCatalogEntry records a container. An existing entry is kept.
func (d *Database) putCatalogEntry(ctx context.Context, entry catalogEntry) error {
	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return fmt.Errorf("marshal catalog entry: %w", err)
	}
	_, err = d.client.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#id": IDAttribute,
		},
	})
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

func (d *Database) deleteCatalogEntry(ctx context.Context, containerID string) error {
	_, err := d.client.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       catalogKey(containerID),
	})
	return err
}

// partitionKeyAttribute converts a partition key path to the attribute name
// used as the table's hash key.
func partitionKeyAttribute(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("%w: %q must start with /", ErrInvalidPartitionKeyPath, path)
	}
	attr := path[1:]
	if attr == "" || strings.Contains(attr, "/") {
		return "", fmt.Errorf("%w: %q must name one top-level field", ErrInvalidPartitionKeyPath, path)
	}
	if attr == IDAttribute {
		return "", fmt.Errorf("%w: %q is the document id", ErrInvalidPartitionKeyPath, path)
	}
	return attr, nil
}

func hashKeyOf(desc *types.TableDescription) string {
	if desc == nil {
		return ""
	}
	for _, k := range desc.KeySchema {
		if k.KeyType == types.KeyTypeHash && k.AttributeName != nil {
			return *k.AttributeName
		}
	}
	return ""
}
