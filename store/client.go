package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/familydb/internal/tablename"
)

// Tag keys applied to every table the store creates.
const (
	databaseTag  = "familydb:database"
	containerTag = "familydb:container"
)

// Client provides database, container and document operations on DynamoDB.
type Client struct {
	api       API
	config    Config
	databases *registry[Database]

	now     func() time.Time
	newETag func() string
}

// New creates a new Client instance.
func New(api API, config Config) *Client {
	config.validate()
	return &Client{
		api:       api,
		config:    config,
		databases: newRegistry[Database](),
		now:       time.Now,
		newETag:   uuid.NewString,
	}
}

// DatabaseResponse is the result of a database operation.
type DatabaseResponse struct {
	// ID is the database id.
	ID string

	// Created is false when the database already existed.
	Created bool
}

// Database returns a handle for the database with the given id.
// No request is made; the database need not exist.
func (c *Client) Database(id string) *Database {
	return c.databases.get(id, func() *Database {
		return &Database{
			client:     c,
			id:         id,
			table:      tablename.Database(c.config.TablePrefix, id),
			containers: newRegistry[Container](),
		}
	})
}

// CreateDatabaseIfNotExists creates the database unless it already exists.
func (c *Client) CreateDatabaseIfNotExists(ctx context.Context, id string) (*DatabaseResponse, error) {
	if id == "" {
		return nil, fmt.Errorf("create database: %w", ErrMissingID)
	}
	db := c.Database(id)

	_, created, err := c.ensureTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(db.table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(catalogPK), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(IDAttribute), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(catalogPK), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(IDAttribute), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
		Tags: []types.Tag{
			{Key: aws.String(databaseTag), Value: aws.String(id)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create database %q: %w", id, err)
	}

	return &DatabaseResponse{ID: id, Created: created}, nil
}

// ensureTable creates a table unless it exists and waits until it is ACTIVE.
// A table created concurrently by another caller counts as existing.
func (c *Client) ensureTable(ctx context.Context, input *dynamodb.CreateTableInput) (*types.TableDescription, bool, error) {
	desc, err := c.describeTable(ctx, *input.TableName)
	if err == nil {
		if desc.TableStatus != types.TableStatusActive {
			desc, err = c.waitForTable(ctx, *input.TableName)
		}
		return desc, false, err
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	created := true
	if _, err := c.api.CreateTable(ctx, input); err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return nil, false, err
		}
		created = false
	}

	desc, err = c.waitForTable(ctx, *input.TableName)
	return desc, created, err
}

// describeTable returns ErrNotFound when the table doesn't exist.
func (c *Client) describeTable(ctx context.Context, table string) (*types.TableDescription, error) {
	out, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		if isResourceNotFound(err) {
			return nil, fmt.Errorf("table %q: %w", table, ErrNotFound)
		}
		return nil, err
	}
	return out.Table, nil
}

func (c *Client) waitForTable(ctx context.Context, table string) (*types.TableDescription, error) {
	waiter := dynamodb.NewTableExistsWaiter(c.api)
	out, err := waiter.WaitForOutput(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	}, c.config.TableWaitTimeout)
	if err != nil {
		return nil, fmt.Errorf("wait for table %q: %w", table, err)
	}
	return out.Table, nil
}

// deleteTable deletes a table and waits until it is gone.
// Returns ErrNotFound when the table doesn't exist.
func (c *Client) deleteTable(ctx context.Context, table string) error {
	_, err := c.api.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		if isResourceNotFound(err) {
			return fmt.Errorf("table %q: %w", table, ErrNotFound)
		}
		return err
	}

	waiter := dynamodb.NewTableNotExistsWaiter(c.api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	}, c.config.TableWaitTimeout); err != nil {
		return fmt.Errorf("wait for table %q deletion: %w", table, err)
	}
	return nil
}

func isResourceNotFound(err error) bool {
	var nf *types.ResourceNotFoundException
	return errors.As(err, &nf)
}
