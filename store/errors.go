package store

import "errors"

var (
	// ErrNotFound is returned when a database, container or item doesn't exist,
	// or when an item has expired (has TTL <= now).
	ErrNotFound = errors.New("familydb: resource not found")

	// ErrAlreadyExists is returned when creating an item whose id is already
	// taken within its partition.
	ErrAlreadyExists = errors.New("familydb: resource already exists")

	// ErrPreconditionFailed is returned when an if-match etag doesn't match
	// the stored item.
	ErrPreconditionFailed = errors.New("familydb: etag precondition failed")

	// ErrPartitionKeyMismatch is returned when the partition key value stored
	// on an item differs from the partition key passed with the operation.
	ErrPartitionKeyMismatch = errors.New("familydb: partition key mismatch")

	// ErrIDMismatch is returned by ReplaceItem when the item's id differs from
	// the id argument.
	ErrIDMismatch = errors.New("familydb: item id mismatch")

	// ErrInvalidPartitionKeyPath is returned for partition key paths that
	// cannot be a table key (empty or nested).
	ErrInvalidPartitionKeyPath = errors.New("familydb: invalid partition key path")

	// ErrMissingID is returned when an item, database or container id is empty.
	ErrMissingID = errors.New("familydb: id is required")
)
