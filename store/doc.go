// Package store provides a document database layer on DynamoDB.
//
// Documents live in containers, and containers live in databases. A database
// is a catalog table listing its containers; a container is a table whose
// hash key is the container's partition key attribute and whose range key is
// the document id. Point operations address a document by (partition key,
// id), exactly as the table is keyed.
//
// # Resources
//
//	client := store.New(dynamodb.NewFromConfig(cfg), store.DefaultConfig())
//	client.CreateDatabaseIfNotExists(ctx, "FamilyDatabase")
//	db := client.Database("FamilyDatabase")
//	db.CreateContainerIfNotExists(ctx, store.ContainerProperties{
//	    ID:               "FamilyContainer",
//	    PartitionKeyPath: "/LastName",
//	})
//	container := db.Container("FamilyContainer")
//
// # Documents
//
// Any Go value that marshals to a map can be stored. Struct fields are named
// by their json tags; the document must have a string "id" field and a
// string field named by the partition key path.
//
//	pk := store.NewPartitionKeyString("Adamski")
//	resp, err := container.ReadItem(ctx, pk, "Adamski.1", nil)
//	if errors.Is(err, store.ErrNotFound) {
//	    resp, err = container.CreateItem(ctx, pk, family, nil)
//	}
//
// The store manages the "_etag", "_ts" and "ttl" attributes of every
// document. Pass [ItemOptions].IfMatchETag to make replaces and deletes
// conditional on the etag returned by an earlier operation.
//
// # Queries
//
// A [QueryDefinition] is a conjunction of equality conditions. When one of
// them is on the partition key path the query reads a single partition;
// otherwise it scans the container.
//
//	var families []Family
//	err := container.QueryItems(ctx, store.Where("/LastName", "Adamski"), &families)
//
// # Errors
//
// The package defines domain-specific errors, tested with errors.Is:
//
//   - [ErrNotFound] - database, container or document doesn't exist or expired
//   - [ErrAlreadyExists] - document with the same id exists
//   - [ErrPreconditionFailed] - if-match etag didn't match
//   - [ErrPartitionKeyMismatch] - document's partition key differs from the operation's
//   - [ErrIDMismatch] - replaced document's id differs from the operation's
//   - [ErrInvalidPartitionKeyPath] - partition key path can't be a table key
//   - [ErrMissingID] - empty id
//
// Other service errors are returned wrapped.
package store
