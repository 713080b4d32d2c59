package quickstart_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jacentio/familydb/family"
	"github.com/jacentio/familydb/internal/dynamotest"
	"github.com/jacentio/familydb/internal/quickstart"
	"github.com/jacentio/familydb/store"
)

const (
	databaseTable  = "FamilyDatabase"
	containerTable = "FamilyDatabase.FamilyContainer"
)

type harness struct {
	fake   *dynamotest.Fake
	client *store.Client
	runner *quickstart.Runner
	out    *bytes.Buffer
	spans  *tracetest.SpanRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fake:  dynamotest.New(),
		out:   &bytes.Buffer{},
		spans: tracetest.NewSpanRecorder(),
	}
	h.client = store.New(h.fake, store.DefaultConfig())
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	h.runner = quickstart.New(h.client, quickstart.Options{
		Out:    h.out,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Tracer: tp.Tracer("quickstart-test"),
	})
	return h
}

// setup runs the steps that precede item writes.
func (h *harness) setup(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.runner.CreateDatabase(ctx))
	require.NoError(t, h.runner.CreateContainer(ctx))
	h.out.Reset()
}

func (h *harness) container() *store.Container {
	return h.client.Database(quickstart.DefaultDatabaseID).Container(quickstart.DefaultContainerID)
}

func (h *harness) read(t *testing.T, lastName, id string) (family.Family, *store.ItemResponse) {
	t.Helper()
	resp, err := h.container().ReadItem(context.Background(), store.NewPartitionKeyString(lastName), id, nil)
	require.NoError(t, err)
	var f family.Family
	require.NoError(t, resp.Unmarshal(&f))
	return f, resp
}

func key(lastName, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"LastName": &types.AttributeValueMemberS{Value: lastName},
		"id":       &types.AttributeValueMemberS{Value: id},
	}
}

func TestRun_Golden(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.runner.Run(context.Background()))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "run", h.out.Bytes())
}

func TestRun_RemovesDatabase(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.runner.Run(context.Background()))

	assert.Empty(t, h.fake.TableNames())
	_, err := h.client.Database(quickstart.DefaultDatabaseID).Read(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_Spans(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.runner.Run(context.Background()))

	var names []string
	for _, span := range h.spans.Ended() {
		names = append(names, span.Name())
		assert.Equal(t, codes.Unset, span.Status().Code, span.Name())
	}
	assert.Equal(t, []string{
		"quickstart.CreateDatabase",
		"quickstart.CreateContainer",
		"quickstart.AddItems",
		"quickstart.QueryItems",
		"quickstart.ReplaceFamilyItem",
		"quickstart.DeleteFamilyItem",
		"quickstart.DeleteDatabase",
	}, names)
}

func TestRun_StopsAtFirstFailure(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("throttled")
	h.fake.FailNext(dynamotest.OpQuery, boom)

	err := h.runner.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "quickstart.QueryItems")

	// The database is left in place, and nothing after the query ran.
	assert.Contains(t, h.fake.TableNames(), databaseTable)
	assert.Equal(t, 2, h.fake.ItemCount(containerTable))
	assert.NotContains(t, h.out.String(), "Updated Family")

	ended := h.spans.Ended()
	last := ended[len(ended)-1]
	assert.Equal(t, "quickstart.QueryItems", last.Name())
	assert.Equal(t, codes.Error, last.Status().Code)
}

func TestCreateDatabase_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.runner.CreateDatabase(ctx))
	require.NoError(t, h.runner.CreateDatabase(ctx))

	assert.Equal(t, 1, h.fake.Calls(dynamotest.OpCreateTable))
	assert.Equal(t, "Created Database: FamilyDatabase\n\nCreated Database: FamilyDatabase\n\n", h.out.String())
}

func TestCreateContainer_PartitionedByLastName(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	desc, ok := h.fake.Describe(containerTable)
	require.True(t, ok)
	var hash string
	for _, k := range desc.KeySchema {
		if k.KeyType == types.KeyTypeHash {
			hash = *k.AttributeName
		}
	}
	assert.Equal(t, "LastName", hash)

	props, err := h.client.Database(quickstart.DefaultDatabaseID).ListContainers(context.Background())
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, quickstart.DefaultContainerID, props[0].ID)
	assert.Equal(t, "/LastName", props[0].PartitionKeyPath)
}

func TestCreateContainer_RequiresDatabase(t *testing.T) {
	h := newHarness(t)

	err := h.runner.CreateContainer(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAddItems_CreatesAbsentItem(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	puts := h.fake.Calls(dynamotest.OpPutItem)

	require.NoError(t, h.runner.AddItems(context.Background()))

	// One create for Adamski, one upsert for Orlando.
	assert.Equal(t, 2, h.fake.Calls(dynamotest.OpPutItem)-puts)
	adamski, _ := h.read(t, "Adamski", "Adamski.1")
	assert.Equal(t, "Adamski.1", adamski.ID)
	assert.Equal(t, family.Adamski(), adamski)
	assert.Equal(t,
		"Created item in database with id: Adamski.1\n\nCreated item in database with id: Orlando.1983\n\n",
		h.out.String())
}

func TestAddItems_ExistingItemIsUnchanged(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	ctx := context.Background()

	existing := family.Adamski()
	existing.IsRegistered = true
	_, err := h.container().CreateItem(ctx, store.NewPartitionKeyString("Adamski"), existing, nil)
	require.NoError(t, err)
	_, before := h.read(t, "Adamski", "Adamski.1")
	puts := h.fake.Calls(dynamotest.OpPutItem)

	require.NoError(t, h.runner.AddItems(ctx))

	// Only the Orlando upsert writes.
	assert.Equal(t, 1, h.fake.Calls(dynamotest.OpPutItem)-puts)
	after, resp := h.read(t, "Adamski", "Adamski.1")
	assert.Equal(t, before.ETag, resp.ETag)
	assert.Equal(t, existing, after)
	assert.True(t, strings.HasPrefix(h.out.String(), "Item in database with id: Adamski.1 already exists\n\n"))
}

func TestAddItems_ReadFailure(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	boom := errors.New("connection reset")
	h.fake.FailNext(dynamotest.OpGetItem, boom)
	puts := h.fake.Calls(dynamotest.OpPutItem)

	err := h.runner.AddItems(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, puts, h.fake.Calls(dynamotest.OpPutItem))
	assert.Empty(t, h.out.String())
}

func TestAddItems_UpsertReplacesWholeDocument(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	ctx := context.Background()

	stale := family.Orlando()
	stale.Address.City = "Naperville"
	stale.Children = stale.Children[:1]
	_, err := h.container().UpsertItem(ctx, store.NewPartitionKeyString("Orlando"), stale, nil)
	require.NoError(t, err)

	require.NoError(t, h.runner.AddItems(ctx))

	orlando, _ := h.read(t, "Orlando", "Orlando.1983")
	assert.Equal(t, family.Orlando(), orlando)
}

func TestQueryItems_OnlyAdamski(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	ctx := context.Background()
	require.NoError(t, h.runner.AddItems(ctx))

	other := family.Adamski()
	other.ID = "Adamski.2"
	_, err := h.container().CreateItem(ctx, store.NewPartitionKeyString("Adamski"), other, nil)
	require.NoError(t, err)
	h.out.Reset()

	families, err := h.runner.QueryItems(ctx)
	require.NoError(t, err)

	require.Len(t, families, 2)
	ids := make([]string, 0, len(families))
	for _, f := range families {
		assert.Equal(t, "Adamski", f.LastName)
		ids = append(ids, f.ID)
	}
	assert.ElementsMatch(t, []string{"Adamski.1", "Adamski.2"}, ids)
	assert.Zero(t, h.fake.Calls(dynamotest.OpScan))
	assert.True(t, strings.HasPrefix(h.out.String(),
		"Running query: SELECT * FROM c WHERE c.LastName = 'Adamski'\n\n\tRead "))
}

func TestQueryItems_Empty(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	families, err := h.runner.QueryItems(context.Background())
	require.NoError(t, err)
	assert.Empty(t, families)
	assert.Equal(t, "Running query: SELECT * FROM c WHERE c.LastName = 'Adamski'\n\n", h.out.String())
}

func TestReplaceFamilyItem_AppliesTwoMutations(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	ctx := context.Background()
	require.NoError(t, h.runner.AddItems(ctx))
	_, before := h.read(t, "Orlando", "Orlando.1983")

	require.NoError(t, h.runner.ReplaceFamilyItem(ctx))

	got, after := h.read(t, "Orlando", "Orlando.1983")
	expected := family.Orlando()
	expected.IsRegistered = true
	expected.Children[0].Grade = 6
	assert.Equal(t, expected, got)
	assert.NotEqual(t, before.ETag, after.ETag)
	assert.Contains(t, h.out.String(), "Updated Family [Orlando,Orlando.1983].\n\tBody is now: "+expected.String()+"\n\n")
}

func TestReplaceFamilyItem_NoChildren(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	ctx := context.Background()

	childless := family.Orlando()
	childless.Children = nil
	_, err := h.container().UpsertItem(ctx, store.NewPartitionKeyString("Orlando"), childless, nil)
	require.NoError(t, err)
	_, before := h.read(t, "Orlando", "Orlando.1983")

	err = h.runner.ReplaceFamilyItem(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no children")

	got, after := h.read(t, "Orlando", "Orlando.1983")
	assert.Equal(t, before.ETag, after.ETag)
	assert.Empty(t, got.Children)
	assert.Empty(t, h.out.String())
}

func TestReplaceFamilyItem_Missing(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	err := h.runner.ReplaceFamilyItem(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, h.out.String())
}

func TestDeleteFamilyItem_ThenReadNotFound(t *testing.T) {
	h := newHarness(t)
	h.setup(t)
	ctx := context.Background()
	require.NoError(t, h.runner.AddItems(ctx))

	require.NoError(t, h.runner.DeleteFamilyItem(ctx))

	_, err := h.container().ReadItem(ctx, store.NewPartitionKeyString("Orlando"), "Orlando.1983", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Nil(t, h.fake.Item(containerTable, key("Orlando", "Orlando.1983")))
	assert.NotNil(t, h.fake.Item(containerTable, key("Adamski", "Adamski.1")))
	assert.True(t, strings.HasSuffix(h.out.String(), "Deleted Family [Orlando,Orlando.1983]\n\n"))
}

func TestDeleteFamilyItem_Missing(t *testing.T) {
	h := newHarness(t)
	h.setup(t)

	err := h.runner.DeleteFamilyItem(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteDatabase_Missing(t *testing.T) {
	h := newHarness(t)

	err := h.runner.DeleteDatabase(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, h.out.String())
}

func TestRun_Twice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.runner.Run(ctx))
	first := h.out.String()
	h.out.Reset()
	require.NoError(t, h.runner.Run(ctx))

	assert.Equal(t, first, h.out.String())
}

func TestNew_Options(t *testing.T) {
	fake := dynamotest.New()
	var out bytes.Buffer
	r := quickstart.New(store.New(fake, store.DefaultConfig()), quickstart.Options{
		DatabaseID:  "OtherDatabase",
		ContainerID: "OtherContainer",
		Out:         &out,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	require.NoError(t, r.Run(context.Background()))
	assert.Contains(t, out.String(), "Created Database: OtherDatabase\n\n")
	assert.Contains(t, out.String(), "Created Container: OtherContainer\n\n")
	assert.Empty(t, fake.TableNames())
}
