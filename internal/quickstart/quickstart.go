// Package quickstart runs the family database tutorial: it creates a
// database and a container, writes two families, queries, replaces and
// deletes them, and finally deletes the database.
package quickstart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jacentio/familydb/family"
	"github.com/jacentio/familydb/store"
)

// Default resource ids.
const (
	DefaultDatabaseID  = "FamilyDatabase"
	DefaultContainerID = "FamilyContainer"
)

const tracerName = "github.com/jacentio/familydb/internal/quickstart"

// Options configures a Runner.
type Options struct {
	// DatabaseID defaults to DefaultDatabaseID.
	DatabaseID string

	// ContainerID defaults to DefaultContainerID.
	ContainerID string

	// Out receives the console transcript. Defaults to os.Stdout.
	Out io.Writer

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Tracer defaults to the global tracer provider's tracer.
	Tracer trace.Tracer
}

// Runner runs the tutorial steps against one client.
type Runner struct {
	client      *store.Client
	databaseID  string
	containerID string
	out         io.Writer
	logger      *slog.Logger
	tracer      trace.Tracer
	runID       string
}

// New creates a Runner.
func New(client *store.Client, opts Options) *Runner {
	if opts.DatabaseID == "" {
		opts.DatabaseID = DefaultDatabaseID
	}
	if opts.ContainerID == "" {
		opts.ContainerID = DefaultContainerID
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	runID := uuid.NewString()
	return &Runner{
		client:      client,
		databaseID:  opts.DatabaseID,
		containerID: opts.ContainerID,
		out:         opts.Out,
		logger:      opts.Logger.With("runID", runID),
		tracer:      opts.Tracer,
		runID:       runID,
	}
}

// Run executes every step in order and stops at the first failure. Resources
// created before the failure are left in place.
func (r *Runner) Run(ctx context.Context) error {
	steps := []func(context.Context) error{
		r.CreateDatabase,
		r.CreateContainer,
		r.AddItems,
		func(ctx context.Context) error {
			_, err := r.QueryItems(ctx)
			return err
		},
		r.ReplaceFamilyItem,
		r.DeleteFamilyItem,
		r.DeleteDatabase,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// CreateDatabase creates the database unless it exists.
func (r *Runner) CreateDatabase(ctx context.Context) error {
	return r.step(ctx, "CreateDatabase", func(ctx context.Context) error {
		resp, err := r.client.CreateDatabaseIfNotExists(ctx, r.databaseID)
		if err != nil {
			return err
		}
		r.logger.InfoContext(ctx, "database ready", "databaseID", resp.ID, "created", resp.Created)
		r.console("Created Database: %s", resp.ID)
		return nil
	})
}

// CreateContainer creates the container, partitioned by last name, unless it
// exists.
func (r *Runner) CreateContainer(ctx context.Context) error {
	return r.step(ctx, "CreateContainer", func(ctx context.Context) error {
		resp, err := r.client.Database(r.databaseID).CreateContainerIfNotExists(ctx, store.ContainerProperties{
			ID:               r.containerID,
			PartitionKeyPath: family.PartitionKeyPath,
		})
		if err != nil {
			return err
		}
		r.logger.InfoContext(ctx, "container ready",
			"containerID", resp.ID,
			"created", resp.Created,
			"partitionKeyPath", resp.Properties.PartitionKeyPath,
		)
		r.console("Created Container: %s", resp.ID)
		return nil
	})
}

// AddItems creates the Adamski family if it is absent and upserts the
// Orlando family.
func (r *Runner) AddItems(ctx context.Context) error {
	return r.step(ctx, "AddItems", func(ctx context.Context) error {
		c := r.container()

		adamski := family.Adamski()
		pk := store.NewPartitionKeyString(adamski.LastName)
		resp, err := c.ReadItem(ctx, pk, adamski.ID, nil)
		switch {
		case err == nil:
			r.console("Item in database with id: %s already exists", resp.ID)
		case errors.Is(err, store.ErrNotFound):
			resp, err = c.CreateItem(ctx, pk, adamski, nil)
			if err != nil {
				return err
			}
			r.logger.InfoContext(ctx, "item created", "id", resp.ID, "requestCharge", resp.RequestCharge)
			r.console("Created item in database with id: %s", resp.ID)
		default:
			return err
		}

		orlando := family.Orlando()
		resp, err = c.UpsertItem(ctx, store.NewPartitionKeyString(orlando.LastName), orlando, nil)
		if err != nil {
			return err
		}
		r.logger.InfoContext(ctx, "item upserted", "id", resp.ID, "requestCharge", resp.RequestCharge)
		r.console("Created item in database with id: %s", resp.ID)
		return nil
	})
}

// QueryItems reads every family named Adamski.
func (r *Runner) QueryItems(ctx context.Context) ([]family.Family, error) {
	var families []family.Family
	err := r.step(ctx, "QueryItems", func(ctx context.Context) error {
		query := store.Where(family.PartitionKeyPath, "Adamski")
		r.console("Running query: %s", query)

		pager := r.container().NewQueryItemsPager(query)
		var charge float64
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return err
			}
			charge += page.RequestCharge

			var batch []family.Family
			if err := page.Unmarshal(&batch); err != nil {
				return err
			}
			for _, f := range batch {
				families = append(families, f)
				r.console("\tRead %s", f)
			}
		}
		r.logger.InfoContext(ctx, "query complete", "count", len(families), "requestCharge", charge)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return families, nil
}

// ReplaceFamilyItem registers the Orlando family and moves their first child
// to grade 6.
func (r *Runner) ReplaceFamilyItem(ctx context.Context) error {
	return r.step(ctx, "ReplaceFamilyItem", func(ctx context.Context) error {
		c := r.container()

		resp, err := c.ReadItem(ctx, store.NewPartitionKeyString("Orlando"), "Orlando.1983", nil)
		if err != nil {
			return err
		}
		var body family.Family
		if err := resp.Unmarshal(&body); err != nil {
			return err
		}

		if len(body.Children) == 0 {
			return fmt.Errorf("family %q has no children", body.ID)
		}
		body.IsRegistered = true
		body.Children[0].Grade = 6

		resp, err = c.ReplaceItem(ctx, store.NewPartitionKeyString(body.LastName), body.ID, body, nil)
		if err != nil {
			return err
		}
		var updated family.Family
		if err := resp.Unmarshal(&updated); err != nil {
			return err
		}
		r.logger.InfoContext(ctx, "item replaced", "id", resp.ID, "etag", resp.ETag, "requestCharge", resp.RequestCharge)
		r.console("Updated Family [%s,%s].\n\tBody is now: %s", body.LastName, body.ID, updated)
		return nil
	})
}

// DeleteFamilyItem deletes the Orlando family.
func (r *Runner) DeleteFamilyItem(ctx context.Context) error {
	return r.step(ctx, "DeleteFamilyItem", func(ctx context.Context) error {
		const (
			partitionKey = "Orlando"
			familyID     = "Orlando.1983"
		)
		resp, err := r.container().DeleteItem(ctx, store.NewPartitionKeyString(partitionKey), familyID, nil)
		if err != nil {
			return err
		}
		r.logger.InfoContext(ctx, "item deleted", "id", resp.ID, "requestCharge", resp.RequestCharge)
		r.console("Deleted Family [%s,%s]", partitionKey, familyID)
		return nil
	})
}

// DeleteDatabase deletes the database with all its containers.
func (r *Runner) DeleteDatabase(ctx context.Context) error {
	return r.step(ctx, "DeleteDatabase", func(ctx context.Context) error {
		if _, err := r.client.Database(r.databaseID).Delete(ctx); err != nil {
			return err
		}
		r.logger.InfoContext(ctx, "database deleted", "databaseID", r.databaseID)
		r.console("Deleted Database: %s", r.databaseID)
		return nil
	})
}

func (r *Runner) container() *store.Container {
	return r.client.Database(r.databaseID).Container(r.containerID)
}

// step runs fn inside a span named quickstart.<name>.
func (r *Runner) step(ctx context.Context, name string, fn func(context.Context) error) error {
	spanName := "quickstart." + name
	ctx, span := r.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("familydb.run_id", r.runID),
		attribute.String("familydb.database_id", r.databaseID),
		attribute.String("familydb.container_id", r.containerID),
	))
	defer span.End()

	start := time.Now()
	r.logger.DebugContext(ctx, "step started", "step", name)
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.ErrorContext(ctx, "step failed", "step", name, "error", err)
		return fmt.Errorf("%s: %w", spanName, err)
	}
	r.logger.DebugContext(ctx, "step completed", "step", name, "duration", time.Since(start))
	return nil
}

// console writes a console line followed by a blank line.
func (r *Runner) console(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n\n", args...)
}
