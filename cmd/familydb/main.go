// Command familydb runs the family document database tutorial against
// DynamoDB or DynamoDB Local.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacentio/familydb/internal/cli"
	"github.com/jacentio/familydb/internal/config"
	"github.com/jacentio/familydb/internal/quickstart"
	"github.com/jacentio/familydb/internal/telemetry"
	"github.com/jacentio/familydb/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	cmd := cli.NewRootCommand(func(ctx context.Context) error {
		return run(ctx, cfg, logger)
	})
	if err := cmd.ExecuteContext(ctx); err != nil {
		logger.Error("familydb failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdown, err := telemetry.Setup(ctx, "familydb", telemetry.Options{
		Endpoint: cfg.OTelEndpoint,
		Enabled:  cfg.OTelEnabled,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetry.ShutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	api, err := cfg.DynamoDB(ctx)
	if err != nil {
		return err
	}
	logger.Debug("using dynamodb", "endpoint", cfg.Endpoint, "region", cfg.Region, "tablePrefix", cfg.TablePrefix)

	runner := quickstart.New(store.New(api, cfg.Store()), quickstart.Options{
		Out:    os.Stdout,
		Logger: logger,
	})
	return runner.Run(ctx)
}
