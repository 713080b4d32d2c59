// Command familyfeed is an AWS Lambda that logs the change feed of a
// container table.
package main

import (
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/familydb/internal/config"
	"github.com/jacentio/familydb/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	h := stream.NewHandler(stream.LogProcessor(logger), logger)
	lambda.Start(h.HandleChangeFeed)
}
