// Package config loads the familydb configuration from the environment.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/caarlos0/env/v11"

	"github.com/jacentio/familydb/store"
)

// Config holds the settings read from FAMILYDB_* environment variables.
type Config struct {
	// Endpoint is the DynamoDB endpoint. Empty uses the regional AWS endpoint.
	Endpoint string `env:"ENDPOINT" envDefault:"http://localhost:8000"`
	Region   string `env:"REGION" envDefault:"us-east-1"`

	// AccessKeyID and SecretAccessKey default to the fixed DynamoDB Local
	// credentials. When both are empty the AWS default credential chain is used.
	AccessKeyID     string `env:"ACCESS_KEY_ID" envDefault:"local"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY" envDefault:"local"`

	TablePrefix      string        `env:"TABLE_PREFIX"`
	TableWaitTimeout time.Duration `env:"TABLE_WAIT_TIMEOUT" envDefault:"2m"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "FAMILYDB_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.TableWaitTimeout <= 0 {
		return Config{}, fmt.Errorf("parse env: FAMILYDB_TABLE_WAIT_TIMEOUT must be positive, got %s", cfg.TableWaitTimeout)
	}
	return cfg, nil
}

// Level returns the slog level named by LogLevel. Unknown names fall back to
// info.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Store returns the document layer configuration.
func (c Config) Store() store.Config {
	cfg := store.DefaultConfig()
	cfg.TablePrefix = c.TablePrefix
	cfg.TableWaitTimeout = c.TableWaitTimeout
	return cfg
}

// AWS builds the AWS SDK configuration.
func (c Config) AWS(ctx context.Context) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(c.Region),
	}
	if c.AccessKeyID != "" || c.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// DynamoDB creates a DynamoDB client, pointed at Endpoint when set.
func (c Config) DynamoDB(ctx context.Context) (*dynamodb.Client, error) {
	cfg, err := c.AWS(ctx)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	}), nil
}
