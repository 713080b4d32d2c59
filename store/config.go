package store

import "time"

// Config holds configuration for the Client.
type Config struct {
	// TablePrefix is prepended to every physical table name, so several
	// environments can share one account.
	// Default: "" (no prefix)
	TablePrefix string

	// TableWaitTimeout bounds how long database and container creation or
	// deletion waits for tables to become ACTIVE or disappear.
	// Default: 2m
	TableWaitTimeout time.Duration

	// ConsistentReads makes point reads strongly consistent, so a read that
	// follows a write in the same program observes it.
	ConsistentReads bool
}

// DefaultConfig returns the configuration used by the tutorial.
func DefaultConfig() Config {
	return Config{
		TableWaitTimeout: 2 * time.Minute,
		ConsistentReads:  true,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TableWaitTimeout <= 0 {
		c.TableWaitTimeout = 2 * time.Minute
	}
}
