package orderjoin

import (
	"fmt"
	"time"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/pkg/retry"
)

// Config tunes the coordinator, its local worker pool and the sweeper.
type Config struct {
	// ClaimTimeout is how long a claimed or merged pass may go without
	// progress before another worker takes it over.
	ClaimTimeout time.Duration
	// HeartbeatInterval is how often a running pass renews its claim.
	// Zero means a third of ClaimTimeout.
	HeartbeatInterval time.Duration
	// MaxMergeAttempts bounds automatic merge retries per order.
	MaxMergeAttempts int
	// PersistAttempts bounds retries of a transient store failure while
	// staging merge content, persisting the result or deleting sources.
	PersistAttempts int

	// Workers and QueueSize size the local trigger pool and the stream
	// trigger's dispatch pool.
	Workers   int
	QueueSize int

	// SweepInterval is the reconciliation period. Zero disables the sweeper.
	SweepInterval time.Duration
	// Retention is how long finished orders keep their state and ledger.
	Retention time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ClaimTimeout:     2 * time.Minute,
		MaxMergeAttempts: 5,
		PersistAttempts:  3,
		Workers:          8,
		QueueSize:        1024,
		SweepInterval:    time.Minute,
		Retention:        14 * 24 * time.Hour,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	switch {
	case c.ClaimTimeout <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "orderjoin", "Validate", "claim_timeout must be positive")
	case c.HeartbeatInterval < 0 || c.HeartbeatInterval >= c.ClaimTimeout:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "orderjoin", "Validate",
			fmt.Sprintf("heartbeat_interval must be below claim_timeout %s, got %s", c.ClaimTimeout, c.HeartbeatInterval))
	case c.MaxMergeAttempts < 1:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "orderjoin", "Validate",
			fmt.Sprintf("max_merge_attempts must be >= 1, got %d", c.MaxMergeAttempts))
	case c.Workers < 1:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "orderjoin", "Validate", "workers must be >= 1")
	case c.QueueSize < 1:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "orderjoin", "Validate", "queue_size must be >= 1")
	case c.SweepInterval < 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "orderjoin", "Validate", "sweep_interval must not be negative")
	case c.Retention < 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "orderjoin", "Validate", "retention must not be negative")
	}
	return nil
}

func (c Config) heartbeat() time.Duration {
	if c.HeartbeatInterval > 0 {
		return c.HeartbeatInterval
	}
	return c.ClaimTimeout / 3
}

func (c Config) storeRetry() retry.Config {
	cfg := retry.DefaultConfig()
	if c.PersistAttempts > 0 {
		cfg.MaxAttempts = c.PersistAttempts
	}
	return cfg
}
