package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/kevingbb/processorders/errors"
)

// Config configures a cache built by NewFromConfig.
type Config struct {
	// Enabled selects a TTL cache; otherwise a no-op cache is returned.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// TTL is how long an entry lives.
	TTL time.Duration `json:"ttl" yaml:"ttl"`
	// CleanupInterval is how often expired entries are swept.
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
}

// DefaultConfig returns a 10 minute cache swept every minute.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		TTL:             10 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.TTL <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("ttl must be positive, got %v", c.TTL))
	}
	if c.CleanupInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("cleanup_interval must be positive, got %v", c.CleanupInterval))
	}
	return nil
}

// NewFromConfig builds the cache described by config.
func NewFromConfig[V any](ctx context.Context, config Config, options ...Option[V]) (Cache[V], error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !config.Enabled {
		return NewNoop[V](), nil
	}
	return NewTTL[V](ctx, config.TTL, config.CleanupInterval, options...)
}

// NewNoop returns a cache that stores nothing. SetIfAbsent always reports
// the value as stored, so nothing is ever treated as a duplicate.
func NewNoop[V any]() Cache[V] {
	return &noopCache[V]{stats: NewStatistics()}
}

type noopCache[V any] struct {
	stats *Statistics
}

func (c *noopCache[V]) Get(string) (V, bool) {
	var zero V
	return zero, false
}

func (c *noopCache[V]) Set(string, V) (bool, error)         { return true, nil }
func (c *noopCache[V]) SetIfAbsent(string, V) (bool, error) { return true, nil }
func (c *noopCache[V]) Delete(string) (bool, error)         { return false, nil }
func (c *noopCache[V]) Size() int                           { return 0 }
func (c *noopCache[V]) Stats() *Statistics                  { return c.stats }
func (c *noopCache[V]) Close() error                        { return nil }
