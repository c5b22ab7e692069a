package objectstore

import (
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/kevingbb/processorders/errors"
)

// DefaultBucket is the object store bucket holding uploaded order files.
const DefaultBucket = "orders"

// Config configures the JetStream object store backend.
type Config struct {
	Bucket      string `json:"bucket" yaml:"bucket"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Replicas    int    `json:"replicas,omitempty" yaml:"replicas,omitempty"`
	MaxBytes    int64  `json:"max_bytes,omitempty" yaml:"max_bytes,omitempty"`
}

// DefaultConfig returns a single-replica config for DefaultBucket.
func DefaultConfig() Config {
	return Config{
		Bucket:      DefaultBucket,
		Description: "Uploaded order source files",
		Replicas:    1,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "objectstore", "Validate", "bucket is required")
	}
	if c.Replicas < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "objectstore", "Validate",
			fmt.Sprintf("replicas must be >= 0, got %d", c.Replicas))
	}
	return nil
}

func (c Config) objectStoreConfig() jetstream.ObjectStoreConfig {
	replicas := c.Replicas
	if replicas == 0 {
		replicas = 1
	}
	return jetstream.ObjectStoreConfig{
		Bucket:      c.Bucket,
		Description: c.Description,
		Replicas:    replicas,
		MaxBytes:    c.MaxBytes,
	}
}
