package cache

import (
	"github.com/kevingbb/processorders/errors"
)

// Cache is a keyed store with expiry.
type Cache[V any] interface {
	// Get returns the value for key if present and not expired.
	Get(key string) (V, bool)

	// Set stores value under key. It reports whether a new entry was created.
	Set(key string, value V) (bool, error)

	// SetIfAbsent stores value only when key is absent or expired. It
	// reports whether the value was stored. Check and store are atomic.
	SetIfAbsent(key string, value V) (bool, error)

	// Delete removes key and reports whether it existed.
	Delete(key string) (bool, error)

	// Size returns the number of entries, including expired ones not yet
	// swept.
	Size() int

	// Stats returns the always-on statistics.
	Stats() *Statistics

	// Close stops background work.
	Close() error
}

// EvictCallback is called when an entry expires or is deleted.
type EvictCallback[V any] func(key string, value V)

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
