package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/kevingbb/processorders/pkg/retry"
)

var (
	ErrKVKeyNotFound        = stderrors.New("kv: key not found")
	ErrKVKeyExists          = stderrors.New("kv: key already exists")
	ErrKVRevisionMismatch   = stderrors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = stderrors.New("kv: max retries exceeded")
	ErrKVValueTooLarge      = stderrors.New("kv: value too large")

	// ErrKVUnchanged is returned by an update function to leave the stored
	// value as it is. UpdateWithRetry then succeeds without writing.
	ErrKVUnchanged = stderrors.New("kv: unchanged")
)

// KVEntry is a value together with the revision it was read at.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions tunes the CAS loop.
type KVOptions struct {
	MaxRetries    int           // extra attempts after the first on conflict
	RetryDelay    time.Duration // first backoff
	MaxRetryDelay time.Duration
	Timeout       time.Duration // per call, including the whole retry loop
	MaxValueSize  int
}

// DefaultMaxValueSize matches the server's default max_payload.
const DefaultMaxValueSize = 1 << 20

// DefaultKVOptions suit a handful of writers racing on one key.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:    10,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: time.Second,
		Timeout:       5 * time.Second,
		MaxValueSize:  DefaultMaxValueSize,
	}
}

// KVStore wraps a bucket with revision-checked updates.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  Logger
}

// NewKVStore wraps bucket using the client's logger.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	return NewKVStore(bucket, c.logger, opts...)
}

// NewKVStore wraps bucket.
func NewKVStore(bucket jetstream.KeyValue, logger Logger, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &KVStore{bucket: bucket, options: options, logger: logger}
}

// MaxValueSize is the largest value Put and UpdateWithRetry accept. Zero
// means unchecked.
func (kv *KVStore) MaxValueSize() int {
	return kv.options.MaxValueSize
}

func (kv *KVStore) checkSize(key string, value []byte) error {
	if kv.options.MaxValueSize > 0 && len(value) > kv.options.MaxValueSize {
		return fmt.Errorf("%w: %s is %d bytes, limit %d",
			ErrKVValueTooLarge, key, len(value), kv.options.MaxValueSize)
	}
	return nil
}

// Bucket returns the bucket name.
func (kv *KVStore) Bucket() string {
	return kv.bucket.Bucket()
}

func (kv *KVStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get reads key. A missing or deleted key yields ErrKVKeyNotFound.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes key unconditionally.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := kv.checkSize(key, value); err != nil {
		return 0, err
	}
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	return rev, nil
}

// Create writes key only if it does not exist.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVKeyExists
		}
		return 0, fmt.Errorf("kv create %s: %w", key, err)
	}
	return rev, nil
}

// Update writes key only if its revision is still revision.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVRevisionMismatch
		}
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}
	return rev, nil
}

// Purge removes key and its history.
func (kv *KVStore) Purge(ctx context.Context, key string) error {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Purge(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("kv purge %s: %w", key, err)
	}
	return nil
}

// Keys lists live keys. An empty bucket yields an empty slice.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	lister, err := kv.bucket.ListKeys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("kv list keys: %w", err)
	}

	keys := []string{}
	for key := range lister.Keys() {
		keys = append(keys, key)
	}
	return keys, nil
}

func (kv *KVStore) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     kv.options.MaxRetryDelay,
		Multiplier:   2.0,
		AddJitter:    true,
		// only revision conflicts are retried; anything else means the
		// server or the update function is broken
		Retryable: IsKVConflictError,
	}
}

// UpdateWithRetry is a read-modify-write loop on key. updateFn receives the
// current value (nil when the key is absent) and returns the new one. On a
// revision conflict the loop re-reads and calls updateFn again, so updateFn
// must be free of side effects. The stored entry is returned.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string,
	updateFn func(current []byte) ([]byte, error)) (*KVEntry, error) {

	ctx, cancel := kv.withTimeout(ctx)
	defer cancel()

	var result *KVEntry
	attempt := 0

	err := retry.Do(ctx, kv.retryConfig(), func() error {
		attempt++

		current, err := kv.Get(ctx, key)
		if err != nil && !stderrors.Is(err, ErrKVKeyNotFound) {
			return retry.NonRetryable(err)
		}

		var value []byte
		if current != nil {
			value = current.Value
		}

		next, err := updateFn(value)
		if stderrors.Is(err, ErrKVUnchanged) {
			result = current
			return nil
		}
		if err != nil {
			return retry.NonRetryable(err)
		}
		if err := kv.checkSize(key, next); err != nil {
			return retry.NonRetryable(err)
		}

		var rev uint64
		if current == nil {
			rev, err = kv.Create(ctx, key, next)
		} else {
			rev, err = kv.Update(ctx, key, next, current.Revision)
		}
		if err != nil {
			if IsKVConflictError(err) {
				kv.logger.Debugf("kv conflict on %s/%s, attempt %d", kv.Bucket(), key, attempt)
			}
			return err
		}

		result = &KVEntry{Key: key, Value: next, Revision: rev}
		return nil
	})
	if err != nil {
		var nre *retry.NonRetryableError
		if stderrors.As(err, &nre) {
			return nil, nre.Err
		}
		if IsKVConflictError(err) {
			return nil, fmt.Errorf("%w: %s after %d attempts", ErrKVMaxRetriesExceeded, key, attempt)
		}
		return nil, err
	}
	return result, nil
}

// IsKVNotFoundError reports whether err means the key does not exist.
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVKeyNotFound) ||
		stderrors.Is(err, jetstream.ErrKeyNotFound) ||
		stderrors.Is(err, jetstream.ErrKeyDeleted) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}

// IsKVConflictError reports whether err is a failed revision check.
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVRevisionMismatch) ||
		stderrors.Is(err, ErrKVKeyExists) ||
		stderrors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "10071") ||
		strings.Contains(msg, "key exists")
}
