package orderstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/natsclient"
)

// Default bucket names.
const (
	StateBucket = "ORDER_STATE"
	PassBucket  = "ORDER_PASSES_LEDGER"
)

// StateBucketConfig returns the bucket configuration for join state. ttl
// bounds how long an untouched order survives; zero keeps it forever.
func StateBucketConfig(name string, ttl time.Duration, replicas int) jetstream.KeyValueConfig {
	return jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "order join state by batch prefix",
		History:     5,
		TTL:         ttl,
		Replicas:    replicas,
	}
}

// PassBucketConfig returns the bucket configuration for the pass ledger.
func PassBucketConfig(name string, ttl time.Duration, replicas int) jetstream.KeyValueConfig {
	return jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "completion pass progress by batch prefix",
		History:     10,
		TTL:         ttl,
		Replicas:    replicas,
	}
}

// fnError carries an error produced by caller logic through the CAS loop so
// it is not reported as a storage failure.
type fnError struct{ err error }

func (e fnError) Error() string { return e.err.Error() }
func (e fnError) Unwrap() error { return e.err }

type kvRecords[T any] struct {
	kv        *natsclient.KVStore
	component string
}

func (r kvRecords[T]) get(ctx context.Context, key string) (T, error) {
	var zero T
	entry, err := r.kv.Get(ctx, natsclient.EncodeKey(key))
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return zero, ErrNotFound
		}
		return zero, errors.WrapTransient(err, r.component, "Get", "read "+key)
	}
	return r.decode(key, entry.Value)
}

func (r kvRecords[T]) decode(key string, data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.WrapFatal(err, r.component, "decode", "unmarshal "+key)
	}
	return v, nil
}

func (r kvRecords[T]) update(ctx context.Context, key string, fn func(*T) (*T, error)) (T, error) {
	var zero T
	entry, err := r.kv.UpdateWithRetry(ctx, natsclient.EncodeKey(key), func(current []byte) ([]byte, error) {
		var cur *T
		if current != nil {
			v, err := r.decode(key, current)
			if err != nil {
				return nil, fnError{err}
			}
			cur = &v
		}

		next, err := fn(cur)
		if stderrors.Is(err, ErrUnchanged) {
			return nil, natsclient.ErrKVUnchanged
		}
		if err != nil {
			return nil, fnError{err}
		}
		if next == nil {
			return nil, fnError{fmt.Errorf("%s: update of %s returned no record", r.component, key)}
		}
		return json.Marshal(next)
	})
	if err != nil {
		var fe fnError
		if stderrors.As(err, &fe) {
			return zero, fe.err
		}
		return zero, errors.WrapTransient(err, r.component, "Update", "write "+key)
	}
	if entry == nil {
		return zero, ErrNotFound
	}
	return r.decode(key, entry.Value)
}

func (r kvRecords[T]) keys(ctx context.Context) ([]string, error) {
	stored, err := r.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, r.component, "Keys", "list keys")
	}
	keys := make([]string, 0, len(stored))
	for _, k := range stored {
		keys = append(keys, natsclient.DecodeKey(k))
	}
	return keys, nil
}

func (r kvRecords[T]) delete(ctx context.Context, key string) error {
	if err := r.kv.Purge(ctx, natsclient.EncodeKey(key)); err != nil {
		return errors.WrapTransient(err, r.component, "Delete", "purge "+key)
	}
	return nil
}

// KVStateStore keeps join state in a JetStream KV bucket.
type KVStateStore struct {
	records kvRecords[State]
	now     func() time.Time
}

// NewKVStateStore wraps kv.
func NewKVStateStore(kv *natsclient.KVStore) *KVStateStore {
	return &KVStateStore{
		records: kvRecords[State]{kv: kv, component: "KVStateStore"},
		now:     time.Now,
	}
}

func (s *KVStateStore) Get(ctx context.Context, key string) (State, error) {
	return s.records.get(ctx, key)
}

func (s *KVStateStore) Apply(ctx context.Context, key string, sig Signal) (State, error) {
	return s.records.update(ctx, key, func(cur *State) (*State, error) {
		return applySignal(key, cur, sig, s.now())
	})
}

func (s *KVStateStore) Keys(ctx context.Context) ([]string, error) {
	return s.records.keys(ctx)
}

func (s *KVStateStore) Delete(ctx context.Context, key string) error {
	return s.records.delete(ctx, key)
}

// KVPassStore keeps the pass ledger in a JetStream KV bucket.
type KVPassStore struct {
	records kvRecords[Pass]
}

// NewKVPassStore wraps kv.
func NewKVPassStore(kv *natsclient.KVStore) *KVPassStore {
	return &KVPassStore{records: kvRecords[Pass]{kv: kv, component: "KVPassStore"}}
}

func (s *KVPassStore) Get(ctx context.Context, key string) (Pass, error) {
	return s.records.get(ctx, key)
}

func (s *KVPassStore) Update(ctx context.Context, key string, fn func(*Pass) (*Pass, error)) (Pass, error) {
	return s.records.update(ctx, key, fn)
}

func (s *KVPassStore) Delete(ctx context.Context, key string) error {
	return s.records.delete(ctx, key)
}

func applySignal(key string, cur *State, sig Signal, now time.Time) (*State, error) {
	if sig.Slot < SlotHeader || sig.Slot > SlotProductInfo {
		return nil, fmt.Errorf("%w: %s", errors.ErrInvalidData, sig.Slot)
	}
	next := NewState(key, now)
	if cur != nil {
		next = *cur
	}
	if !next.Apply(sig, now) && cur != nil {
		return nil, ErrUnchanged
	}
	return &next, nil
}
