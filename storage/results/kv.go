package results

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/message"
	"github.com/kevingbb/processorders/natsclient"
)

// DefaultBucket is the KV bucket holding combined orders.
const DefaultBucket = "COMBINED_ORDERS"

// BucketConfig returns the KV bucket configuration for combined orders.
// A zero ttl keeps rows forever.
func BucketConfig(name string, ttl time.Duration, replicas int) jetstream.KeyValueConfig {
	if replicas < 1 {
		replicas = 1
	}
	return jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "Combined order documents",
		History:     1,
		TTL:         ttl,
		Replicas:    replicas,
	}
}

// KVStore keeps each record's text verbatim under "<partition>.<row key>",
// so the stored value is exactly as large as the combined order.
type KVStore struct {
	kv *natsclient.KVStore
}

var _ Store = (*KVStore)(nil)

// NewKVStore wraps kv.
func NewKVStore(kv *natsclient.KVStore) *KVStore {
	return &KVStore{kv: kv}
}

func recordKey(partitionKey, rowKey string) string {
	return natsclient.EncodeKey(partitionKey) + "." + natsclient.EncodeKey(rowKey)
}

// Upsert writes rec, replacing any previous value. Text larger than the
// bucket's value limit is rejected as invalid.
func (s *KVStore) Upsert(ctx context.Context, rec message.CombinedOrderRecord) error {
	_, err := s.kv.Put(ctx, recordKey(rec.PartitionKey, rec.RowKey), []byte(rec.Text))
	switch {
	case stderrors.Is(err, natsclient.ErrKVValueTooLarge):
		return errors.WrapInvalid(err, "KVStore", "Upsert", "put "+rec.RowKey)
	case err != nil:
		return errors.WrapTransient(err, "KVStore", "Upsert", "put "+rec.RowKey)
	}
	return nil
}

// Get reads a record or returns ErrNotFound.
func (s *KVStore) Get(ctx context.Context, partitionKey, rowKey string) (message.CombinedOrderRecord, error) {
	entry, err := s.kv.Get(ctx, recordKey(partitionKey, rowKey))
	if natsclient.IsKVNotFoundError(err) {
		return message.CombinedOrderRecord{}, ErrNotFound
	}
	if err != nil {
		return message.CombinedOrderRecord{}, errors.WrapTransient(err, "KVStore", "Get", "get "+rowKey)
	}
	return message.CombinedOrderRecord{
		PartitionKey: partitionKey,
		RowKey:       rowKey,
		Text:         string(entry.Value),
	}, nil
}
