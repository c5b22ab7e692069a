package results

import (
	"context"
	"sync"

	"github.com/kevingbb/processorders/message"
)

// MemoryStore keeps records in process.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[[2]string]message.CombinedOrderRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[[2]string]message.CombinedOrderRecord)}
}

// Upsert stores rec.
func (m *MemoryStore) Upsert(_ context.Context, rec message.CombinedOrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[[2]string{rec.PartitionKey, rec.RowKey}] = rec
	return nil
}

// Get returns a record or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, partitionKey, rowKey string) (message.CombinedOrderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.rows[[2]string{partitionKey, rowKey}]
	if !ok {
		return message.CombinedOrderRecord{}, ErrNotFound
	}
	return rec, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
