package orderstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// keyedMutex hands out one mutex per key and forgets it once nobody holds
// or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// held reports how many keys currently have holders or waiters.
func (k *keyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

type memRecords[T any] struct {
	locks *keyedMutex
	mu    sync.RWMutex
	data  map[string]T
}

func newMemRecords[T any]() *memRecords[T] {
	return &memRecords[T]{locks: newKeyedMutex(), data: make(map[string]T)}
}

func (m *memRecords[T]) get(key string) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return v, nil
}

func (m *memRecords[T]) update(ctx context.Context, key string, fn func(*T) (*T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	unlock := m.locks.lock(key)
	defer unlock()

	m.mu.RLock()
	cur, ok := m.data[key]
	m.mu.RUnlock()

	var curPtr *T
	if ok {
		c := cur
		curPtr = &c
	}

	next, err := fn(curPtr)
	if errors.Is(err, ErrUnchanged) {
		if !ok {
			return zero, ErrNotFound
		}
		return cur, nil
	}
	if err != nil {
		return zero, err
	}

	m.mu.Lock()
	m.data[key] = *next
	m.mu.Unlock()
	return *next, nil
}

func (m *memRecords[T]) keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *memRecords[T]) delete(key string) {
	unlock := m.locks.lock(key)
	defer unlock()
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
}

// MemoryStateStore keeps join state in process. Used by tests and by
// single-instance deployments without NATS.
type MemoryStateStore struct {
	records *memRecords[State]
	now     func() time.Time
}

// NewMemoryStateStore returns an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{records: newMemRecords[State](), now: time.Now}
}

func (s *MemoryStateStore) Get(_ context.Context, key string) (State, error) {
	return s.records.get(key)
}

func (s *MemoryStateStore) Apply(ctx context.Context, key string, sig Signal) (State, error) {
	return s.records.update(ctx, key, func(cur *State) (*State, error) {
		return applySignal(key, cur, sig, s.now())
	})
}

func (s *MemoryStateStore) Keys(_ context.Context) ([]string, error) {
	return s.records.keys(), nil
}

func (s *MemoryStateStore) Delete(_ context.Context, key string) error {
	s.records.delete(key)
	return nil
}

// MemoryPassStore keeps the pass ledger in process.
type MemoryPassStore struct {
	records *memRecords[Pass]
}

// NewMemoryPassStore returns an empty ledger.
func NewMemoryPassStore() *MemoryPassStore {
	return &MemoryPassStore{records: newMemRecords[Pass]()}
}

func (s *MemoryPassStore) Get(_ context.Context, key string) (Pass, error) {
	return s.records.get(key)
}

func (s *MemoryPassStore) Update(ctx context.Context, key string, fn func(*Pass) (*Pass, error)) (Pass, error) {
	return s.records.update(ctx, key, fn)
}

func (s *MemoryPassStore) Delete(_ context.Context, key string) error {
	s.records.delete(key)
	return nil
}
