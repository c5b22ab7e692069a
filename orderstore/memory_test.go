package orderstore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStateStore_ConcurrentArrivalsLoseNothing(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		key := fmt.Sprintf("order-%d", round)
		var wg sync.WaitGroup
		for _, sig := range allSignals {
			wg.Add(1)
			go func(sig Signal) {
				defer wg.Done()
				_, err := store.Apply(ctx, key, sig)
				assert.NoError(t, err)
			}(sig)
		}
		wg.Wait()

		st, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, st.IsComplete(), key)
	}
	assert.Zero(t, store.records.locks.held())
}

func TestMemoryStateStore_IndependentKeys(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	_, err := store.Apply(ctx, "A", Signal{Slot: SlotHeader, URL: "a1"})
	require.NoError(t, err)
	_, err = store.Apply(ctx, "B", Signal{Slot: SlotLineItems, URL: "b2"})
	require.NoError(t, err)

	a, err := store.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "a1", a.HeaderURL)
	assert.Empty(t, a.LineItemsURL)

	b, err := store.Get(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, b.HeaderURL)
	assert.Equal(t, "b2", b.LineItemsURL)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, keys)

	require.NoError(t, store.Delete(ctx, "A"))
	_, err = store.Get(ctx, "A")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStateStore_DuplicateIsNoop(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	first, err := store.Apply(ctx, "A", Signal{Slot: SlotHeader, URL: "a1"})
	require.NoError(t, err)
	second, err := store.Apply(ctx, "A", Signal{Slot: SlotHeader, URL: "a1"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMemoryStateStore_RejectsUnknownSlot(t *testing.T) {
	store := NewMemoryStateStore()
	_, err := store.Apply(context.Background(), "A", Signal{Slot: Slot(9), URL: "x"})
	assert.Error(t, err)
}

func TestMemoryPassStore_Update(t *testing.T) {
	store := NewMemoryPassStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "A")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Update(ctx, "A", func(cur *Pass) (*Pass, error) {
		assert.Nil(t, cur)
		return nil, ErrUnchanged
	})
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := store.Update(ctx, "A", func(cur *Pass) (*Pass, error) {
		return &Pass{Key: "A", Phase: PhaseClaimed, Attempts: 1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, PhaseClaimed, p.Phase)

	p, err = store.Update(ctx, "A", func(cur *Pass) (*Pass, error) {
		require.NotNil(t, cur)
		next := *cur
		next.Phase = PhaseDone
		return &next, nil
	})
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, p.Phase)

	p, err = store.Update(ctx, "A", func(*Pass) (*Pass, error) { return nil, ErrUnchanged })
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, p.Phase)

	boom := fmt.Errorf("boom")
	_, err = store.Update(ctx, "A", func(*Pass) (*Pass, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestMemoryPassStore_SerialisesPerKey(t *testing.T) {
	store := NewMemoryPassStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "A", func(cur *Pass) (*Pass, error) {
				next := Pass{Key: "A"}
				if cur != nil {
					next = *cur
				}
				next.Attempts++
				return &next, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := store.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 100, p.Attempts)
}
