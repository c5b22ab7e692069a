//go:build integration

package results

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevingbb/processorders/message"
	"github.com/kevingbb/processorders/natsclient"
)

func TestKVStore_Upsert(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithKV())
	ctx := context.Background()

	bucket, err := tc.Client.EnsureKeyValue(ctx, BucketConfig(DefaultBucket, 0, 1))
	require.NoError(t, err)
	store := NewKVStore(tc.Client.NewKVStore(bucket))

	_, err = store.Get(ctx, message.PartitionBatchOrders, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	report := Persist(ctx, store, "20240101000000", "merged-1", fastRetry(), nil)
	require.True(t, report.OK(), report.Outcome)
	report = Persist(ctx, store, "20240101000000", "merged-2", fastRetry(), nil)
	require.True(t, report.OK(), report.Outcome)

	rec, err := store.Get(ctx, message.PartitionBatchOrders, "20240101000000")
	require.NoError(t, err)
	assert.Equal(t, "merged-2", rec.Text)
	assert.Equal(t, "BatchOrders", rec.PartitionKey)
}

func TestKVStore_OversizedTextIsRejected(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithKV())
	ctx := context.Background()

	bucket, err := tc.Client.EnsureKeyValue(ctx, BucketConfig(DefaultBucket, 0, 1))
	require.NoError(t, err)
	store := NewKVStore(tc.Client.NewKVStore(bucket, func(o *natsclient.KVOptions) { o.MaxValueSize = 16 }))

	report := Persist(ctx, store, "20240101000000", strings.Repeat("x", 17), fastRetry(), nil)
	assert.False(t, report.OK())
	assert.ErrorIs(t, report.Err, natsclient.ErrKVValueTooLarge)
	assert.Contains(t, report.Outcome, "Storing entry 20240101000000 to combinedorders Table failed")

	report = Persist(ctx, store, "20240101000000", strings.Repeat("x", 16), fastRetry(), nil)
	require.True(t, report.OK(), report.Outcome)
}
