//go:build integration

package objectstore

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevingbb/processorders/metric"
	"github.com/kevingbb/processorders/natsclient"
	"github.com/kevingbb/processorders/pkg/retry"
	"github.com/kevingbb/processorders/storage"
)

func TestStore_JetStreamRoundTrip(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx := context.Background()
	registry := metric.NewMetricsRegistry()

	store, err := NewStore(ctx, tc.Client, Config{Bucket: "orders_it"}, nil, WithMetrics(registry))
	require.NoError(t, err)
	assert.Equal(t, "orders_it", store.Bucket())

	_, err = store.Get(ctx, "missing.csv")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, u := range []string{headerURL, linesURL, productsURL} {
		name, err := ObjectName(u)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, name, []byte("id,qty\n1,2\n")))
	}

	got, err := store.Get(ctx, "20240101000000-OrderLineItems.csv")
	require.NoError(t, err)
	assert.Equal(t, "id,qty\n1,2\n", string(got))

	names, err = store.List(ctx, "20240101000000-")
	require.NoError(t, err)
	assert.Len(t, names, 3)

	report := DeleteSources(ctx, store, "20240101000000", []string{headerURL, linesURL, productsURL}, retry.Quick(), nil)
	assert.True(t, report.OK(), report.Outcome)

	// Second pass finds nothing and still succeeds.
	report = DeleteSources(ctx, store, "20240101000000", []string{headerURL, linesURL, productsURL}, retry.Quick(), nil)
	assert.True(t, report.OK(), report.Outcome)

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	// Reopening an existing bucket is fine.
	_, err = NewStore(ctx, tc.Client, Config{Bucket: "orders_it"}, nil)
	require.NoError(t, err)

	assert.Positive(t, testutil.CollectAndCount(store.metrics.ops))
}
