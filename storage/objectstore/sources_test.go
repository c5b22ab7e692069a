package objectstore

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/pkg/retry"
	"github.com/kevingbb/processorders/storage"
)

const (
	headerURL   = "https://acct.blob.core.windows.net/incoming/20240101000000-OrderHeaderDetails.csv"
	linesURL    = "https://acct.blob.core.windows.net/incoming/20240101000000-OrderLineItems.csv"
	productsURL = "https://acct.blob.core.windows.net/incoming/20240101000000-ProductInformation.csv"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Put(ctx context.Context, name string, data []byte) error {
	return m.Called(ctx, name, data).Error(0)
}

func (m *mockStore) Get(ctx context.Context, name string) ([]byte, error) {
	args := m.Called(ctx, name)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockStore) List(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func TestObjectName(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{url: headerURL, want: "20240101000000-OrderHeaderDetails.csv"},
		{url: "https://host/incoming/nested/path/x-OrderLineItems.csv", want: "nested/path/x-OrderLineItems.csv"},
		{url: "https://host/incoming/with%20space-OrderLineItems.csv", want: "with space-OrderLineItems.csv"},
		{url: "https://host/only-container", wantErr: true},
		{url: "https://host/", wantErr: true},
		{url: "://bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := ObjectName(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeleteSources_AllDeleted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, u := range []string{headerURL, linesURL, productsURL} {
		name, err := ObjectName(u)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, name, []byte("csv")))
	}

	report := DeleteSources(ctx, store, "20240101000000", []string{headerURL, linesURL, productsURL}, retry.Quick(), nil)

	assert.True(t, report.OK())
	assert.Equal(t, "Deleting CombinedOrders 20240101000000 completed.", report.Outcome)
	assert.Len(t, report.Deleted, 3)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDeleteSources_AbsentObjectsAreSuccess(t *testing.T) {
	report := DeleteSources(context.Background(), NewMemoryStore(), "k", []string{headerURL, linesURL, productsURL}, retry.Quick(), nil)
	assert.True(t, report.OK())
	assert.Equal(t, "Deleting CombinedOrders k completed.", report.Outcome)
}

func TestDeleteSources_EachURLAttempted(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("Delete", ctx, "20240101000000-OrderHeaderDetails.csv").Return(stderrors.New("boom"))
	store.On("Delete", ctx, "20240101000000-OrderLineItems.csv").Return(nil)
	store.On("Delete", ctx, "20240101000000-ProductInformation.csv").Return(nil)

	report := DeleteSources(ctx, store, "20240101000000", []string{headerURL, linesURL, productsURL}, retry.Quick(), nil)

	store.AssertNumberOfCalls(t, "Delete", 3)
	assert.False(t, report.OK())
	assert.Equal(t, []string{linesURL, productsURL}, report.Deleted)
	require.Contains(t, report.Failed, headerURL)
	assert.Contains(t, report.Outcome, "Deleting order 20240101000000 from blob storage failed: ")
	assert.Contains(t, report.Outcome, "boom")
}

func TestDeleteSources_TransientErrorsAreRetried(t *testing.T) {
	ctx := context.Background()
	outage := errors.WrapTransient(stderrors.New("no responders"), "objectstore", "Delete", "x")
	store := new(mockStore)
	store.On("Delete", ctx, "20240101000000-OrderHeaderDetails.csv").Return(outage).Once()
	store.On("Delete", ctx, mock.Anything).Return(nil)

	cfg := retry.Quick()
	cfg.InitialDelay = time.Millisecond
	report := DeleteSources(ctx, store, "20240101000000", []string{headerURL, linesURL, productsURL}, cfg, nil)

	assert.True(t, report.OK())
	assert.Equal(t, "Deleting CombinedOrders 20240101000000 completed.", report.Outcome)
	store.AssertNumberOfCalls(t, "Delete", 4)
}

func TestDeleteSources_TransientRetriesAreBounded(t *testing.T) {
	ctx := context.Background()
	outage := errors.WrapTransient(stderrors.New("no responders"), "objectstore", "Delete", "x")
	store := new(mockStore)
	store.On("Delete", ctx, mock.Anything).Return(outage)

	cfg := retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	report := DeleteSources(ctx, store, "k", []string{linesURL}, cfg, nil)

	assert.False(t, report.OK())
	store.AssertNumberOfCalls(t, "Delete", 2)
}

func TestDeleteSources_BadURLDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("Delete", ctx, mock.Anything).Return(nil)

	report := DeleteSources(ctx, store, "k", []string{"https://host/", linesURL}, retry.Quick(), nil)

	store.AssertNumberOfCalls(t, "Delete", 1)
	assert.False(t, report.OK())
	assert.Equal(t, []string{linesURL}, report.Deleted)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	data := []byte("a,b,c")
	require.NoError(t, store.Put(ctx, "b.csv", data))
	require.NoError(t, store.Put(ctx, "a.csv", []byte("x")))
	data[0] = 'z'

	got, err := store.Get(ctx, "b.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b,c", string(got))

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.csv", "b.csv"}, names)

	require.NoError(t, store.Delete(ctx, "a.csv"))
	require.NoError(t, store.Delete(ctx, "a.csv"))
	names, err = store.List(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Bucket: "x", Replicas: -1}.Validate())
	assert.Equal(t, 1, Config{Bucket: "x"}.objectStoreConfig().Replicas)
}
