package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/gateway"
	"github.com/kevingbb/processorders/message"
	"github.com/kevingbb/processorders/orderstore"
	"github.com/kevingbb/processorders/pkg/cache"
	"github.com/kevingbb/processorders/processor/orderjoin"
)

type mockReceiver struct{ mock.Mock }

func (m *mockReceiver) Receive(ctx context.Context, ref message.FileReference) (orderstore.State, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(orderstore.State), args.Error(1)
}

type mockAdmin struct{ mock.Mock }

func (m *mockAdmin) Status(ctx context.Context, key string) (orderjoin.OrderStatus, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(orderjoin.OrderStatus), args.Error(1)
}

func (m *mockAdmin) Retry(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockAdmin) Sweep(ctx context.Context) (orderjoin.SweepReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(orderjoin.SweepReport), args.Error(1)
}

const headerURL = "https://acct.blob.core.windows.net/incoming/20240101000000-OrderHeaderDetails.csv"

func blobEvent(id, api, url string) string {
	return fmt.Sprintf(`[{"id":%q,"eventType":"Microsoft.Storage.BlobCreated","subject":"/blobServices/default","data":{"api":%q,"url":%q}}]`,
		id, api, url)
}

func newTestMux(t *testing.T, recv gateway.Receiver, opts ...Option) (*Gateway, *http.ServeMux) {
	t.Helper()
	g, err := NewGateway(gateway.DefaultConfig(), recv, opts...)
	require.NoError(t, err)
	require.NoError(t, g.Start(context.Background()))
	t.Cleanup(func() { _ = g.Stop(time.Second) })

	mux := http.NewServeMux()
	g.RegisterHTTPHandlers("", mux)
	return g, mux
}

func post(mux http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestGetOrGenerateRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "existing-request-id-12345")
	assert.Equal(t, "existing-request-id-12345", getOrGenerateRequestID(req))

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := getOrGenerateRequestID(req)
		require.NotEmpty(t, id)
		assert.False(t, ids[id], "duplicate request ID %s", id)
		ids[id] = true
	}
}

func TestNotification_SubscriptionValidation(t *testing.T) {
	recv := &mockReceiver{}
	_, mux := newTestMux(t, recv)

	rec := post(mux, "/api/processorder",
		`[{"id":"v1","eventType":"Microsoft.EventGrid.SubscriptionValidationEvent","data":{"validationCode":"512d38b6-c7b8-40c8-89fe-f46f9e9622b6"}}]`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"validationResponse":"512d38b6-c7b8-40c8-89fe-f46f9e9622b6"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	recv.AssertNotCalled(t, "Receive", mock.Anything, mock.Anything)
}

func TestNotification_ValidationWithoutCode(t *testing.T) {
	_, mux := newTestMux(t, &mockReceiver{})
	rec := post(mux, "/api/processorder", `[{"eventType":"Microsoft.EventGrid.SubscriptionValidationEvent","data":{}}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotification_MalformedBatch(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty array", `[]`},
		{"two events", `[{"eventType":"a"},{"eventType":"b"}]`},
		{"object instead of array", `{"eventType":"a"}`},
		{"not json", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recv := &mockReceiver{}
			g, mux := newTestMux(t, recv)

			rec := post(mux, "/api/processorder", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Expecting one item in the Event Grid message.", errorBody(t, rec))
			assert.Equal(t, uint64(1), g.Stats().RequestsRejected)
			recv.AssertNotCalled(t, "Receive", mock.Anything, mock.Anything)
		})
	}
}

func TestNotification_SchemaViolation(t *testing.T) {
	_, mux := newTestMux(t, &mockReceiver{})
	rec := post(mux, "/api/processorder", `[{"id":"1","data":{}}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid event", errorBody(t, rec))
}

func TestNotification_BodyTooLarge(t *testing.T) {
	_, mux := newTestMux(t, &mockReceiver{})
	rec := post(mux, "/api/processorder", "["+strings.Repeat(" ", 1<<20)+"]")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestNotification_Ignored(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"other event type", `[{"id":"1","eventType":"Microsoft.Storage.BlobDeleted","data":{"url":"` + headerURL + `"}}]`},
		{"not PutBlob", blobEvent("2", "PutBlockList", headerURL)},
		{"not an order file", blobEvent("3", "PutBlob", "https://acct.blob.core.windows.net/incoming/readme.txt")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recv := &mockReceiver{}
			_, mux := newTestMux(t, recv)

			rec := post(mux, "/api/processorder", tt.body)
			assert.Equal(t, http.StatusAccepted, rec.Code)
			recv.AssertNotCalled(t, "Receive", mock.Anything, mock.Anything)
		})
	}
}

func TestNotification_ForwardsPutBlob(t *testing.T) {
	recv := &mockReceiver{}
	recv.On("Receive", mock.Anything, mock.MatchedBy(func(ref message.FileReference) bool {
		return ref.BatchPrefix == "20240101000000" &&
			ref.FileType == message.FileTypeOrderHeaderDetails &&
			ref.FullURL == headerURL
	})).Return(orderstore.State{ID: "20240101000000"}, nil).Once()
	g, mux := newTestMux(t, recv)

	rec := post(mux, "/api/processorder", blobEvent("e1", "PutBlob", headerURL))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, uint64(1), g.Stats().RequestsAccepted)
	recv.AssertExpectations(t)
}

func TestNotification_UnknownFileType(t *testing.T) {
	recv := &mockReceiver{}
	recv.On("Receive", mock.Anything, mock.Anything).
		Return(orderstore.State{}, pkgerrors.WrapInvalid(pkgerrors.ErrUnknownFileType, "test", "Receive", "Invoice")).Once()
	_, mux := newTestMux(t, recv)

	rec := post(mux, "/api/processorder",
		blobEvent("e1", "PutBlob", "https://acct.blob.core.windows.net/incoming/20240101000000-Invoice.csv"))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	recv.AssertExpectations(t)
}

func TestNotification_StoreFailureAsksForRedelivery(t *testing.T) {
	ctx := context.Background()
	seen, err := cache.NewTTL[bool](ctx, time.Minute, time.Minute)
	require.NoError(t, err)

	recv := &mockReceiver{}
	recv.On("Receive", mock.Anything, mock.Anything).
		Return(orderstore.State{}, pkgerrors.WrapTransient(pkgerrors.ErrStorageUnavailable, "test", "Receive", "kv down")).Once()
	recv.On("Receive", mock.Anything, mock.Anything).Return(orderstore.State{}, nil).Once()
	g, mux := newTestMux(t, recv, WithDedupe(seen))

	rec := post(mux, "/api/processorder", blobEvent("e1", "PutBlob", headerURL))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, uint64(1), g.Stats().RequestsFailed)

	// The redelivery is processed, not treated as a duplicate.
	rec = post(mux, "/api/processorder", blobEvent("e1", "PutBlob", headerURL))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	recv.AssertNumberOfCalls(t, "Receive", 2)
}

func TestNotification_DuplicateEventID(t *testing.T) {
	ctx := context.Background()
	seen, err := cache.NewTTL[bool](ctx, time.Minute, time.Minute)
	require.NoError(t, err)

	recv := &mockReceiver{}
	recv.On("Receive", mock.Anything, mock.Anything).Return(orderstore.State{}, nil)
	g, mux := newTestMux(t, recv, WithDedupe(seen))

	for i := 0; i < 3; i++ {
		rec := post(mux, "/api/processorder", blobEvent("same-id", "PutBlob", headerURL))
		assert.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := post(mux, "/api/processorder", blobEvent("other-id", "PutBlob", headerURL))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	recv.AssertNumberOfCalls(t, "Receive", 2)
	assert.Equal(t, uint64(2), g.Stats().Duplicates)
}

func TestNotification_MethodNotAllowed(t *testing.T) {
	_, mux := newTestMux(t, &mockReceiver{})
	req := httptest.NewRequest(http.MethodGet, "/api/processorder", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNotification_RequestIDEchoed(t *testing.T) {
	recv := &mockReceiver{}
	_, mux := newTestMux(t, recv)

	req := httptest.NewRequest(http.MethodPost, "/api/processorder", strings.NewReader(`[]`))
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestAdmin_Status(t *testing.T) {
	admin := &mockAdmin{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	admin.On("Status", mock.Anything, "20240101000000").Return(orderjoin.OrderStatus{
		Key:   "20240101000000",
		State: &orderstore.State{ID: "20240101000000", HeaderURL: headerURL, CreatedAt: now, UpdatedAt: now},
	}, nil)
	admin.On("Status", mock.Anything, "missing").Return(orderjoin.OrderStatus{Key: "missing"}, nil)
	admin.On("Status", mock.Anything, "broken").Return(orderjoin.OrderStatus{},
		pkgerrors.WrapTransient(pkgerrors.ErrStorageUnavailable, "test", "Status", "kv down"))
	_, mux := newTestMux(t, &mockReceiver{}, WithAdmin(admin))

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/api/orders/20240101000000")
	require.Equal(t, http.StatusOK, rec.Code)
	var status orderjoin.OrderStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.NotNil(t, status.State)
	assert.Equal(t, headerURL, status.State.HeaderURL)
	assert.Nil(t, status.Pass)

	assert.Equal(t, http.StatusNotFound, get("/api/orders/missing").Code)

	rec = get("/api/orders/broken")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service temporarily unavailable", errorBody(t, rec))
}

func TestAdmin_Retry(t *testing.T) {
	admin := &mockAdmin{}
	admin.On("Retry", mock.Anything, "1").Return(nil)
	admin.On("Retry", mock.Anything, "2").Return(pkgerrors.WrapInvalid(pkgerrors.ErrPassInFlight, "test", "Retry", "2"))
	admin.On("Retry", mock.Anything, "3").Return(pkgerrors.WrapInvalid(pkgerrors.ErrInvalidData, "test", "Retry", "3 done"))
	_, mux := newTestMux(t, &mockReceiver{}, WithAdmin(admin))

	assert.Equal(t, http.StatusAccepted, post(mux, "/api/orders/1/retry", "").Code)
	assert.Equal(t, http.StatusConflict, post(mux, "/api/orders/2/retry", "").Code)
	assert.Equal(t, http.StatusBadRequest, post(mux, "/api/orders/3/retry", "").Code)
	admin.AssertExpectations(t)
}

func TestAdmin_Sweep(t *testing.T) {
	admin := &mockAdmin{}
	admin.On("Sweep", mock.Anything).Return(orderjoin.SweepReport{Scanned: 4, Retriggered: 1}, nil)
	_, mux := newTestMux(t, &mockReceiver{}, WithAdmin(admin))

	rec := post(mux, "/api/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report orderjoin.SweepReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 4, report.Scanned)
	assert.Equal(t, 1, report.Retriggered)
}

func TestAdmin_NotMountedWithoutAdmin(t *testing.T) {
	_, mux := newTestMux(t, &mockReceiver{})
	assert.Equal(t, http.StatusNotFound, post(mux, "/api/sweep", "").Code)
}

func TestGateway_Lifecycle(t *testing.T) {
	g, err := NewGateway(gateway.DefaultConfig(), &mockReceiver{})
	require.NoError(t, err)
	assert.Error(t, g.Health(context.Background()))

	require.NoError(t, g.Start(context.Background()))
	assert.NoError(t, g.Health(context.Background()))
	assert.Error(t, g.Start(context.Background()))

	require.NoError(t, g.Stop(time.Second))
	require.NoError(t, g.Stop(time.Second))
	assert.Error(t, g.Health(context.Background()))
}

func TestNewGateway_Validation(t *testing.T) {
	_, err := NewGateway(gateway.DefaultConfig(), nil)
	assert.True(t, pkgerrors.IsFatal(err))

	cfg := gateway.DefaultConfig()
	cfg.Path = "nope"
	_, err = NewGateway(cfg, &mockReceiver{})
	assert.True(t, pkgerrors.IsInvalid(err))
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"invalid", pkgerrors.WrapInvalid(pkgerrors.ErrInvalidConfig, "test", "test", "bad"), http.StatusBadRequest},
		{"in flight", pkgerrors.WrapInvalid(pkgerrors.ErrPassInFlight, "test", "test", "busy"), http.StatusConflict},
		{"timeout", pkgerrors.WrapTransient(context.DeadlineExceeded, "test", "test", "slow"), http.StatusGatewayTimeout},
		{"transient", pkgerrors.WrapTransient(pkgerrors.ErrNoConnection, "test", "test", "down"), http.StatusServiceUnavailable},
		{"fatal", pkgerrors.WrapFatal(pkgerrors.ErrNotStarted, "test", "test", "fatal"), http.StatusInternalServerError},
		{"not found", fmt.Errorf("entity not found"), http.StatusNotFound},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedStatus, mapErrorToHTTPStatus(tt.err))
		})
	}
}
