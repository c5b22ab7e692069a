package health

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevingbb/processorders/metric"
)

func TestMonitor_UpdateAndGet(t *testing.T) {
	m := NewMonitor()
	m.Update("nats", Status{Status: StateHealthy})

	s, ok := m.Get("nats")
	require.True(t, ok)
	assert.Equal(t, "nats", s.Component)
	assert.False(t, s.Timestamp.IsZero())

	m.UpdateDegraded("merge", "slow")
	m.UpdateUnhealthy("results", "down")
	assert.Equal(t, []string{"merge", "nats", "results"}, m.ListComponents())
	assert.Len(t, m.GetAll(), 3)

	m.Remove("results")
	_, ok = m.Get("results")
	assert.False(t, ok)
}

func TestMonitor_AggregateOrdered(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("z", "")
	m.UpdateHealthy("a", "")
	agg := m.AggregateHealth("processorders")
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "a", agg.SubStatuses[0].Component)
	assert.True(t, agg.IsHealthy())
}

func TestMonitor_Checks(t *testing.T) {
	m := NewMonitor()
	var fail bool
	var mu sync.Mutex
	m.Register("nats", func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return stderrors.New("connection lost")
		}
		return nil
	}, "connected")

	m.CheckAll(context.Background())
	s, _ := m.Get("nats")
	assert.True(t, s.IsHealthy())
	assert.Equal(t, "connected", s.Message)

	mu.Lock()
	fail = true
	mu.Unlock()
	m.CheckAll(context.Background())
	s, _ = m.Get("nats")
	assert.True(t, s.IsUnhealthy())
	assert.Equal(t, "connection lost", s.Message)
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("nats", "connected")
	m.UpdateDegraded("merge", "slow")

	rec := httptest.NewRecorder()
	m.Handler("processorders").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StateDegraded, body.Status)

	m.UpdateUnhealthy("nats", "down")
	rec = httptest.NewRecorder()
	m.Handler("processorders").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestMonitor_RecordsMetrics(t *testing.T) {
	metrics := metric.NewMetrics()
	m := NewMonitor()
	m.SetMetrics(metrics)

	m.UpdateHealthy("nats", "")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("nats")))
	m.UpdateUnhealthy("nats", "")
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("nats")))
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.UpdateHealthy("a", "")
		}()
		go func() {
			defer wg.Done()
			_ = m.AggregateHealth("svc")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, len(m.GetAll()))
}
