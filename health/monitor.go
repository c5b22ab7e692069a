package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/kevingbb/processorders/metric"
)

// Check tests one dependency. A nil error is healthy.
type Check func(ctx context.Context) error

type registeredCheck struct {
	check     Check
	okMessage string
}

// Monitor tracks the health of named components.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checks   map[string]registeredCheck
	metrics  *metric.Metrics
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checks:   make(map[string]registeredCheck),
	}
}

// SetMetrics mirrors every update into the component health gauge.
func (m *Monitor) SetMetrics(metrics *metric.Metrics) {
	m.mu.Lock()
	m.metrics = metrics
	m.mu.Unlock()
}

// Update stores status under name.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	metrics := m.metrics
	m.mu.Unlock()

	metrics.RecordHealthStatus(name, !status.IsUnhealthy())
}

// UpdateHealthy marks name healthy.
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy marks name unhealthy.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded marks name degraded.
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Register adds a polled check for name. okMessage is reported while the
// check passes.
func (m *Monitor) Register(name string, check Check, okMessage string) {
	m.mu.Lock()
	m.checks[name] = registeredCheck{check: check, okMessage: okMessage}
	m.mu.Unlock()
}

// CheckAll runs every registered check and records the results.
func (m *Monitor) CheckAll(ctx context.Context) {
	m.mu.RLock()
	checks := make(map[string]registeredCheck, len(m.checks))
	for name, c := range m.checks {
		checks[name] = c
	}
	m.mu.RUnlock()

	for name, c := range checks {
		m.Update(name, FromError(name, c.check(ctx), c.okMessage))
	}
}

// Run polls the registered checks every interval until ctx is done. A
// non-positive interval checks once.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.CheckAll(ctx)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// Get returns the status of name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// GetAll returns a copy of every status.
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		result[name] = status
	}
	return result
}

// Remove stops tracking name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.checks, name)
}

// ListComponents returns the tracked names in order.
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AggregateHealth folds every status into one for systemName. Sub-statuses
// are ordered by component name.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subs = append(subs, status)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return Aggregate(systemName, subs)
}

// Handler serves the aggregate status as JSON. Unhealthy answers 503;
// degraded still answers 200.
func (m *Monitor) Handler(systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(systemName)
		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
