package objectstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kevingbb/processorders/metric"
)

// storeMetrics holds Prometheus metrics for object store operations.
type storeMetrics struct {
	ops     *prometheus.CounterVec   // By operation
	latency *prometheus.HistogramVec // By operation
	errors  *prometheus.CounterVec   // By operation
}

// newStoreMetrics creates and registers metrics for bucket. A nil registrar
// disables metrics.
func newStoreMetrics(registrar metric.MetricsRegistrar, bucket string) (*storeMetrics, error) {
	if registrar == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"bucket": bucket}
	m := &storeMetrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "processorders",
			Subsystem:   "objectstore",
			Name:        "operations_total",
			Help:        "Object store operations",
			ConstLabels: labels,
		}, []string{"operation"}),

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "processorders",
			Subsystem:   "objectstore",
			Name:        "operation_duration_seconds",
			Help:        "Object store operation latency",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "processorders",
			Subsystem:   "objectstore",
			Name:        "operation_errors_total",
			Help:        "Object store operation errors",
			ConstLabels: labels,
		}, []string{"operation"}),
	}

	component := "objectstore." + bucket
	if err := registrar.RegisterCounterVec(component, "operations_total", m.ops); err != nil {
		return nil, err
	}
	if err := registrar.RegisterHistogramVec(component, "operation_duration_seconds", m.latency); err != nil {
		return nil, err
	}
	if err := registrar.RegisterCounterVec(component, "operation_errors_total", m.errors); err != nil {
		return nil, err
	}
	return m, nil
}

// observe records one operation. Safe on nil.
func (m *storeMetrics) observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(operation).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}
