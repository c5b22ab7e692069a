package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "processorders"

// Metrics is the core metric set shared by the gateway, coordinator and
// side-effect clients.
type Metrics struct {
	// Service metrics
	ServiceStatus     *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec

	// Ingestion
	NotificationsReceived *prometheus.CounterVec
	SignalsApplied        *prometheus.CounterVec

	// Completion passes
	PassesTotal       *prometheus.CounterVec
	PassDuration      prometheus.Histogram
	PassesTriggered   *prometheus.CounterVec
	SweeperRetriggers prometheus.Counter
	SweeperPurged     prometheus.Counter

	// Side effects
	MergeCalls      *prometheus.CounterVec
	MergeLatency    prometheus.Histogram
	PersistOutcomes *prometheus.CounterVec
	DeleteOutcomes  *prometheus.CounterVec

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the core metric set. Nothing is registered yet.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "status",
			Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
		}, []string{"service"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "errors",
			Name:      "total",
			Help:      "Total number of errors by component and class",
		}, []string{"component", "class"}),

		HealthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health check status (0=unhealthy, 1=healthy)",
		}, []string{"component"}),

		NotificationsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "notifications_total",
			Help:      "Blob notifications received by event type and outcome",
		}, []string{"event_type", "outcome"}),

		SignalsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "join",
			Name:      "signals_applied_total",
			Help:      "File arrival signals applied to join state",
		}, []string{"file_type"}),

		PassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "join",
			Name:      "passes_total",
			Help:      "Completion passes by result",
		}, []string{"result"}),

		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "join",
			Name:      "pass_duration_seconds",
			Help:      "Duration of completion passes",
			Buckets:   prometheus.DefBuckets,
		}),

		PassesTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "join",
			Name:      "passes_triggered_total",
			Help:      "Completion passes requested by reason",
		}, []string{"reason"}),

		SweeperRetriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "retriggers_total",
			Help:      "Passes re-triggered by the reconciliation sweeper",
		}),

		SweeperPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "purged_total",
			Help:      "Finished orders removed after the retention period",
		}),

		MergeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "calls_total",
			Help:      "Merge service calls by HTTP status (0 for transport errors)",
		}, []string{"status"}),

		MergeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "latency_seconds",
			Help:      "Merge service round-trip latency",
			Buckets:   prometheus.DefBuckets,
		}),

		PersistOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "results",
			Name:      "persist_total",
			Help:      "Combined order upserts by outcome",
		}, []string{"outcome"}),

		DeleteOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sources",
			Name:      "delete_total",
			Help:      "Source object deletions by outcome",
		}, []string{"outcome"}),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),

		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),

		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "circuit_breaker",
			Help:      "NATS circuit breaker status (0=closed, 1=open)",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus,
		c.ErrorsTotal,
		c.HealthCheckStatus,
		c.NotificationsReceived,
		c.SignalsApplied,
		c.PassesTotal,
		c.PassDuration,
		c.PassesTriggered,
		c.SweeperRetriggers,
		c.SweeperPurged,
		c.MergeCalls,
		c.MergeLatency,
		c.PersistOutcomes,
		c.DeleteOutcomes,
		c.NATSConnected,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	}
}

// RecordServiceStatus updates service status metric
func (c *Metrics) RecordServiceStatus(service string, status int) {
	if c == nil {
		return
	}
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, class string) {
	if c == nil {
		return
	}
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	if c == nil {
		return
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(boolValue(healthy))
}

// RecordNotification counts one gateway notification.
func (c *Metrics) RecordNotification(eventType, outcome string) {
	if c == nil {
		return
	}
	c.NotificationsReceived.WithLabelValues(eventType, outcome).Inc()
}

// RecordSignal counts one applied arrival signal.
func (c *Metrics) RecordSignal(fileType string) {
	if c == nil {
		return
	}
	c.SignalsApplied.WithLabelValues(fileType).Inc()
}

// RecordPass counts a finished completion pass and its duration.
func (c *Metrics) RecordPass(result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.PassesTotal.WithLabelValues(result).Inc()
	c.PassDuration.Observe(duration.Seconds())
}

// RecordPassTriggered counts a pass request.
func (c *Metrics) RecordPassTriggered(reason string) {
	if c == nil {
		return
	}
	c.PassesTriggered.WithLabelValues(reason).Inc()
}

// RecordSweep adds the counts of one sweeper run.
func (c *Metrics) RecordSweep(retriggered, purged int) {
	if c == nil {
		return
	}
	c.SweeperRetriggers.Add(float64(retriggered))
	c.SweeperPurged.Add(float64(purged))
}

// RecordMergeCall counts a merge attempt. status is 0 for transport errors.
func (c *Metrics) RecordMergeCall(status int, latency time.Duration) {
	if c == nil {
		return
	}
	label := "0"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	c.MergeCalls.WithLabelValues(label).Inc()
	c.MergeLatency.Observe(latency.Seconds())
}

// RecordPersist counts a persist outcome.
func (c *Metrics) RecordPersist(ok bool) {
	if c == nil {
		return
	}
	c.PersistOutcomes.WithLabelValues(outcomeLabel(ok)).Inc()
}

// RecordDelete counts a source deletion outcome.
func (c *Metrics) RecordDelete(ok bool) {
	if c == nil {
		return
	}
	c.DeleteOutcomes.WithLabelValues(outcomeLabel(ok)).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	c.NATSConnected.Set(boolValue(connected))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(open bool) {
	if c == nil {
		return
	}
	c.NATSCircuitBreaker.Set(boolValue(open))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
