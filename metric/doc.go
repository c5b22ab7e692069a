// Package metric provides the Prometheus registry, the order join metrics and
// the HTTP server that exposes them.
//
// MetricsRegistry owns a private prometheus.Registry with the Go runtime and
// process collectors plus the core Metrics set. Components that need extra
// collectors register them through the MetricsRegistrar interface, keyed by
// component and metric name so duplicates are rejected.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(":9090", "/metrics", registry, securityCfg)
//	go func() { _ = server.Start() }()
//
//	registry.CoreMetrics().RecordPass("merged", 2*time.Second)
//
// Record methods tolerate a nil *Metrics so components can run without a
// registry in tests.
package metric
