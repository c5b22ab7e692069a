// Package health tracks the health of the service's dependencies.
//
// A Monitor holds one Status per named component. Components either push
// updates (UpdateHealthy, UpdateUnhealthy, UpdateDegraded) or register a
// Check that the monitor polls. AggregateHealth folds everything into one
// status using worst-case rules: any unhealthy component makes the system
// unhealthy, otherwise any degraded component makes it degraded.
//
// Handler serves the aggregate as JSON, answering 503 when unhealthy so a
// load balancer stops routing notifications to the instance.
//
// Error text is sanitized before it lands in a Status: URLs, paths, IP
// addresses, ports and credential-looking pairs are masked.
package health
