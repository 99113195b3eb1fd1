// Package observability provides structured logging, Prometheus metrics,
// health probes, and graceful shutdown plumbing.
//
// # Structured Logging
//
// Create a logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("port", 8080).Info("server started")
//
// # Prometheus Metrics
//
// Create and register metrics, then expose them on the health mux:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	observability.RegisterMetricsEndpoint(healthMux, registry)
//
// # Health Probes
//
// The HealthChecker serves /healthz (liveness) and /readyz (readiness,
// pinging Postgres and, when configured, Redis).
package observability
