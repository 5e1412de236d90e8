// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// Logging is JSON via logrus:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("subject", "payments/order").Info("schema registered")
//
// Metrics are created once per registry and may be nil in tests:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordTransition("ACTIVE", "DEPRECATED", "deprecate")
package observability
