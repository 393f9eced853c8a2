// Package observability provides structured logging, Prometheus metrics,
// health probes and OpenTelemetry tracing for orgkit.
//
// Logging:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("organization_id", orgID).Warn("failed to clear billing cache")
//
// Request-scoped loggers carry the request, user and organization ids:
//
//	observability.FromContext(r.Context()).Info("invitation accepted")
//
// Metrics are registered once per process with NewMetrics and exposed through
// MetricsHandler. Tracing is a no-op until InitOTel installs a provider.
package observability
