// Package telemetry groups the observability packages used by aigate.
//
// # Components
//
//   - logging: slog setup with PII redaction and request-scoped fields
//   - metrics: the Prometheus registry, HTTP request metrics and /metrics
//   - tracing: OpenTelemetry tracer provider (OTLP gRPC or stdout)
//   - health: liveness, readiness and version endpoints
//
// # Usage
//
//	cfg := config.GetConfig()
//
//	logger, _ := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	logging.SetDefault(logger)
//
//	tracer, _ := tracing.New(&cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(context.Background())
//
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
//	limitMetrics := limits.NewMetrics(collector.Registry())
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("storage", health.PingCheck(backend))
//
// Admission spans are named "admission" and carry the tenant, feature,
// decision and quota attributes defined in tracing.
//
// # PII Protection
//
// With telemetry.logging.redact_pii enabled, attributes named like secrets
// (token, api_key, authorization) are masked and email addresses and
// bearer tokens inside log messages are rewritten. Custom patterns can be
// configured.
package telemetry
