// Package tracing configures OpenTelemetry tracing for aigate.
//
// New installs a tracer provider and the W3C trace context propagator
// globally. Spans are exported over OTLP gRPC to a collector, or written to
// stdout for local debugging. When tracing is disabled a noop tracer is
// returned and the global provider is left alone.
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
// The HTTP server wraps its router with otelhttp, so admission and usage
// spans created by the limits packages become children of the request span.
// The attribute helpers in this package keep span attribute keys under the
// "aigate." namespace.
//
// # Sampling
//
// Three strategies are supported, always wrapped in ParentBased:
//   - always: sample every trace
//   - never: sample nothing unless the caller's trace is sampled
//   - ratio: sample sample_ratio of root traces
package tracing
