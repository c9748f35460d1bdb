package tracing

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"garagehq/aigate/pkg/config"
)

// ============================================================================
// Tracer Construction Tests
// ============================================================================

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil, "test"); err == nil {
		t.Fatal("Expected error for nil config")
	}
}

func TestNew_Disabled(t *testing.T) {
	tracer, err := New(&config.TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if tracer.Enabled() {
		t.Error("Expected tracer to be disabled")
	}
	if tracer.Provider() != nil {
		t.Error("Expected no provider for disabled tracer")
	}

	ctx, span := tracer.Start(context.Background(), "admission")
	defer span.End()
	if TraceID(ctx) != "" {
		t.Errorf("Expected empty trace ID from noop tracer, got %q", TraceID(ctx))
	}

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestNew_StdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	tracer, err := New(&config.TracingConfig{
		Enabled:     true,
		Exporter:    ExporterStdout,
		Sampler:     SamplerAlways,
		ServiceName: "aigate-test",
	}, "1.2.3", WithStdoutWriter(&buf))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, span := tracer.Start(context.Background(), "admission")
	if TraceID(ctx) == "" || SpanID(ctx) == "" {
		t.Error("Expected valid trace and span IDs")
	}
	if !IsSampled(ctx) {
		t.Error("Expected span to be sampled")
	}
	span.End()

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"admission"`) {
		t.Errorf("Expected exported span in stdout output, got %s", out)
	}
	if !strings.Contains(out, "aigate-test") {
		t.Errorf("Expected service name in exported resource, got %s", out)
	}
}

func TestNew_OTLPExporterDoesNotBlock(t *testing.T) {
	start := time.Now()
	tracer, err := New(&config.TracingConfig{
		Enabled:     true,
		Exporter:    ExporterOTLP,
		Endpoint:    "127.0.0.1:1",
		Insecure:    true,
		Timeout:     time.Second,
		Sampler:     SamplerRatio,
		SampleRatio: 0.5,
		ServiceName: "aigate",
	}, "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Expected OTLP exporter construction not to wait for the collector")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = tracer.Shutdown(ctx)
}

func TestNew_InvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TracingConfig
	}{
		{"unknown exporter", config.TracingConfig{Enabled: true, Exporter: "zipkin", Sampler: SamplerAlways}},
		{"unknown sampler", config.TracingConfig{Enabled: true, Exporter: ExporterStdout, Sampler: "sometimes"}},
		{"ratio out of range", config.TracingConfig{Enabled: true, Exporter: ExporterStdout, Sampler: SamplerRatio, SampleRatio: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if _, err := New(&cfg, "test"); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

// ============================================================================
// Helper Tests
// ============================================================================

func newRecordingProvider() (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)), recorder
}

func TestAttributeHelpers(t *testing.T) {
	provider, recorder := newRecordingProvider()
	_, span := provider.Tracer("test").Start(context.Background(), "admission")

	limit := int64(100)
	SetTenantAttributes(span, "acme", "summarize")
	SetDecisionAttributes(span, false, "quota_exceeded")
	SetRateLimitAttributes(span, 3, 10)
	SetQuotaAttributes(span, "2025-06", 100, &limit)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}

	got := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[0].Attributes() {
		got[kv.Key] = kv.Value
	}

	if got[AttrTenant].AsString() != "acme" {
		t.Errorf("Expected tenant acme, got %q", got[AttrTenant].AsString())
	}
	if got[AttrFeature].AsString() != "summarize" {
		t.Errorf("Expected feature summarize, got %q", got[AttrFeature].AsString())
	}
	if got[AttrAllowed].AsBool() {
		t.Error("Expected allowed=false")
	}
	if got[AttrReason].AsString() != "quota_exceeded" {
		t.Errorf("Expected reason quota_exceeded, got %q", got[AttrReason].AsString())
	}
	if got[AttrRateLimitCount].AsInt64() != 3 || got[AttrRateLimitMax].AsInt64() != 10 {
		t.Error("Expected rate limit count 3 of 10")
	}
	if got[AttrQuotaLimit].AsInt64() != 100 || got[AttrQuotaUnlimited].AsBool() {
		t.Error("Expected quota limit 100")
	}
}

func TestUsageAttributes(t *testing.T) {
	provider, recorder := newRecordingProvider()
	_, span := provider.Tracer("test").Start(context.Background(), "record_usage")
	SetRequestID(span, "req-42")
	SetUsageAttributes(span, "error")
	span.End()

	got := make(map[attribute.Key]attribute.Value)
	for _, kv := range recorder.Ended()[0].Attributes() {
		got[kv.Key] = kv.Value
	}
	if got[AttrRequestID].AsString() != "req-42" {
		t.Errorf("Expected request id req-42, got %q", got[AttrRequestID].AsString())
	}
	if got[AttrOutcome].AsString() != "error" {
		t.Errorf("Expected outcome error, got %q", got[AttrOutcome].AsString())
	}
}

func TestSetRequestID_SkipsEmpty(t *testing.T) {
	provider, recorder := newRecordingProvider()
	_, span := provider.Tracer("test").Start(context.Background(), "admit")
	SetRequestID(span, "")
	span.End()

	for _, kv := range recorder.Ended()[0].Attributes() {
		if kv.Key == AttrRequestID {
			t.Errorf("Expected no request id attribute, got %q", kv.Value.AsString())
		}
	}
}

func TestSetQuotaAttributes_Unlimited(t *testing.T) {
	provider, recorder := newRecordingProvider()
	_, span := provider.Tracer("test").Start(context.Background(), "quota")
	SetQuotaAttributes(span, "2025-06", 42, nil)
	span.End()

	for _, kv := range recorder.Ended()[0].Attributes() {
		if kv.Key == AttrQuotaLimit {
			t.Error("Expected no limit attribute for unlimited tenant")
		}
		if kv.Key == AttrQuotaUnlimited && !kv.Value.AsBool() {
			t.Error("Expected unlimited=true")
		}
	}
}

func TestResponseHeaders(t *testing.T) {
	provider, _ := newRecordingProvider()

	handler := ResponseHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	// Without a span no header is set.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(TraceIDHeader) != "" {
		t.Error("Expected no trace header without a span")
	}

	ctx, span := provider.Tracer("test").Start(context.Background(), "request")
	defer span.End()

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
	if got := rec.Header().Get(TraceIDHeader); got != TraceID(ctx) {
		t.Errorf("Expected trace header %q, got %q", TraceID(ctx), got)
	}
}
