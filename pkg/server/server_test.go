package server

import (
	"context"
	"encoding/csv"
	"errors"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"garagehq/aigate/pkg/config"
	"garagehq/aigate/pkg/limits"
	"garagehq/aigate/pkg/limits/quota"
	"garagehq/aigate/pkg/limits/ratelimit"
	"garagehq/aigate/pkg/limits/storage"
	"garagehq/aigate/pkg/telemetry/health"
	"garagehq/aigate/pkg/telemetry/metrics"
	"garagehq/aigate/pkg/usagelog"
	usagestorage "garagehq/aigate/pkg/usagelog/storage"
)

// ============================================================================
// Test helpers
// ============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// syncCallLog writes call records straight to storage so tests can read
// them back without waiting on the async recorder.
type syncCallLog struct {
	storage usagelog.Storage
}

func (l *syncCallLog) Record(ctx context.Context, record *usagelog.CallRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	return l.storage.Store(ctx, record)
}

type testServer struct {
	server    *Server
	handler   http.Handler
	backend   *storage.MemoryBackend
	calls     *usagestorage.MemoryStorage
	collector *metrics.Collector
	clock     *testClock
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config, deps *Dependencies)) *testServer {
	t.Helper()

	cfg := config.Defaults()
	clock := &testClock{now: time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)}
	backend := storage.NewMemoryBackend()
	calls := usagestorage.NewMemoryStorage()
	collector := metrics.NewCollector(cfg.Telemetry.Metrics, prometheus.NewRegistry())

	admitter, err := limits.NewAdmitter(limits.Config{
		Limiter: ratelimit.NewLimiter(ratelimit.DefaultPolicy(), ratelimit.WithClock(clock.Now)),
		Quota: quota.NewGate(backend, backend,
			quota.WithClock(clock.Now),
			quota.WithLocation(time.UTC),
		),
		Usage:   backend,
		CallLog: &syncCallLog{storage: calls},
		Metrics: limits.NewMetrics(collector.Registry()),
		Now:     clock.Now,
	})
	if err != nil {
		t.Fatalf("NewAdmitter failed: %v", err)
	}

	deps := Dependencies{
		Admitter: admitter,
		Backend:  backend,
		CallLog:  calls,
		Metrics:  collector,
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}

	srv, err := New(cfg, deps, BuildInfo{Version: "1.2.3", Commit: "abc123"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return &testServer{
		server:    srv,
		handler:   srv.Handler(),
		backend:   backend,
		calls:     calls,
		collector: collector,
		clock:     clock,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) admit(t *testing.T, tenant string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, "/v1/admissions",
		`{"tenant_id":"`+tenant+`","feature":"quote_draft"}`)
}

func decodeDecision(t *testing.T, rec *httptest.ResponseRecorder) DecisionResponse {
	t.Helper()
	var resp DecisionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode decision %q: %v", rec.Body.String(), err)
	}
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode error %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

func int64Ptr(v int64) *int64 { return &v }

// ============================================================================
// Construction
// ============================================================================

func TestNew_RequiresDependencies(t *testing.T) {
	cfg := config.Defaults()
	backend := storage.NewMemoryBackend()

	if _, err := New(nil, Dependencies{}, BuildInfo{}); err == nil {
		t.Error("Expected error for nil config")
	}
	if _, err := New(cfg, Dependencies{Backend: backend}, BuildInfo{}); err == nil {
		t.Error("Expected error without admitter")
	}

	admitter, err := limits.NewAdmitter(limits.Config{
		Limiter: ratelimit.NewLimiter(ratelimit.DefaultPolicy()),
		Quota:   quota.NewGate(backend, backend),
		Usage:   backend,
	})
	if err != nil {
		t.Fatalf("NewAdmitter failed: %v", err)
	}
	if _, err := New(cfg, Dependencies{Admitter: admitter}, BuildInfo{}); err == nil {
		t.Error("Expected error without backend")
	}
}

// ============================================================================
// Admissions
// ============================================================================

func TestAdmit_Allowed(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.admit(t, "garage-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Errorf("Expected X-RateLimit-Limit 10, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Errorf("Expected X-RateLimit-Remaining 9, got %q", got)
	}
	wantReset := ts.clock.Now().Add(time.Minute).Unix()
	if got := rec.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(wantReset, 10) {
		t.Errorf("Expected X-RateLimit-Reset %d, got %q", wantReset, got)
	}
	if got := rec.Header().Get("X-Quota-Limit"); got != "" {
		t.Errorf("Expected no X-Quota-Limit for unlimited tenant, got %q", got)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected a generated X-Request-ID")
	}

	resp := decodeDecision(t, rec)
	if !resp.Allowed || resp.Reason != "" || resp.Error != nil {
		t.Errorf("Expected allowed decision, got %+v", resp)
	}
	if resp.Quota == nil || resp.Quota.MonthlyQuota != nil ||
		resp.Quota.Remaining == nil || *resp.Quota.Remaining != -1 {
		t.Errorf("Expected unlimited quota body, got %+v", resp.Quota)
	}
}

func TestAdmit_RateLimited(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := 0; i < 10; i++ {
		if rec := ts.admit(t, "garage-1"); rec.Code != http.StatusOK {
			t.Fatalf("Admission %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	ts.clock.Advance(15 * time.Second)
	rec := ts.admit(t, "garage-1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Retry-After"); got != "45" {
		t.Errorf("Expected Retry-After 45, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("Expected X-RateLimit-Remaining 0, got %q", got)
	}

	resp := decodeDecision(t, rec)
	if resp.Allowed {
		t.Error("Expected denied decision")
	}
	if resp.Reason != "rate_limited" {
		t.Errorf("Expected reason rate_limited, got %q", resp.Reason)
	}
	if resp.Error == nil || resp.Error.Type != "rate_limited" {
		t.Errorf("Expected error type rate_limited, got %+v", resp.Error)
	}
	if resp.Quota != nil {
		t.Errorf("Expected quota to be skipped on a rate limit denial, got %+v", resp.Quota)
	}

	// Another tenant is unaffected.
	if rec := ts.admit(t, "garage-2"); rec.Code != http.StatusOK {
		t.Errorf("Expected other tenant to be admitted, got %d", rec.Code)
	}
}

func TestAdmit_QuotaExceeded(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	if err := ts.backend.SetMonthlyQuota(ctx, "garage-1", int64Ptr(2)); err != nil {
		t.Fatalf("SetMonthlyQuota failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if rec := ts.admit(t, "garage-1"); rec.Code != http.StatusOK {
			t.Fatalf("Admission %d: expected 200, got %d", i+1, rec.Code)
		}
		rec := ts.do(t, http.MethodPost, "/v1/usage",
			`{"tenant_id":"garage-1","feature":"quote_draft","outcome":"success","latency_ms":800,"tokens":120}`)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("Usage %d: expected 202, got %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}

	rec := ts.admit(t, "garage-1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeDecision(t, rec)
	if resp.Reason != "quota_exceeded" {
		t.Errorf("Expected reason quota_exceeded, got %q", resp.Reason)
	}
	if got := rec.Header().Get("X-Quota-Limit"); got != "2" {
		t.Errorf("Expected X-Quota-Limit 2, got %q", got)
	}
	if got := rec.Header().Get("X-Quota-Used"); got != "2" {
		t.Errorf("Expected X-Quota-Used 2, got %q", got)
	}
	if got := rec.Header().Get("X-Quota-Remaining"); got != "0" {
		t.Errorf("Expected X-Quota-Remaining 0, got %q", got)
	}

	reset := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	if got := rec.Header().Get("X-Quota-Reset"); got != strconv.FormatInt(reset.Unix(), 10) {
		t.Errorf("Expected X-Quota-Reset %d, got %q", reset.Unix(), got)
	}
	wantRetry := int64(reset.Sub(ts.clock.Now()) / time.Second)
	if got := rec.Header().Get("Retry-After"); got != strconv.FormatInt(wantRetry, 10) {
		t.Errorf("Expected Retry-After %d, got %q", wantRetry, got)
	}
}

func TestAdmit_QuotaUnavailable(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	if err := ts.backend.SetMonthlyQuota(ctx, "garage-1", int64Ptr(100)); err != nil {
		t.Fatalf("SetMonthlyQuota failed: %v", err)
	}
	ts.backend.Close()

	rec := ts.admit(t, "garage-1")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeDecision(t, rec)
	if resp.Reason != "quota_unavailable" {
		t.Errorf("Expected reason quota_unavailable, got %q", resp.Reason)
	}
}

type failingUsageReader struct{}

func (failingUsageReader) Usage(context.Context, string, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestAdmit_FailOpenOmitsUnknownUsage(t *testing.T) {
	var backend *storage.MemoryBackend
	ts := newTestServer(t, func(cfg *config.Config, deps *Dependencies) {
		backend = deps.Backend.(*storage.MemoryBackend)
		admitter, err := limits.NewAdmitter(limits.Config{
			Limiter: ratelimit.NewLimiter(ratelimit.DefaultPolicy()),
			Quota: quota.NewGate(backend, failingUsageReader{},
				quota.WithLocation(time.UTC),
				quota.WithFailurePolicy(quota.FailOpen),
			),
			Usage: backend,
		})
		if err != nil {
			t.Fatalf("NewAdmitter failed: %v", err)
		}
		deps.Admitter = admitter
	})
	if err := backend.SetMonthlyQuota(context.Background(), "garage-1", int64Ptr(5)); err != nil {
		t.Fatalf("SetMonthlyQuota failed: %v", err)
	}

	rec := ts.admit(t, "garage-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 under fail-open, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Quota-Limit"); got != "5" {
		t.Errorf("Expected X-Quota-Limit 5, got %q", got)
	}
	for _, name := range []string{"X-Quota-Used", "X-Quota-Remaining"} {
		if got := rec.Header().Get(name); got != "" {
			t.Errorf("Expected no %s when usage is unknown, got %q", name, got)
		}
	}

	resp := decodeDecision(t, rec)
	if resp.Quota == nil {
		t.Fatal("Expected a quota body")
	}
	if resp.Quota.Used != nil || resp.Quota.Remaining != nil {
		t.Errorf("Expected used and remaining omitted, got %+v", resp.Quota)
	}
	if !strings.Contains(rec.Body.String(), `"monthly_quota":5`) {
		t.Errorf("Expected monthly_quota in body, got %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `"used"`) {
		t.Errorf("Expected no used field in body, got %s", rec.Body.String())
	}
}

func TestAdmit_InvalidRequests(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name  string
		body  string
		param string
	}{
		{"empty body", "", ""},
		{"invalid json", "{", ""},
		{"missing tenant", `{"feature":"diagnosis"}`, "tenant_id"},
		{"blank tenant", `{"tenant_id":"   "}`, "tenant_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/v1/admissions", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", rec.Code)
			}
			detail := decodeError(t, rec)
			if detail.Type != ErrorTypeInvalidRequest {
				t.Errorf("Expected type %s, got %s", ErrorTypeInvalidRequest, detail.Type)
			}
			if detail.Param != tt.param {
				t.Errorf("Expected param %q, got %q", tt.param, detail.Param)
			}
		})
	}
}

func TestAdmit_DenialIsLogged(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := 0; i < 11; i++ {
		ts.admit(t, "garage-1")
	}

	records, err := ts.calls.Query(context.Background(), &usagelog.Query{Outcome: usagelog.OutcomeRateLimited})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 rate_limited record, got %d", len(records))
	}
	if records[0].RequestID == "" {
		t.Error("Expected request ID on the denial record")
	}
	if records[0].Period != "2025-03" {
		t.Errorf("Expected period 2025-03, got %s", records[0].Period)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := 0; i < 11; i++ {
		ts.do(t, http.MethodPost, "/v1/admissions", `{"tenant_id":"garage-1"}`,
			RequestIDHeader, "req-42")
	}

	records, _ := ts.calls.Query(context.Background(), &usagelog.Query{TenantID: "garage-1"})
	if len(records) != 1 || records[0].RequestID != "req-42" {
		t.Errorf("Expected the client request ID on the call record, got %+v", records)
	}

	rec := ts.do(t, http.MethodGet, "/health", "", RequestIDHeader, strings.Repeat("x", 200))
	if got := rec.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("Expected oversized request ID to be replaced by a UUID, got %q", got)
	}
}

// ============================================================================
// Usage
// ============================================================================

func TestUsage_ErrorOutcomeNotCounted(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/usage",
		`{"tenant_id":"garage-1","feature":"diagnosis","outcome":"error","error":"upstream timeout"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp UsageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if resp.Used != 0 {
		t.Errorf("Expected error outcome not to count, got used=%d", resp.Used)
	}
	if resp.Period != "2025-03" {
		t.Errorf("Expected period 2025-03, got %s", resp.Period)
	}

	records, _ := ts.calls.Query(context.Background(), &usagelog.Query{Outcome: usagelog.OutcomeError})
	if len(records) != 1 || records[0].Error != "upstream timeout" {
		t.Errorf("Expected the failed call to be logged, got %+v", records)
	}
}

func TestUsage_InvalidRequests(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"unknown outcome", `{"tenant_id":"garage-1","outcome":"maybe"}`},
		{"missing outcome", `{"tenant_id":"garage-1"}`},
		{"missing tenant", `{"outcome":"success"}`},
		{"negative latency", `{"tenant_id":"garage-1","outcome":"success","latency_ms":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/v1/usage", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestUsage_ReadByPeriod(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	ts.backend.SetMonthlyQuota(ctx, "garage-1", int64Ptr(50))
	ts.backend.IncrementUsage(ctx, "garage-1", "2025-02", 7)
	ts.backend.IncrementUsage(ctx, "garage-1", "2025-03", 3)
	ts.backend.IncrementUsage(ctx, "garage-2", "2025-03", 9)

	rec := ts.do(t, http.MethodGet, "/v1/tenants/garage-1/usage?period=2025-02", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp UsageResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Used != 7 || resp.Period != "2025-02" {
		t.Errorf("Expected 7 calls in 2025-02, got %+v", resp)
	}
	if resp.Remaining != 43 {
		t.Errorf("Expected 43 remaining, got %d", resp.Remaining)
	}

	// Defaults to the current period.
	rec = ts.do(t, http.MethodGet, "/v1/tenants/garage-1/usage", "")
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Used != 3 || resp.Period != "2025-03" {
		t.Errorf("Expected 3 calls in 2025-03, got %+v", resp)
	}

	rec = ts.do(t, http.MethodGet, "/v1/usage", "")
	var list UsageListResponse
	json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Tenants) != 2 {
		t.Fatalf("Expected 2 tenants, got %+v", list)
	}
	if list.Tenants[1].TenantID != "garage-2" || list.Tenants[1].MonthlyQuota != nil {
		t.Errorf("Expected unlimited garage-2 second, got %+v", list.Tenants[1])
	}

	rec = ts.do(t, http.MethodGet, "/v1/tenants/garage-1/usage?period=2025-13", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid period, got %d", rec.Code)
	}
}

// ============================================================================
// Tenant management
// ============================================================================

func TestStatus_DoesNotConsume(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := 0; i < 5; i++ {
		rec := ts.do(t, http.MethodGet, "/v1/tenants/garage-1/status", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
	}

	rec := ts.admit(t, "garage-1")
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Errorf("Expected status checks not to consume the window, remaining=%q", got)
	}

	for i := 0; i < 9; i++ {
		ts.admit(t, "garage-1")
	}
	rec = ts.do(t, http.MethodGet, "/v1/tenants/garage-1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for status of a limited tenant, got %d", rec.Code)
	}
	resp := decodeDecision(t, rec)
	if resp.Allowed || resp.Reason != "rate_limited" {
		t.Errorf("Expected status to report rate_limited, got %+v", resp)
	}
}

func TestQuota_SetAndClear(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	rec := ts.do(t, http.MethodPut, "/v1/tenants/garage-1/quota", `{"monthly_quota":25}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	q, _ := ts.backend.MonthlyQuota(ctx, "garage-1")
	if q == nil || *q != 25 {
		t.Fatalf("Expected quota 25, got %v", q)
	}

	rec = ts.do(t, http.MethodGet, "/v1/tenants/garage-1/quota", "")
	var resp QuotaResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.MonthlyQuota == nil || *resp.MonthlyQuota != 25 {
		t.Errorf("Expected quota 25 from GET, got %+v", resp)
	}

	rec = ts.do(t, http.MethodPut, "/v1/tenants/garage-1/quota", `{"monthly_quota":null}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	q, _ = ts.backend.MonthlyQuota(ctx, "garage-1")
	if q != nil {
		t.Errorf("Expected null to make the tenant unlimited, got %d", *q)
	}
}

func TestQuota_InvalidBodies(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing field", `{}`},
		{"negative", `{"monthly_quota":-5}`},
		{"string", `{"monthly_quota":"ten"}`},
		{"fraction", `{"monthly_quota":1.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPut, "/v1/tenants/garage-1/quota", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestResetWindow(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := 0; i < 10; i++ {
		ts.admit(t, "garage-1")
	}
	if rec := ts.admit(t, "garage-1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 before reset, got %d", rec.Code)
	}

	rec := ts.do(t, http.MethodDelete, "/v1/tenants/garage-1/window", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}

	if rec := ts.admit(t, "garage-1"); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 after reset, got %d", rec.Code)
	}
}

// ============================================================================
// Call log export
// ============================================================================

func TestExportCSV(t *testing.T) {
	ts := newTestServer(t, nil)

	for i := 0; i < 11; i++ {
		ts.admit(t, "garage-1")
	}
	ts.do(t, http.MethodPost, "/v1/usage", `{"tenant_id":"garage-2","feature":"diagnosis","outcome":"success"}`)

	rec := ts.do(t, http.MethodGet, "/v1/calls/export.csv?tenant=garage-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Expected text/csv, got %s", ct)
	}

	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected header plus 1 row, got %d rows", len(rows))
	}
	if rows[0][0] != "id" {
		t.Errorf("Expected header row, got %v", rows[0])
	}
	if rows[1][2] != "garage-1" || rows[1][4] != "rate_limited" {
		t.Errorf("Unexpected row: %v", rows[1])
	}
}

func TestExportJSON_OutcomeFilter(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(t, http.MethodPost, "/v1/usage", `{"tenant_id":"garage-1","outcome":"success"}`)
	ts.do(t, http.MethodPost, "/v1/usage", `{"tenant_id":"garage-1","outcome":"error"}`)

	rec := ts.do(t, http.MethodGet, "/v1/calls/export.json?outcome=success", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var records []usagelog.CallRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if len(records) != 1 || records[0].Outcome != usagelog.OutcomeSuccess {
		t.Errorf("Expected one success record, got %+v", records)
	}
}

func TestExport_InvalidQueries(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, q := range []string{
		"limit=abc",
		"limit=-1",
		"limit=20000",
		"outcome=maybe",
		"period=March",
		"from=yesterday",
		"from=2025-03-10&to=2025-03-01",
		"order=sideways",
	} {
		rec := ts.do(t, http.MethodGet, "/v1/calls/export.csv?"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestExport_DisabledCallLog(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config, deps *Dependencies) {
		deps.CallLog = nil
	})

	rec := ts.do(t, http.MethodGet, "/v1/calls/export.csv", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

// ============================================================================
// Middleware
// ============================================================================

func TestAuth_ServiceToken(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config, deps *Dependencies) {
		cfg.Server.ServiceToken = "s3cret"
	})

	rec := ts.admit(t, "garage-1")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without token, got %d", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Type != ErrorTypeAuthentication {
		t.Errorf("Expected %s, got %s", ErrorTypeAuthentication, detail.Type)
	}

	rec = ts.do(t, http.MethodPost, "/v1/admissions", `{"tenant_id":"garage-1"}`,
		"Authorization", "Bearer wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong token, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/v1/admissions", `{"tenant_id":"garage-1"}`,
		"Authorization", "Bearer s3cret")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with token, got %d", rec.Code)
	}

	if rec := ts.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected probes to skip auth, got %d", rec.Code)
	}
}

func TestIngressLimiter(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config, deps *Dependencies) {
		cfg.Server.Ingress.RequestsPerSecond = 0.001
		cfg.Server.Ingress.Burst = 2
	})

	for i := 0; i < 2; i++ {
		if rec := ts.do(t, http.MethodGet, "/v1/tenants/garage-1/status", ""); rec.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := ts.do(t, http.MethodGet, "/v1/tenants/garage-1/status", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Type != ErrorTypeTooManyRequests {
		t.Errorf("Expected %s, got %s", ErrorTypeTooManyRequests, detail.Type)
	}

	if rec := ts.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected probes to bypass the ingress limiter, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), "aigate_http_ingress_denied_total 1") {
		t.Error("Expected ingress denial counter in /metrics")
	}
}

func TestRecoverer(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Type != ErrorTypeServerError {
		t.Errorf("Expected %s, got %s", ErrorTypeServerError, detail.Type)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Error("Expected panic value not to leak into the response")
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v2/nothing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Type != ErrorTypeNotFound {
		t.Errorf("Expected %s, got %s", ErrorTypeNotFound, detail.Type)
	}

	rec = ts.do(t, http.MethodGet, "/v1/admissions", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestMetrics_RouteLabels(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.do(t, http.MethodGet, "/v1/tenants/garage-1/status", "")
	ts.do(t, http.MethodGet, "/v1/tenants/garage-2/status", "")
	ts.admit(t, "garage-1")

	rec := ts.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()

	if !strings.Contains(body, `route="/v1/tenants/{tenant}/status"`) {
		t.Error("Expected route pattern label for tenant status")
	}
	if strings.Contains(body, "garage-1/status") {
		t.Error("Expected tenant IDs not to appear in route labels")
	}
	if !strings.Contains(body, "aigate_admissions_total") {
		t.Error("Expected admission metrics in the shared registry")
	}
}

func TestHealthAndVersion(t *testing.T) {
	checker := health.New(time.Second)
	ts := newTestServer(t, func(cfg *config.Config, deps *Dependencies) {
		deps.Health = checker
	})
	checker.RegisterCheck("limits_store", health.PingCheck(ts.backend))

	if rec := ts.do(t, http.MethodGet, "/ready", ""); rec.Code != http.StatusOK {
		t.Fatalf("Expected ready, got %d: %s", rec.Code, rec.Body.String())
	}

	rec := ts.do(t, http.MethodGet, "/version", "")
	if !strings.Contains(rec.Body.String(), "1.2.3") {
		t.Errorf("Expected version in body, got %s", rec.Body.String())
	}

	ts.backend.Close()
	if rec := ts.do(t, http.MethodGet, "/ready", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 after the store closed, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected liveness to stay up, got %d", rec.Code)
	}
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestServe_Shutdown(t *testing.T) {
	ts := newTestServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.server.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("Expected 200, got %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Server did not come up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !ts.server.IsRunning() {
		t.Error("Expected server to report running")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Server did not shut down")
	}

	if ts.server.IsRunning() {
		t.Error("Expected server to report stopped")
	}
	if err := ts.server.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected second Shutdown to be a no-op, got %v", err)
	}
}
