package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"garagehq/aigate/pkg/config"
)

func newTestCollector() *Collector {
	return NewCollector(config.MetricsConfig{Enabled: true, Path: "/metrics"}, prometheus.NewRegistry())
}

// ============================================================================
// Collector Tests
// ============================================================================

func TestNewCollector_DefaultRegistry(t *testing.T) {
	c := NewCollector(config.MetricsConfig{Enabled: true}, nil)
	if c.Registry() == nil {
		t.Fatal("Expected registry to be created")
	}
	if !c.Enabled() {
		t.Error("Expected collector to be enabled")
	}

	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := false
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "go_") {
			found = true
			break
		}
	}
	if !found {
		t.Error("Expected Go runtime metrics on the default registry")
	}
}

func TestHTTPMetrics_Observe(t *testing.T) {
	c := newTestCollector()

	c.HTTP().Observe("POST", "/v1/admissions", 200, 3*time.Millisecond)
	c.HTTP().Observe("POST", "/v1/admissions", 429, time.Millisecond)
	c.HTTP().Observe("POST", "/v1/admissions", 429, time.Millisecond)
	c.HTTP().Observe("GET", "", 404, time.Millisecond)

	if got := testutil.ToFloat64(c.HTTP().requestsTotal.WithLabelValues("POST", "/v1/admissions", "429")); got != 2 {
		t.Errorf("Expected 2 rate limited requests, got %v", got)
	}
	if got := testutil.ToFloat64(c.HTTP().requestsTotal.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("Expected unmatched route label, got %v", got)
	}
}

func TestHTTPMetrics_InFlight(t *testing.T) {
	c := newTestCollector()

	done := c.HTTP().Start()
	if got := testutil.ToFloat64(c.HTTP().inFlight); got != 1 {
		t.Errorf("Expected 1 in flight, got %v", got)
	}

	done("GET", "/health", 200)
	if got := testutil.ToFloat64(c.HTTP().inFlight); got != 0 {
		t.Errorf("Expected 0 in flight, got %v", got)
	}
}

func TestRegisterGaugeFunc(t *testing.T) {
	c := newTestCollector()

	pending := 7
	if err := c.RegisterGaugeFunc("call_log_pending", "Pending call records", func() float64 {
		return float64(pending)
	}); err != nil {
		t.Fatalf("RegisterGaugeFunc failed: %v", err)
	}

	expected := `
# HELP aigate_call_log_pending Pending call records
# TYPE aigate_call_log_pending gauge
aigate_call_log_pending 7
`
	if err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "aigate_call_log_pending"); err != nil {
		t.Error(err)
	}

	if err := c.RegisterGaugeFunc("call_log_pending", "duplicate", func() float64 { return 0 }); err == nil {
		t.Error("Expected error registering the same gauge twice")
	}
}

func TestHandler(t *testing.T) {
	c := newTestCollector()
	c.HTTP().Observe("POST", "/v1/usage", 202, time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "aigate_http_requests_total") {
		t.Error("Expected request counter in exposition output")
	}
}

// ============================================================================
// Cardinality Tests
// ============================================================================

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(2)

	if cl.Label("summarize") != "summarize" {
		t.Error("Expected first value to be allowed")
	}
	if cl.Label("translate") != "translate" {
		t.Error("Expected second value to be allowed")
	}
	if cl.Label("diagnose") != "other" {
		t.Error("Expected third value to collapse to other")
	}
	if cl.Label("summarize") != "summarize" {
		t.Error("Expected known value to stay allowed")
	}
	if cl.Count() != 2 {
		t.Errorf("Expected count 2, got %d", cl.Count())
	}
}

func TestCardinalityLimiter_Concurrent(t *testing.T) {
	cl := NewCardinalityLimiter(50)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				cl.Allow(fmt.Sprintf("feature-%d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	if cl.Count() != 50 {
		t.Errorf("Expected count capped at 50, got %d", cl.Count())
	}
}
