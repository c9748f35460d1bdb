package limits

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"garagehq/aigate/pkg/limits/quota"
	"garagehq/aigate/pkg/limits/ratelimit"
	"garagehq/aigate/pkg/limits/storage"
	"garagehq/aigate/pkg/usagelog"
	"garagehq/aigate/pkg/usagelog/recorder"
	usagestorage "garagehq/aigate/pkg/usagelog/storage"
)

// newIntegrationAdmitter wires the admitter to a real SQLite limits store and
// an async call log recorder.
func newIntegrationAdmitter(t *testing.T, policy ratelimit.Policy) (*Admitter, storage.Backend, *recorder.Recorder, *usagestorage.MemoryStorage) {
	t.Helper()

	backend, err := storage.NewSQLiteBackend(filepath.Join(t.TempDir(), "aigate.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	calls := usagestorage.NewMemoryStorage()
	rec := recorder.NewRecorder(calls, recorder.DefaultConfig())
	t.Cleanup(func() { rec.Close() })

	admitter, err := NewAdmitter(Config{
		Limiter: ratelimit.NewLimiter(policy),
		Quota:   quota.NewGate(backend, backend),
		Usage:   backend,
		CallLog: rec,
	})
	if err != nil {
		t.Fatalf("NewAdmitter failed: %v", err)
	}
	return admitter, backend, rec, calls
}

// TestIntegration_EndToEnd runs admission and usage recording against the
// SQLite store: three calls fit a quota of three, the fourth is denied by the
// quota while still passing the limiter.
func TestIntegration_EndToEnd(t *testing.T) {
	admitter, backend, rec, calls := newIntegrationAdmitter(t, ratelimit.Policy{MaxRequests: 10, Window: time.Minute})
	ctx := context.Background()

	q := int64(3)
	if err := backend.SetMonthlyQuota(ctx, "garage-7", &q); err != nil {
		t.Fatalf("SetMonthlyQuota failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		dec, err := admitter.Admit(ctx, "garage-7", "quote_draft")
		if err != nil {
			t.Fatalf("call %d: Admit failed: %v", i, err)
		}
		if !dec.Allowed {
			t.Fatalf("call %d: expected allowed, got %s", i, dec.Reason)
		}

		count, err := admitter.RecordUsage(ctx, UsageReport{
			TenantID: "garage-7",
			Feature:  "quote_draft",
			Outcome:  OutcomeSuccess,
			Latency:  800 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("call %d: RecordUsage failed: %v", i, err)
		}
		if count != int64(i) {
			t.Errorf("call %d: expected usage %d, got %d", i, i, count)
		}
	}

	dec, err := admitter.Admit(ctx, "garage-7", "quote_draft")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if dec.Reason != ReasonQuotaExceeded {
		t.Fatalf("Expected quota_exceeded, got %q", dec.Reason)
	}

	used, err := backend.Usage(ctx, "garage-7", admitter.Period())
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if used != 3 {
		t.Errorf("Expected stored usage 3, got %d", used)
	}

	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	n, err := calls.Count(ctx, &usagelog.Query{TenantID: "garage-7"})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 4 {
		t.Errorf("Expected 3 successes and 1 denial in the call log, got %d", n)
	}

	denied, _ := calls.Count(ctx, &usagelog.Query{Outcome: usagelog.OutcomeQuotaExceeded})
	if denied != 1 {
		t.Errorf("Expected 1 quota_exceeded record, got %d", denied)
	}
}

// TestIntegration_ConcurrentAdmissions checks that concurrent admissions on
// a fresh tenant admit exactly MaxRequests.
func TestIntegration_ConcurrentAdmissions(t *testing.T) {
	admitter, _, _, _ := newIntegrationAdmitter(t, ratelimit.Policy{MaxRequests: 10, Window: time.Minute})
	ctx := context.Background()

	var allowed, rateLimited atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := admitter.Admit(ctx, "garage-burst", "diagnosis")
			if err != nil {
				t.Errorf("Admit failed: %v", err)
				return
			}
			if dec.Allowed {
				allowed.Add(1)
			} else if dec.Reason == ReasonRateLimited {
				rateLimited.Add(1)
			}
		}()
	}
	wg.Wait()

	if allowed.Load() != 10 {
		t.Errorf("Expected exactly 10 admissions, got %d", allowed.Load())
	}
	if rateLimited.Load() != 90 {
		t.Errorf("Expected 90 rate limited, got %d", rateLimited.Load())
	}
}

// TestIntegration_ConcurrentUsage checks that concurrent usage reports are
// all counted by the store's atomic increment.
func TestIntegration_ConcurrentUsage(t *testing.T) {
	admitter, backend, _, _ := newIntegrationAdmitter(t, ratelimit.DefaultPolicy())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := admitter.RecordUsage(ctx, UsageReport{TenantID: "garage-9", Outcome: OutcomeSuccess}); err != nil {
				t.Errorf("RecordUsage failed: %v", err)
			}
		}()
	}
	wg.Wait()

	used, err := backend.Usage(ctx, "garage-9", admitter.Period())
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if used != 50 {
		t.Errorf("Expected usage 50, got %d", used)
	}
}
