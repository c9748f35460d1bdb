package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// backendFactory builds a fresh backend for one test.
type backendFactory func(t *testing.T) Backend

// runBackendSuite runs the behaviour every Backend must share.
func runBackendSuite(t *testing.T, newBackend backendFactory) {
	t.Run("QuotaAbsentIsUnlimited", func(t *testing.T) {
		b := newBackend(t)
		q, err := b.MonthlyQuota(context.Background(), "tenant-absent")
		if err != nil {
			t.Fatalf("MonthlyQuota failed: %v", err)
		}
		if q != nil {
			t.Errorf("Expected nil quota, got %d", *q)
		}
	})

	t.Run("SetAndClearQuota", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		limit := int64(250)
		if err := b.SetMonthlyQuota(ctx, "tenant-a", &limit); err != nil {
			t.Fatalf("SetMonthlyQuota failed: %v", err)
		}
		q, err := b.MonthlyQuota(ctx, "tenant-a")
		if err != nil {
			t.Fatalf("MonthlyQuota failed: %v", err)
		}
		if q == nil || *q != 250 {
			t.Fatalf("Expected quota 250, got %v", q)
		}

		if err := b.SetMonthlyQuota(ctx, "tenant-a", nil); err != nil {
			t.Fatalf("SetMonthlyQuota(nil) failed: %v", err)
		}
		q, err = b.MonthlyQuota(ctx, "tenant-a")
		if err != nil {
			t.Fatalf("MonthlyQuota failed: %v", err)
		}
		if q != nil {
			t.Errorf("Expected cleared quota, got %d", *q)
		}
	})

	t.Run("ZeroQuotaIsNotUnlimited", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		zero := int64(0)
		if err := b.SetMonthlyQuota(ctx, "tenant-a", &zero); err != nil {
			t.Fatalf("SetMonthlyQuota failed: %v", err)
		}
		q, err := b.MonthlyQuota(ctx, "tenant-a")
		if err != nil {
			t.Fatalf("MonthlyQuota failed: %v", err)
		}
		if q == nil || *q != 0 {
			t.Errorf("Expected quota 0, got %v", q)
		}
	})

	t.Run("NegativeQuotaRejected", func(t *testing.T) {
		b := newBackend(t)
		neg := int64(-1)
		err := b.SetMonthlyQuota(context.Background(), "tenant-a", &neg)
		if !errors.Is(err, ErrInvalidQuota) {
			t.Errorf("Expected ErrInvalidQuota, got %v", err)
		}
	})

	t.Run("UsageAbsentIsZero", func(t *testing.T) {
		b := newBackend(t)
		n, err := b.Usage(context.Background(), "tenant-a", "2025-03")
		if err != nil {
			t.Fatalf("Usage failed: %v", err)
		}
		if n != 0 {
			t.Errorf("Expected 0, got %d", n)
		}
	})

	t.Run("IncrementPerPeriod", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			if _, err := b.IncrementUsage(ctx, "tenant-a", "2025-03", 1); err != nil {
				t.Fatalf("IncrementUsage failed: %v", err)
			}
		}
		n, err := b.IncrementUsage(ctx, "tenant-a", "2025-04", 5)
		if err != nil {
			t.Fatalf("IncrementUsage failed: %v", err)
		}
		if n != 5 {
			t.Errorf("Expected new period count 5, got %d", n)
		}

		march, _ := b.Usage(ctx, "tenant-a", "2025-03")
		if march != 3 {
			t.Errorf("Expected March usage 3, got %d", march)
		}
		april, _ := b.Usage(ctx, "tenant-a", "2025-04")
		if april != 5 {
			t.Errorf("Expected April usage 5, got %d", april)
		}
	})

	t.Run("IncrementRejectsBadInput", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		if _, err := b.IncrementUsage(ctx, "", "2025-03", 1); !errors.Is(err, ErrInvalidTenant) {
			t.Errorf("Expected ErrInvalidTenant, got %v", err)
		}
		if _, err := b.IncrementUsage(ctx, "tenant-a", "2025-03", 0); !errors.Is(err, ErrInvalidDelta) {
			t.Errorf("Expected ErrInvalidDelta, got %v", err)
		}
	})

	t.Run("ConcurrentIncrements", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := b.IncrementUsage(ctx, "tenant-a", "2025-03", 1); err != nil {
					t.Errorf("IncrementUsage failed: %v", err)
				}
			}()
		}
		wg.Wait()

		n, err := b.Usage(ctx, "tenant-a", "2025-03")
		if err != nil {
			t.Fatalf("Usage failed: %v", err)
		}
		if n != 50 {
			t.Errorf("Expected 50 increments, got %d", n)
		}
	})

	t.Run("ListUsage", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		for i, tenant := range []string{"tenant-c", "tenant-a", "tenant-b"} {
			if _, err := b.IncrementUsage(ctx, tenant, "2025-03", int64(i+1)); err != nil {
				t.Fatalf("IncrementUsage failed: %v", err)
			}
		}
		if _, err := b.IncrementUsage(ctx, "tenant-a", "2025-02", 9); err != nil {
			t.Fatalf("IncrementUsage failed: %v", err)
		}

		rows, err := b.ListUsage(ctx, "2025-03")
		if err != nil {
			t.Fatalf("ListUsage failed: %v", err)
		}
		if len(rows) != 3 {
			t.Fatalf("Expected 3 rows, got %d", len(rows))
		}
		got := fmt.Sprintf("%s=%d,%s=%d,%s=%d",
			rows[0].TenantID, rows[0].RequestCount,
			rows[1].TenantID, rows[1].RequestCount,
			rows[2].TenantID, rows[2].RequestCount)
		want := "tenant-a=2,tenant-b=3,tenant-c=1"
		if got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Ping(context.Background()); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestMemoryBackend(t *testing.T) {
	runBackendSuite(t, func(t *testing.T) Backend {
		b := NewMemoryBackend()
		t.Cleanup(func() { b.Close() })
		return b
	})
}

func TestMemoryBackend_ClosedReturnsError(t *testing.T) {
	b := NewMemoryBackend()
	b.Close()

	if _, err := b.Usage(context.Background(), "tenant-a", "2025-03"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := b.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Ping, got %v", err)
	}
}

func TestNew_Factory(t *testing.T) {
	b, err := New(context.Background(), Config{Type: TypeMemory})
	if err != nil {
		t.Fatalf("New(memory) failed: %v", err)
	}
	b.Close()

	if _, err := New(context.Background(), Config{Type: "redis"}); err == nil {
		t.Error("Expected error for unsupported type")
	}
	if _, err := New(context.Background(), Config{Type: TypeSQLite}); err == nil {
		t.Error("Expected error for sqlite without path")
	}
	if _, err := New(context.Background(), Config{Type: TypePostgres}); err == nil {
		t.Error("Expected error for postgres without DSN")
	}
}
