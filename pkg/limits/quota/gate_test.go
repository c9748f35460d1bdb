package quota

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// fakeStore is an in-test settings and usage store that counts reads.
type fakeStore struct {
	quotas     map[string]int64
	usage      map[string]int64
	settingErr error
	usageErr   error
	usageReads int
	lastPeriod string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		quotas: make(map[string]int64),
		usage:  make(map[string]int64),
	}
}

func (f *fakeStore) MonthlyQuota(ctx context.Context, tenantID string) (*int64, error) {
	if f.settingErr != nil {
		return nil, f.settingErr
	}
	q, ok := f.quotas[tenantID]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (f *fakeStore) Usage(ctx context.Context, tenantID, period string) (int64, error) {
	f.usageReads++
	f.lastPeriod = period
	if f.usageErr != nil {
		return 0, f.usageErr
	}
	return f.usage[tenantID+"|"+period], nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var march = time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)

// ============================================================================
// Check Tests
// ============================================================================

func TestGate_UnlimitedSkipsUsageRead(t *testing.T) {
	store := newFakeStore()
	store.usageErr = errors.New("must not be called")
	gate := NewGate(store, store, WithClock(fixedClock(march)), WithLocation(time.UTC))

	dec, err := gate.Check(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !dec.Allowed {
		t.Error("Expected unlimited tenant to be allowed")
	}
	if !dec.Unlimited() {
		t.Error("Expected decision to be unlimited")
	}
	if dec.Current != nil {
		t.Errorf("Expected no current usage, got %d", *dec.Current)
	}
	if store.usageReads != 0 {
		t.Errorf("Expected no usage reads, got %d", store.usageReads)
	}
}

func TestGate_Thresholds(t *testing.T) {
	tests := []struct {
		name    string
		quota   int64
		used    int64
		allowed bool
	}{
		{"under quota", 100, 99, true},
		{"at quota", 100, 100, false},
		{"over quota", 100, 150, false},
		{"zero quota", 0, 0, false},
		{"no usage row", 5, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.quotas["tenant-a"] = tt.quota
			if tt.used > 0 {
				store.usage["tenant-a|2025-03"] = tt.used
			}
			gate := NewGate(store, store, WithClock(fixedClock(march)), WithLocation(time.UTC))

			dec, err := gate.Check(context.Background(), "tenant-a")
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			if dec.Allowed != tt.allowed {
				t.Errorf("Expected allowed=%v, got %v", tt.allowed, dec.Allowed)
			}
			if dec.Current == nil || *dec.Current != tt.used {
				t.Errorf("Expected current %d, got %v", tt.used, dec.Current)
			}
			if dec.Limit == nil || *dec.Limit != tt.quota {
				t.Errorf("Expected limit %d, got %v", tt.quota, dec.Limit)
			}
			if dec.Period != "2025-03" {
				t.Errorf("Expected period 2025-03, got %s", dec.Period)
			}
		})
	}
}

func TestGate_ReadsCurrentPeriodOnly(t *testing.T) {
	store := newFakeStore()
	store.quotas["tenant-a"] = 10
	store.usage["tenant-a|2025-02"] = 10

	gate := NewGate(store, store, WithClock(fixedClock(march)), WithLocation(time.UTC))
	dec, err := gate.Check(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !dec.Allowed {
		t.Error("Expected last month's usage to be ignored")
	}
	if store.lastPeriod != "2025-03" {
		t.Errorf("Expected usage read for 2025-03, got %s", store.lastPeriod)
	}
}

func TestGate_LocationChangesPeriod(t *testing.T) {
	store := newFakeStore()
	store.quotas["tenant-a"] = 10

	// 23:30 UTC on March 31 is already April in Paris.
	instant := time.Date(2025, 3, 31, 23, 30, 0, 0, time.UTC)
	paris := time.FixedZone("CEST", 2*60*60)

	gate := NewGate(store, store, WithClock(fixedClock(instant)), WithLocation(paris))
	if _, err := gate.Check(context.Background(), "tenant-a"); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if store.lastPeriod != "2025-04" {
		t.Errorf("Expected period 2025-04, got %s", store.lastPeriod)
	}
}

// ============================================================================
// Failure Policy Tests
// ============================================================================

func TestGate_FailClosed(t *testing.T) {
	store := newFakeStore()
	store.quotas["tenant-a"] = 10
	store.usageErr = errors.New("connection refused")

	gate := NewGate(store, store, WithClock(fixedClock(march)))
	dec, err := gate.Check(context.Background(), "tenant-a")
	if err == nil {
		t.Fatal("Expected error when usage read fails")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
	if dec == nil || dec.Allowed {
		t.Error("Expected denied decision under fail-closed")
	}
	if !dec.Unknown || dec.Current != nil {
		t.Errorf("Expected unknown usage on denied decision, got %+v", dec)
	}
}

func TestGate_FailOpen(t *testing.T) {
	store := newFakeStore()
	store.settingErr = errors.New("timeout")

	gate := NewGate(store, store, WithClock(fixedClock(march)), WithFailurePolicy(FailOpen))
	dec, err := gate.Check(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Expected no error under fail-open, got %v", err)
	}
	if !dec.Allowed {
		t.Error("Expected allowed decision under fail-open")
	}
}

func TestGate_FailOpenUsageReadLeavesUsageUnknown(t *testing.T) {
	store := newFakeStore()
	store.quotas["tenant-a"] = 5
	store.usageErr = errors.New("connection refused")

	gate := NewGate(store, store, WithClock(fixedClock(march)), WithFailurePolicy(FailOpen))
	dec, err := gate.Check(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("Expected no error under fail-open, got %v", err)
	}
	if !dec.Allowed {
		t.Error("Expected allowed decision under fail-open")
	}
	if !dec.Unknown {
		t.Error("Expected Unknown when usage could not be read")
	}
	if dec.Current != nil {
		t.Errorf("Expected nil Current, got %d", *dec.Current)
	}
	if dec.Limit == nil || *dec.Limit != 5 {
		t.Errorf("Expected the quota that was read, got %v", dec.Limit)
	}
}

func TestGate_PeekLogsAtWarn(t *testing.T) {
	store := newFakeStore()
	store.quotas["tenant-a"] = 10
	store.usageErr = errors.New("connection refused")

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	gate := NewGate(store, store, WithClock(fixedClock(march)), WithLogger(logger))

	dec, err := gate.Peek(context.Background(), "tenant-a")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable from Peek under fail-closed, got %v", err)
	}
	if dec == nil || dec.Allowed || !dec.Unknown {
		t.Errorf("Expected denied unknown decision, got %+v", dec)
	}

	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, "status unknown") {
		t.Errorf("Expected a warn-level status log, got %s", out)
	}
	if strings.Contains(out, "denying call") || strings.Contains(out, `"level":"ERROR"`) {
		t.Errorf("Expected no call denial logged by Peek, got %s", out)
	}

	buf.Reset()
	gate.Check(context.Background(), "tenant-a")
	out = buf.String()
	if !strings.Contains(out, `"level":"ERROR"`) || !strings.Contains(out, "denying call") {
		t.Errorf("Expected Check to log the denial at error, got %s", out)
	}
}

func TestGate_NoMutation(t *testing.T) {
	store := newFakeStore()
	store.quotas["tenant-a"] = 3
	store.usage["tenant-a|2025-03"] = 2

	gate := NewGate(store, store, WithClock(fixedClock(march)), WithLocation(time.UTC))
	for i := 0; i < 5; i++ {
		dec, _ := gate.Check(context.Background(), "tenant-a")
		if !dec.Allowed {
			t.Fatal("Expected repeated checks to leave usage untouched")
		}
	}
	if store.usage["tenant-a|2025-03"] != 2 {
		t.Errorf("Expected usage 2, got %d", store.usage["tenant-a|2025-03"])
	}
}

func TestParseFailurePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    FailurePolicy
		wantErr bool
	}{
		{"", FailClosed, false},
		{"closed", FailClosed, false},
		{"open", FailOpen, false},
		{"maybe", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFailurePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFailurePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseFailurePolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecision_Remaining(t *testing.T) {
	limit, used := int64(10), int64(4)
	dec := &Decision{Limit: &limit, Current: &used}
	if dec.Remaining() != 6 {
		t.Errorf("Expected 6 remaining, got %d", dec.Remaining())
	}

	unlimited := &Decision{Allowed: true}
	if unlimited.Remaining() != -1 {
		t.Errorf("Expected -1 for unlimited, got %d", unlimited.Remaining())
	}
}
