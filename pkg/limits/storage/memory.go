package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend implements Backend using in-memory maps.
// All data is lost when the process exits. It is used in tests and for
// local runs without a database.
//
// MemoryBackend is thread-safe and supports concurrent access using sync.RWMutex.
type MemoryBackend struct {
	mu     sync.RWMutex
	quotas map[string]*int64
	usage  map[usageKey]*UsageRow
	closed bool
	now    func() time.Time
}

type usageKey struct {
	tenant string
	period string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		quotas: make(map[string]*int64),
		usage:  make(map[usageKey]*UsageRow),
		now:    time.Now,
	}
}

// MonthlyQuota implements Backend.
func (m *MemoryBackend) MonthlyQuota(ctx context.Context, tenantID string) (*int64, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	q, ok := m.quotas[tenantID]
	if !ok || q == nil {
		return nil, nil
	}
	v := *q
	return &v, nil
}

// SetMonthlyQuota implements Backend.
func (m *MemoryBackend) SetMonthlyQuota(ctx context.Context, tenantID string, quota *int64) error {
	if err := validateTenant(tenantID); err != nil {
		return err
	}
	if err := validateQuota(quota); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if quota == nil {
		m.quotas[tenantID] = nil
		return nil
	}
	v := *quota
	m.quotas[tenantID] = &v
	return nil
}

// Usage implements Backend.
func (m *MemoryBackend) Usage(ctx context.Context, tenantID, period string) (int64, error) {
	if err := validateTenant(tenantID); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}

	if row, ok := m.usage[usageKey{tenantID, period}]; ok {
		return row.RequestCount, nil
	}
	return 0, nil
}

// IncrementUsage implements Backend.
func (m *MemoryBackend) IncrementUsage(ctx context.Context, tenantID, period string, delta int64) (int64, error) {
	if err := validateIncrement(tenantID, period, delta); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	key := usageKey{tenantID, period}
	row, ok := m.usage[key]
	if !ok {
		row = &UsageRow{TenantID: tenantID, Period: period}
		m.usage[key] = row
	}
	row.RequestCount += delta
	row.UpdatedAt = m.now()
	return row.RequestCount, nil
}

// ListUsage implements Backend.
func (m *MemoryBackend) ListUsage(ctx context.Context, period string) ([]UsageRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	rows := make([]UsageRow, 0)
	for key, row := range m.usage {
		if key.period == period {
			rows = append(rows, *row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].TenantID < rows[j].TenantID
	})
	return rows, nil
}

// Ping implements Backend.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements Backend. Close is idempotent.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
