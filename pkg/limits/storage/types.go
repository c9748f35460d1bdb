package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Backend persists tenant AI settings and monthly usage counters.
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// MonthlyQuota returns the tenant's monthly quota.
	// Returns nil when the tenant is unlimited or has no settings row.
	MonthlyQuota(ctx context.Context, tenantID string) (*int64, error)

	// SetMonthlyQuota stores the tenant's monthly quota. A nil quota makes
	// the tenant unlimited.
	SetMonthlyQuota(ctx context.Context, tenantID string, quota *int64) error

	// Usage returns the request count for (tenant, period).
	// Returns 0 when no row exists.
	Usage(ctx context.Context, tenantID, period string) (int64, error)

	// IncrementUsage atomically adds delta to the (tenant, period) counter,
	// creating the row when needed, and returns the new count.
	IncrementUsage(ctx context.Context, tenantID, period string, delta int64) (int64, error)

	// ListUsage returns every usage row for a period ordered by tenant.
	ListUsage(ctx context.Context, period string) ([]UsageRow, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the backend.
	// The backend should not be used after calling Close.
	Close() error
}

// UsageRow is one (tenant, period) usage counter.
type UsageRow struct {
	// TenantID identifies the garage.
	TenantID string

	// Period is the "YYYY-MM" month key.
	Period string

	// RequestCount is the number of successful AI calls in the period.
	RequestCount int64

	// UpdatedAt is when the counter last changed.
	UpdatedAt time.Time
}

var (
	// ErrInvalidTenant is returned for an empty tenant identifier.
	ErrInvalidTenant = errors.New("invalid tenant id")

	// ErrInvalidQuota is returned for a negative quota.
	ErrInvalidQuota = errors.New("invalid monthly quota")

	// ErrInvalidDelta is returned when an increment is not positive.
	ErrInvalidDelta = errors.New("usage increment must be positive")

	// ErrClosed is returned when the backend has been closed.
	ErrClosed = errors.New("storage backend closed")
)

func validateTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return ErrInvalidTenant
	}
	return nil
}

func validateQuota(quota *int64) error {
	if quota != nil && *quota < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuota, *quota)
	}
	return nil
}

func validateIncrement(tenantID, period string, delta int64) error {
	if err := validateTenant(tenantID); err != nil {
		return err
	}
	if period == "" {
		return fmt.Errorf("period cannot be empty")
	}
	if delta <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDelta, delta)
	}
	return nil
}
