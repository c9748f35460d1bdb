package limits

import (
	"errors"
	"fmt"
	"time"
)

// Reason identifies why an admission was denied.
type Reason string

const (
	// ReasonNone is set on allowed decisions.
	ReasonNone Reason = ""

	// ReasonRateLimited means the tenant hit its per-window request ceiling.
	ReasonRateLimited Reason = "rate_limited"

	// ReasonQuotaExceeded means the tenant used up its monthly quota.
	ReasonQuotaExceeded Reason = "quota_exceeded"

	// ReasonQuotaUnavailable means quota state could not be read and the gate
	// is configured to fail closed.
	ReasonQuotaUnavailable Reason = "quota_unavailable"
)

// Decision is the outcome of an admission check.
type Decision struct {
	// Allowed indicates if the AI call may proceed.
	Allowed bool

	// Reason explains the denial. Empty when allowed.
	Reason Reason

	// TenantID is the tenant the decision applies to.
	TenantID string

	// RateLimit contains the tenant's window status.
	RateLimit *RateLimitInfo

	// Quota contains the tenant's monthly quota status.
	// Nil when the rate limiter denied first and the quota was never read.
	Quota *QuotaInfo

	// RetryAfter suggests how long to wait before retrying (if denied).
	RetryAfter time.Duration

	// cause is the store error behind ReasonQuotaUnavailable.
	cause error
}

// Err returns the error matching the denial reason, or nil when allowed.
// The result wraps one of ErrRateLimited, ErrQuotaExceeded or ErrStorageFailure.
func (d *Decision) Err() error {
	switch d.Reason {
	case ReasonRateLimited:
		le := &LimitError{Type: "rate_limit", TenantID: d.TenantID, Err: ErrRateLimited}
		if d.RateLimit != nil {
			le.Limit = int64(d.RateLimit.Limit)
			le.Current = int64(d.RateLimit.Limit - d.RateLimit.Remaining)
		}
		return le
	case ReasonQuotaExceeded:
		le := &LimitError{Type: "quota", TenantID: d.TenantID, Err: ErrQuotaExceeded}
		if d.Quota != nil {
			le.Current = d.Quota.Used
			if d.Quota.Limit != nil {
				le.Limit = *d.Quota.Limit
			}
		}
		return le
	case ReasonQuotaUnavailable:
		err := ErrStorageFailure
		if d.cause != nil {
			err = fmt.Errorf("%w: %w", ErrStorageFailure, d.cause)
		}
		return &LimitError{Type: "quota", TenantID: d.TenantID, Err: err}
	}
	return nil
}

// RateLimitInfo contains current rate limit status for a tenant.
// This is used to populate HTTP response headers (X-RateLimit-*).
type RateLimitInfo struct {
	// Limit is the maximum allowed requests in the window.
	Limit int

	// Remaining is the number of requests remaining in the window.
	Remaining int

	// Reset is when the window ends. Zero when the tenant has no open window.
	Reset time.Time

	// Window is the window duration.
	Window time.Duration
}

// QuotaInfo contains the tenant's monthly quota status.
// This is used to populate HTTP response headers (X-Quota-*).
type QuotaInfo struct {
	// Period is the "YYYY-MM" month the check used.
	Period string

	// Limit is the monthly quota. Nil means unlimited.
	Limit *int64

	// Used is the request count for the period.
	Used int64

	// Remaining is the calls left this period, or -1 when unlimited.
	Remaining int64

	// UsageUnknown is set when the quota store could not be read. Used and
	// Remaining are zero and carry no meaning; Limit is nil unless the quota
	// itself was read.
	UsageUnknown bool

	// Reset is the start of the next period.
	Reset time.Time
}

// Outcome is the result of a finished AI call as reported by the caller.
type Outcome string

const (
	// OutcomeSuccess is a call that completed and counts against the quota.
	OutcomeSuccess Outcome = "success"

	// OutcomeError is a call that failed at the provider. It is logged but
	// not counted.
	OutcomeError Outcome = "error"
)

// UsageReport describes a finished AI call.
type UsageReport struct {
	// TenantID is the tenant that made the call.
	TenantID string

	// Feature names the product feature (quote_draft, diagnosis, ...).
	Feature string

	// Outcome is success or error.
	Outcome Outcome

	// Latency is how long the provider call took.
	Latency time.Duration

	// Tokens is the provider-reported token count, if any.
	Tokens int

	// Error is the provider error message for failed calls.
	Error string

	// RequestID correlates the report with the admission request.
	RequestID string
}

// Error types for limit violations and system errors.
var (
	// ErrRateLimited is returned when a tenant's rate limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrQuotaExceeded is returned when a tenant's monthly quota is used up.
	ErrQuotaExceeded = errors.New("monthly quota exceeded")

	// ErrInvalidTenant is returned when a tenant identifier is empty.
	ErrInvalidTenant = errors.New("invalid tenant id")

	// ErrStorageFailure is returned when the storage backend fails.
	ErrStorageFailure = errors.New("storage backend failure")

	// ErrInvalidOutcome is returned for an unknown usage outcome.
	ErrInvalidOutcome = errors.New("invalid usage outcome")
)

// LimitError provides detailed context about a limit violation.
// This wraps the base error types with additional information for debugging.
type LimitError struct {
	// Type is the error type (rate_limit, quota).
	Type string

	// TenantID is the tenant that hit the limit.
	TenantID string

	// Limit is the configured limit value.
	Limit interface{}

	// Current is the current value that exceeded the limit.
	Current interface{}

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	if errors.Is(e.Err, ErrStorageFailure) {
		return fmt.Sprintf("%s check unavailable for %s: %v", e.Type, e.TenantID, e.Err)
	}
	return fmt.Sprintf("%s limit exceeded for %s: current=%v, limit=%v",
		e.Type, e.TenantID, e.Current, e.Limit)
}

// Unwrap returns the underlying error for error wrapping.
func (e *LimitError) Unwrap() error {
	return e.Err
}
