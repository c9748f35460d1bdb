package ratelimit

import (
	"fmt"
	"time"
)

const (
	// DefaultMaxRequests is the number of admissions allowed per tenant per window.
	DefaultMaxRequests = 10

	// DefaultWindow is the length of a fixed rate limit window.
	DefaultWindow = 60 * time.Second
)

// Policy configures the fixed-window limiter.
// The same policy applies to every tenant.
type Policy struct {
	// MaxRequests is the maximum number of admissions per window.
	MaxRequests int

	// Window is the window length, measured from the first admission.
	Window time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRequests: DefaultMaxRequests,
		Window:      DefaultWindow,
	}
}

// Validate checks that the policy can be enforced.
func (p Policy) Validate() error {
	if p.MaxRequests <= 0 {
		return fmt.Errorf("max requests must be positive, got %d", p.MaxRequests)
	}
	if p.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", p.Window)
	}
	return nil
}

// Entry is the per-tenant window state.
type Entry struct {
	// Count is the number of admissions in the current window.
	Count int

	// ResetAt is when the current window ends.
	ResetAt time.Time
}

// Result contains the outcome of a rate limit check.
// It carries enough detail to populate X-RateLimit-* response headers.
type Result struct {
	// Allowed indicates if the call is permitted.
	Allowed bool

	// Count is the number of admissions in the window after this check.
	Count int

	// Limit is the configured maximum per window.
	Limit int

	// Remaining is how many admissions remain in the window.
	Remaining int

	// ResetAt is when the window ends. Zero when the tenant has no window.
	ResetAt time.Time

	// RetryAfter suggests how long to wait before retrying (if denied).
	RetryAfter time.Duration
}
