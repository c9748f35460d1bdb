package usagelog

import (
	"context"
	"io"
	"time"
)

// Outcome is how an AI call ended, including calls that never ran because
// admission denied them.
type Outcome string

const (
	// OutcomeSuccess is a completed provider call.
	OutcomeSuccess Outcome = "success"

	// OutcomeError is a provider call that failed.
	OutcomeError Outcome = "error"

	// OutcomeRateLimited is a call denied by the fixed-window limiter.
	OutcomeRateLimited Outcome = "rate_limited"

	// OutcomeQuotaExceeded is a call denied by the monthly quota.
	OutcomeQuotaExceeded Outcome = "quota_exceeded"

	// OutcomeQuotaUnavailable is a call denied because quota state was unknown.
	OutcomeQuotaUnavailable Outcome = "quota_unavailable"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeError, OutcomeRateLimited, OutcomeQuotaExceeded, OutcomeQuotaUnavailable:
		return true
	}
	return false
}

// CallRecord is one entry in the AI call log.
type CallRecord struct {
	// Identity
	ID        string `json:"id"`         // UUID v4
	RequestID string `json:"request_id"` // From the HTTP layer

	// Who and what
	TenantID string `json:"tenant_id"`
	Feature  string `json:"feature"` // quote_draft, diagnosis, ...

	// Result
	Outcome   Outcome `json:"outcome"`
	Period    string  `json:"period"`     // YYYY-MM the call was counted in
	LatencyMs int64   `json:"latency_ms"` // Provider round-trip time
	Tokens    int     `json:"tokens"`     // Provider-reported tokens
	Error     string  `json:"error"`      // Provider error (redacted, truncated)

	// When
	RecordedAt time.Time `json:"recorded_at"`
}

// Query defines filter parameters for querying call records.
type Query struct {
	// Time range
	StartTime *time.Time `json:"start_time,omitempty"` // Inclusive start time
	EndTime   *time.Time `json:"end_time,omitempty"`   // Inclusive end time

	// Filters
	TenantID string  `json:"tenant_id,omitempty"`
	Feature  string  `json:"feature,omitempty"`
	Outcome  Outcome `json:"outcome,omitempty"`
	Period   string  `json:"period,omitempty"`

	// Pagination
	Limit  int `json:"limit,omitempty"`  // Max records to return
	Offset int `json:"offset,omitempty"` // Skip N records

	// Sorting
	SortOrder string `json:"sort_order,omitempty"` // "asc", "desc" by recorded_at
}

// Storage defines the interface for call log storage backends.
// Implementations must be thread-safe and support concurrent access.
type Storage interface {
	// Store persists a call record.
	Store(ctx context.Context, record *CallRecord) error

	// Query retrieves call records matching the query filters.
	// Returns an empty slice if no records match.
	Query(ctx context.Context, query *Query) ([]*CallRecord, error)

	// QueryStream returns a channel of call records for memory-efficient
	// streaming of large exports. The error channel carries at most one
	// error. Both channels are closed when the query completes.
	QueryStream(ctx context.Context, query *Query) (<-chan *CallRecord, <-chan error, error)

	// Count returns the number of call records matching the query filters.
	Count(ctx context.Context, query *Query) (int64, error)

	// Delete removes call records matching the query filters and returns
	// how many were removed. Used for retention.
	Delete(ctx context.Context, query *Query) (int64, error)

	// Close releases any resources held by the storage backend.
	Close() error
}

// Exporter writes call records in a specific format.
type Exporter interface {
	// Export writes records to w. Returns an error if the export fails.
	Export(ctx context.Context, records []*CallRecord, w io.Writer) error
}
