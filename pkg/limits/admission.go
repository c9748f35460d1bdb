package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"garagehq/aigate/pkg/limits/quota"
	"garagehq/aigate/pkg/limits/ratelimit"
	"garagehq/aigate/pkg/telemetry/logging"
	"garagehq/aigate/pkg/telemetry/tracing"
	"garagehq/aigate/pkg/usagelog"
)

// UsageCounter reads and increments the monthly usage counters.
type UsageCounter interface {
	quota.UsageReader

	// IncrementUsage atomically adds delta to the (tenant, period) counter
	// and returns the new count.
	IncrementUsage(ctx context.Context, tenantID, period string, delta int64) (int64, error)
}

// CallLogger receives one record per admission denial and per finished AI
// call. The usage log recorder satisfies it.
type CallLogger interface {
	Record(ctx context.Context, record *usagelog.CallRecord) error
}

// Config wires the admission collaborators.
type Config struct {
	// Limiter is the per-tenant fixed-window limiter. Required.
	Limiter *ratelimit.Limiter

	// Quota is the monthly quota gate. Required.
	Quota *quota.Gate

	// Usage stores the monthly counters the gate reads. Required.
	Usage UsageCounter

	// CallLog records denials and finished calls. Optional.
	CallLog CallLogger

	// Metrics records admission metrics. Optional.
	Metrics *Metrics

	// Now replaces time.Now. It should match the clock given to Limiter and
	// Quota.
	Now func() time.Time
}

// Admitter sequences the rate limiter and the quota gate in front of every
// AI call and records usage once the call has finished.
//
// The limiter always runs first and never touches the store, so a tenant
// hammering the endpoint is turned away without a database read. The quota
// gate only runs for calls the limiter admitted.
//
// # Example
//
//	admitter, err := limits.NewAdmitter(limits.Config{
//	    Limiter: ratelimit.NewLimiter(ratelimit.DefaultPolicy()),
//	    Quota:   quota.NewGate(backend, backend),
//	    Usage:   backend,
//	})
//
//	dec, err := admitter.Admit(ctx, "garage-42", "quote_draft")
//	if !dec.Allowed {
//	    return dec.Err()
//	}
//	// ... call the AI provider ...
//	admitter.RecordUsage(ctx, limits.UsageReport{TenantID: "garage-42", Outcome: limits.OutcomeSuccess})
type Admitter struct {
	limiter *ratelimit.Limiter
	gate    *quota.Gate
	usage   UsageCounter
	callLog CallLogger
	metrics *Metrics
	now     func() time.Time
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewAdmitter validates cfg and creates an Admitter.
func NewAdmitter(cfg Config) (*Admitter, error) {
	if cfg.Limiter == nil {
		return nil, errors.New("admission requires a rate limiter")
	}
	if cfg.Quota == nil {
		return nil, errors.New("admission requires a quota gate")
	}
	if cfg.Usage == nil {
		return nil, errors.New("admission requires a usage counter")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Admitter{
		limiter: cfg.Limiter,
		gate:    cfg.Quota,
		usage:   cfg.Usage,
		callLog: cfg.CallLog,
		metrics: cfg.Metrics,
		now:     cfg.Now,
		logger:  slog.Default().With("component", "limits"),
		tracer:  otel.Tracer(tracing.InstrumentationName),
	}, nil
}

// Admit decides whether tenantID may make an AI call for feature.
//
// A rate limiter denial short-circuits with ReasonRateLimited and the quota
// is not read. Otherwise the quota gate decides: ReasonQuotaExceeded when
// the month is used up, ReasonQuotaUnavailable when the store could not be
// read under the fail-closed policy. An admitted call has consumed one
// window slot even if it never reaches the provider.
//
// The only error returned is ErrInvalidTenant; store failures surface as a
// denied decision whose Err wraps ErrStorageFailure.
func (a *Admitter) Admit(ctx context.Context, tenantID, feature string) (*Decision, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}

	ctx, span := a.tracer.Start(ctx, "limits.admit")
	defer span.End()
	tracing.SetTenantAttributes(span, tenantID, feature)
	tracing.SetRequestID(span, logging.GetRequestID(ctx))

	start := time.Now()
	rl := a.limiter.Check(tenantID)
	if a.metrics != nil {
		a.metrics.RecordRateLimitCheck(rl.Allowed)
		a.metrics.SetActiveWindows(a.limiter.Len())
	}
	tracing.SetRateLimitAttributes(span, rl.Count, rl.Limit)

	dec := &Decision{
		TenantID:  tenantID,
		RateLimit: a.rateLimitInfo(rl),
	}

	if !rl.Allowed {
		dec.Reason = ReasonRateLimited
		dec.RetryAfter = rl.RetryAfter
	} else {
		a.applyQuota(ctx, span, dec)
	}

	if a.metrics != nil {
		a.metrics.RecordCheckDuration("admit", time.Since(start).Seconds())
		a.metrics.RecordAdmission(feature, dec)
	}
	tracing.SetDecisionAttributes(span, dec.Allowed, string(dec.Reason))

	if dec.Allowed {
		a.logger.DebugContext(ctx, "admission allowed",
			"tenant_id", tenantID,
			"feature", feature,
			"window_count", rl.Count,
		)
		return dec, nil
	}

	a.logger.InfoContext(ctx, "admission denied",
		"tenant_id", tenantID,
		"feature", feature,
		"reason", dec.Reason,
		"retry_after", dec.RetryAfter,
	)
	a.logDenial(ctx, dec, feature)
	return dec, nil
}

// applyQuota runs the quota gate and fills in the quota part of dec.
func (a *Admitter) applyQuota(ctx context.Context, span trace.Span, dec *Decision) {
	q, err := a.gate.Check(ctx, dec.TenantID)
	dec.Quota = a.quotaInfo(q)
	if dec.Quota != nil && !dec.Quota.UsageUnknown {
		tracing.SetQuotaAttributes(span, dec.Quota.Period, dec.Quota.Used, dec.Quota.Limit)
	}

	switch {
	case err != nil:
		if a.metrics != nil {
			a.metrics.RecordQuotaFailure()
			a.metrics.RecordQuotaCheck(false)
		}
		tracing.SetError(span, err)
		dec.Reason = ReasonQuotaUnavailable
		dec.cause = err
	case !q.Allowed:
		if a.metrics != nil {
			a.metrics.RecordQuotaCheck(false)
		}
		dec.Reason = ReasonQuotaExceeded
		if dec.Quota != nil && !dec.Quota.Reset.IsZero() {
			if wait := dec.Quota.Reset.Sub(a.now()); wait > 0 {
				dec.RetryAfter = wait
			}
		}
	default:
		if a.metrics != nil {
			a.metrics.RecordQuotaCheck(true)
		}
		dec.Allowed = true
	}
}

// Status reports the tenant's current rate limit and quota state without
// consuming a window slot, logging or recording metrics.
func (a *Admitter) Status(ctx context.Context, tenantID string) (*Decision, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrInvalidTenant
	}

	ctx, span := a.tracer.Start(ctx, "limits.status")
	defer span.End()
	tracing.SetTenantAttributes(span, tenantID, "")

	rl := a.limiter.Peek(tenantID)
	dec := &Decision{
		TenantID:  tenantID,
		RateLimit: a.rateLimitInfo(rl),
	}

	q, err := a.gate.Peek(ctx, tenantID)
	dec.Quota = a.quotaInfo(q)

	switch {
	case !rl.Allowed:
		dec.Reason = ReasonRateLimited
		dec.RetryAfter = rl.RetryAfter
	case err != nil:
		dec.Reason = ReasonQuotaUnavailable
		dec.cause = err
	case !q.Allowed:
		dec.Reason = ReasonQuotaExceeded
		if dec.Quota != nil {
			if wait := dec.Quota.Reset.Sub(a.now()); wait > 0 {
				dec.RetryAfter = wait
			}
		}
	default:
		dec.Allowed = true
	}
	return dec, nil
}

// RecordUsage records a finished AI call. A successful call increments the
// tenant's counter for the current period; a failed call is logged but not
// counted. It returns the period's usage count after the report.
func (a *Admitter) RecordUsage(ctx context.Context, report UsageReport) (int64, error) {
	report.TenantID = strings.TrimSpace(report.TenantID)
	if report.TenantID == "" {
		return 0, ErrInvalidTenant
	}
	if report.Outcome != OutcomeSuccess && report.Outcome != OutcomeError {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOutcome, report.Outcome)
	}

	ctx, span := a.tracer.Start(ctx, "limits.record_usage")
	defer span.End()
	tracing.SetTenantAttributes(span, report.TenantID, report.Feature)
	tracing.SetRequestID(span, a.requestID(ctx, report.RequestID))
	tracing.SetUsageAttributes(span, string(report.Outcome))

	period := a.gate.Period()

	var (
		count int64
		err   error
	)
	if report.Outcome == OutcomeSuccess {
		count, err = a.usage.IncrementUsage(ctx, report.TenantID, period, 1)
	} else {
		count, err = a.usage.Usage(ctx, report.TenantID, period)
	}

	if a.metrics != nil {
		a.metrics.RecordUsage(report.Feature, report.Outcome)
	}
	a.logCall(ctx, &usagelog.CallRecord{
		RequestID: a.requestID(ctx, report.RequestID),
		TenantID:  report.TenantID,
		Feature:   report.Feature,
		Outcome:   usagelog.Outcome(report.Outcome),
		Period:    period,
		LatencyMs: report.Latency.Milliseconds(),
		Tokens:    report.Tokens,
		Error:     report.Error,
	})

	if err != nil {
		tracing.SetError(span, err)
		tracing.SetStatus(span, err)
		if report.Outcome == OutcomeSuccess && a.metrics != nil {
			a.metrics.RecordUsageFailure()
		}
		a.logger.ErrorContext(ctx, "failed to record usage",
			"tenant_id", report.TenantID,
			"period", period,
			"outcome", report.Outcome,
			"error", err,
		)
		return 0, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	a.logger.DebugContext(ctx, "usage recorded",
		"tenant_id", report.TenantID,
		"feature", report.Feature,
		"outcome", report.Outcome,
		"period", period,
		"count", count,
	)
	return count, nil
}

// ResetWindow clears the tenant's rate limit window.
func (a *Admitter) ResetWindow(tenantID string) {
	a.limiter.Reset(strings.TrimSpace(tenantID))
}

// Period returns the current "YYYY-MM" usage period.
func (a *Admitter) Period() string {
	return a.gate.Period()
}

// Limiter returns the rate limiter, for policy reloads.
func (a *Admitter) Limiter() *ratelimit.Limiter {
	return a.limiter
}

func (a *Admitter) rateLimitInfo(rl ratelimit.Result) *RateLimitInfo {
	return &RateLimitInfo{
		Limit:     rl.Limit,
		Remaining: rl.Remaining,
		Reset:     rl.ResetAt,
		Window:    a.limiter.Policy().Window,
	}
}

func (a *Admitter) quotaInfo(q *quota.Decision) *QuotaInfo {
	if q == nil {
		return nil
	}

	info := &QuotaInfo{
		Period: q.Period,
		Limit:  q.Limit,
	}
	if q.Unknown {
		info.UsageUnknown = true
	} else {
		info.Remaining = q.Remaining()
		if q.Current != nil {
			info.Used = *q.Current
		}
	}
	if reset, err := quota.PeriodEnd(q.Period, a.gate.Location()); err == nil {
		info.Reset = reset
	}
	return info
}

// logDenial writes a call record for a denied admission. The outcome is the
// denial reason.
func (a *Admitter) logDenial(ctx context.Context, dec *Decision, feature string) {
	period := a.gate.Period()
	if dec.Quota != nil {
		period = dec.Quota.Period
	}

	record := &usagelog.CallRecord{
		RequestID: a.requestID(ctx, ""),
		TenantID:  dec.TenantID,
		Feature:   feature,
		Outcome:   usagelog.Outcome(dec.Reason),
		Period:    period,
	}
	if dec.cause != nil {
		record.Error = dec.cause.Error()
	}
	a.logCall(ctx, record)
}

func (a *Admitter) logCall(ctx context.Context, record *usagelog.CallRecord) {
	if a.callLog == nil {
		return
	}
	record.RecordedAt = a.now()
	if err := a.callLog.Record(ctx, record); err != nil {
		a.logger.WarnContext(ctx, "failed to log AI call",
			"tenant_id", record.TenantID,
			"outcome", record.Outcome,
			"error", err,
		)
	}
}

func (a *Admitter) requestID(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return logging.GetRequestID(ctx)
}
