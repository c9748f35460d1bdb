package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrUnavailable is returned when the quota or usage store cannot be read.
var ErrUnavailable = errors.New("quota store unavailable")

// FailurePolicy decides what the gate does when the store cannot be read.
type FailurePolicy string

const (
	// FailClosed denies the call when quota state is unknown.
	FailClosed FailurePolicy = "closed"

	// FailOpen admits the call when quota state is unknown.
	FailOpen FailurePolicy = "open"
)

// ParseFailurePolicy converts a config string to a FailurePolicy.
// An empty string selects FailClosed.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailClosed:
		return FailClosed, nil
	case FailOpen:
		return FailOpen, nil
	default:
		return "", fmt.Errorf("unknown quota failure policy %q (want %q or %q)", s, FailClosed, FailOpen)
	}
}

// SettingsReader returns a tenant's monthly quota.
// A nil quota with a nil error means the tenant is unlimited, including when
// the tenant has no settings row at all.
type SettingsReader interface {
	MonthlyQuota(ctx context.Context, tenantID string) (*int64, error)
}

// UsageReader returns the request count for a tenant and period.
// A missing row must be reported as 0 with a nil error.
type UsageReader interface {
	Usage(ctx context.Context, tenantID, period string) (int64, error)
}

// Decision is the result of a quota check.
type Decision struct {
	// Allowed indicates if the call is permitted.
	Allowed bool

	// Current is the usage count for the period. Nil for unlimited tenants.
	Current *int64

	// Limit is the monthly quota. Nil means unlimited.
	Limit *int64

	// Period is the "YYYY-MM" key the check was evaluated against.
	Period string

	// Unknown is set when the store could not be read. Current is nil and
	// Limit is set only if the quota itself was read.
	Unknown bool
}

// Unlimited reports whether the tenant has no quota.
func (d *Decision) Unlimited() bool {
	return d.Limit == nil
}

// Remaining returns how many calls remain this period, or -1 when unlimited.
func (d *Decision) Remaining() int64 {
	if d.Limit == nil {
		return -1
	}
	var used int64
	if d.Current != nil {
		used = *d.Current
	}
	if used >= *d.Limit {
		return 0
	}
	return *d.Limit - used
}

// Gate checks tenants against their monthly quota.
//
// # Thread Safety
//
// Gate holds no mutable state and is safe for concurrent use. Two concurrent
// checks can both see current = quota-1 and both be admitted. The gate does
// not reserve capacity, so the monthly count can overshoot by the number of
// in-flight calls.
type Gate struct {
	settings SettingsReader
	usage    UsageReader
	now      func() time.Time
	location *time.Location
	policy   FailurePolicy
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithLocation sets the time zone used to derive the period key.
func WithLocation(loc *time.Location) Option {
	return func(g *Gate) {
		if loc != nil {
			g.location = loc
		}
	}
}

// WithFailurePolicy sets the behaviour on store errors.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(g *Gate) {
		g.policy = p
	}
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGate creates a quota gate reading from the given stores.
func NewGate(settings SettingsReader, usage UsageReader, opts ...Option) *Gate {
	g := &Gate{
		settings: settings,
		usage:    usage,
		now:      time.Now,
		location: time.Local,
		policy:   FailClosed,
		logger:   slog.Default().With("component", "quota"),
		tracer:   otel.Tracer("garagehq/aigate/quota"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Period returns the period key for the gate's current time.
func (g *Gate) Period() string {
	return PeriodKey(g.now().In(g.location))
}

// Location returns the time zone periods are derived in.
func (g *Gate) Location() *time.Location {
	return g.location
}

// FailurePolicy returns the configured failure policy.
func (g *Gate) FailurePolicy() FailurePolicy {
	return g.policy
}

// Check decides whether tenantID may make another AI call this month.
//
// On store errors the result depends on the failure policy. With FailClosed
// Check returns a denied decision and an error wrapping ErrUnavailable. With
// FailOpen it returns an allowed decision and a nil error.
func (g *Gate) Check(ctx context.Context, tenantID string) (*Decision, error) {
	return g.check(ctx, tenantID, false)
}

// Peek evaluates the quota the same way as Check for a status read. Store
// errors follow the failure policy and are logged at Warn.
func (g *Gate) Peek(ctx context.Context, tenantID string) (*Decision, error) {
	return g.check(ctx, tenantID, true)
}

func (g *Gate) check(ctx context.Context, tenantID string, peek bool) (*Decision, error) {
	name := "quota.check"
	if peek {
		name = "quota.peek"
	}
	ctx, span := g.tracer.Start(ctx, name,
		trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	period := g.Period()
	span.SetAttributes(attribute.String("quota.period", period))

	limit, err := g.settings.MonthlyQuota(ctx, tenantID)
	if err != nil {
		return g.unavailable(span, tenantID, period, nil, peek, fmt.Errorf("read quota: %w", err))
	}
	if limit == nil {
		span.SetAttributes(attribute.Bool("quota.unlimited", true))
		return &Decision{Allowed: true, Period: period}, nil
	}

	current, err := g.usage.Usage(ctx, tenantID, period)
	if err != nil {
		return g.unavailable(span, tenantID, period, limit, peek, fmt.Errorf("read usage: %w", err))
	}

	dec := &Decision{
		Allowed: current < *limit,
		Current: &current,
		Limit:   limit,
		Period:  period,
	}
	span.SetAttributes(
		attribute.Int64("quota.current", current),
		attribute.Int64("quota.limit", *limit),
		attribute.Bool("quota.allowed", dec.Allowed),
	)
	return dec, nil
}

func (g *Gate) unavailable(span trace.Span, tenantID, period string, limit *int64, peek bool, err error) (*Decision, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	allowed := g.policy == FailOpen
	switch {
	case peek:
		g.logger.Warn("quota store unavailable, status unknown",
			"tenant_id", tenantID,
			"period", period,
			"policy", string(g.policy),
			"error", err,
		)
	case allowed:
		g.logger.Warn("quota store unavailable, admitting call",
			"tenant_id", tenantID,
			"period", period,
			"error", err,
		)
	default:
		g.logger.Error("quota store unavailable, denying call",
			"tenant_id", tenantID,
			"period", period,
			"error", err,
		)
	}

	dec := &Decision{Allowed: allowed, Limit: limit, Period: period, Unknown: true}
	if allowed {
		return dec, nil
	}
	return dec, fmt.Errorf("%w: %w", ErrUnavailable, err)
}
