package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys recorded on admission and usage spans. Custom keys use the
// "aigate." namespace.
const (
	AttrTenant    = "aigate.tenant_id"
	AttrFeature   = "aigate.feature"
	AttrRequestID = "aigate.request_id"

	AttrAllowed = "aigate.allowed"
	AttrReason  = "aigate.reason"

	AttrRateLimitCount = "aigate.ratelimit.count"
	AttrRateLimitMax   = "aigate.ratelimit.max"

	AttrQuotaPeriod    = "aigate.quota.period"
	AttrQuotaUsed      = "aigate.quota.used"
	AttrQuotaLimit     = "aigate.quota.limit"
	AttrQuotaUnlimited = "aigate.quota.unlimited"

	AttrOutcome = "aigate.usage.outcome"
)

// SetTenantAttributes tags span with the caller identity.
func SetTenantAttributes(span trace.Span, tenantID, feature string) {
	attrs := []attribute.KeyValue{attribute.String(AttrTenant, tenantID)}
	if feature != "" {
		attrs = append(attrs, attribute.String(AttrFeature, feature))
	}
	span.SetAttributes(attrs...)
}

// SetRequestID tags span with the caller's request ID. Empty IDs are skipped.
func SetRequestID(span trace.Span, requestID string) {
	if requestID != "" {
		span.SetAttributes(attribute.String(AttrRequestID, requestID))
	}
}

// SetUsageAttributes records the reported outcome of a finished AI call.
func SetUsageAttributes(span trace.Span, outcome string) {
	span.SetAttributes(attribute.String(AttrOutcome, outcome))
}

// SetDecisionAttributes records an admission outcome. reason is empty for
// allowed calls.
func SetDecisionAttributes(span trace.Span, allowed bool, reason string) {
	attrs := []attribute.KeyValue{attribute.Bool(AttrAllowed, allowed)}
	if reason != "" {
		attrs = append(attrs, attribute.String(AttrReason, reason))
	}
	span.SetAttributes(attrs...)
}

// SetRateLimitAttributes records the fixed window state after a check.
func SetRateLimitAttributes(span trace.Span, count, max int) {
	span.SetAttributes(
		attribute.Int(AttrRateLimitCount, count),
		attribute.Int(AttrRateLimitMax, max),
	)
}

// SetQuotaAttributes records the monthly quota state. A nil limit means the
// tenant has no quota.
func SetQuotaAttributes(span trace.Span, period string, used int64, limit *int64) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrQuotaPeriod, period),
		attribute.Int64(AttrQuotaUsed, used),
		attribute.Bool(AttrQuotaUnlimited, limit == nil),
	}
	if limit != nil {
		attrs = append(attrs, attribute.Int64(AttrQuotaLimit, *limit))
	}
	span.SetAttributes(attrs...)
}
