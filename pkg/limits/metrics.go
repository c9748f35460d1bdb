package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"garagehq/aigate/pkg/telemetry/metrics"
)

// maxFeatureLabels caps distinct feature label values; features are caller
// supplied.
const maxFeatureLabels = 100

// Metrics contains Prometheus metrics for the limits package.
type Metrics struct {
	// Admission decisions
	admissions *prometheus.CounterVec

	// Rate limiter
	rateLimitChecks *prometheus.CounterVec
	activeWindows   prometheus.Gauge

	// Quota gate
	quotaChecks   *prometheus.CounterVec
	quotaFailures prometheus.Counter

	// Usage recording
	usageIncrements *prometheus.CounterVec
	usageFailures   prometheus.Counter

	// Check latency
	checkDuration *prometheus.HistogramVec

	features *metrics.CardinalityLimiter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		admissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aigate_admissions_total",
				Help: "Total number of admission decisions by result and reason",
			},
			[]string{"feature", "result", "reason"},
		),

		rateLimitChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aigate_rate_limit_checks_total",
				Help: "Total number of fixed-window rate limit checks",
			},
			[]string{"result"},
		),

		activeWindows: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aigate_rate_limit_windows",
				Help: "Number of tenants with a stored rate limit window",
			},
		),

		quotaChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aigate_quota_checks_total",
				Help: "Total number of monthly quota checks",
			},
			[]string{"result"},
		),

		quotaFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aigate_quota_store_failures_total",
				Help: "Total number of quota checks that could not read the store",
			},
		),

		usageIncrements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aigate_usage_recorded_total",
				Help: "Total number of finished AI calls reported, by outcome",
			},
			[]string{"feature", "outcome"},
		),

		usageFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aigate_usage_increment_failures_total",
				Help: "Total number of usage increments that failed to persist",
			},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aigate_check_duration_seconds",
				Help:    "Duration of admission checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~0.5s
			},
			[]string{"operation"},
		),

		features: metrics.NewCardinalityLimiter(maxFeatureLabels),
	}
}

// RecordAdmission records an admission decision.
func (m *Metrics) RecordAdmission(feature string, d *Decision) {
	result := "allowed"
	if !d.Allowed {
		result = "denied"
	}
	m.admissions.WithLabelValues(m.features.Label(feature), result, string(d.Reason)).Inc()
}

// RecordRateLimitCheck records a rate limit check.
func (m *Metrics) RecordRateLimitCheck(allowed bool) {
	m.rateLimitChecks.WithLabelValues(resultLabel(allowed)).Inc()
}

// SetActiveWindows updates the number of stored windows.
func (m *Metrics) SetActiveWindows(n int) {
	m.activeWindows.Set(float64(n))
}

// RecordQuotaCheck records a quota check.
func (m *Metrics) RecordQuotaCheck(allowed bool) {
	m.quotaChecks.WithLabelValues(resultLabel(allowed)).Inc()
}

// RecordQuotaFailure records a quota store read failure.
func (m *Metrics) RecordQuotaFailure() {
	m.quotaFailures.Inc()
}

// RecordUsage records a reported AI call.
func (m *Metrics) RecordUsage(feature string, outcome Outcome) {
	m.usageIncrements.WithLabelValues(m.features.Label(feature), string(outcome)).Inc()
}

// RecordUsageFailure records a failed usage increment.
func (m *Metrics) RecordUsageFailure() {
	m.usageFailures.Inc()
}

// RecordCheckDuration records the duration of a check operation.
func (m *Metrics) RecordCheckDuration(operation string, seconds float64) {
	m.checkDuration.WithLabelValues(operation).Observe(seconds)
}

func resultLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "blocked"
}
