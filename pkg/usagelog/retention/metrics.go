package retention

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics reports call log pruning activity.
type Metrics struct {
	pruned   *prometheus.CounterVec
	archived prometheus.Counter
	failures prometheus.Counter
	lastRun  prometheus.Gauge
}

// NewMetrics creates the pruning collectors and registers them with reg.
// A nil reg uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		pruned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aigate_call_log_pruned_total",
				Help: "Total number of call records deleted by retention, by rule",
			},
			[]string{"rule"},
		),
		archived: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aigate_call_log_archived_total",
				Help: "Total number of call records written to archive files before deletion",
			},
		),
		failures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aigate_call_log_prune_failures_total",
				Help: "Total number of pruning runs that failed",
			},
		),
		lastRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aigate_call_log_last_prune_timestamp_seconds",
				Help: "Unix time of the last successful pruning run",
			},
		),
	}
}

func (m *Metrics) recordPruned(rule string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.pruned.WithLabelValues(rule).Add(float64(n))
}

func (m *Metrics) recordArchived(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.archived.Add(float64(n))
}

func (m *Metrics) recordRun(err error, unix float64) {
	if m == nil {
		return
	}
	if err != nil {
		m.failures.Inc()
		return
	}
	m.lastRun.Set(unix)
}
