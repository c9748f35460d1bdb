// Package metrics serves the gate's Prometheus endpoint.
//
// A Collector owns the registry. The HTTP server records request counts and
// latency through HTTP(), and the limits package registers its admission,
// quota and usage counters on Registry():
//
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
//	limitsMetrics := limits.NewMetrics(collector.Registry())
//	r.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
// Labels never carry tenant IDs. Feature names come from callers, so they
// pass through a CardinalityLimiter and collapse to "other" past its cap.
package metrics
