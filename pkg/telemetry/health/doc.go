// Package health serves the liveness, readiness and version endpoints.
//
// Liveness answers as long as the process runs. Readiness pings every
// registered dependency concurrently, each bounded by the checker timeout,
// and answers 503 when one of them fails:
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("limits_store", health.PingCheck(backend))
//
//	r.Get("/health", checker.LivenessHandler())
//	r.Get("/ready", checker.ReadinessHandler())
package health
