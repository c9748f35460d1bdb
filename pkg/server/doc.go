// Package server exposes the admission gate over HTTP.
//
// Application code calls POST /v1/admissions before every AI provider call
// and POST /v1/usage once the call has finished. Operators manage quotas,
// inspect usage and export the call log through the remaining routes.
//
// # Routes
//
//   - POST   /v1/admissions                 admit or deny an AI call
//   - POST   /v1/usage                      report a finished call
//   - GET    /v1/usage?period=YYYY-MM       usage of every tenant
//   - GET    /v1/tenants/{tenant}/status    window and quota state, nothing consumed
//   - GET    /v1/tenants/{tenant}/usage     usage for one period
//   - GET    /v1/tenants/{tenant}/quota     monthly quota
//   - PUT    /v1/tenants/{tenant}/quota     set the quota ({"monthly_quota": null} for unlimited)
//   - DELETE /v1/tenants/{tenant}/window    clear the rate limit window
//   - GET    /v1/calls/export.csv           call log as CSV
//   - GET    /v1/calls/export.json          call log as JSON
//   - GET    /health, /ready, /version, /metrics
//
// An admitted call returns 200. A denial returns 429 with the reason
// (rate_limited or quota_exceeded) as the error type, or 503 with
// quota_unavailable when the quota store failed and the gate fails closed.
// Every decision carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset. Tenants with a quota also get the X-Quota-* headers,
// and denials set Retry-After in whole seconds.
//
// # Authentication
//
// When server.service_token is set, /v1 requires
// "Authorization: Bearer <token>". Probes and /metrics stay open.
//
// # Ingress limiting
//
// A per-client token bucket runs in front of /v1 so one caller cannot
// exhaust the service. It is unrelated to the per-tenant window.
//
// # Graceful Shutdown
//
// Start returns after SIGINT, SIGTERM or context cancellation once
// in-flight requests have finished or server.shutdown_timeout expired.
package server
