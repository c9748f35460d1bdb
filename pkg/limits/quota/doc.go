// Package quota implements the monthly per-tenant AI quota gate.
//
// # Overview
//
// A tenant may have a monthly quota stored in its AI settings. Usage is
// counted per calendar month in rows keyed by (tenant, period), where period
// is "YYYY-MM". The gate compares the current month's count against the
// quota before an AI call:
//
//	gate := quota.NewGate(backend, backend)
//	dec, err := gate.Check(ctx, tenantID)
//	if err != nil || !dec.Allowed {
//	    // reply 429 quota_exceeded (or 503 when the store is unavailable)
//	}
//
// A tenant with no quota is unlimited and the usage row is never read.
// A missing usage row counts as zero.
//
// The gate only reads. Increments happen after a successful call through the
// usage recorder, which uses PeriodKey so both sides agree on the month.
//
// # Time Zone
//
// The period is derived from the wall clock in the gate's location, which
// defaults to the server's local zone. Deployments that want UTC month
// boundaries set WithLocation(time.UTC) on both the gate and the recorder.
package quota
