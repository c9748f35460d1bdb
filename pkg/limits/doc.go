// Package limits decides whether a tenant may make an AI call and records
// the call once it has finished.
//
// Admission runs two checks in a fixed order:
//
//  1. The per-tenant fixed-window rate limiter (package ratelimit). It is
//     in-memory and always evaluated first, so abusive bursts are shed
//     without a database round trip.
//  2. The monthly quota gate (package quota), only when the limiter
//     admitted the call. It reads the tenant's quota and the usage counter
//     for the current "YYYY-MM" period from the store (package storage).
//
// A denial carries a distinct Reason: rate_limited, quota_exceeded, or
// quota_unavailable when the store could not be read and the gate fails
// closed. Decision.Err returns an error wrapping ErrRateLimited,
// ErrQuotaExceeded or ErrStorageFailure for callers that prefer errors.
//
// After the provider call, RecordUsage increments the period counter for a
// successful call. Failed calls are written to the call log but not counted.
//
// # Limitations
//
// Window state lives in process memory. Several instances of the service do
// not share windows, so the effective limit scales with the instance count.
// The quota check does not reserve capacity, so concurrent admissions near
// the ceiling can overshoot it by the number of calls in flight.
package limits
