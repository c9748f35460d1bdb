// Package storage provides persistence backends for AI quota settings and
// monthly usage counters.
//
// # Overview
//
// Two tables back the quota gate:
//
//   - ai_settings(tenant_id, monthly_quota): NULL quota means unlimited
//   - ai_usage(tenant_id, period, request_count): one row per tenant per month
//
// Three implementations are provided:
//
//   - Memory: in-process maps (tests, local runs)
//   - SQLite: single-file persistence for single-instance deployments
//   - PostgreSQL: the shared database used in production
//
// # Usage
//
//	backend, err := storage.New(ctx, storage.Config{
//	    Type:        storage.TypePostgres,
//	    PostgresDSN: dsn,
//	})
//
//	quota, err := backend.MonthlyQuota(ctx, "tenant-42")
//	used, err := backend.Usage(ctx, "tenant-42", "2025-03")
//	count, err := backend.IncrementUsage(ctx, "tenant-42", "2025-03", 1)
//
// IncrementUsage is a single upsert statement, so concurrent increments from
// several instances never lose updates.
//
// # Thread Safety
//
// All storage backends are thread-safe and support concurrent access
// from multiple goroutines. Locking is handled internally by each backend.
package storage
