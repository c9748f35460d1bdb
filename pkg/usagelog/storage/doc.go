// Package storage provides storage backends for the AI call log.
//
// # Storage Backends
//
//   - SQLite: embedded database for single-node deployments
//   - Memory: in-memory storage for tests and local runs
//
// # SQLite Backend
//
// The SQLite backend provides durable storage with:
//
//   - WAL mode for concurrent reads/writes
//   - A prepared insert statement
//   - Indexes on recorded_at, (tenant_id, period) and outcome
//   - A versioned schema checked on startup
//
// Timestamps are stored in UTC so range filters compare correctly.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage(&storage.SQLiteConfig{
//	    Path:    "data/calls.db",
//	    WALMode: true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Store(ctx, record)
//	records, err := store.Query(ctx, &usagelog.Query{TenantID: "tenant-42"})
package storage
