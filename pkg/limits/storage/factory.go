package storage

import (
	"context"
	"fmt"
	"time"
)

// Backend type names accepted by New.
const (
	TypeMemory   = "memory"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	// Type is one of memory, sqlite or postgres.
	Type string

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string

	// PostgresDSN is the connection string for the postgres backend.
	PostgresDSN string

	// MaxConns caps the postgres pool size.
	MaxConns int32

	// BusyTimeout is the sqlite lock wait.
	BusyTimeout time.Duration

	// CheckpointInterval is the sqlite WAL checkpoint period.
	CheckpointInterval time.Duration

	// CreateSchema creates missing postgres tables on startup.
	CreateSchema bool
}

// SupportedTypes returns all backend type names.
func SupportedTypes() []string {
	return []string{TypeMemory, TypeSQLite, TypePostgres}
}

// New creates the backend named by cfg.Type.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Type {
	case TypeMemory, "":
		return NewMemoryBackend(), nil
	case TypeSQLite:
		return NewSQLiteBackendWithConfig(SQLiteBackendConfig{
			DBPath:             cfg.SQLitePath,
			CheckpointInterval: cfg.CheckpointInterval,
			BusyTimeout:        cfg.BusyTimeout,
		})
	case TypePostgres:
		return NewPostgresBackend(ctx, PostgresBackendConfig{
			DSN:          cfg.PostgresDSN,
			MaxConns:     cfg.MaxConns,
			CreateSchema: cfg.CreateSchema,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
