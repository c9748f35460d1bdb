package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteBackend implements Backend using SQLite for persistence.
// It suits single-instance deployments where quota settings and usage must
// survive restarts without running a database server.
//
// SQLiteBackend uses a write-ahead log (WAL) for better concurrent read
// performance and checkpoints it periodically.
type SQLiteBackend struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	logger             *slog.Logger
	done               chan struct{}
	closeOnce          sync.Once
	now                func() time.Time

	// preparedStatements contains pre-compiled SQL statements for performance
	quotaStmt     *sql.Stmt
	setQuotaStmt  *sql.Stmt
	usageStmt     *sql.Stmt
	incrementStmt *sql.Stmt
	listStmt      *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a new SQLite storage backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath:             dbPath,
		CheckpointInterval: 5 * time.Minute,
		BusyTimeout:        5 * time.Second,
	})
}

// NewSQLiteBackendWithConfig creates a new SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.DBPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		logger:             slog.Default().With("component", "limits.storage.sqlite"),
		done:               make(chan struct{}),
		now:                time.Now,
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go backend.checkpointLoop()

	return backend, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ai_settings (
		tenant_id TEXT PRIMARY KEY,
		monthly_quota INTEGER,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ai_usage (
		tenant_id TEXT NOT NULL,
		period TEXT NOT NULL,
		request_count INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, period)
	);

	CREATE INDEX IF NOT EXISTS idx_ai_usage_period ON ai_usage(period);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.quotaStmt, err = s.db.Prepare(`
		SELECT monthly_quota FROM ai_settings WHERE tenant_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare quota statement: %w", err)
	}

	s.setQuotaStmt, err = s.db.Prepare(`
		INSERT INTO ai_settings (tenant_id, monthly_quota, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			monthly_quota = excluded.monthly_quota,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare set quota statement: %w", err)
	}

	s.usageStmt, err = s.db.Prepare(`
		SELECT request_count FROM ai_usage WHERE tenant_id = ? AND period = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare usage statement: %w", err)
	}

	s.incrementStmt, err = s.db.Prepare(`
		INSERT INTO ai_usage (tenant_id, period, request_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, period) DO UPDATE SET
			request_count = request_count + excluded.request_count,
			updated_at = excluded.updated_at
		RETURNING request_count
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare increment statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`
		SELECT tenant_id, period, request_count, updated_at
		FROM ai_usage
		WHERE period = ?
		ORDER BY tenant_id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	return nil
}

// MonthlyQuota implements Backend.
func (s *SQLiteBackend) MonthlyQuota(ctx context.Context, tenantID string) (*int64, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}

	var quota sql.NullInt64
	err := s.quotaStmt.QueryRowContext(ctx, tenantID).Scan(&quota)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quota: %w", err)
	}
	if !quota.Valid {
		return nil, nil
	}
	return &quota.Int64, nil
}

// SetMonthlyQuota implements Backend.
func (s *SQLiteBackend) SetMonthlyQuota(ctx context.Context, tenantID string, quota *int64) error {
	if err := validateTenant(tenantID); err != nil {
		return err
	}
	if err := validateQuota(quota); err != nil {
		return err
	}

	var value sql.NullInt64
	if quota != nil {
		value = sql.NullInt64{Int64: *quota, Valid: true}
	}

	if _, err := s.setQuotaStmt.ExecContext(ctx, tenantID, value, s.now().Unix()); err != nil {
		return fmt.Errorf("failed to save quota: %w", err)
	}
	return nil
}

// Usage implements Backend.
func (s *SQLiteBackend) Usage(ctx context.Context, tenantID, period string) (int64, error) {
	if err := validateTenant(tenantID); err != nil {
		return 0, err
	}

	var count int64
	err := s.usageStmt.QueryRowContext(ctx, tenantID, period).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load usage: %w", err)
	}
	return count, nil
}

// IncrementUsage implements Backend.
func (s *SQLiteBackend) IncrementUsage(ctx context.Context, tenantID, period string, delta int64) (int64, error) {
	if err := validateIncrement(tenantID, period, delta); err != nil {
		return 0, err
	}

	var count int64
	err := s.incrementStmt.QueryRowContext(ctx, tenantID, period, delta, s.now().Unix()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return count, nil
}

// ListUsage implements Backend.
func (s *SQLiteBackend) ListUsage(ctx context.Context, period string) ([]UsageRow, error) {
	rows, err := s.listStmt.QueryContext(ctx, period)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	usage := make([]UsageRow, 0)
	for rows.Next() {
		var row UsageRow
		var updatedAt int64
		if err := rows.Scan(&row.TenantID, &row.Period, &row.RequestCount, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row.UpdatedAt = time.Unix(updatedAt, 0)
		usage = append(usage, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return usage, nil
}

// Ping implements Backend.
func (s *SQLiteBackend) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{s.quotaStmt, s.setQuotaStmt, s.usageStmt, s.incrementStmt, s.listStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}

		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
				s.logger.Warn("wal checkpoint failed", "path", s.dbPath, "error", err)
			}
		case <-s.done:
			return
		}
	}
}
