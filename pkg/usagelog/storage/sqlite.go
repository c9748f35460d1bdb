package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"garagehq/aigate/pkg/usagelog"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/calls.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

const selectColumns = `id, request_id, tenant_id, feature, outcome, period, latency_ms, tokens, error, recorded_at`

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db         *sql.DB
	config     *SQLiteConfig
	insertStmt *sql.Stmt
	logger     *slog.Logger
}

// NewSQLiteStorage creates a new SQLite storage backend.
// It initializes the database schema and enables WAL mode if configured.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "usagelog.storage.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, usagelog.NewStorageError("sqlite", "open", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStorage{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)

	return s, nil
}

// initialize sets up the database schema and enables WAL mode.
func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return usagelog.NewStorageError("sqlite", "enable_wal", err)
		}
	}

	busyTimeoutMs := s.config.BusyTimeout.Milliseconds()
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return usagelog.NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return usagelog.NewStorageError("sqlite", "create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return usagelog.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return usagelog.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return usagelog.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO ai_calls (` + selectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return usagelog.NewStorageError("sqlite", "prepare_insert", err)
	}

	return nil
}

// Store persists a call record to the database.
func (s *SQLiteStorage) Store(ctx context.Context, record *usagelog.CallRecord) error {
	var errorVal interface{}
	if record.Error != "" {
		errorVal = record.Error
	}

	_, err := s.insertStmt.ExecContext(ctx,
		record.ID, record.RequestID,
		record.TenantID, record.Feature,
		string(record.Outcome), record.Period, record.LatencyMs, record.Tokens, errorVal,
		record.RecordedAt.UTC(),
	)
	if err != nil {
		return usagelog.NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query retrieves call records matching the query filters.
func (s *SQLiteStorage) Query(ctx context.Context, query *usagelog.Query) ([]*usagelog.CallRecord, error) {
	sqlQuery, args := s.buildSelect(query)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, usagelog.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	records := []*usagelog.CallRecord{}
	for rows.Next() {
		record, err := scanRow(rows)
		if err != nil {
			return nil, usagelog.NewStorageError("sqlite", "scan", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, usagelog.NewStorageError("sqlite", "query", err)
	}

	return records, nil
}

// QueryStream returns a channel of call records for memory-efficient streaming.
// The channels will be closed when the query completes or errors.
func (s *SQLiteStorage) QueryStream(ctx context.Context, query *usagelog.Query) (<-chan *usagelog.CallRecord, <-chan error, error) {
	recordsCh := make(chan *usagelog.CallRecord, 100)
	errCh := make(chan error, 1)

	sqlQuery, args := s.buildSelect(query)

	go func() {
		defer close(recordsCh)
		defer close(errCh)

		rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
		if err != nil {
			errCh <- usagelog.NewStorageError("sqlite", "query_stream", err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			record, err := scanRow(rows)
			if err != nil {
				errCh <- usagelog.NewStorageError("sqlite", "scan", err)
				return
			}

			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case recordsCh <- record:
			}
		}

		if err := rows.Err(); err != nil {
			errCh <- usagelog.NewStorageError("sqlite", "query_stream", err)
		}
	}()

	return recordsCh, errCh, nil
}

// Count returns the number of call records matching the query filters.
func (s *SQLiteStorage) Count(ctx context.Context, query *usagelog.Query) (int64, error) {
	whereClause, args := buildWhereClause(query)

	sqlQuery := "SELECT COUNT(*) FROM ai_calls"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, usagelog.NewStorageError("sqlite", "count", err)
	}
	return count, nil
}

// Delete removes call records matching the query filters.
// When the query sets a Limit, the oldest matching records are removed first.
// Returns the number of records deleted.
func (s *SQLiteStorage) Delete(ctx context.Context, query *usagelog.Query) (int64, error) {
	whereClause, args := buildWhereClause(query)

	sqlQuery := "DELETE FROM ai_calls"
	if query.Limit > 0 {
		inner := "SELECT id FROM ai_calls"
		if whereClause != "" {
			inner += " WHERE " + whereClause
		}
		inner += fmt.Sprintf(" ORDER BY recorded_at ASC LIMIT %d", query.Limit)
		sqlQuery += " WHERE id IN (" + inner + ")"
	} else if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}

	result, err := s.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, usagelog.NewStorageError("sqlite", "delete", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, usagelog.NewStorageError("sqlite", "delete", err)
	}
	return count, nil
}

// Close releases resources held by the storage backend.
func (s *SQLiteStorage) Close() error {
	if s.insertStmt != nil {
		s.insertStmt.Close()
	}

	if err := s.db.Close(); err != nil {
		return usagelog.NewStorageError("sqlite", "close", err)
	}

	s.logger.Info("SQLite storage closed")
	return nil
}

func (s *SQLiteStorage) buildSelect(query *usagelog.Query) (string, []interface{}) {
	whereClause, args := buildWhereClause(query)

	sqlQuery := "SELECT " + selectColumns + " FROM ai_calls"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}

	sortOrder := "DESC"
	if strings.EqualFold(query.SortOrder, "asc") {
		sortOrder = "ASC"
	}
	sqlQuery += " ORDER BY recorded_at " + sortOrder + ", id " + sortOrder

	// Zero means unbounded; the HTTP layer applies query.ApplyDefaults.
	limit := -1
	if query.Limit > 0 {
		limit = query.Limit
	}
	sqlQuery += fmt.Sprintf(" LIMIT %d", limit)

	if query.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", query.Offset)
	}

	return sqlQuery, args
}

// buildWhereClause builds a SQL WHERE clause from query filters.
// Returns the WHERE clause (without "WHERE" keyword) and the query arguments.
func buildWhereClause(query *usagelog.Query) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if query.StartTime != nil {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, query.StartTime.UTC())
	}
	if query.EndTime != nil {
		conditions = append(conditions, "recorded_at <= ?")
		args = append(args, query.EndTime.UTC())
	}
	if query.TenantID != "" {
		conditions = append(conditions, "tenant_id = ?")
		args = append(args, query.TenantID)
	}
	if query.Feature != "" {
		conditions = append(conditions, "feature = ?")
		args = append(args, query.Feature)
	}
	if query.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, string(query.Outcome))
	}
	if query.Period != "" {
		conditions = append(conditions, "period = ?")
		args = append(args, query.Period)
	}

	return strings.Join(conditions, " AND "), args
}

// scanRow scans a database row into a CallRecord.
func scanRow(row *sql.Rows) (*usagelog.CallRecord, error) {
	var record usagelog.CallRecord
	var requestID, errorVal sql.NullString
	var outcome string

	err := row.Scan(
		&record.ID, &requestID,
		&record.TenantID, &record.Feature,
		&outcome, &record.Period, &record.LatencyMs, &record.Tokens, &errorVal,
		&record.RecordedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Outcome = usagelog.Outcome(outcome)
	if requestID.Valid {
		record.RequestID = requestID.String
	}
	if errorVal.Valid {
		record.Error = errorVal.String
	}
	return &record, nil
}
