package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the call log schema.
const Schema = `
-- AI call log
CREATE TABLE IF NOT EXISTS ai_calls (
    id TEXT PRIMARY KEY,
    request_id TEXT,

    tenant_id TEXT NOT NULL,
    feature TEXT NOT NULL,

    outcome TEXT NOT NULL,
    period TEXT NOT NULL,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    tokens INTEGER NOT NULL DEFAULT 0,
    error TEXT,

    recorded_at TIMESTAMP NOT NULL
);

-- Schema version table
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_ai_calls_recorded_at ON ai_calls(recorded_at);
CREATE INDEX IF NOT EXISTS idx_ai_calls_tenant ON ai_calls(tenant_id, period);
CREATE INDEX IF NOT EXISTS idx_ai_calls_outcome ON ai_calls(outcome);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
