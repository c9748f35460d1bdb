package config

import "time"

// Config is the root configuration structure for aigate.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts, the service token and the ingress limiter.
	Server ServerConfig `yaml:"server"`

	// RateLimit contains the per-tenant fixed-window policy.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Quota contains monthly quota gate configuration.
	Quota QuotaConfig `yaml:"quota"`

	// Storage selects the backend holding tenant settings and monthly usage.
	Storage StorageConfig `yaml:"storage"`

	// UsageLog contains configuration for the AI call log.
	UsageLog UsageLogConfig `yaml:"usage_log"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the HTTP API server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8085"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. CSV exports stream, so keep this generous.
	// Default: 60s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 65536
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// ServiceToken is the bearer token route handlers present on /v1 calls.
	// Empty disables authentication (local development only).
	ServiceToken string `yaml:"service_token"`

	// Ingress protects the service itself from a misbehaving client.
	Ingress IngressConfig `yaml:"ingress"`
}

// IngressConfig configures the per-client token bucket in front of /v1.
// It is unrelated to the tenant fixed window.
type IngressConfig struct {
	// Enabled turns the ingress limiter on.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// RequestsPerSecond is the sustained rate per client address.
	// Default: 200
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the bucket size.
	// Default: 400
	Burst int `yaml:"burst"`
}

// RateLimitConfig contains the per-tenant fixed-window policy.
type RateLimitConfig struct {
	// MaxRequests is the number of AI calls a tenant may start per window.
	// Default: 10
	MaxRequests int `yaml:"max_requests"`

	// Window is the fixed window length.
	// Default: 60s
	Window time.Duration `yaml:"window"`

	// SweepInterval removes expired windows periodically. 0 disables the
	// sweeper and windows are kept for the life of the process.
	// Default: 0
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// QuotaConfig contains monthly quota gate configuration.
type QuotaConfig struct {
	// FailurePolicy decides what happens when quota state cannot be read.
	// Options: "closed" (deny), "open" (admit)
	// Default: "closed"
	FailurePolicy string `yaml:"failure_policy"`

	// Timezone is the IANA zone periods are computed in. It must match the
	// zone of whatever else writes usage rows.
	// Default: "Local"
	Timezone string `yaml:"timezone"`
}

// StorageConfig selects the backend for tenant settings and monthly usage.
type StorageConfig struct {
	// Backend is the storage backend type.
	// Options: "memory", "sqlite", "postgres"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite StorageSQLiteConfig `yaml:"sqlite"`

	// Postgres contains PostgreSQL-specific configuration.
	Postgres PostgresConfig `yaml:"postgres"`
}

// StorageSQLiteConfig contains SQLite configuration for the limits backend.
type StorageSQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/aigate.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long a writer waits for the lock.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is the WAL checkpoint period.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// PostgresConfig contains PostgreSQL configuration.
type PostgresConfig struct {
	// DSN is the connection string, e.g.
	// "postgres://aigate:secret@db:5432/garage?sslmode=require".
	DSN string `yaml:"dsn"`

	// MaxConns is the maximum pool size.
	// Default: 10
	MaxConns int32 `yaml:"max_conns"`

	// ConnectTimeout bounds the initial connection and ping.
	// Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// CreateSchema creates ai_settings and ai_usage when missing. Leave off
	// when the tables are owned by the application's migrations.
	// Default: false
	CreateSchema bool `yaml:"create_schema"`
}

// UsageLogConfig contains configuration for the AI call log.
type UsageLogConfig struct {
	// Enabled controls whether calls are logged.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Backend is the call log storage backend.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Recorder contains async recorder configuration.
	Recorder RecorderConfig `yaml:"recorder"`

	// Retention contains pruning configuration.
	Retention RetentionConfig `yaml:"retention"`

	// Export contains CSV export configuration.
	Export ExportConfig `yaml:"export"`
}

// SQLiteConfig contains SQLite configuration for the call log.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/calls.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables Write-Ahead Logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RecorderConfig contains configuration for the async call recorder.
type RecorderConfig struct {
	// AsyncBuffer is the size of the write channel buffer.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout bounds enqueueing and the storage write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxErrorLength truncates stored provider error text.
	// Default: 500
	MaxErrorLength int `yaml:"max_error_length"`
}

// RetentionConfig contains call log retention configuration.
type RetentionConfig struct {
	// Days is how long call records are kept. 0 keeps them forever.
	// Default: 90
	Days int `yaml:"days"`

	// PruneSchedule is a standard cron expression.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`

	// ArchiveBeforeDelete writes pruned records to JSON first.
	// Default: false
	ArchiveBeforeDelete bool `yaml:"archive_before_delete"`

	// ArchivePath is the archive directory.
	// Default: "data/archives/"
	ArchivePath string `yaml:"archive_path"`

	// MaxRecords caps the log size. 0 means unlimited.
	// Default: 0
	MaxRecords int64 `yaml:"max_records"`
}

// ExportConfig contains call log export configuration.
type ExportConfig struct {
	// MaxRows caps a single CSV export.
	// Default: 10000
	MaxRows int `yaml:"max_rows"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII enables automatic PII redaction in logs.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// RedactPatterns contains custom PII redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom PII redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether the Prometheus endpoint is served.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Exporter determines the trace exporter to use.
	// Options: "otlp", "stdout"
	// Default: "otlp"
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP gRPC collector endpoint, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the OTLP connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout is the export timeout.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// ServiceName is the service name in traces.
	// Default: "aigate"
	ServiceName string `yaml:"service_name"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout bounds each readiness check.
	// Default: 2s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}
