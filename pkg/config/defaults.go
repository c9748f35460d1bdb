package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress     = "127.0.0.1:8085"
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultMaxHeaderBytes    = 65536
	DefaultIngressEnabled    = true
	DefaultIngressRPS        = 200.0
	DefaultIngressBurst      = 400
	DefaultRateLimitMax      = 10
	DefaultRateLimitWindow   = 60 * time.Second
	DefaultQuotaFailPolicy   = "closed"
	DefaultQuotaTimezone     = "Local"
	DefaultStorageBackend    = "sqlite"
	DefaultStorageSQLitePath = "data/aigate.db"
	DefaultBusyTimeout       = 5 * time.Second
	DefaultCheckpointPeriod  = 5 * time.Minute
	DefaultPostgresMaxConns  = int32(10)
	DefaultPostgresTimeout   = 10 * time.Second

	// Usage log defaults
	DefaultUsageLogEnabled       = true
	DefaultUsageLogBackend       = "sqlite"
	DefaultUsageLogSQLitePath    = "data/calls.db"
	DefaultUsageLogMaxOpenConns  = 10
	DefaultUsageLogMaxIdleConns  = 5
	DefaultUsageLogWALMode       = true
	DefaultRecorderAsyncBuffer   = 1000
	DefaultRecorderWriteTimeout  = 5 * time.Second
	DefaultRecorderMaxErrorLen   = 500
	DefaultRetentionDays         = 90
	DefaultRetentionSchedule     = "0 3 * * *"
	DefaultRetentionArchivePath  = "data/archives/"
	DefaultExportMaxRows         = 10000

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultLoggingRedactPII   = true
	DefaultMetricsEnabled     = true
	DefaultPrometheusPath     = "/metrics"
	DefaultTracingExporter    = "otlp"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingInsecure    = true
	DefaultTracingTimeout     = 10 * time.Second
	DefaultTracingServiceName = "aigate"
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
	DefaultHealthCheckTimeout = 2 * time.Second
)

// Defaults returns a configuration with every default applied. LoadConfig
// decodes YAML on top of it, so booleans and counters that default to a
// non-zero value can still be turned off explicitly in the file.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   DefaultListenAddress,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			MaxHeaderBytes:  DefaultMaxHeaderBytes,
			Ingress: IngressConfig{
				Enabled:           DefaultIngressEnabled,
				RequestsPerSecond: DefaultIngressRPS,
				Burst:             DefaultIngressBurst,
			},
		},
		RateLimit: RateLimitConfig{
			MaxRequests: DefaultRateLimitMax,
			Window:      DefaultRateLimitWindow,
		},
		Quota: QuotaConfig{
			FailurePolicy: DefaultQuotaFailPolicy,
			Timezone:      DefaultQuotaTimezone,
		},
		Storage: StorageConfig{
			Backend: DefaultStorageBackend,
			SQLite: StorageSQLiteConfig{
				Path:               DefaultStorageSQLitePath,
				BusyTimeout:        DefaultBusyTimeout,
				CheckpointInterval: DefaultCheckpointPeriod,
			},
			Postgres: PostgresConfig{
				MaxConns:       DefaultPostgresMaxConns,
				ConnectTimeout: DefaultPostgresTimeout,
			},
		},
		UsageLog: UsageLogConfig{
			Enabled: DefaultUsageLogEnabled,
			Backend: DefaultUsageLogBackend,
			SQLite: SQLiteConfig{
				Path:         DefaultUsageLogSQLitePath,
				MaxOpenConns: DefaultUsageLogMaxOpenConns,
				MaxIdleConns: DefaultUsageLogMaxIdleConns,
				WALMode:      DefaultUsageLogWALMode,
				BusyTimeout:  DefaultBusyTimeout,
			},
			Recorder: RecorderConfig{
				AsyncBuffer:    DefaultRecorderAsyncBuffer,
				WriteTimeout:   DefaultRecorderWriteTimeout,
				MaxErrorLength: DefaultRecorderMaxErrorLen,
			},
			Retention: RetentionConfig{
				Days:          DefaultRetentionDays,
				PruneSchedule: DefaultRetentionSchedule,
				ArchivePath:   DefaultRetentionArchivePath,
			},
			Export: ExportConfig{
				MaxRows: DefaultExportMaxRows,
			},
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{
				Level:     DefaultLoggingLevel,
				Format:    DefaultLoggingFormat,
				RedactPII: DefaultLoggingRedactPII,
			},
			Metrics: MetricsConfig{
				Enabled: DefaultMetricsEnabled,
				Path:    DefaultPrometheusPath,
			},
			Tracing: TracingConfig{
				Exporter:    DefaultTracingExporter,
				Insecure:    DefaultTracingInsecure,
				Timeout:     DefaultTracingTimeout,
				Sampler:     DefaultTracingSampler,
				SampleRatio: DefaultTracingSampleRatio,
				ServiceName: DefaultTracingServiceName,
			},
			Health: HealthConfig{
				LivenessPath:  DefaultLivenessPath,
				ReadinessPath: DefaultReadinessPath,
				CheckTimeout:  DefaultHealthCheckTimeout,
			},
		},
	}
}

// ApplyDefaults fills fields whose zero value is never meaningful, e.g. an
// empty listen address or a zero window. Zero values that carry meaning
// (retention days, max records, sweep interval) are left alone.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.Ingress.RequestsPerSecond == 0 {
		cfg.Server.Ingress.RequestsPerSecond = DefaultIngressRPS
	}
	if cfg.Server.Ingress.Burst == 0 {
		cfg.Server.Ingress.Burst = DefaultIngressBurst
	}

	// Rate limit defaults
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = DefaultRateLimitMax
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = DefaultRateLimitWindow
	}

	// Quota defaults
	if cfg.Quota.FailurePolicy == "" {
		cfg.Quota.FailurePolicy = DefaultQuotaFailPolicy
	}
	if cfg.Quota.Timezone == "" {
		cfg.Quota.Timezone = DefaultQuotaTimezone
	}

	// Storage defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = DefaultStorageSQLitePath
	}
	if cfg.Storage.SQLite.BusyTimeout == 0 {
		cfg.Storage.SQLite.BusyTimeout = DefaultBusyTimeout
	}
	if cfg.Storage.SQLite.CheckpointInterval == 0 {
		cfg.Storage.SQLite.CheckpointInterval = DefaultCheckpointPeriod
	}
	if cfg.Storage.Postgres.MaxConns == 0 {
		cfg.Storage.Postgres.MaxConns = DefaultPostgresMaxConns
	}
	if cfg.Storage.Postgres.ConnectTimeout == 0 {
		cfg.Storage.Postgres.ConnectTimeout = DefaultPostgresTimeout
	}

	// Usage log defaults
	if cfg.UsageLog.Backend == "" {
		cfg.UsageLog.Backend = DefaultUsageLogBackend
	}
	if cfg.UsageLog.SQLite.Path == "" {
		cfg.UsageLog.SQLite.Path = DefaultUsageLogSQLitePath
	}
	if cfg.UsageLog.SQLite.MaxOpenConns == 0 {
		cfg.UsageLog.SQLite.MaxOpenConns = DefaultUsageLogMaxOpenConns
	}
	if cfg.UsageLog.SQLite.MaxIdleConns == 0 {
		cfg.UsageLog.SQLite.MaxIdleConns = DefaultUsageLogMaxIdleConns
	}
	if cfg.UsageLog.SQLite.BusyTimeout == 0 {
		cfg.UsageLog.SQLite.BusyTimeout = DefaultBusyTimeout
	}
	if cfg.UsageLog.Recorder.AsyncBuffer == 0 {
		cfg.UsageLog.Recorder.AsyncBuffer = DefaultRecorderAsyncBuffer
	}
	if cfg.UsageLog.Recorder.WriteTimeout == 0 {
		cfg.UsageLog.Recorder.WriteTimeout = DefaultRecorderWriteTimeout
	}
	if cfg.UsageLog.Recorder.MaxErrorLength == 0 {
		cfg.UsageLog.Recorder.MaxErrorLength = DefaultRecorderMaxErrorLen
	}
	if cfg.UsageLog.Retention.ArchivePath == "" {
		cfg.UsageLog.Retention.ArchivePath = DefaultRetentionArchivePath
	}
	if cfg.UsageLog.Export.MaxRows == 0 {
		cfg.UsageLog.Export.MaxRows = DefaultExportMaxRows
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Telemetry.Tracing.Exporter == "" {
		cfg.Telemetry.Tracing.Exporter = DefaultTracingExporter
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Telemetry.Health.LivenessPath == "" {
		cfg.Telemetry.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Telemetry.Health.ReadinessPath == "" {
		cfg.Telemetry.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Telemetry.Health.CheckTimeout == 0 {
		cfg.Telemetry.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}
