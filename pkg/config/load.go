package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "AIGATE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded on top of Defaults(), remaining zero values are
// defaulted, and the result is validated. An empty path yields the defaults.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides
// for that.
func LoadConfig(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention AIGATE_SECTION_FIELD (e.g., AIGATE_SERVER_LISTEN_ADDRESS) and
// always take precedence over the file, so an invalid file value can be
// corrected from the environment.
//
// The loading sequence is:
// 1. Load YAML from file on top of the defaults
// 2. Apply environment variable overrides
// 3. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// decodeFile decodes path on top of Defaults() and fills remaining zero
// values. The result is not validated.
func decodeFile(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. A value that does not parse is reported as a field error
// rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	e := &envReader{}

	// Server
	e.str("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	e.str("SERVER_SERVICE_TOKEN", &cfg.Server.ServiceToken)
	e.duration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	e.duration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	e.duration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	e.boolean("SERVER_INGRESS_ENABLED", &cfg.Server.Ingress.Enabled)
	e.float("SERVER_INGRESS_REQUESTS_PER_SECOND", &cfg.Server.Ingress.RequestsPerSecond)
	e.integer("SERVER_INGRESS_BURST", &cfg.Server.Ingress.Burst)

	// Rate limit
	e.integer("RATE_LIMIT_MAX_REQUESTS", &cfg.RateLimit.MaxRequests)
	e.duration("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)
	e.duration("RATE_LIMIT_SWEEP_INTERVAL", &cfg.RateLimit.SweepInterval)

	// Quota
	e.str("QUOTA_FAILURE_POLICY", &cfg.Quota.FailurePolicy)
	e.str("QUOTA_TIMEZONE", &cfg.Quota.Timezone)

	// Storage
	e.str("STORAGE_BACKEND", &cfg.Storage.Backend)
	e.str("STORAGE_SQLITE_PATH", &cfg.Storage.SQLite.Path)
	e.str("STORAGE_POSTGRES_DSN", &cfg.Storage.Postgres.DSN)
	e.boolean("STORAGE_POSTGRES_CREATE_SCHEMA", &cfg.Storage.Postgres.CreateSchema)

	// Usage log
	e.boolean("USAGE_LOG_ENABLED", &cfg.UsageLog.Enabled)
	e.str("USAGE_LOG_BACKEND", &cfg.UsageLog.Backend)
	e.str("USAGE_LOG_SQLITE_PATH", &cfg.UsageLog.SQLite.Path)
	e.integer("USAGE_LOG_RETENTION_DAYS", &cfg.UsageLog.Retention.Days)
	e.str("USAGE_LOG_RETENTION_PRUNE_SCHEDULE", &cfg.UsageLog.Retention.PruneSchedule)

	// Telemetry
	e.str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	e.str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	e.boolean("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	e.boolean("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	e.str("TELEMETRY_TRACING_EXPORTER", &cfg.Telemetry.Tracing.Exporter)
	e.str("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	e.float("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	if len(e.errs) > 0 {
		return ValidationError{Errors: e.errs}
	}
	return nil
}

// envReader reads AIGATE_* variables into config fields, collecting parse
// errors.
type envReader struct {
	errs []FieldError
}

func (e *envReader) lookup(name string) (string, bool) {
	val := os.Getenv(EnvPrefix + name)
	return val, val != ""
}

func (e *envReader) fail(name, val, kind string) {
	e.errs = append(e.errs, FieldError{
		Field:   EnvPrefix + name,
		Message: fmt.Sprintf("cannot parse %q as %s", val, kind),
	})
}

func (e *envReader) str(name string, dst *string) {
	if val, ok := e.lookup(name); ok {
		*dst = val
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if val, ok := e.lookup(name); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			e.fail(name, val, "a boolean")
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(name string, dst *int) {
	if val, ok := e.lookup(name); ok {
		i, err := strconv.Atoi(val)
		if err != nil {
			e.fail(name, val, "an integer")
			return
		}
		*dst = i
	}
}

func (e *envReader) float(name string, dst *float64) {
	if val, ok := e.lookup(name); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			e.fail(name, val, "a number")
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if val, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.fail(name, val, "a duration")
			return
		}
		*dst = d
	}
}
