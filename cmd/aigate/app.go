package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"garagehq/aigate/pkg/cli"
	"garagehq/aigate/pkg/config"
	"garagehq/aigate/pkg/limits"
	"garagehq/aigate/pkg/limits/quota"
	"garagehq/aigate/pkg/limits/ratelimit"
	"garagehq/aigate/pkg/limits/storage"
	"garagehq/aigate/pkg/usagelog"
	usagestorage "garagehq/aigate/pkg/usagelog/storage"
)

// configPath returns the file to load. A missing default config.yaml means
// "run on defaults"; a missing file named explicitly is an error.
func configPath() string {
	if !rootCmd.PersistentFlags().Changed("config") {
		if _, err := os.Stat(cfgFile); errors.Is(err, fs.ErrNotExist) {
			return ""
		}
	}
	return cfgFile
}

// loadConfig loads the configuration with environment overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(configPath())
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err.Error())
	}
	return cfg, nil
}

// openBackend opens the store holding tenant quotas and monthly usage.
func openBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	sc := cfg.Storage
	if sc.Backend == storage.TypeSQLite {
		if err := ensureDir(sc.SQLite.Path); err != nil {
			return nil, err
		}
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout(sc))
	defer cancel()

	backend, err := storage.New(connectCtx, storage.Config{
		Type:               sc.Backend,
		SQLitePath:         sc.SQLite.Path,
		BusyTimeout:        sc.SQLite.BusyTimeout,
		CheckpointInterval: sc.SQLite.CheckpointInterval,
		PostgresDSN:        sc.Postgres.DSN,
		MaxConns:           sc.Postgres.MaxConns,
		CreateSchema:       sc.Postgres.CreateSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", sc.Backend, err)
	}
	return backend, nil
}

func connectTimeout(sc config.StorageConfig) time.Duration {
	if sc.Postgres.ConnectTimeout > 0 {
		return sc.Postgres.ConnectTimeout
	}
	return 10 * time.Second
}

// openCallLog opens the call log storage. It returns nil, nil when the
// call log is disabled.
func openCallLog(cfg *config.Config) (usagelog.Storage, error) {
	ul := cfg.UsageLog
	if !ul.Enabled {
		return nil, nil
	}

	switch ul.Backend {
	case "memory":
		return usagestorage.NewMemoryStorage(), nil
	case "sqlite", "":
		if err := ensureDir(ul.SQLite.Path); err != nil {
			return nil, err
		}
		s, err := usagestorage.NewSQLiteStorage(&usagestorage.SQLiteConfig{
			Path:         ul.SQLite.Path,
			MaxOpenConns: ul.SQLite.MaxOpenConns,
			MaxIdleConns: ul.SQLite.MaxIdleConns,
			WALMode:      ul.SQLite.WALMode,
			BusyTimeout:  ul.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open call log: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported call log backend: %s", ul.Backend)
	}
}

// ensureDir creates the parent directory of a database file.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// quotaLocation resolves quota.timezone.
func quotaLocation(cfg *config.Config) (*time.Location, error) {
	loc, err := time.LoadLocation(cfg.Quota.Timezone)
	if err != nil {
		return nil, cli.NewConfigError("quota.timezone", err.Error())
	}
	return loc, nil
}

// admitterDeps are the optional collaborators of buildAdmitter.
type admitterDeps struct {
	callLog limits.CallLogger
	metrics *limits.Metrics
}

// buildAdmitter wires the limiter and the quota gate over backend.
func buildAdmitter(cfg *config.Config, backend storage.Backend, deps admitterDeps) (*limits.Admitter, error) {
	loc, err := quotaLocation(cfg)
	if err != nil {
		return nil, err
	}
	policy, err := quota.ParseFailurePolicy(cfg.Quota.FailurePolicy)
	if err != nil {
		return nil, cli.NewConfigError("quota.failure_policy", err.Error())
	}

	limiter := ratelimit.NewLimiter(
		ratelimit.Policy{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window,
		},
		ratelimit.WithSweepInterval(cfg.RateLimit.SweepInterval),
	)
	gate := quota.NewGate(backend, backend,
		quota.WithLocation(loc),
		quota.WithFailurePolicy(policy),
	)

	return limits.NewAdmitter(limits.Config{
		Limiter: limiter,
		Quota:   gate,
		Usage:   backend,
		CallLog: deps.callLog,
		Metrics: deps.metrics,
	})
}

// currentPeriod is the YYYY-MM key of now in the configured quota zone.
func currentPeriod(cfg *config.Config) (string, error) {
	loc, err := quotaLocation(cfg)
	if err != nil {
		return "", err
	}
	return quota.PeriodKey(time.Now().In(loc)), nil
}
