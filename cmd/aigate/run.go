package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"garagehq/aigate/pkg/cli"
	"garagehq/aigate/pkg/config"
	"garagehq/aigate/pkg/limits"
	"garagehq/aigate/pkg/limits/ratelimit"
	"garagehq/aigate/pkg/server"
	"garagehq/aigate/pkg/telemetry/health"
	"garagehq/aigate/pkg/telemetry/logging"
	"garagehq/aigate/pkg/telemetry/metrics"
	"garagehq/aigate/pkg/telemetry/tracing"
	"garagehq/aigate/pkg/usagelog"
	"garagehq/aigate/pkg/usagelog/recorder"
	"garagehq/aigate/pkg/usagelog/retention"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	watch         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the aigate API server",
	Long: `Start the aigate API server with the specified configuration.

The server answers admission checks and usage reports for every tenant,
persists monthly usage to the configured store and writes each denial and
finished call to the call log.

Examples:
  # Start with default config
  aigate run

  # Start with custom config
  aigate run --config /etc/aigate/config.yaml

  # Override listen address
  aigate run --listen 0.0.0.0:8085

  # Validate config without starting server
  aigate run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting server")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", true, "reload rate limit and log level when the config file changes")
}

func runServer(cmd *cobra.Command, args []string) error {
	path := configPath()

	// Load configuration
	if err := config.Initialize(path); err != nil {
		return cli.NewConfigError(cfgFile, fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()

	applyFlagOverrides(cfg)

	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	logging.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	printBanner(cmd, cfg, path)

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
	limitMetrics := limits.NewMetrics(collector.Registry())

	// Tenant settings and monthly usage
	slog.Info("opening storage", "backend", cfg.Storage.Backend)
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer backend.Close()
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Storage ready (%s)\n", cfg.Storage.Backend)

	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
	checker.RegisterCheck("storage", health.PingCheck(backend))

	// Call log
	var (
		callLog  usagelog.Storage
		callRec  *recorder.Recorder
		admitDep admitterDeps
	)
	callLog, err = openCallLog(cfg)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	if callLog != nil {
		defer callLog.Close()

		callRec = recorder.NewRecorder(callLog, &recorder.Config{
			Enabled:        true,
			AsyncBuffer:    cfg.UsageLog.Recorder.AsyncBuffer,
			WriteTimeout:   cfg.UsageLog.Recorder.WriteTimeout,
			MaxErrorLength: cfg.UsageLog.Recorder.MaxErrorLength,
		})
		// Closed before the storage so queued records are flushed.
		defer callRec.Close()
		admitDep.callLog = callRec

		if err := collector.RegisterGaugeFunc("call_log_pending", "Call records queued for writing.", func() float64 {
			return float64(callRec.Pending())
		}); err != nil {
			slog.Warn("failed to register call log gauge", "error", err)
		}

		if cfg.UsageLog.Retention.PruneSchedule != "" {
			pruner := retention.NewPruner(callLog, retentionConfig(cfg),
				retention.WithMetrics(retention.NewMetrics(collector.Registry())))
			if err := pruner.Start(ctx); err != nil {
				slog.Warn("failed to start retention scheduler", "error", err)
			} else {
				defer pruner.Stop()
				if next := pruner.NextPruning(); next != nil {
					slog.Debug("call log retention scheduler started", "next_pruning", next)
				}
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✓ Call log ready (%s)\n", cfg.UsageLog.Backend)
	}

	admitDep.metrics = limitMetrics
	admitter, err := buildAdmitter(cfg, backend, admitDep)
	if err != nil {
		return err
	}
	limiter := admitter.Limiter()
	limiter.Start(ctx)
	defer limiter.Close()

	policy := limiter.Policy()
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Rate limit %d requests per %s, quota failure policy %s\n",
		policy.MaxRequests, policy.Window, cfg.Quota.FailurePolicy)

	// Hot reload of the tunables that are safe to change in place.
	config.Subscribe(func(next *config.Config) {
		applyReload(logger, limiter, next)
	})
	if runFlags.watch && path != "" {
		watcher, err := config.NewWatcher(path, 0)
		if err != nil {
			slog.Warn("config watcher disabled", "error", err)
		} else {
			go func() {
				if err := watcher.Watch(ctx); err != nil {
					slog.Warn("config watcher stopped", "error", err)
				}
			}()
			defer watcher.Stop()
		}
	}

	srv, err := server.New(cfg, server.Dependencies{
		Admitter: admitter,
		Backend:  backend,
		CallLog:  callLog,
		Health:   checker,
		Metrics:  collector,
	}, server.BuildInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintf(out, "✓ Server listening on %s\n", cfg.Server.ListenAddress)
	fmt.Fprintf(out, "✓ Health endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Health.LivenessPath)
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

// applyFlagOverrides applies the run command's flags on top of cfg. Flags
// win over the file on startup and on every reload.
func applyFlagOverrides(cfg *config.Config) {
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
}

// applyReload applies a reloaded configuration. Storage, listen address and
// quota settings need a restart; a changed window or log level does not.
func applyReload(logger *logging.Logger, limiter *ratelimit.Limiter, next *config.Config) {
	applyFlagOverrides(next)
	if err := logger.SetLevel(next.Telemetry.Logging.Level); err != nil {
		slog.Warn("ignoring reloaded log level", "level", next.Telemetry.Logging.Level, "error", err)
	}

	policy := ratelimit.Policy{
		MaxRequests: next.RateLimit.MaxRequests,
		Window:      next.RateLimit.Window,
	}
	if policy == limiter.Policy() {
		return
	}
	if err := limiter.SetPolicy(policy); err != nil {
		slog.Warn("ignoring reloaded rate limit", "error", err)
	}
}

func retentionConfig(cfg *config.Config) *retention.Config {
	r := cfg.UsageLog.Retention
	return &retention.Config{
		RetentionDays:       r.Days,
		PruneSchedule:       r.PruneSchedule,
		ArchiveBeforeDelete: r.ArchiveBeforeDelete,
		ArchivePath:         r.ArchivePath,
		MaxRecords:          r.MaxRecords,
	}
}

func printBanner(cmd *cobra.Command, cfg *config.Config, path string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "aigate v%s\n", Version)
	if path == "" {
		fmt.Fprintln(out, "No configuration file found, using defaults")
	} else {
		fmt.Fprintf(out, "Loading configuration from: %s\n", path)
	}
	fmt.Fprintln(out, "✓ Configuration loaded")

	slog.Debug("storage configured", "backend", cfg.Storage.Backend)
	if cfg.UsageLog.Enabled {
		slog.Debug("call log enabled", "backend", cfg.UsageLog.Backend)
	}
}
