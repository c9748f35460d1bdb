package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"garagehq/aigate/pkg/cli"
)

var checkFlags struct {
	connect bool
	timeout time.Duration
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration",
	Long: `Load and validate the configuration, including AIGATE_* environment
overrides, and print the effective limits.

With --connect the storage backend is opened and pinged and the call log
is opened, so a deploy can fail before traffic is shifted.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().BoolVar(&checkFlags.connect, "connect", false, "open and ping the configured stores")
	checkCmd.Flags().DurationVar(&checkFlags.timeout, "timeout", 10*time.Second, "timeout for --connect")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := quotaLocation(cfg); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "✓ Configuration valid")
	fmt.Fprintf(out, "  rate limit:     %d requests per %s\n", cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	fmt.Fprintf(out, "  quota:          fail %s, periods in %s\n", cfg.Quota.FailurePolicy, cfg.Quota.Timezone)
	fmt.Fprintf(out, "  storage:        %s\n", cfg.Storage.Backend)
	if cfg.UsageLog.Enabled {
		fmt.Fprintf(out, "  call log:       %s, %d days retention\n", cfg.UsageLog.Backend, cfg.UsageLog.Retention.Days)
	} else {
		fmt.Fprintln(out, "  call log:       disabled")
	}

	if !checkFlags.connect {
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), checkFlags.timeout)
	defer cancel()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("check", err)
	}
	defer backend.Close()
	if err := backend.Ping(ctx); err != nil {
		return cli.NewCommandError("check", fmt.Errorf("storage ping failed: %w", err))
	}
	fmt.Fprintf(out, "✓ Storage reachable (%s)\n", cfg.Storage.Backend)

	callLog, err := openCallLog(cfg)
	if err != nil {
		return cli.NewCommandError("check", err)
	}
	if callLog != nil {
		defer callLog.Close()
		fmt.Fprintf(out, "✓ Call log reachable (%s)\n", cfg.UsageLog.Backend)
	}
	return nil
}
