package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"garagehq/aigate/pkg/cli"
	"garagehq/aigate/pkg/limits/storage"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Manage tenant monthly quotas",
	Long: `Read and change the monthly AI call quota of a tenant.

A tenant without a quota is unlimited. Quota changes apply to the current
month immediately; usage already counted is kept.`,
}

var quotaGetCmd = &cobra.Command{
	Use:   "get <tenant>",
	Short: "Show a tenant's quota and this month's usage",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuotaGet,
}

var quotaSetCmd = &cobra.Command{
	Use:   "set <tenant> <monthly-quota>",
	Short: "Set a tenant's monthly quota",
	Example: `  # 500 AI calls per month
  aigate quota set garage-42 500

  # Block AI calls for the rest of the month
  aigate quota set garage-42 0`,
	Args: cobra.ExactArgs(2),
	RunE: runQuotaSet,
}

var quotaClearCmd = &cobra.Command{
	Use:   "clear <tenant>",
	Short: "Remove a tenant's quota (unlimited)",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuotaClear,
}

func init() {
	quotaCmd.AddCommand(quotaGetCmd, quotaSetCmd, quotaClearCmd)
	rootCmd.AddCommand(quotaCmd)
}

func runQuotaGet(cmd *cobra.Command, args []string) error {
	f, err := formatter()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	period, err := currentPeriod(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("quota get", err)
	}
	defer backend.Close()

	tenant := args[0]
	q, err := backend.MonthlyQuota(ctx, tenant)
	if err != nil {
		return cli.NewCommandError("quota get", err)
	}
	used, err := backend.Usage(ctx, tenant, period)
	if err != nil {
		return cli.NewCommandError("quota get", err)
	}

	remaining := "unlimited"
	if q != nil {
		remaining = cli.Count(max(*q-used, 0))
	}
	table := &cli.Table{Headers: []string{"tenant", "period", "quota", "used", "remaining"}}
	table.Append(tenant, period, cli.Quota(q), cli.Count(used), remaining)
	return f.FormatTo(cmd.OutOrStdout(), table)
}

func runQuotaSet(cmd *cobra.Command, args []string) error {
	n, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || n < 0 {
		return cli.NewCommandError("quota set", fmt.Errorf("monthly quota must be a non-negative integer, got %q", args[1]))
	}
	return setQuota(cmd, "quota set", args[0], &n)
}

func runQuotaClear(cmd *cobra.Command, args []string) error {
	return setQuota(cmd, "quota clear", args[0], nil)
}

func setQuota(cmd *cobra.Command, name, tenant string, q *int64) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return cli.NewCommandError(name, err)
	}
	defer backend.Close()

	if err := backend.SetMonthlyQuota(ctx, tenant, q); err != nil {
		return cli.NewCommandError(name, err)
	}
	if cfg.Storage.Backend == storage.TypeMemory {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: memory storage is not shared with a running server")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s monthly quota: %s\n", tenant, cli.Quota(q))
	return nil
}
