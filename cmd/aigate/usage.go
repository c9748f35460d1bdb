package main

import (
	"time"

	"github.com/spf13/cobra"

	"garagehq/aigate/pkg/cli"
	"garagehq/aigate/pkg/limits/quota"
	"garagehq/aigate/pkg/limits/storage"
)

var usageFlags struct {
	period string
	tenant string
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect monthly usage counters",
}

var usageShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show usage per tenant for a month",
	Long: `Show the successful AI calls counted per tenant for a month, next to
each tenant's quota. The month defaults to the current one in the
configured quota timezone.`,
	Example: `  aigate usage show
  aigate usage show --period 2025-02 --output csv
  aigate usage show --tenant garage-42`,
	Args: cobra.NoArgs,
	RunE: runUsageShow,
}

func init() {
	usageShowCmd.Flags().StringVar(&usageFlags.period, "period", "", "month as YYYY-MM (default current month)")
	usageShowCmd.Flags().StringVar(&usageFlags.tenant, "tenant", "", "only show this tenant")
	usageCmd.AddCommand(usageShowCmd)
	rootCmd.AddCommand(usageCmd)
}

func runUsageShow(cmd *cobra.Command, args []string) error {
	f, err := formatter()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	period := usageFlags.period
	if period == "" {
		if period, err = currentPeriod(cfg); err != nil {
			return err
		}
	} else if _, err := quota.ParsePeriod(period, time.UTC); err != nil {
		return cli.NewCommandError("usage show", err)
	}

	ctx := cmd.Context()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("usage show", err)
	}
	defer backend.Close()

	var rows []storage.UsageRow
	if usageFlags.tenant != "" {
		used, err := backend.Usage(ctx, usageFlags.tenant, period)
		if err != nil {
			return cli.NewCommandError("usage show", err)
		}
		rows = []storage.UsageRow{{TenantID: usageFlags.tenant, Period: period, RequestCount: used}}
	} else {
		if rows, err = backend.ListUsage(ctx, period); err != nil {
			return cli.NewCommandError("usage show", err)
		}
	}

	table := &cli.Table{Headers: []string{"tenant", "period", "used", "quota", "updated"}}
	for _, row := range rows {
		q, err := backend.MonthlyQuota(ctx, row.TenantID)
		if err != nil {
			return cli.NewCommandError("usage show", err)
		}
		table.Append(row.TenantID, row.Period, cli.Count(row.RequestCount), cli.Quota(q), cli.Ago(row.UpdatedAt))
	}
	return f.FormatTo(cmd.OutOrStdout(), table)
}
