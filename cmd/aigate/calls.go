package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"garagehq/aigate/pkg/cli"
	"garagehq/aigate/pkg/config"
	"garagehq/aigate/pkg/usagelog"
	"garagehq/aigate/pkg/usagelog/export"
	"garagehq/aigate/pkg/usagelog/query"
	"garagehq/aigate/pkg/usagelog/retention"
)

var callsFlags struct {
	tenant   string
	feature  string
	outcome  string
	period   string
	from     string
	to       string
	limit    int
	format   string
	out      string
	progress bool

	before    string
	olderThan int
}

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Export and prune the AI call log",
}

var callsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export call records as CSV or JSON",
	Long: `Export call records matching the filters, newest first.

Denied admissions are logged with outcome rate_limited, quota_exceeded or
quota_unavailable; finished calls with success or error.`,
	Example: `  # Every call of one tenant this month
  aigate calls export --tenant garage-42 --period 2025-03 --out garage-42.csv

  # Quota denials since the first of the month, as JSON
  aigate calls export --outcome quota_exceeded --from 2025-03-01 --format json`,
	Args: cobra.NoArgs,
	RunE: runCallsExport,
}

var callsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old call records",
	Long: `Delete call records. Without flags the configured retention is applied
once, the same way the scheduled pruner does. Monthly usage counters are
never touched.`,
	Example: `  aigate calls prune
  aigate calls prune --before 2025-01-01
  aigate calls prune --older-than 30`,
	Args: cobra.NoArgs,
	RunE: runCallsPrune,
}

func init() {
	f := callsExportCmd.Flags()
	f.StringVar(&callsFlags.tenant, "tenant", "", "filter by tenant")
	f.StringVar(&callsFlags.feature, "feature", "", "filter by feature")
	f.StringVar(&callsFlags.outcome, "outcome", "", "filter by outcome")
	f.StringVar(&callsFlags.period, "period", "", "filter by month (YYYY-MM)")
	f.StringVar(&callsFlags.from, "from", "", "records at or after this time (RFC 3339 or YYYY-MM-DD)")
	f.StringVar(&callsFlags.to, "to", "", "records at or before this time (RFC 3339 or YYYY-MM-DD)")
	f.IntVar(&callsFlags.limit, "limit", 0, "maximum records (default usage_log.export.max_rows)")
	f.StringVar(&callsFlags.format, "format", "csv", "export format (csv, json)")
	f.StringVar(&callsFlags.out, "out", "", "write to file instead of stdout")
	f.BoolVar(&callsFlags.progress, "progress", true, "show progress on stderr when writing to a file")

	callsPruneCmd.Flags().StringVar(&callsFlags.before, "before", "", "delete records at or before this time")
	callsPruneCmd.Flags().IntVar(&callsFlags.olderThan, "older-than", 0, "delete records older than this many days")

	callsCmd.AddCommand(callsExportCmd, callsPruneCmd)
	rootCmd.AddCommand(callsCmd)
}

// exporter is satisfied by the CSV and JSON exporters.
type exporter interface {
	ExportStream(ctx context.Context, records <-chan *usagelog.CallRecord, w io.Writer) error
}

func runCallsExport(cmd *cobra.Command, args []string) error {
	var exp exporter
	switch callsFlags.format {
	case "csv":
		exp = export.NewCSVExporter(true)
	case "json":
		exp = export.NewJSONExporter(true)
	default:
		return cli.NewConfigError("--format", fmt.Sprintf("unsupported export format %q (csv, json)", callsFlags.format))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	q, err := buildCallQuery(cfg)
	if err != nil {
		return cli.NewCommandError("calls export", err)
	}

	callLog, err := requireCallLog(cfg)
	if err != nil {
		return cli.NewCommandError("calls export", err)
	}
	defer callLog.Close()

	ctx := cmd.Context()

	var w io.Writer = cmd.OutOrStdout()
	var progress cli.ProgressReporter
	if callsFlags.out != "" {
		file, err := os.Create(callsFlags.out)
		if err != nil {
			return cli.NewCommandError("calls export", err)
		}
		defer file.Close()
		w = file

		if callsFlags.progress {
			total, err := callLog.Count(ctx, q)
			if err != nil {
				return cli.NewCommandError("calls export", err)
			}
			progress = cli.NewProgressReporter(cmd.ErrOrStderr())
			progress.Start(min(total, int64(q.Limit)))
		}
	}

	records, errCh, err := callLog.QueryStream(ctx, q)
	if err != nil {
		return cli.NewCommandError("calls export", err)
	}
	if progress != nil {
		records = withProgress(ctx, records, progress)
	}

	err = exp.ExportStream(ctx, records, w)
	if err == nil {
		err = <-errCh
	}
	if err != nil {
		if progress != nil {
			progress.Error(err)
		}
		return cli.NewCommandError("calls export", err)
	}
	if progress != nil {
		progress.Finish()
	}
	return nil
}

// withProgress forwards records and reports how many went through.
func withProgress(ctx context.Context, in <-chan *usagelog.CallRecord, p cli.ProgressReporter) <-chan *usagelog.CallRecord {
	out := make(chan *usagelog.CallRecord)
	go func() {
		defer close(out)
		var n int64
		for rec := range in {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
			n++
			if n%100 == 0 {
				p.Update(n)
			}
		}
		p.Update(n)
	}()
	return out
}

// buildCallQuery turns the export flags into a validated query.
func buildCallQuery(cfg *config.Config) (*usagelog.Query, error) {
	q := &usagelog.Query{
		TenantID: callsFlags.tenant,
		Feature:  callsFlags.feature,
		Outcome:  usagelog.Outcome(callsFlags.outcome),
		Period:   callsFlags.period,
		Limit:    callsFlags.limit,
	}

	var err error
	if q.StartTime, err = parseTimeFlag(callsFlags.from); err != nil {
		return nil, fmt.Errorf("--from: %w", err)
	}
	if q.EndTime, err = parseTimeFlag(callsFlags.to); err != nil {
		return nil, fmt.Errorf("--to: %w", err)
	}

	maxRows := cfg.UsageLog.Export.MaxRows
	if maxRows <= 0 {
		maxRows = config.DefaultExportMaxRows
	}
	if q.Limit == 0 {
		q.Limit = maxRows
	}
	if q.Limit > maxRows {
		return nil, fmt.Errorf("--limit must be <= %d, got %d", maxRows, q.Limit)
	}

	if err := query.Validate(q); err != nil {
		return nil, err
	}
	query.ApplyDefaults(q)
	return q, nil
}

func parseTimeFlag(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, time.Local)
	if err != nil {
		return nil, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", raw)
	}
	return &t, nil
}

func requireCallLog(cfg *config.Config) (usagelog.Storage, error) {
	callLog, err := openCallLog(cfg)
	if err != nil {
		return nil, err
	}
	if callLog == nil {
		return nil, fmt.Errorf("call log is disabled (usage_log.enabled: false)")
	}
	return callLog, nil
}

func runCallsPrune(cmd *cobra.Command, args []string) error {
	if callsFlags.before != "" && callsFlags.olderThan > 0 {
		return cli.NewConfigError("--before", "cannot be combined with --older-than")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var cutoff *time.Time
	switch {
	case callsFlags.before != "":
		if cutoff, err = parseTimeFlag(callsFlags.before); err != nil {
			return cli.NewCommandError("calls prune", fmt.Errorf("--before: %w", err))
		}
	case callsFlags.olderThan > 0:
		t := time.Now().AddDate(0, 0, -callsFlags.olderThan)
		cutoff = &t
	}

	callLog, err := requireCallLog(cfg)
	if err != nil {
		return cli.NewCommandError("calls prune", err)
	}
	defer callLog.Close()

	pruner := retention.NewPruner(callLog, retentionConfig(cfg))
	ctx := cmd.Context()

	var deleted int64
	if cutoff != nil {
		deleted, err = pruner.PruneBefore(ctx, *cutoff)
	} else {
		deleted, err = pruner.Prune(ctx)
	}
	if err != nil {
		return cli.NewCommandError("calls prune", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %s call records\n", cli.Count(deleted))
	return nil
}
