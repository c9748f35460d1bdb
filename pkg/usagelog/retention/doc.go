// Package retention prunes the AI call log.
//
// Records older than RetentionDays are deleted, then the log is trimmed to
// MaxRecords, oldest first. Either limit may be zero to disable it. When
// ArchiveBeforeDelete is set, records are written to a JSON file in
// ArchivePath before they are removed.
//
// Pruning runs on a cron schedule (robfig/cron standard syntax):
//
//	pruner := retention.NewPruner(storage, &retention.Config{
//	    RetentionDays: 90,
//	    PruneSchedule: "0 3 * * *",
//	}, retention.WithMetrics(retention.NewMetrics(reg)))
//	if err := pruner.Start(ctx); err != nil {
//	    return err
//	}
//	defer pruner.Stop()
//
// WithMetrics reports deleted counts per rule (age, count, cutoff), archived
// records, failed runs and the time of the last successful run.
//
// Monthly usage counters live in the limits storage backend and are not
// affected by pruning.
package retention
