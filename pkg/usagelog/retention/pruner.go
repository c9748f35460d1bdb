package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"garagehq/aigate/pkg/usagelog"
	"garagehq/aigate/pkg/usagelog/export"
)

// Config contains configuration for the call log pruner.
type Config struct {
	// RetentionDays is the number of days to retain call records.
	// 0 means keep records forever.
	RetentionDays int

	// PruneSchedule is a cron expression for scheduling pruning.
	// Example: "0 3 * * *" (daily at 3 AM)
	PruneSchedule string

	// ArchiveBeforeDelete writes records to a JSON file before deleting them.
	ArchiveBeforeDelete bool

	// ArchivePath is the directory archived records are written to.
	ArchivePath string

	// MaxRecords is the maximum number of records to keep.
	// 0 means unlimited.
	MaxRecords int64
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays:       90,
		PruneSchedule:       "0 3 * * *",
		ArchiveBeforeDelete: false,
		ArchivePath:         "data/archives/",
		MaxRecords:          0,
	}
}

// Pruner enforces retention on the call log. Monthly usage counters are
// never touched; only the per-call records are pruned.
type Pruner struct {
	storage usagelog.Storage
	config  *Config
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	lastRun time.Time
}

// Option configures a Pruner.
type Option func(*Pruner)

// WithMetrics reports pruned and archived counts through m.
func WithMetrics(m *Metrics) Option {
	return func(p *Pruner) { p.metrics = m }
}

// NewPruner creates a new retention pruner.
func NewPruner(storage usagelog.Storage, config *Config, opts ...Option) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}

	pruner := &Pruner{
		storage: storage,
		config:  config,
		logger:  slog.Default().With("component", "usagelog.retention"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(pruner)
	}
	return pruner
}

// Prune deletes call records older than the retention period and then trims
// the log down to MaxRecords, oldest first. Returns the total number of
// records deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	deleted, err := p.prune(ctx)
	p.finishRun(err)
	return deleted, err
}

func (p *Pruner) prune(ctx context.Context) (int64, error) {
	var totalDeleted int64

	if p.config.RetentionDays > 0 {
		deleted, err := p.pruneByAge(ctx)
		if err != nil {
			return totalDeleted, fmt.Errorf("prune by age failed: %w", err)
		}
		totalDeleted += deleted
		p.logger.Info("pruned records by age",
			"deleted_count", deleted,
			"retention_days", p.config.RetentionDays,
		)
	}

	if p.config.MaxRecords > 0 {
		deleted, err := p.pruneByCount(ctx)
		if err != nil {
			return totalDeleted, fmt.Errorf("prune by count failed: %w", err)
		}
		totalDeleted += deleted
		p.logger.Info("pruned records by count",
			"deleted_count", deleted,
			"max_records", p.config.MaxRecords,
		)
	}

	if totalDeleted == 0 {
		p.logger.Debug("no records pruned",
			"retention_days", p.config.RetentionDays,
			"max_records", p.config.MaxRecords,
		)
	} else {
		p.logger.Info("call log pruning completed",
			"total_deleted", totalDeleted,
		)
	}

	return totalDeleted, nil
}

// PruneBefore deletes every record recorded at or before cutoff, regardless
// of the configured retention. Used by the "calls prune" command.
func (p *Pruner) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	deleted, err := p.pruneBefore(ctx, cutoff)
	p.finishRun(err)
	return deleted, err
}

func (p *Pruner) pruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := &usagelog.Query{EndTime: &cutoff}

	if p.config.ArchiveBeforeDelete {
		if err := p.archive(ctx, query, "calls"); err != nil {
			return 0, err
		}
	}

	deleted, err := p.storage.Delete(ctx, query)
	if err != nil {
		return 0, err
	}
	p.metrics.recordPruned("cutoff", deleted)
	p.logger.Info("pruned records before cutoff",
		"cutoff_time", cutoff,
		"deleted_count", deleted,
	)
	return deleted, nil
}

func (p *Pruner) pruneByAge(ctx context.Context) (int64, error) {
	cutoff := p.now().AddDate(0, 0, -p.config.RetentionDays)

	p.logger.Debug("pruning by age",
		"cutoff_time", cutoff,
		"retention_days", p.config.RetentionDays,
	)

	query := &usagelog.Query{EndTime: &cutoff}

	if p.config.ArchiveBeforeDelete {
		if err := p.archive(ctx, query, "calls"); err != nil {
			return 0, usagelog.NewRetentionError(p.config.RetentionDays, err)
		}
	}

	deleted, err := p.storage.Delete(ctx, query)
	if err != nil {
		return 0, usagelog.NewRetentionError(p.config.RetentionDays, err)
	}
	p.metrics.recordPruned("age", deleted)
	return deleted, nil
}

func (p *Pruner) pruneByCount(ctx context.Context) (int64, error) {
	count, err := p.storage.Count(ctx, &usagelog.Query{})
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}

	if count <= p.config.MaxRecords {
		p.logger.Debug("record count within limit",
			"current", count,
			"max", p.config.MaxRecords,
		)
		return 0, nil
	}

	toDelete := int(count - p.config.MaxRecords)

	p.logger.Info("record count exceeds limit, pruning oldest",
		"current_count", count,
		"max_records", p.config.MaxRecords,
		"to_delete", toDelete,
	)

	// Storage deletes the oldest matching records first when Limit is set.
	query := &usagelog.Query{Limit: toDelete, SortOrder: "asc"}

	if p.config.ArchiveBeforeDelete {
		if err := p.archive(ctx, query, "calls-count"); err != nil {
			return 0, fmt.Errorf("archive failed: %w", err)
		}
	}

	deleted, err := p.storage.Delete(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("delete failed: %w", err)
	}
	p.metrics.recordPruned("count", deleted)
	return deleted, nil
}

// archive writes the records matching query to a JSON file in ArchivePath.
func (p *Pruner) archive(ctx context.Context, query *usagelog.Query, prefix string) error {
	records, err := p.storage.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query records for archiving: %w", err)
	}

	if len(records) == 0 {
		p.logger.Debug("no records to archive")
		return nil
	}

	if err := os.MkdirAll(p.config.ArchivePath, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	archiveFile := filepath.Join(p.config.ArchivePath,
		fmt.Sprintf("%s-%s.json", prefix, p.now().Format("2006-01-02-150405")))
	f, err := os.Create(archiveFile)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer f.Close()

	exporter := export.NewJSONExporter(true)
	if err := exporter.Export(ctx, records, f); err != nil {
		return fmt.Errorf("failed to export records to archive: %w", err)
	}

	p.metrics.recordArchived(len(records))
	p.logger.Info("call records archived",
		"archive_file", archiveFile,
		"record_count", len(records),
	)
	return nil
}

func (p *Pruner) finishRun(err error) {
	now := p.now()
	p.metrics.recordRun(err, float64(now.Unix()))
	if err != nil {
		return
	}
	p.mu.Lock()
	p.lastRun = now
	p.mu.Unlock()
}

// Start schedules Prune on config.PruneSchedule (standard cron syntax, e.g.
// "0 3 * * *" for daily at 3 AM). An empty schedule leaves pruning manual.
// The schedule stops when ctx is cancelled or Stop is called.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return nil
	}
	if p.config.PruneSchedule == "" {
		p.logger.Info("prune schedule not configured, pruning is manual")
		return nil
	}

	schedule, err := cron.ParseStandard(p.config.PruneSchedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", p.config.PruneSchedule, err)
	}

	c := cron.New()
	p.entry = c.Schedule(schedule, cron.FuncJob(func() { p.scheduledPrune(ctx) }))
	c.Start()
	p.cron = c

	p.logger.Info("call log pruning scheduled",
		"schedule", p.config.PruneSchedule,
		"retention_days", p.config.RetentionDays,
		"max_records", p.config.MaxRecords,
	)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	return nil
}

func (p *Pruner) scheduledPrune(ctx context.Context) {
	deleted, err := p.Prune(ctx)
	if err != nil {
		p.logger.Error("scheduled call log pruning failed", "error", err)
		return
	}
	p.logger.Debug("scheduled call log pruning finished", "deleted_count", deleted)
}

// Stop cancels the schedule and waits for a running prune to finish.
// Safe to call more than once.
func (p *Pruner) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	p.logger.Info("call log pruning schedule stopped")
}

// Scheduled reports whether a prune schedule is active.
func (p *Pruner) Scheduled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cron != nil
}

// NextPruning returns the time of the next scheduled pruning, or nil when
// no schedule is active.
func (p *Pruner) NextPruning() *time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron == nil {
		return nil
	}
	next := p.cron.Entry(p.entry).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// LastRun returns when the last successful prune finished, or the zero time.
func (p *Pruner) LastRun() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRun
}
