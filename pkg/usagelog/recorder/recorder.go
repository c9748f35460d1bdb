package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"garagehq/aigate/pkg/usagelog"
)

// Config contains configuration for the call recorder.
type Config struct {
	// Enabled enables call logging.
	Enabled bool

	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout bounds both enqueueing and the storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration

	// MaxErrorLength is the maximum stored length of provider error text.
	// Default: 500
	MaxErrorLength int
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		AsyncBuffer:    1000,
		WriteTimeout:   5 * time.Second,
		MaxErrorLength: 500,
	}
}

// Recorder writes AI call records asynchronously so that admission and usage
// reporting never wait on the call log.
type Recorder struct {
	storage    usagelog.Storage
	config     *Config
	recordChan chan *usagelog.CallRecord
	wg         sync.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
	logger     *slog.Logger
	now        func() time.Time
}

// NewRecorder creates a new call recorder with the provided storage backend and configuration.
func NewRecorder(storage usagelog.Storage, config *Config) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = 1000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.MaxErrorLength <= 0 {
		config.MaxErrorLength = 500
	}

	r := &Recorder{
		storage:    storage,
		config:     config,
		recordChan: make(chan *usagelog.CallRecord, config.AsyncBuffer),
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "usagelog.recorder"),
		now:        time.Now,
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("call recorder initialized",
		"enabled", config.Enabled,
		"async_buffer", config.AsyncBuffer,
		"write_timeout", config.WriteTimeout,
	)

	return r
}

// Record fills in the record ID and timestamp when missing and enqueues the
// record for async writing.
//
// This method returns immediately unless the buffer is full, in which case it
// waits up to WriteTimeout before dropping the record.
func (r *Recorder) Record(ctx context.Context, record *usagelog.CallRecord) error {
	if !r.config.Enabled || record == nil {
		return nil
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = r.now()
	}
	record.Error = TruncateString(RedactSecrets(record.Error), r.config.MaxErrorLength)

	select {
	case <-r.done:
		r.logger.Warn("recorder shutting down, dropping record",
			"record_id", record.ID,
			"tenant_id", record.TenantID,
		)
		return usagelog.NewRecorderError(record.ID, context.Canceled)
	default:
	}

	timer := time.NewTimer(r.config.WriteTimeout)
	defer timer.Stop()

	select {
	case r.recordChan <- record:
		r.logger.Debug("call record enqueued",
			"record_id", record.ID,
			"request_id", record.RequestID,
			"outcome", record.Outcome,
		)
		return nil
	case <-timer.C:
		r.logger.Error("call record channel full, dropping record",
			"record_id", record.ID,
			"tenant_id", record.TenantID,
			"channel_capacity", r.config.AsyncBuffer,
		)
		return usagelog.NewRecorderError(record.ID, context.DeadlineExceeded)
	case <-ctx.Done():
		return usagelog.NewRecorderError(record.ID, ctx.Err())
	case <-r.done:
		return usagelog.NewRecorderError(record.ID, context.Canceled)
	}
}

// Pending returns the number of records waiting to be written.
func (r *Recorder) Pending() int {
	return len(r.recordChan)
}

// Close gracefully shuts down the recorder by draining the async channel and
// waiting for all pending writes to complete. Close is idempotent.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("shutting down call recorder")
		close(r.done)
		r.wg.Wait()
		r.logger.Info("call recorder shut down complete")
	})
	return nil
}

// worker is the background goroutine that drains the record channel and
// writes records to storage.
func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case record := <-r.recordChan:
			r.writeRecord(record)

		case <-r.done:
			r.logger.Info("draining call record channel before shutdown",
				"pending_count", len(r.recordChan),
			)
			for {
				select {
				case record := <-r.recordChan:
					r.writeRecord(record)
				default:
					return
				}
			}
		}
	}
}

// writeRecord writes a single call record to storage.
func (r *Recorder) writeRecord(record *usagelog.CallRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.storage.Store(ctx, record); err != nil {
		r.logger.Error("failed to store call record",
			"record_id", record.ID,
			"request_id", record.RequestID,
			"error", err,
		)
		return
	}

	duration := time.Since(start)
	if duration > r.config.WriteTimeout/2 {
		r.logger.Warn("slow call record write",
			"record_id", record.ID,
			"duration_ms", duration.Milliseconds(),
			"threshold_ms", (r.config.WriteTimeout / 2).Milliseconds(),
		)
	}
}
