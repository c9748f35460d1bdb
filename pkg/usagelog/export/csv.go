package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"garagehq/aigate/pkg/usagelog"
)

// CSVExporter exports call records to CSV format.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{
		IncludeHeader: includeHeader,
	}
}

// Header returns the CSV column names in row order.
func Header() []string {
	return []string{
		"id", "request_id",
		"tenant_id", "feature",
		"outcome", "period", "latency_ms", "tokens", "error",
		"recorded_at",
	}
}

// Export writes call records to the provided writer in CSV format.
func (e *CSVExporter) Export(ctx context.Context, records []*usagelog.CallRecord, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(Header()); err != nil {
			return usagelog.NewExportError("csv", len(records), err)
		}
	}

	for _, record := range records {
		if err := writer.Write(recordToRow(record)); err != nil {
			return usagelog.NewExportError("csv", len(records), err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return usagelog.NewExportError("csv", len(records), err)
	}
	return nil
}

// ExportStream exports call records from a channel to CSV format.
// This is memory-efficient for large result sets as it streams records
// one at a time instead of loading all records in memory.
//
// The CSV writer flushes every 100 records so HTTP clients see progress on
// long exports.
func (e *CSVExporter) ExportStream(ctx context.Context, recordsCh <-chan *usagelog.CallRecord, w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if e.IncludeHeader {
		if err := writer.Write(Header()); err != nil {
			return usagelog.NewExportError("csv", 0, err)
		}
	}

	recordCount := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case record, ok := <-recordsCh:
			if !ok {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return usagelog.NewExportError("csv", recordCount, err)
				}
				return nil
			}

			if err := writer.Write(recordToRow(record)); err != nil {
				return usagelog.NewExportError("csv", recordCount, err)
			}
			recordCount++

			if recordCount%100 == 0 {
				writer.Flush()
				if err := writer.Error(); err != nil {
					return usagelog.NewExportError("csv", recordCount, err)
				}
			}
		}
	}
}

// recordToRow converts a call record to a CSV row.
func recordToRow(record *usagelog.CallRecord) []string {
	recordedAt := ""
	if !record.RecordedAt.IsZero() {
		recordedAt = record.RecordedAt.UTC().Format(time.RFC3339)
	}

	return []string{
		record.ID,
		record.RequestID,
		record.TenantID,
		record.Feature,
		string(record.Outcome),
		record.Period,
		strconv.FormatInt(record.LatencyMs, 10),
		strconv.Itoa(record.Tokens),
		record.Error,
		recordedAt,
	}
}
