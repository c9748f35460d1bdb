package export

import (
	"context"
	"encoding/json"
	"io"

	"garagehq/aigate/pkg/usagelog"
)

// JSONExporter exports call records as a JSON array.
type JSONExporter struct {
	// Pretty enables pretty-printing with indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{
		Pretty: pretty,
	}
}

// Export writes call records to the provided writer as a JSON array.
func (e *JSONExporter) Export(ctx context.Context, records []*usagelog.CallRecord, w io.Writer) error {
	if records == nil {
		records = []*usagelog.CallRecord{}
	}

	var data []byte
	var err error
	if e.Pretty {
		data, err = json.MarshalIndent(records, "", "  ")
	} else {
		data, err = json.Marshal(records)
	}
	if err != nil {
		return usagelog.NewExportError("json", len(records), err)
	}

	if _, err := w.Write(data); err != nil {
		return usagelog.NewExportError("json", len(records), err)
	}
	return nil
}

// ExportStream exports call records from a channel as a JSON array,
// writing each record as it arrives.
func (e *JSONExporter) ExportStream(ctx context.Context, recordsCh <-chan *usagelog.CallRecord, w io.Writer) error {
	if _, err := w.Write([]byte("[")); err != nil {
		return usagelog.NewExportError("json", 0, err)
	}

	first := true
	recordCount := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case record, ok := <-recordsCh:
			if !ok {
				if _, err := w.Write([]byte("]")); err != nil {
					return usagelog.NewExportError("json", recordCount, err)
				}
				return nil
			}

			if !first {
				sep := ","
				if e.Pretty {
					sep = ",\n"
				}
				if _, err := w.Write([]byte(sep)); err != nil {
					return usagelog.NewExportError("json", recordCount, err)
				}
			}
			first = false

			data, err := e.serializeRecord(record)
			if err != nil {
				return usagelog.NewExportError("json", recordCount, err)
			}
			if _, err := w.Write(data); err != nil {
				return usagelog.NewExportError("json", recordCount, err)
			}
			recordCount++
		}
	}
}

// serializeRecord serializes a single call record to JSON.
func (e *JSONExporter) serializeRecord(record *usagelog.CallRecord) ([]byte, error) {
	if e.Pretty {
		return json.MarshalIndent(record, "  ", "  ")
	}
	return json.Marshal(record)
}
