// Package export writes call log records as CSV or JSON.
//
// # CSV
//
// The CSV exporter writes one row per call with a fixed column order (see
// Header). Timestamps are RFC 3339 in UTC. This is the format behind the
// /v1/calls/export.csv endpoint and the "calls export" command.
//
//	exp := export.NewCSVExporter(true)
//	err := exp.Export(ctx, records, w)
//
// # JSON
//
// The JSON exporter always writes an array, including for zero or one record.
//
// # Streaming
//
// Both exporters provide ExportStream, which consumes the channel returned by
// Storage.QueryStream so large exports never hold every record in memory.
package export
