// Package usagelog records every AI call a tenant makes, including calls that
// admission denied.
//
// The call log is separate from the monthly usage counters kept by the limits
// storage backend. Counters decide admission; the call log is for support
// staff who need to answer "what did this garage do last Tuesday".
//
// # Layers
//
//  1. recorder: fills in IDs and timestamps, redacts provider error text and
//     writes records asynchronously
//  2. storage: SQLite (mattn/go-sqlite3) and in-memory backends
//  3. query: filter validation and defaults
//  4. export: CSV and JSON output, streaming for large ranges
//  5. retention: age and count based pruning on a cron schedule
//
// # Recording
//
//	rec := recorder.NewRecorder(store, recorder.DefaultConfig())
//	defer rec.Close()
//
//	rec.Record(ctx, &usagelog.CallRecord{
//	    TenantID: "garage-42",
//	    Feature:  "quote_draft",
//	    Outcome:  usagelog.OutcomeSuccess,
//	})
//
// Record never blocks on storage. If the buffer is full it waits up to the
// configured write timeout and then drops the record with an error.
package usagelog
