// Package recorder writes AI call records to the call log asynchronously.
//
// # Recording Flow
//
//  1. Admission denies a call, or a caller reports a finished call
//  2. A CallRecord is built and passed to Record
//  3. Record assigns an ID, redacts and truncates the error text, and enqueues
//  4. A background goroutine drains the channel into storage
//
// # Basic Usage
//
//	rec := recorder.NewRecorder(store, &recorder.Config{
//	    Enabled:      true,
//	    AsyncBuffer:  1000,
//	    WriteTimeout: 5 * time.Second,
//	})
//	defer rec.Close()
//
//	err := rec.Record(ctx, &usagelog.CallRecord{
//	    TenantID: "tenant-42",
//	    Feature:  "diagnosis",
//	    Outcome:  usagelog.OutcomeSuccess,
//	})
//
// # Async Recording
//
//   - Record enqueues without touching storage
//   - When the buffer is full Record waits up to WriteTimeout, then drops
//   - Close drains the channel before returning
//
// # Thread Safety
//
// Record and Close are safe for concurrent use. The background goroutine is
// the only writer to storage.
package recorder
