// Package query validates call log queries before they reach storage.
//
// The validator checks:
//
//   - Limit >= 0 and <= MaxLimit
//   - Offset >= 0
//   - Sort order is asc or desc
//   - Time range is valid (start <= end)
//   - Outcome is a known outcome
//   - Period is a YYYY-MM key
//
// # Basic Usage
//
//	q := &usagelog.Query{TenantID: "tenant-42", Outcome: usagelog.OutcomeRateLimited}
//	if err := query.Validate(q); err != nil {
//	    return err
//	}
//	query.ApplyDefaults(q)
//	records, err := store.Query(ctx, q)
package query
