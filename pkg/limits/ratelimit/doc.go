// Package ratelimit provides the per-tenant fixed-window rate limiter that
// guards AI features.
//
// # Overview
//
// Every tenant gets a counter and a window end time. The first admitted call
// opens a window of Policy.Window. Calls are admitted until the counter
// reaches Policy.MaxRequests; after that they are denied until the clock
// passes the window end, at which point the next call opens a fresh window.
//
//	limiter := ratelimit.NewLimiter(ratelimit.DefaultPolicy()) // 10 per 60s
//	res := limiter.Check("tenant-42")
//	if !res.Allowed {
//	    // res.RetryAfter tells the caller when the window ends
//	}
//
// # Fixed Window Semantics
//
// The algorithm is deliberately a fixed window and not a token bucket or a
// sliding log. A tenant may burst up to 2*MaxRequests across a window
// boundary. Denied calls never mutate the counter.
//
// # Storage
//
// State lives in a Store. The default MemoryStore is per process: each
// instance of the service enforces its own limit. Entries are kept for the
// life of the process unless a sweep interval is configured, in which case
// expired windows are removed periodically.
//
// # Thread Safety
//
// All types are safe for concurrent use. MemoryStore shards its map and locks
// one shard per update.
package ratelimit
