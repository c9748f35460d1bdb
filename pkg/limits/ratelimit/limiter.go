package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Limiter enforces a fixed-window request limit per tenant.
//
// Each tenant gets a window that starts on its first admission and lasts
// Policy.Window. Within the window at most Policy.MaxRequests calls are
// admitted. Once the clock passes the window end the next call opens a new
// window. Windows are anchored to the tenant's first call, not to wall-clock
// boundaries, so a client can see up to twice the limit across a boundary.
//
// A denied call never changes the entry: a tenant hammering the limiter does
// not extend its own window.
//
// # Thread Safety
//
// The limiter is safe for concurrent use. The read-modify-write of a tenant's
// entry runs under the store's per-key lock, so N concurrent calls on a fresh
// tenant admit exactly MaxRequests of them.
type Limiter struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger

	mu     sync.RWMutex
	policy Policy

	sweepInterval time.Duration
	done          chan struct{}
	startOnce     sync.Once
	closeOnce     sync.Once
	wg            sync.WaitGroup
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithStore replaces the default in-memory store.
func WithStore(store Store) Option {
	return func(l *Limiter) {
		if store != nil {
			l.store = store
		}
	}
}

// WithClock replaces time.Now. Tests use it to step across window boundaries.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSweepInterval enables periodic removal of expired entries.
// Zero disables the sweeper and entries live for the life of the process.
func WithSweepInterval(interval time.Duration) Option {
	return func(l *Limiter) {
		l.sweepInterval = interval
	}
}

// NewLimiter creates a limiter with the given policy.
// An invalid policy is replaced by DefaultPolicy.
//
// Example:
//
//	limiter := ratelimit.NewLimiter(ratelimit.Policy{
//	    MaxRequests: 10,
//	    Window:      time.Minute,
//	})
//	if !limiter.Allow(tenantID) {
//	    // reply 429
//	}
func NewLimiter(policy Policy, opts ...Option) *Limiter {
	if err := policy.Validate(); err != nil {
		policy = DefaultPolicy()
	}

	l := &Limiter{
		store:  NewMemoryStore(),
		now:    time.Now,
		logger: slog.Default().With("component", "ratelimit"),
		policy: policy,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether a call for tenantID is admitted, consuming one slot
// when it is.
func (l *Limiter) Allow(tenantID string) bool {
	return l.Check(tenantID).Allowed
}

// Check performs the same step as Allow and returns the window details.
func (l *Limiter) Check(tenantID string) Result {
	policy := l.Policy()
	now := l.now()

	allowed := false
	entry := l.store.Update(tenantID, func(cur *Entry) *Entry {
		if cur == nil || now.After(cur.ResetAt) {
			allowed = true
			return &Entry{Count: 1, ResetAt: now.Add(policy.Window)}
		}
		if cur.Count >= policy.MaxRequests {
			return nil
		}
		allowed = true
		return &Entry{Count: cur.Count + 1, ResetAt: cur.ResetAt}
	})

	return buildResult(policy, entry, now, allowed)
}

// Peek returns the tenant's window state without consuming a slot.
func (l *Limiter) Peek(tenantID string) Result {
	policy := l.Policy()
	now := l.now()

	entry := l.store.Get(tenantID)
	if entry == nil || now.After(entry.ResetAt) {
		return Result{
			Allowed:   true,
			Limit:     policy.MaxRequests,
			Remaining: policy.MaxRequests,
		}
	}
	return buildResult(policy, entry, now, entry.Count < policy.MaxRequests)
}

func buildResult(policy Policy, entry *Entry, now time.Time, allowed bool) Result {
	res := Result{
		Allowed: allowed,
		Limit:   policy.MaxRequests,
	}
	if entry == nil {
		return res
	}

	res.Count = entry.Count
	res.ResetAt = entry.ResetAt
	res.Remaining = policy.MaxRequests - entry.Count
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !allowed {
		if wait := entry.ResetAt.Sub(now); wait > 0 {
			res.RetryAfter = wait
		}
	}
	return res
}

// Policy returns the policy currently enforced.
func (l *Limiter) Policy() Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policy
}

// SetPolicy replaces the enforced policy.
// Open windows keep their end time. The new ceiling applies from the next check.
func (l *Limiter) SetPolicy(policy Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	old := l.policy
	l.policy = policy
	l.mu.Unlock()

	l.logger.Info("rate limit policy updated",
		"max_requests", policy.MaxRequests,
		"window", policy.Window,
		"previous_max_requests", old.MaxRequests,
		"previous_window", old.Window,
	)
	return nil
}

// Reset drops the tenant's window so its next call opens a new one.
func (l *Limiter) Reset(tenantID string) {
	l.store.Delete(tenantID)
}

// Len returns the number of tenants with a stored window.
func (l *Limiter) Len() int {
	return l.store.Len()
}

// Start launches the sweeper if a sweep interval is configured.
// It returns immediately. The sweeper stops when ctx is done or Close is called.
func (l *Limiter) Start(ctx context.Context) {
	if l.sweepInterval <= 0 {
		return
	}
	l.startOnce.Do(func() {
		l.wg.Add(1)
		go l.sweepLoop(ctx)
	})
}

// Close stops the sweeper. It is idempotent.
func (l *Limiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *Limiter) sweepLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-ctx.Done():
			return
		case <-l.done:
			return
		}
	}
}

// Sweep removes windows that have already ended.
// An ended window would be replaced on the tenant's next call anyway, so
// sweeping does not change any admission outcome.
func (l *Limiter) Sweep() int {
	removed := l.store.Sweep(l.now())
	if removed > 0 {
		l.logger.Debug("swept expired rate limit windows", "removed", removed)
	}
	return removed
}
