package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IngressLimiter is a per-client token bucket in front of the API. It
// protects the service from a single misbehaving caller and has nothing to
// do with the tenant fixed window, which is enforced by the admitter.
//
// State lives in process memory and is not shared between replicas.
type IngressLimiter struct {
	mu      sync.Mutex
	clients map[string]*client

	perSecond rate.Limit
	burst     int
	ttl       time.Duration
	now       func() time.Time

	// onDenied is called on every rejected request.
	onDenied func(addr string)
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// logged is set after the first denial so a flooding client produces
	// one warning until it is evicted.
	logged bool
}

// IngressOption configures an IngressLimiter.
type IngressOption func(*IngressLimiter)

// WithIngressTTL controls how long an idle client stays tracked.
func WithIngressTTL(d time.Duration) IngressOption {
	return func(l *IngressLimiter) { l.ttl = d }
}

// WithIngressDenied sets a callback for every rejected request.
func WithIngressDenied(fn func(addr string)) IngressOption {
	return func(l *IngressLimiter) { l.onDenied = fn }
}

// withIngressClock replaces time.Now for eviction tests.
func withIngressClock(now func() time.Time) IngressOption {
	return func(l *IngressLimiter) { l.now = now }
}

// NewIngressLimiter creates a limiter allowing perSecond sustained requests
// with the given burst per client address.
func NewIngressLimiter(perSecond float64, burst int, opts ...IngressOption) *IngressLimiter {
	l := &IngressLimiter{
		clients:   make(map[string]*client),
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		ttl:       5 * time.Minute,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether a request from addr may proceed.
func (l *IngressLimiter) Allow(addr string) bool {
	l.mu.Lock()
	c, ok := l.clients[addr]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.clients[addr] = c
	}
	now := l.now()
	c.lastSeen = now
	allowed := c.limiter.AllowN(now, 1)
	first := !allowed && !c.logged
	if first {
		c.logged = true
	}
	l.mu.Unlock()

	if first {
		slog.Warn("ingress rate limit exceeded", "remote_addr", addr)
	}
	if !allowed && l.onDenied != nil {
		l.onDenied(addr)
	}
	return allowed
}

// Len returns the number of tracked clients.
func (l *IngressLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Evict removes clients idle for longer than the TTL and returns how many
// were removed.
func (l *IngressLimiter) Evict() int {
	cutoff := l.now().Add(-l.ttl)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for addr, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, addr)
			removed++
		}
	}
	return removed
}

// Run evicts idle clients every TTL/2 until ctx is cancelled.
func (l *IngressLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Evict()
		}
	}
}

// Middleware rejects requests over the client's budget with 429.
func (l *IngressLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := clientAddr(r)
		if !l.Allow(addr) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, ErrorTypeTooManyRequests,
				"Too many requests from this client.", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddr returns the remote IP without the port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
