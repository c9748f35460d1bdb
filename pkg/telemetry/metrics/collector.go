package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"garagehq/aigate/pkg/config"
)

// Namespace prefixes every metric the gate exports.
const Namespace = "aigate"

// Collector owns the Prometheus registry served on the metrics endpoint.
// Component metrics such as the admission counters register on Registry();
// the collector itself only tracks HTTP traffic and process state.
type Collector struct {
	config   config.MetricsConfig
	registry *prometheus.Registry

	http *HTTPMetrics
}

// NewCollector creates a collector. A nil registry creates a fresh one with
// the Go runtime and process collectors attached.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return &Collector{
		config:   cfg,
		registry: registry,
		http:     NewHTTPMetrics(registry),
	}
}

// Enabled reports whether the metrics endpoint should be mounted.
func (c *Collector) Enabled() bool {
	return c.config.Enabled
}

// Registry returns the registry backing the metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// HTTP returns the request metrics recorded by the server middleware.
func (c *Collector) HTTP() *HTTPMetrics {
	return c.http
}

// RegisterGaugeFunc exposes a value computed on every scrape, such as the
// call log's pending queue length.
func (c *Collector) RegisterGaugeFunc(name, help string, fn func() float64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      help,
		},
		fn,
	))
}

// CardinalityLimiter caps the number of distinct values a caller-supplied
// label may take. Values past the cap should be reported as "other".
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting up to maxCardinality
// distinct values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already tracked or still fits under the cap.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[value] = struct{}{}
	return true
}

// Label returns value when allowed and "other" otherwise.
func (cl *CardinalityLimiter) Label(value string) string {
	if cl.Allow(value) {
		return value
	}
	return "other"
}

// Count returns the number of tracked values.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
