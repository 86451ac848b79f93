// Package metrics exposes dispatcher and selector telemetry through a
// dedicated Prometheus registry.
//
// Every Record method is safe on a nil *Collector, so the engine can call
// them unconditionally.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/statekit/internal/operation"
	"github.com/roach88/statekit/internal/selector"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "statekit"

// Collector holds the engine's Prometheus collectors.
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	dispatchTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	staleTotal       *prometheus.CounterVec
	coalescedTotal   *prometheus.CounterVec
	inflight         prometheus.Gauge
	queueDepth       prometheus.Gauge
	notifyDuration   prometheus.Histogram
}

// NewCollector creates a collector with its own registry.
// An empty namespace uses DefaultNamespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}

	c.dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Intents applied by the dispatcher",
		},
		[]string{"intent"},
	)

	c.transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_transitions_total",
			Help:      "Operation status transitions by kind and resulting status",
		},
		[]string{"kind", "status"},
	)

	c.staleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_resolutions_total",
			Help:      "Resolutions discarded because a newer request owns the key",
		},
		[]string{"kind"},
	)

	c.coalescedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_total",
			Help:      "Requests attached to an in-flight request instead of starting a new one",
		},
		[]string{"kind"},
	)

	c.inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "operations_inflight",
		Help:      "Remote calls currently in flight",
	})

	c.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Events waiting in the dispatcher queue",
	})

	c.notifyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "notify_duration_seconds",
		Help:      "Time spent delivering one snapshot to all observers",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
	})

	c.registry.MustRegister(
		c.dispatchTotal,
		c.transitionsTotal,
		c.staleTotal,
		c.coalescedTotal,
		c.inflight,
		c.queueDepth,
		c.notifyDuration,
	)
	return c
}

// Registry returns the underlying registry, e.g. for promhttp.HandlerFor.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordDispatch counts one applied intent.
func (c *Collector) RecordDispatch(intent string) {
	if c == nil {
		return
	}
	c.dispatchTotal.WithLabelValues(intent).Inc()
}

// RecordTransition counts an operation entering status.
func (c *Collector) RecordTransition(kind string, status operation.Status) {
	if c == nil {
		return
	}
	c.transitionsTotal.WithLabelValues(kind, string(status)).Inc()
}

// RecordStale counts a discarded stale resolution.
func (c *Collector) RecordStale(kind string) {
	if c == nil {
		return
	}
	c.staleTotal.WithLabelValues(kind).Inc()
}

// RecordCoalesced counts a request that joined an in-flight request.
func (c *Collector) RecordCoalesced(kind string) {
	if c == nil {
		return
	}
	c.coalescedTotal.WithLabelValues(kind).Inc()
}

// RecordInflight sets the number of in-flight calls.
func (c *Collector) RecordInflight(n int) {
	if c == nil {
		return
	}
	c.inflight.Set(float64(n))
}

// RecordQueueDepth sets the queue depth.
func (c *Collector) RecordQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

// RecordNotify observes one notification round.
func (c *Collector) RecordNotify(d time.Duration) {
	if c == nil {
		return
	}
	c.notifyDuration.Observe(d.Seconds())
}

// StatsSource is implemented by memoized selectors.
type StatsSource interface {
	Name() string
	Stats() selector.Stats
}

// WatchSelector exports a memoized selector's hit, recompute and error
// counts, read on every scrape. Watching two selectors with the same name
// is an error.
func (c *Collector) WatchSelector(src StatsSource) error {
	labels := prometheus.Labels{"selector": src.Name()}
	funcs := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   c.namespace,
			Subsystem:   "selector",
			Name:        "hits_total",
			Help:        "Selector calls served from the cache",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Stats().Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   c.namespace,
			Subsystem:   "selector",
			Name:        "recomputes_total",
			Help:        "Selector derivations that ran",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Stats().Recomputes) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   c.namespace,
			Subsystem:   "selector",
			Name:        "errors_total",
			Help:        "Selector derivations that failed",
			ConstLabels: labels,
		}, func() float64 { return float64(src.Stats().Errors) }),
	}
	for _, f := range funcs {
		if err := c.registry.Register(f); err != nil {
			return fmt.Errorf("watch selector %q: %w", src.Name(), err)
		}
	}
	return nil
}
