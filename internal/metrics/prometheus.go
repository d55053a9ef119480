// Package metrics provides Prometheus metrics for the watcher and dispatcher.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors plus plain counters mirrored for
// the status endpoint.
type Metrics struct {
	registry *prometheus.Registry

	pendingSeen      prometheus.Counter
	lookupMiss       prometheus.Counter
	filtered         *prometheus.CounterVec
	duplicates       prometheus.Counter
	dispatch         *prometheus.CounterVec
	inflight         prometheus.Gauge
	dispatchDuration prometheus.Histogram

	seenN      atomic.Int64
	missN      atomic.Int64
	filteredN  atomic.Int64
	duplicateN atomic.Int64
	cascadedN  atomic.Int64
	claimedN   atomic.Int64
	failedN    atomic.Int64
	inflightN  atomic.Int64
	startedAt  time.Time
}

// Snapshot is a point-in-time copy of the plain counters.
type Snapshot struct {
	PendingSeen   int64 `json:"pending_seen"`
	LookupMisses  int64 `json:"lookup_misses"`
	Filtered      int64 `json:"filtered"`
	Duplicates    int64 `json:"duplicates"`
	Cascaded      int64 `json:"cascaded"`
	Claimed       int64 `json:"claimed"`
	CallFailures  int64 `json:"call_failures"`
	InFlight      int64 `json:"in_flight"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startedAt: time.Now(),
	}

	m.pendingSeen = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pending_seen_total",
		Help:      "Pending transaction hashes received from the subscription",
	})
	m.lookupMiss = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lookup_miss_total",
		Help:      "Pending hashes that could no longer be resolved",
	})
	m.filtered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "filtered_total",
		Help:      "Transactions rejected by the selector filter, by reason",
	}, []string{"reason"})
	m.duplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicate_total",
		Help:      "Signals rejected because their hash was already seen",
	})
	m.dispatch = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_total",
		Help:      "Contract calls by step and result",
	}, []string{"step", "result"})
	m.inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inflight_units",
		Help:      "Units of work currently resolving or dispatching a transaction",
	})
	m.dispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_seconds",
		Help:      "Time from a novel signal to the end of its call sequence",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	})

	m.registry.MustRegister(
		m.pendingSeen,
		m.lookupMiss,
		m.filtered,
		m.duplicates,
		m.dispatch,
		m.inflight,
		m.dispatchDuration,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) PendingSeen() {
	if m == nil {
		return
	}
	m.pendingSeen.Inc()
	m.seenN.Add(1)
}

func (m *Metrics) LookupMiss() {
	if m == nil {
		return
	}
	m.lookupMiss.Inc()
	m.missN.Add(1)
}

func (m *Metrics) Filtered(reason string) {
	if m == nil {
		return
	}
	m.filtered.WithLabelValues(reason).Inc()
	m.filteredN.Add(1)
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
	m.duplicateN.Add(1)
}

// Call records the result of one contract call step ("cascade" or "claim").
func (m *Metrics) Call(step string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
		m.failedN.Add(1)
	} else if step == "cascade" {
		m.cascadedN.Add(1)
	} else if step == "claim" {
		m.claimedN.Add(1)
	}
	m.dispatch.WithLabelValues(step, result).Inc()
}

// UnitStarted and UnitDone track in-flight units of work.
func (m *Metrics) UnitStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
	m.inflightN.Add(1)
}

func (m *Metrics) UnitDone() {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.inflightN.Add(-1)
}

// ObserveDispatch records how long a dispatch sequence took.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.Observe(d.Seconds())
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		PendingSeen:   m.seenN.Load(),
		LookupMisses:  m.missN.Load(),
		Filtered:      m.filteredN.Load(),
		Duplicates:    m.duplicateN.Load(),
		Cascaded:      m.cascadedN.Load(),
		Claimed:       m.claimedN.Load(),
		CallFailures:  m.failedN.Load(),
		InFlight:      m.inflightN.Load(),
		UptimeSeconds: int64(time.Since(m.startedAt).Seconds()),
	}
}
