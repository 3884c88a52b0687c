// Package metrics holds the Prometheus collectors of one litweave App. Every
// App owns its own registry; nothing is registered globally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task outcomes.
const (
	OutcomeDone   = "done"
	OutcomeFailed = "failed"
)

// Cache lookup results.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Metrics are the collectors recorded during builds.
type Metrics struct {
	registry        *prometheus.Registry
	tasks           *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	buildPasses     prometheus.Gauge
	builds          *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "litweave_tasks_total",
				Help: "Number of executed tasks by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "litweave_cache_lookups_total",
				Help: "Number of result cache lookups by result.",
			},
			[]string{"result"},
		),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "litweave_session_duration_seconds",
			Help:    "Wall time of executed sessions.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		buildPasses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "litweave_build_passes",
			Help: "Scheduler passes of the most recent build.",
		}),
		builds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "litweave_builds_total",
				Help: "Number of builds by outcome.",
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(
		m.tasks,
		m.cacheLookups,
		m.sessionDuration,
		m.buildPasses,
		m.builds,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TaskFinished counts one executed task.
func (m *Metrics) TaskFinished(kind, outcome string) {
	m.tasks.WithLabelValues(kind, outcome).Inc()
}

// CacheLookup counts one cache lookup.
func (m *Metrics) CacheLookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues(CacheHit).Inc()
		return
	}
	m.cacheLookups.WithLabelValues(CacheMiss).Inc()
}

// SessionRan observes the runtime of one executed session.
func (m *Metrics) SessionRan(d time.Duration) {
	m.sessionDuration.Observe(d.Seconds())
}

// BuildPasses records the pass count of a build.
func (m *Metrics) BuildPasses(n int) {
	m.buildPasses.Set(float64(n))
}

// BuildFinished counts one build.
func (m *Metrics) BuildFinished(outcome string) {
	m.builds.WithLabelValues(outcome).Inc()
}
