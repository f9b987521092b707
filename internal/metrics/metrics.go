// Package metrics provides Prometheus metrics for the aggregator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch cycle outcomes.
const (
	StatusOK    = "ok"
	StatusEmpty = "empty"
	StatusError = "error"
)

// Manager owns the registry and collectors. A nil *Manager is a valid no-op.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	runtime          bool
	registry         *prometheus.Registry

	fetchCycles   *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	pointsSaved   *prometheus.CounterVec
	pointsSkipped *prometheus.CounterVec
	bulkFallbacks *prometheus.CounterVec
	pointsPruned  prometheus.Counter
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithHistogramBuckets sets custom buckets for the fetch duration histogram.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithRegistry registers collectors on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// WithRuntimeCollectors adds the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(m *Manager) { m.runtime = true }
}

// NewManager creates a Manager with its collectors registered.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "aggregator",
		histogramBuckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	m.fetchCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "fetch_cycles_total",
		Help:      "Fetch-and-store cycles by source and outcome.",
	}, []string{"source", "status"})
	m.fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "fetch_cycle_duration_seconds",
		Help:      "Duration of fetch-and-store cycles.",
		Buckets:   m.histogramBuckets,
	}, []string{"source"})
	m.pointsSaved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "points_saved_total",
		Help:      "Data points persisted.",
	}, []string{"source"})
	m.pointsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "points_skipped_total",
		Help:      "Fetched data points not persisted (duplicates or invalid).",
	}, []string{"source"})
	m.bulkFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "bulk_insert_fallbacks_total",
		Help:      "Bulk inserts retried row by row after a uniqueness conflict.",
	}, []string{"source_id"})
	m.pointsPruned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "points_pruned_total",
		Help:      "Data points deleted by retention.",
	})

	m.registry.MustRegister(m.fetchCycles, m.fetchDuration, m.pointsSaved, m.pointsSkipped, m.bulkFallbacks, m.pointsPruned)
	if m.runtime {
		m.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

// Registry exposes the underlying registry.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFetch records one fetch cycle.
func (m *Manager) ObserveFetch(source, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchCycles.WithLabelValues(source, status).Inc()
	m.fetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Manager) AddSaved(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pointsSaved.WithLabelValues(source).Add(float64(n))
}

func (m *Manager) AddSkipped(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pointsSkipped.WithLabelValues(source).Add(float64(n))
}

func (m *Manager) IncBulkFallback(sourceID string) {
	if m == nil {
		return
	}
	m.bulkFallbacks.WithLabelValues(sourceID).Inc()
}

func (m *Manager) AddPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pointsPruned.Add(float64(n))
}
