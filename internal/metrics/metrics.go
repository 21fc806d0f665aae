// Package metrics exposes Prometheus counters for the feed pipelines.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns a private registry and the pipeline collectors. A nil
// *Manager is valid and records nothing.
type Manager struct {
	registry *prometheus.Registry

	fetchErrors     *prometheus.CounterVec
	events          *prometheus.CounterVec
	enrichOutcomes  *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
}

// Option customises a Manager.
type Option func(*options)

type options struct {
	namespace     string
	goCollectors  bool
	refreshBucket []float64
}

// WithNamespace sets the metric namespace. Default: "ftsfeeds".
func WithNamespace(ns string) Option { return func(o *options) { o.namespace = ns } }

// WithRuntimeCollectors adds Go runtime and process collectors.
func WithRuntimeCollectors() Option { return func(o *options) { o.goCollectors = true } }

// NewManager builds a Manager on its own registry.
func NewManager(opts ...Option) *Manager {
	o := options{
		namespace:     "ftsfeeds",
		refreshBucket: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		registry: prometheus.NewRegistry(),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "fetch_errors_total",
			Help:      "Upstream fetch or parse failures per pipeline and source.",
		}, []string{"pipeline", "source"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "served_items_total",
			Help:      "Items served per pipeline and source.",
		}, []string{"pipeline", "source"}),
		enrichOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "enrich_results_total",
			Help:      "Detail-page enrichment results by outcome.",
		}, []string{"source", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "podcast_cache_lookups_total",
			Help:      "Podcast cache lookups by result (fresh, stale, miss, conflict).",
		}, []string{"source", "result"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Full pipeline run time.",
			Buckets:   o.refreshBucket,
		}, []string{"pipeline", "source"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		m.fetchErrors,
		m.events,
		m.enrichOutcomes,
		m.cacheLookups,
		m.refreshDuration,
		m.httpRequests,
	)
	if o.goCollectors {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Manager) FetchError(pipeline, source string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(pipeline, source).Inc()
}

func (m *Manager) Served(pipeline, source string, n int) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(pipeline, source).Add(float64(n))
}

func (m *Manager) EnrichResults(source string, succeeded, failed, empty int) {
	if m == nil {
		return
	}
	m.enrichOutcomes.WithLabelValues(source, "succeeded").Add(float64(succeeded))
	m.enrichOutcomes.WithLabelValues(source, "failed").Add(float64(failed))
	m.enrichOutcomes.WithLabelValues(source, "empty").Add(float64(empty))
}

func (m *Manager) CacheLookup(source, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(source, result).Inc()
}

func (m *Manager) ObserveRun(pipeline, source string, d time.Duration) {
	if m == nil {
		return
	}
	m.refreshDuration.WithLabelValues(pipeline, source).Observe(d.Seconds())
}

func (m *Manager) HTTPRequest(route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, statusLabel(code)).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
