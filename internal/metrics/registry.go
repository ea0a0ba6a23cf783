// Package metrics exposes the pipeline's Prometheus instrumentation.
// Collectors are registered once per process; long runs can serve them
// over the optional /metrics listener.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "acip"

// Registry holds the pipeline's metric collectors.
type Registry struct {
	registry *prometheus.Registry

	discoveredEvents *prometheus.CounterVec
	duplicateEvents  *prometheus.CounterVec
	collectorErrors  *prometheus.CounterVec

	stageDuration *prometheus.HistogramVec
	decisions     *prometheus.CounterVec

	llmCalls    *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec

	fetches *prometheus.CounterVec

	dedupGroups       prometheus.Gauge
	dedupMergedGroups prometheus.Gauge
	dedupContributors prometheus.Gauge
	arbiterCalls      *prometheus.CounterVec
}

// NewRegistry builds a registry with its own Prometheus registry so tests
// never collide on the global default.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		registry: reg,

		discoveredEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "events_total",
			Help:      "Raw events stored per collector.",
		}, []string{"collector"}),
		duplicateEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "duplicates_total",
			Help:      "Events skipped because the URL or title hash already existed.",
		}, []string{"collector"}),
		collectorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "errors_total",
			Help:      "Collector and persistence failures during discovery.",
		}, []string{"collector"}),

		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "stage_duration_seconds",
			Help:      "Wall time per enrichment stage.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage", "status"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "decisions_total",
			Help:      "Final pipeline decisions by outcome.",
		}, []string{"decision"}),

		llmCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM API calls by provider, operation and status.",
		}, []string{"provider", "operation", "status"}),
		llmDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "LLM API call latency.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		}, []string{"provider", "operation"}),

		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "content",
			Name:      "fetches_total",
			Help:      "Content acquisition attempts by method and status.",
		}, []string{"method", "status"}),

		dedupGroups: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "groups",
			Help:      "Canonical groups produced by the latest dedup run.",
		}),
		dedupMergedGroups: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "merged_groups",
			Help:      "Groups with more than one contributor in the latest run.",
		}),
		dedupContributors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "contributors",
			Help:      "Enriched events grouped by the latest dedup run.",
		}),
		arbiterCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "arbiter_calls_total",
			Help:      "Borderline pairs escalated to the arbiter, by verdict.",
		}, []string{"verdict"}),
	}
}

// Handler serves the registry for scraping.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Registry) RecordDiscovered(collector string, n int) {
	r.discoveredEvents.WithLabelValues(collector).Add(float64(n))
}

func (r *Registry) RecordDuplicates(collector string, n int) {
	r.duplicateEvents.WithLabelValues(collector).Add(float64(n))
}

func (r *Registry) RecordCollectorError(collector string) {
	r.collectorErrors.WithLabelValues(collector).Inc()
}

// ObserveStage records one enrichment stage. status is "ok" or "error".
func (r *Registry) ObserveStage(stage, status string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

func (r *Registry) RecordDecision(decision string) {
	r.decisions.WithLabelValues(decision).Inc()
}

func (r *Registry) ObserveLLMCall(provider, operation, status string, d time.Duration) {
	r.llmCalls.WithLabelValues(provider, operation, status).Inc()
	r.llmDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
}

func (r *Registry) RecordFetch(method, status string) {
	r.fetches.WithLabelValues(method, status).Inc()
}

// RecordDedupRun snapshots the latest run's shape.
func (r *Registry) RecordDedupRun(groups, merged, contributors int) {
	r.dedupGroups.Set(float64(groups))
	r.dedupMergedGroups.Set(float64(merged))
	r.dedupContributors.Set(float64(contributors))
}

func (r *Registry) RecordArbiterVerdict(verdict string) {
	r.arbiterCalls.WithLabelValues(verdict).Inc()
}
