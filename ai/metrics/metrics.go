// Package metrics exports Prometheus metrics for the chat pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns the pipeline's metric registry. All Record methods are
// safe for concurrent callers.
type Exporter struct {
	registry *prometheus.Registry

	// Turn metrics
	turnLatency   *prometheus.HistogramVec
	turnsTotal    *prometheus.CounterVec
	chunksTotal   prometheus.Counter
	activeStreams prometheus.Gauge

	// Classification and routing
	classifications *prometheus.CounterVec
	routes          *prometheus.CounterVec
	modelFallbacks  prometheus.Counter

	// Memory pipeline
	memoriesExtracted   *prometheus.CounterVec
	memoriesRetrieved   prometheus.Counter
	memoriesSuperseded  prometheus.Counter
	consolidationMerges *prometheus.CounterVec

	// Caches and LLM calls
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec

	// Detached post-turn work
	backgroundFailures *prometheus.CounterVec
}

// Config configures the exporter.
type Config struct {
	// Registry to register on; nil creates a private one.
	Registry *prometheus.Registry

	// LatencyBuckets for the latency histograms, in seconds.
	LatencyBuckets []float64
}

// DefaultConfig returns the default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewExporter creates an exporter with all pipeline metrics registered.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.turnLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reverie",
			Subsystem: "chat",
			Name:      "turn_latency_seconds",
			Help:      "Full chat turn latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"route"},
	)
	e.turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reverie",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Total chat turns",
		},
		[]string{"route", "status"},
	)
	e.chunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reverie",
			Subsystem: "chat",
			Name:      "chunks_total",
			Help:      "Total streamed content chunks",
		},
	)
	e.activeStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "reverie",
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Chat streams currently open",
		},
	)

	e.classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reverie",
			Subsystem: "moderation",
			Name:      "classifications_total",
			Help:      "Content classifications by label and deciding source",
		},
		[]string{"label", "source"},
	)
	e.routes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reverie",
			Subsystem: "routing",
			Name:      "routes_total",
			Help:      "Route decisions, split by whether a lock forced the route",
		},
		[]string{"route", "locked"},
	)
	e.modelFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reverie",
			Subsystem: "routing",
			Name:      "model_fallbacks_total",
			Help:      "Local-client failures that fell back to the hosted client",
		},
	)

	e.memoriesExtracted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reverie",
			Subsystem: "memory",
			Name:      "extracted_total",
			Help:      "Memories stored by the extractor, by type",
		},
		[]string{"type"},
	)
	e.memoriesRetrieved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reverie",
			Subsystem: "memory",
			Name:      "retrieved_total",
			Help:      "Memories recalled into prompts",
		},
	)
	e.memoriesSuperseded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reverie",
			Subsystem: "memory",
			Name:      "superseded_total",
			Help:      "Memories deactivated by contradiction resolution",
		},
	)
	e.consolidationMerges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reverie",
			Subsystem: "memory",
			Name:      "consolidation_merges_total",
			Help:      "Memories folded by the consolidator, by pass",
		},
		[]string{"pass"},
	)

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reverie",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits by cache name",
		},
		[]string{"cache"},
	)
	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reverie",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses by cache name",
		},
		[]string{"cache"},
	)
	e.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reverie",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "LLM call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model", "backend"},
	)
	e.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reverie",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "LLM tokens consumed",
		},
		[]string{"model", "token_type"},
	)

	e.backgroundFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reverie",
			Subsystem: "background",
			Name:      "failures_total",
			Help:      "Detached post-turn task failures, by task",
		},
		[]string{"task"},
	)

	registry.MustRegister(
		e.turnLatency,
		e.turnsTotal,
		e.chunksTotal,
		e.activeStreams,
		e.classifications,
		e.routes,
		e.modelFallbacks,
		e.memoriesExtracted,
		e.memoriesRetrieved,
		e.memoriesSuperseded,
		e.consolidationMerges,
		e.cacheHits,
		e.cacheMisses,
		e.llmLatency,
		e.llmTokens,
		e.backgroundFailures,
	)
	return e
}

// RecordTurn records one completed chat turn.
func (e *Exporter) RecordTurn(route string, latency time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	e.turnsTotal.WithLabelValues(route, status).Inc()
	e.turnLatency.WithLabelValues(route).Observe(latency.Seconds())
}

// RecordChunks adds streamed chunks to the chunk counter.
func (e *Exporter) RecordChunks(n int) {
	if n > 0 {
		e.chunksTotal.Add(float64(n))
	}
}

// StreamOpened and StreamClosed track the active-stream gauge.
func (e *Exporter) StreamOpened() { e.activeStreams.Inc() }
func (e *Exporter) StreamClosed() { e.activeStreams.Dec() }

// RecordClassification records a moderation verdict and which stage
// decided it (rule, pattern, llm, cache).
func (e *Exporter) RecordClassification(label, source string) {
	e.classifications.WithLabelValues(label, source).Inc()
}

// RecordRoute records a route decision.
func (e *Exporter) RecordRoute(route string, locked bool) {
	e.routes.WithLabelValues(route, boolLabel(locked)).Inc()
}

// RecordModelFallback counts a local-to-hosted fallback.
func (e *Exporter) RecordModelFallback() { e.modelFallbacks.Inc() }

// RecordExtraction counts memories stored by the extractor.
func (e *Exporter) RecordExtraction(memoryType string, n int) {
	if n > 0 {
		e.memoriesExtracted.WithLabelValues(memoryType).Add(float64(n))
	}
}

// RecordRetrieval counts memories recalled into a prompt.
func (e *Exporter) RecordRetrieval(n int) {
	if n > 0 {
		e.memoriesRetrieved.Add(float64(n))
	}
}

// RecordSupersedence counts a memory deactivated by contradiction.
func (e *Exporter) RecordSupersedence() { e.memoriesSuperseded.Inc() }

// RecordConsolidation counts consolidator merges for one pass
// ("exact" or "semantic").
func (e *Exporter) RecordConsolidation(pass string, n int) {
	if n > 0 {
		e.consolidationMerges.WithLabelValues(pass).Add(float64(n))
	}
}

// RecordCacheHit and RecordCacheMiss count lookups per named cache.
func (e *Exporter) RecordCacheHit(cache string)  { e.cacheHits.WithLabelValues(cache).Inc() }
func (e *Exporter) RecordCacheMiss(cache string) { e.cacheMisses.WithLabelValues(cache).Inc() }

// RecordLLMCall records one LLM call's latency.
func (e *Exporter) RecordLLMCall(model, backend string, latency time.Duration) {
	e.llmLatency.WithLabelValues(model, backend).Observe(latency.Seconds())
}

// RecordLLMTokens counts tokens by type (prompt, completion).
func (e *Exporter) RecordLLMTokens(model, tokenType string, n int) {
	if n > 0 {
		e.llmTokens.WithLabelValues(model, tokenType).Add(float64(n))
	}
}

// RecordBackgroundFailure counts a detached task failure.
func (e *Exporter) RecordBackgroundFailure(task string) {
	e.backgroundFailures.WithLabelValues(task).Inc()
}

// Handler serves the registry in Prometheus text format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
