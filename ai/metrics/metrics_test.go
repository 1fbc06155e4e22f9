package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporterHandler(t *testing.T) {
	exporter := NewExporter(DefaultConfig())

	exporter.RecordTurn("NORMAL", 120*time.Millisecond, nil)
	exporter.RecordTurn("EXPLICIT", 2*time.Second, errors.New("stream cut"))
	exporter.RecordChunks(42)
	exporter.StreamOpened()
	exporter.RecordClassification("SAFE", "pattern")
	exporter.RecordRoute("NORMAL", false)
	exporter.RecordRoute("EXPLICIT", true)
	exporter.RecordModelFallback()
	exporter.RecordExtraction("fact", 2)
	exporter.RecordRetrieval(5)
	exporter.RecordSupersedence()
	exporter.RecordConsolidation("exact", 3)
	exporter.RecordCacheHit("personality")
	exporter.RecordCacheMiss("moderation")
	exporter.RecordLLMCall("gpt-4o-mini", "hosted", 800*time.Millisecond)
	exporter.RecordLLMTokens("gpt-4o-mini", "prompt", 512)
	exporter.RecordBackgroundFailure("memory_extraction")

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	w := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	for _, metric := range []string{
		"reverie_chat_turns_total",
		"reverie_chat_turn_latency_seconds",
		"reverie_chat_chunks_total",
		"reverie_chat_active_streams",
		"reverie_moderation_classifications_total",
		"reverie_routing_routes_total",
		"reverie_routing_model_fallbacks_total",
		"reverie_memory_extracted_total",
		"reverie_memory_retrieved_total",
		"reverie_memory_superseded_total",
		"reverie_memory_consolidation_merges_total",
		"reverie_cache_hits_total",
		"reverie_cache_misses_total",
		"reverie_llm_latency_seconds",
		"reverie_llm_tokens_total",
		"reverie_background_failures_total",
	} {
		assert.Contains(t, body, metric)
	}

	assert.Contains(t, body, `reverie_chat_turns_total{route="NORMAL",status="success"} 1`)
	assert.Contains(t, body, `reverie_chat_turns_total{route="EXPLICIT",status="error"} 1`)
	assert.Contains(t, body, `reverie_routing_routes_total{locked="true",route="EXPLICIT"} 1`)
	assert.Contains(t, body, `reverie_chat_chunks_total 42`)
}

func TestExporterZeroCountsDoNotCreateSeries(t *testing.T) {
	exporter := NewExporter(DefaultConfig())

	exporter.RecordChunks(0)
	exporter.RecordExtraction("fact", 0)
	exporter.RecordRetrieval(0)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	w := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	assert.NotContains(t, body, `reverie_memory_extracted_total{type="fact"}`)
}

func TestExporterPrivateRegistries(t *testing.T) {
	// MustRegister panics on duplicate registration, so each exporter
	// built without an explicit registry must own a private one.
	first := NewExporter(DefaultConfig())
	second := NewExporter(DefaultConfig())
	require.NotNil(t, first.Registry())
	assert.NotSame(t, first.Registry(), second.Registry())
}
