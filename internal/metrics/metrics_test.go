package metrics_test

import (
	"testing"
	"time"

	"github.com/book-expert/music-service/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, name string) bool {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() == name {
			return true
		}
	}

	return false
}

func TestMetricsRegistered(t *testing.T) {
	metrics.RecordGeneration(metrics.OutcomeSuccess)
	metrics.ObserveInvocation("cpu", "wav", time.Second)
	metrics.ObservePipelineLoad("3B", "cpu", time.Second)
	metrics.RecordCacheHit()
	metrics.RecordCacheMiss()
	metrics.SetPipelinesLoaded(1)
	metrics.ObserveHTTPRequest("GET", "/healthz", 200, time.Millisecond)

	for _, name := range []string{
		"book_expert_music_generation_ops_total",
		"book_expert_music_generation_duration_seconds",
		"book_expert_music_pipeline_load_duration_seconds",
		"book_expert_music_pipeline_cache_hits_total",
		"book_expert_music_pipeline_cache_misses_total",
		"book_expert_music_pipelines_loaded",
		"book_expert_music_http_request_duration_seconds",
	} {
		assert.True(t, findFamily(t, name), name)
	}
}
