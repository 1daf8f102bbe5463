// Package metrics exposes Prometheus instrumentation for the music service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "book_expert"
	subsystem = "music"
)

// Generation outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeValidation  = "validation"
	OutcomeRemediable  = "remediable"
	OutcomeUnrecovered = "unrecovered"
)

var (
	generationOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generation_ops_total",
			Help:      "The total number of generation requests by outcome.",
		},
		[]string{"outcome"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generation_duration_seconds",
			Help:      "Time spent in pipeline invocation.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"device", "format"},
	)

	pipelineLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pipeline_load_duration_seconds",
			Help:      "Time taken to construct a pipeline.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"version", "device"},
	)

	pipelineCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pipeline_cache_hits_total",
			Help:      "Total number of pipeline cache hits.",
		},
	)

	pipelineCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pipeline_cache_misses_total",
			Help:      "Total number of pipeline cache misses.",
		},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of front end requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	pipelinesLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pipelines_loaded",
			Help:      "Number of pipelines currently held by the cache.",
		},
	)
)

func init() {
	prometheus.MustRegister(generationOps)
	prometheus.MustRegister(generationDuration)
	prometheus.MustRegister(pipelineLoadDuration)
	prometheus.MustRegister(pipelineCacheHits)
	prometheus.MustRegister(pipelineCacheMisses)
	prometheus.MustRegister(pipelinesLoaded)
	prometheus.MustRegister(httpRequestDuration)
}

// RecordGeneration counts a finished generation request.
func RecordGeneration(outcome string) {
	generationOps.WithLabelValues(outcome).Inc()
}

// ObserveInvocation records how long a pipeline invocation took.
func ObserveInvocation(device, format string, elapsed time.Duration) {
	generationDuration.WithLabelValues(device, format).Observe(elapsed.Seconds())
}

// ObservePipelineLoad records a pipeline construction.
func ObservePipelineLoad(version, device string, elapsed time.Duration) {
	pipelineLoadDuration.WithLabelValues(version, device).Observe(elapsed.Seconds())
}

// RecordCacheHit counts a pipeline cache hit.
func RecordCacheHit() {
	pipelineCacheHits.Inc()
}

// RecordCacheMiss counts a pipeline cache miss.
func RecordCacheMiss() {
	pipelineCacheMisses.Inc()
}

// SetPipelinesLoaded updates the number of cached pipelines.
func SetPipelinesLoaded(count int) {
	pipelinesLoaded.Set(float64(count))
}

// ObserveHTTPRequest records a finished front end request.
func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
