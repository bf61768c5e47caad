// Package metrics defines the Prometheus instruments for the recommendation pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecommendDuration is end-to-end latency of Recommend calls by outcome.
	RecommendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ruiji_recommend_duration_seconds",
			Help:    "Duration of recommendation requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"}, // "ok", "degraded", "no_results", "error", "cancelled"
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ruiji_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"}, // "retrieve", "rerank"
	)

	CollaboratorFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruiji_collaborator_failures_total",
			Help: "Total number of embedding provider and pairwise scorer failures",
		},
		[]string{"collaborator"}, // "embedder", "scorer"
	)

	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruiji_retries_total",
			Help: "Total number of retried pipeline attempts",
		},
		[]string{"reason"},
	)

	DegradedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ruiji_degraded_responses_total",
			Help: "Total number of responses served in stage-1 order because scoring was unavailable",
		},
	)

	IndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ruiji_index_vectors",
			Help: "Current number of vectors in the similarity index",
		},
	)

	IndexBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruiji_index_builds_total",
			Help: "Total number of index builds",
		},
		[]string{"type", "outcome"},
	)

	IndexRecall = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ruiji_index_recall",
			Help: "Last measured recall of the approximate index against exact search",
		},
	)

	FeedFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruiji_feed_files_total",
			Help: "Total number of feed files ingested by the watcher",
		},
		[]string{"outcome"},
	)

	EmbeddingCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruiji_embedding_cache_lookups_total",
			Help: "Embedding cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ruiji_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// ObserveStage records the duration of a pipeline stage started at start.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
