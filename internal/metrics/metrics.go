// Package metrics provides Prometheus collectors for the HTTP, query and indexing paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "personsearch"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Query path
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "queries_total",
			Help:      "Total number of search queries by modality and outcome",
		},
		[]string{"modality", "outcome"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "query_duration_seconds",
			Help:      "Search query duration in seconds, embedding included",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"modality"},
	)

	// Indexing path
	IndexedSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "samples_total",
			Help:      "Total number of samples considered by the indexer, by result",
		},
		[]string{"result"},
	)

	EmbeddingBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "embedding_batch_duration_seconds",
			Help:      "Duration of one batched image embedding call",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	EmbeddingBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "embedding_batch_size",
			Help:      "Number of images per batched embedding call",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	IndexingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "runs_total",
			Help:      "Total number of indexing runs by outcome",
		},
		[]string{"outcome"},
	)

	// Readiness
	Ready = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready",
			Help:      "1 when the embedding oracle and vector store are initialized",
		},
	)
)

// RecordQuery records one finished query.
func RecordQuery(modality, outcome string, seconds float64) {
	QueriesTotal.WithLabelValues(modality, outcome).Inc()
	QueryDuration.WithLabelValues(modality).Observe(seconds)
}

// RecordEmbeddingBatch records one batched embedding call.
func RecordEmbeddingBatch(size int, seconds float64) {
	EmbeddingBatchSize.Observe(float64(size))
	EmbeddingBatchDuration.Observe(seconds)
}
