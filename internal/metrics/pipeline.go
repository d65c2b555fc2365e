package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Generation, retrieval and indexing Prometheus metrics.
var (
	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Total number of chat completion requests",
		},
		[]string{"model", "purpose", "status"}, // purpose: "contextualize" / "answer"
	)

	GenerationRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_request_duration_seconds",
			Help:      "Chat completion duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"model", "purpose"},
	)

	GenerationTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_tokens_total",
			Help:      "Total chat completion tokens consumed",
		},
		[]string{"model", "type"},
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retriever latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"retriever"},
	)

	RetrievalFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_fallback_total",
			Help:      "Queries answered without a failed sub-retriever",
		},
		[]string{"failed"},
	)

	RetrievalResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_results",
			Help:      "Number of fused documents returned per query",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 10, 15, 20},
		},
	)

	IndexingBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexing_batches_total",
			Help:      "Indexing batches by outcome",
		},
		[]string{"status"}, // "committed" / "failed" / "truncated"
	)

	IndexingDocumentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexing_documents_total",
			Help:      "Documents appended to the vector store",
		},
	)

	NormalizationSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalization_skipped_total",
			Help:      "Records, pages or graphs skipped during normalization",
		},
		[]string{"kind"},
	)
)

var registerPipeline sync.Once

// RegisterPipelineMetrics adds the generation, retrieval and indexing collectors
// to the default registry. Later calls are no-ops.
func RegisterPipelineMetrics() {
	registerPipeline.Do(func() {
		prometheus.MustRegister(
			GenerationRequestsTotal,
			GenerationRequestDuration,
			GenerationTokensTotal,
			RetrievalDuration,
			RetrievalFallbackTotal,
			RetrievalResults,
			IndexingBatchesTotal,
			IndexingDocumentsTotal,
			NormalizationSkippedTotal,
		)
	})
}
