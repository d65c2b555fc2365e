package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bmae"

// Embedding collectors cover both Document indexing and query embedding. The
// provider and model labels follow the embedding config; type is prompt or total.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embedding_requests_total",
		Help:      "Embedding provider calls by outcome",
	}, []string{"provider", "model", "status"})

	EmbeddingRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "embedding_request_duration_seconds",
		Help:      "Latency of one embedding provider call, batch or single",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider", "model"})

	EmbeddingTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embedding_tokens_total",
		Help:      "Tokens billed by the embedding provider",
	}, []string{"provider", "model", "type"})

	EmbeddingErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embedding_errors_total",
		Help:      "Failed embedding calls by error class",
	}, []string{"provider", "model", "error_type"})

	EmbeddingBudgetTokensRemaining = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "embedding_budget_tokens_remaining",
		Help:      "Tokens left in the daily or monthly embedding budget",
	}, []string{"provider", "period"})

	EmbeddingCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embedding_cache_total",
		Help:      "Embedding cache lookups by result (hit, miss)",
	}, []string{"result"})
)

var registerEmbedding sync.Once

// RegisterEmbeddingMetrics adds the embedding collectors to the default registry.
// Later calls are no-ops.
func RegisterEmbeddingMetrics() {
	registerEmbedding.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingTokensTotal,
			EmbeddingErrorsTotal,
			EmbeddingBudgetTokensRemaining,
			EmbeddingCacheTotal,
		)
	})
}
