package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/metrics"
)

// DefaultK is the per-retriever result count.
const DefaultK = 5

// Config tunes the hybrid service.
type Config struct {
	// K is the per-retriever result count when Retrieve gets k <= 0.
	K int
	// Limit truncates the fused list. Zero keeps the whole union.
	Limit int
}

// Result is the outcome of one hybrid retrieval.
type Result struct {
	// Query is the text both retrievers ran against, after rewriting.
	Query     string
	Documents []domain.ScoredDocument
}

type source struct {
	name      string
	retriever Retriever
}

// Service runs the lexical and vector retrievers side by side and fuses their rankings.
type Service struct {
	sources  []source
	combiner Combiner
	rewriter *Contextualizer
	cfg      Config
	logger   *zap.Logger
}

// New creates a hybrid retrieval service. A nil rewriter disables query contextualization.
// The combiner weights apply to lexical then vector.
func New(lex, vec Retriever, combiner Combiner, rewriter *Contextualizer, cfg Config, logger *zap.Logger) *Service {
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sources:  []source{{name: "lexical", retriever: lex}, {name: "vector", retriever: vec}},
		combiner: combiner,
		rewriter: rewriter,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve rewrites query against history, searches both indexes and fuses the results.
// One failing retriever falls back to the other. When both fail only with
// ErrIndexUnavailable the result is empty.
func (s *Service) Retrieve(ctx context.Context, query string, history []domain.Turn, k int) (Result, error) {
	if k <= 0 {
		k = s.cfg.K
	}

	q := query
	if s.rewriter != nil {
		rewritten, err := s.rewriter.Rewrite(ctx, query, history)
		if err != nil {
			return Result{}, err
		}
		q = rewritten
	}

	lists := make([][]domain.ScoredDocument, len(s.sources))
	errs := make([]error, len(s.sources))
	var wg sync.WaitGroup
	for i, src := range s.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			lists[i], errs[i] = src.retriever.Search(ctx, q, k)
			metrics.RetrievalDuration.WithLabelValues(src.name).Observe(time.Since(start).Seconds())
		}()
	}
	wg.Wait()

	var failed []error
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed = append(failed, err)
		lists[i] = nil
		s.logger.Warn("Retriever failed",
			zap.String("retriever", s.sources[i].name), zap.String("query", q), zap.Error(err))
	}

	switch {
	case len(failed) == len(s.sources):
		if allUnavailable(failed) {
			metrics.RetrievalResults.Observe(0)
			return Result{Query: q}, nil
		}
		return Result{}, fmt.Errorf("hybrid retrieval: %w", errors.Join(failed...))
	case len(failed) > 0:
		for i, err := range errs {
			if err != nil {
				metrics.RetrievalFallbackTotal.WithLabelValues(s.sources[i].name).Inc()
			}
		}
	}

	docs := s.combiner.Combine(lists)
	if s.cfg.Limit > 0 && len(docs) > s.cfg.Limit {
		docs = docs[:s.cfg.Limit]
	}
	metrics.RetrievalResults.Observe(float64(len(docs)))

	s.logger.Debug("Hybrid retrieval completed",
		zap.String("query", q), zap.Int("documents", len(docs)), zap.Int("failed", len(failed)))
	return Result{Query: q, Documents: docs}, nil
}

func allUnavailable(errs []error) bool {
	for _, err := range errs {
		if !errors.Is(err, domain.ErrIndexUnavailable) {
			return false
		}
	}
	return true
}
