package retrieval

import (
	"context"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/lexical"
)

// Retriever returns up to k documents for query, best first.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]domain.ScoredDocument, error)
}

// VectorSearcher is the similarity search side of the vector repository.
type VectorSearcher interface {
	Search(ctx context.Context, collection string, query []float32, k int) ([]domain.ScoredDocument, error)
}

// SnapshotProvider hands out the current lexical index snapshot.
type SnapshotProvider interface {
	LexicalIndex(ctx context.Context) (*lexical.Index, error)
}

// Combiner merges ranked lists into one ranking.
type Combiner interface {
	Combine(lists [][]domain.ScoredDocument) []domain.ScoredDocument
}
