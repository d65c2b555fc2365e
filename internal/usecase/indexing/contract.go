package indexing

import (
	"context"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/normalizer"
	"github.com/kailas-cloud/bmae/internal/repository/vector"
)

// VectorAppender appends one batch of entries to a collection.
type VectorAppender interface {
	Add(ctx context.Context, collection string, entries []vector.Entry) error
}

// Normalizer turns one corpus file into Documents.
type Normalizer interface {
	Normalize(ctx context.Context, src domain.Source) (normalizer.Result, error)
}
