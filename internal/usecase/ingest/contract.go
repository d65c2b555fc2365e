package ingest

import (
	"context"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/normalizer"
)

// Normalizer turns one source into Documents.
type Normalizer interface {
	Normalize(ctx context.Context, src domain.Source) (normalizer.Result, error)
}

// ChunkWriter persists the Documents of one source.
type ChunkWriter interface {
	Put(ctx context.Context, sourceName string, docs []domain.Document) (string, error)
}
