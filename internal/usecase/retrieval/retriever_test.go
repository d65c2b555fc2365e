package retrieval

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/lexical"
	"github.com/kailas-cloud/bmae/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

type snapshotFunc func(ctx context.Context) (*lexical.Index, error)

func (f snapshotFunc) LexicalIndex(ctx context.Context) (*lexical.Index, error) { return f(ctx) }

type embedFunc func(ctx context.Context, text string) (domain.EmbeddingResult, error)

func (f embedFunc) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	return f(ctx, text)
}

type vectorSearchFunc func(ctx context.Context, collection string, q []float32, k int) ([]domain.ScoredDocument, error)

func (f vectorSearchFunc) Search(ctx context.Context, collection string, q []float32, k int) ([]domain.ScoredDocument, error) {
	return f(ctx, collection, q, k)
}

func TestLexicalRetriever_Search(t *testing.T) {
	idx := lexical.Build([]domain.Document{
		domain.NewDocument("Portrait of King Leopold I by Nicaise de Keyser", nil),
		domain.NewDocument("View of the Royal Palace of Laeken", nil),
	})
	r := NewLexicalRetriever(snapshotFunc(func(context.Context) (*lexical.Index, error) { return idx, nil }))

	got, err := r.Search(context.Background(), "leopold portrait", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Score != 1 {
		t.Fatalf("unexpected results: %+v", got)
	}
}

func TestLexicalRetriever_EmptyIndexUnavailable(t *testing.T) {
	for name, idx := range map[string]*lexical.Index{"nil": nil, "empty": lexical.Build(nil)} {
		t.Run(name, func(t *testing.T) {
			r := NewLexicalRetriever(snapshotFunc(func(context.Context) (*lexical.Index, error) { return idx, nil }))
			_, err := r.Search(context.Background(), "q", 5)
			if !errors.Is(err, domain.ErrIndexUnavailable) {
				t.Fatalf("expected ErrIndexUnavailable, got %v", err)
			}
		})
	}
}

func TestVectorRetriever_Search(t *testing.T) {
	embed := embedFunc(func(_ context.Context, text string) (domain.EmbeddingResult, error) {
		if text != "who painted it" {
			t.Errorf("unexpected query %q", text)
		}
		return domain.EmbeddingResult{Embedding: []float32{1, 0}, TotalTokens: 4}, nil
	})
	store := vectorSearchFunc(func(_ context.Context, collection string, q []float32, k int) ([]domain.ScoredDocument, error) {
		if collection != "bmae" || k != 3 || len(q) != 2 {
			t.Errorf("unexpected search args %q %v %d", collection, q, k)
		}
		return []domain.ScoredDocument{sd("hit", 0.9)}, nil
	})

	ctx, usage := domain.NewContextWithUsage(context.Background())
	got, err := NewVectorRetriever(embed, store, "bmae").Search(ctx, "who painted it", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	if !usage.Used || usage.TotalTokens != 4 {
		t.Errorf("usage not recorded: %+v", usage)
	}
}

func TestVectorRetriever_EmbedError(t *testing.T) {
	embed := embedFunc(func(context.Context, string) (domain.EmbeddingResult, error) {
		return domain.EmbeddingResult{}, domain.ErrEmbeddingProviderError
	})
	store := vectorSearchFunc(func(context.Context, string, []float32, int) ([]domain.ScoredDocument, error) {
		t.Fatal("store must not be queried")
		return nil, nil
	})
	_, err := NewVectorRetriever(embed, store, "bmae").Search(context.Background(), "q", 5)
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
}
