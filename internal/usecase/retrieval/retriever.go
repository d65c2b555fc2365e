package retrieval

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/bmae/internal/domain"
)

// LexicalRetriever searches the BM25 snapshot.
type LexicalRetriever struct {
	snapshots SnapshotProvider
}

// NewLexicalRetriever creates a BM25 retriever.
func NewLexicalRetriever(snapshots SnapshotProvider) *LexicalRetriever {
	return &LexicalRetriever{snapshots: snapshots}
}

// Search implements Retriever. An empty snapshot is ErrIndexUnavailable.
func (r *LexicalRetriever) Search(ctx context.Context, query string, k int) ([]domain.ScoredDocument, error) {
	idx, err := r.snapshots.LexicalIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("lexical snapshot: %w", err)
	}
	if idx == nil || idx.Len() == 0 {
		return nil, fmt.Errorf("lexical index is empty: %w", domain.ErrIndexUnavailable)
	}
	return idx.Search(query, k), nil
}

// VectorRetriever embeds the query and searches one collection of the vector store.
type VectorRetriever struct {
	embed      domain.Embedder
	store      VectorSearcher
	collection string
}

// NewVectorRetriever creates a similarity retriever over collection.
func NewVectorRetriever(embed domain.Embedder, store VectorSearcher, collection string) *VectorRetriever {
	return &VectorRetriever{embed: embed, store: store, collection: collection}
}

// Search implements Retriever.
func (r *VectorRetriever) Search(ctx context.Context, query string, k int) ([]domain.ScoredDocument, error) {
	emb, err := r.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	domain.UsageFromContext(ctx).AddTokens(emb.TotalTokens)

	docs, err := r.store.Search(ctx, r.collection, emb.Embedding, k)
	if err != nil {
		return nil, fmt.Errorf("vector search %s: %w", r.collection, err)
	}
	return docs, nil
}
