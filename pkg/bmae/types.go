package bmae

import (
	"context"

	"github.com/kailas-cloud/bmae/internal/domain"
)

// Embedder converts text to vector embeddings. Every vector of one model must
// have the same dimensionality.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// EmbeddingResult carries the embedding vector and token counts.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Generator produces a chat completion.
type Generator interface {
	Generate(ctx context.Context, system string, messages []Message) (string, error)
}

// Message is one chat message handed to a Generator.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Answer is the reply to one question.
type Answer struct {
	Text string
	// Query is the standalone question the retrievers searched with.
	Query   string
	Sources []Source
}

// Source is one retrieved Document with its fused relevance.
type Source struct {
	Content  string
	Metadata map[string]any
	Score    float64
}

// IngestReport summarizes one ingested file.
type IngestReport struct {
	Source    string
	Kind      string
	Documents int
	Skipped   int
	// Error is set when the whole file failed to normalize and was skipped.
	Error string
}

// IndexStats summarizes an indexing run.
type IndexStats struct {
	Batches   int
	Documents int
}

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status string            // "ok", "degraded", "error"
	Checks map[string]string // component -> "ok"/"error"
}

// embedderAdapter wraps a public Embedder to satisfy domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, err //nolint:wrapcheck // caller-provided embedder
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// generatorAdapter wraps a public Generator to satisfy domain.Generator.
type generatorAdapter struct {
	inner Generator
}

func (a generatorAdapter) Generate(ctx context.Context, system string, msgs []domain.ChatMessage) (string, error) {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{Role: string(m.Role), Content: m.Content}
	}
	return a.inner.Generate(ctx, system, out) //nolint:wrapcheck // caller-provided generator
}

func answerFromDomain(text, query string, docs []domain.ScoredDocument) Answer {
	ans := Answer{Text: text, Query: query, Sources: make([]Source, len(docs))}
	for i, d := range docs {
		ans.Sources[i] = Source{Content: d.Document.Content(), Metadata: d.Document.Metadata(), Score: d.Score}
	}
	return ans
}

// ChatSettings overrides the chat model and sampling temperature of one
// conversation. Empty fields keep the client defaults.
type ChatSettings struct {
	Model       string
	Temperature *float32
}

// ChatSettingsFromContext returns the overrides of the conversation being
// answered. Custom Generators use it to honor NewConversationWith.
func ChatSettingsFromContext(ctx context.Context) ChatSettings {
	g := domain.GenerationSettingsFrom(ctx)
	return ChatSettings{Model: g.Model, Temperature: g.Temperature}
}
