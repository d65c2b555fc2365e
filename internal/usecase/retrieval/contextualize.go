package retrieval

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/bmae/internal/domain"
)

const contextualizePrompt = "Given a chat history and the latest user question which might reference " +
	"context in the chat history, formulate a standalone question which can be understood without " +
	"the chat history. Do NOT answer the question, just reformulate it if needed and otherwise return it as is."

// Contextualizer rewrites a follow-up question into a standalone one.
type Contextualizer struct {
	gen domain.Generator
}

// NewContextualizer creates a query rewriter backed by gen.
func NewContextualizer(gen domain.Generator) *Contextualizer {
	return &Contextualizer{gen: gen}
}

// Rewrite returns query unchanged for an empty history.
func (c *Contextualizer) Rewrite(ctx context.Context, query string, history []domain.Turn) (string, error) {
	if len(history) == 0 {
		return query, nil
	}
	msgs := append(domain.HistoryMessages(history), domain.ChatMessage{Role: domain.RoleUser, Content: query})
	out, err := c.gen.Generate(ctx, contextualizePrompt, msgs)
	if err != nil {
		return "", fmt.Errorf("contextualize query: %w", err)
	}
	if out == "" {
		return query, nil
	}
	return out, nil
}
