package domain

import "context"

// EmbeddingUsage counts the embedding tokens spent answering one question.
// The HTTP ask handler attaches it and the vector retriever fills it in after
// embedding the query. Used stays true on a cache hit that billed nothing.
type EmbeddingUsage struct {
	TotalTokens int
	Used        bool
}

type usageKey struct{}

// NewContextWithUsage attaches a fresh collector to ctx and returns both.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	var u EmbeddingUsage
	return context.WithValue(ctx, usageKey{}, &u), &u
}

// UsageFromContext returns the collector attached to ctx or nil.
// AddTokens on the nil collector is a no-op.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(usageKey{}).(*EmbeddingUsage)
	return u
}

// AddTokens adds n billed tokens and marks the query as embedded.
func (u *EmbeddingUsage) AddTokens(n int) {
	if u == nil {
		return
	}
	u.Used = true
	u.TotalTokens += n
}
