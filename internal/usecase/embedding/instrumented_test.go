package embedding

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	os.Exit(m.Run())
}

// embedFunc is a single-text embedder without a batch endpoint.
type embedFunc func(ctx context.Context, text string) (domain.EmbeddingResult, error)

func (f embedFunc) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	return f(ctx, text)
}

// wordEmbedder charges one token per word and records every batch it receives.
type wordEmbedder struct {
	batches   [][]string
	err       error
	healthErr error
}

func (w *wordEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := w.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: res.Embeddings[0], PromptTokens: res.PromptTokens, TotalTokens: res.TotalTokens}, nil
}

func (w *wordEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	w.batches = append(w.batches, slices.Clone(texts))
	if w.err != nil {
		return domain.BatchEmbeddingResult{}, w.err
	}
	var res domain.BatchEmbeddingResult
	for _, t := range texts {
		words := len(strings.Fields(t))
		res.Embeddings = append(res.Embeddings, []float32{float32(words)})
		res.TotalTokens += words
	}
	res.PromptTokens = res.TotalTokens
	return res, nil
}

func (w *wordEmbedder) HealthCheck(context.Context) error { return w.healthErr }

func exhaustedBudget(provider string, action BudgetAction) *Budget {
	b := NewBudget(provider, BudgetLimits{Daily: 10, Action: action}, zap.NewNop())
	b.Record(10)
	return b
}

func TestInstrumentedEmbedder_Embed(t *testing.T) {
	providerDown := errors.New("503 from provider")
	tests := []struct {
		name       string
		inner      *wordEmbedder
		budget     *Budget
		wantErr    error
		wantCalled bool
	}{
		{name: "ok", inner: &wordEmbedder{}, wantCalled: true},
		{name: "provider error", inner: &wordEmbedder{err: providerDown}, wantErr: providerDown, wantCalled: true},
		{name: "budget rejects", inner: &wordEmbedder{}, budget: exhaustedBudget("reject", BudgetActionReject), wantErr: domain.ErrEmbeddingQuotaExceeded},
		{name: "budget warns", inner: &wordEmbedder{}, budget: exhaustedBudget("warn", BudgetActionWarn), wantCalled: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{Provider: "embed-" + tt.name, Model: "m"}
			if tt.budget != nil {
				opts.Budget = tt.budget
			}
			res, err := NewInstrumentedEmbedder(tt.inner, opts).Embed(context.Background(), "Portrait of Leopold I")

			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil) != (err == nil) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if called := len(tt.inner.batches) > 0; called != tt.wantCalled {
				t.Fatalf("provider called = %v, want %v", called, tt.wantCalled)
			}
			if err == nil && res.TotalTokens != 4 {
				t.Fatalf("tokens = %d, want 4", res.TotalTokens)
			}
		})
	}
}

func TestInstrumentedEmbedder_SpendsBudget(t *testing.T) {
	budget := NewBudget("spend", BudgetLimits{Daily: 100, Monthly: 1000, Action: BudgetActionReject}, zap.NewNop())
	p := NewInstrumentedEmbedder(&wordEmbedder{}, Options{Provider: "spend", Model: "m", Budget: budget})

	if _, err := p.BatchEmbed(context.Background(), []string{"Queen Astrid of Sweden", "Royal Palace"}); err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}

	usage := budget.Usage()
	if usage[0].Used != 6 || usage[1].Used != 6 {
		t.Fatalf("unexpected usage %+v", usage)
	}
	if got := testutil.ToFloat64(metrics.EmbeddingBudgetTokensRemaining.WithLabelValues("spend", PeriodDaily)); got != 94 {
		t.Fatalf("daily remaining gauge = %v, want 94", got)
	}
}

func TestInstrumentedEmbedder_BatchEmbed_Chunks(t *testing.T) {
	inner := &wordEmbedder{}
	p := NewInstrumentedEmbedder(inner, Options{Provider: "chunks", MaxBatchSize: 2})
	texts := []string{"a", "b b", "c c c", "d d d d", "e e e e e"}

	res, err := p.BatchEmbed(context.Background(), texts)
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if len(inner.batches) != 3 || len(inner.batches[2]) != 1 {
		t.Fatalf("unexpected chunking %v", inner.batches)
	}
	for i := range texts {
		if res.Embeddings[i][0] != float32(i+1) {
			t.Fatalf("vector %d out of order: %v", i, res.Embeddings[i])
		}
	}
	if res.TotalTokens != 15 {
		t.Fatalf("tokens = %d, want 15", res.TotalTokens)
	}
}

func TestInstrumentedEmbedder_BatchEmbed_BudgetBetweenChunks(t *testing.T) {
	inner := &wordEmbedder{}
	budget := NewBudget("between", BudgetLimits{Daily: 3, Action: BudgetActionReject}, zap.NewNop())
	p := NewInstrumentedEmbedder(inner, Options{Provider: "between", MaxBatchSize: 1, Budget: budget})

	_, err := p.BatchEmbed(context.Background(), []string{"one two three", "four"})
	if !errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
		t.Fatalf("err = %v, want ErrEmbeddingQuotaExceeded", err)
	}
	if len(inner.batches) != 1 {
		t.Fatalf("second chunk must not reach the provider, got %v", inner.batches)
	}
}

func TestInstrumentedEmbedder_BatchEmbed_SingleTextProvider(t *testing.T) {
	var seen []string
	inner := embedFunc(func(_ context.Context, text string) (domain.EmbeddingResult, error) {
		seen = append(seen, text)
		return domain.EmbeddingResult{Embedding: []float32{1}, TotalTokens: 2}, nil
	})
	p := NewInstrumentedEmbedder(inner, Options{Provider: "single"})

	res, err := p.BatchEmbed(context.Background(), []string{"x", "y", "z"})
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if len(res.Embeddings) != 3 || res.TotalTokens != 6 || !slices.Equal(seen, []string{"x", "y", "z"}) {
		t.Fatalf("unexpected fallback result %+v (seen %v)", res, seen)
	}
}

func TestInstrumentedEmbedder_BatchEmbed_Empty(t *testing.T) {
	inner := &wordEmbedder{}
	res, err := NewInstrumentedEmbedder(inner, Options{}).BatchEmbed(context.Background(), nil)
	if err != nil || len(res.Embeddings) != 0 || len(inner.batches) != 0 {
		t.Fatalf("empty input must be a no-op: %+v, %v", res, err)
	}
}

func TestInstrumentedEmbedder_RateLimited(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	p := NewInstrumentedEmbedder(&wordEmbedder{}, Options{Provider: "rate", Limiter: limiter})

	if _, err := p.Embed(context.Background(), "first"); err != nil {
		t.Fatalf("first request must pass: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Embed(ctx, "second"); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestInstrumentedEmbedder_HealthCheck(t *testing.T) {
	down := errors.New("models endpoint unreachable")
	if err := NewInstrumentedEmbedder(&wordEmbedder{healthErr: down}, Options{}).HealthCheck(context.Background()); !errors.Is(err, down) {
		t.Fatalf("err = %v, want the inner health error", err)
	}
	plain := embedFunc(func(context.Context, string) (domain.EmbeddingResult, error) { return domain.EmbeddingResult{}, nil })
	if err := NewInstrumentedEmbedder(plain, Options{}).HealthCheck(context.Background()); err != nil {
		t.Fatalf("embedder without health check must report healthy: %v", err)
	}
}
