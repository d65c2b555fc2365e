package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	openai "github.com/sashabaranov/go-openai"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()
	os.Exit(m.Run())
}

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

// embeddingServer answers /embeddings with reply(req). A nil reply body means status-only.
func embeddingServer(t *testing.T, status int, reply func(req embeddingRequest) any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(reply(req))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// vectorsFor returns one vector per input whose first component is the input length.
func vectorsFor(req embeddingRequest) []openai.Embedding {
	out := make([]openai.Embedding, len(req.Input))
	for i, in := range req.Input {
		out[i] = openai.Embedding{Object: "embedding", Index: i, Embedding: []float32{float32(len(in)), 1}}
	}
	return out
}

func newTestEmbedder(url, provider string) *Embedder {
	return NewEmbedder(&Config{
		APIKey:     "sk-test",
		BaseURL:    url,
		Model:      "text-embedding-3-large",
		Dimensions: 2,
		Provider:   provider,
	})
}

func TestEmbedder_Embed(t *testing.T) {
	srv, _ := embeddingServer(t, http.StatusOK, func(req embeddingRequest) any {
		if req.Model != "text-embedding-3-large" || req.Dimensions != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		return openai.EmbeddingResponse{
			Object: "list",
			Data:   vectorsFor(req),
			Usage:  openai.Usage{PromptTokens: 7, TotalTokens: 7},
		}
	})

	res, err := newTestEmbedder(srv.URL, "embed").Embed(context.Background(), "Portrait of Leopold I")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(res.Embedding) != 2 || res.Embedding[0] != float32(len("Portrait of Leopold I")) {
		t.Fatalf("unexpected vector %v", res.Embedding)
	}
	if res.PromptTokens != 7 || res.TotalTokens != 7 {
		t.Fatalf("unexpected usage %+v", res)
	}
}

func TestEmbedder_BatchEmbed_RestoresInputOrder(t *testing.T) {
	texts := []string{"Queen Astrid", "Royal Palace of Laeken", "Tapestry"}
	srv, _ := embeddingServer(t, http.StatusOK, func(req embeddingRequest) any {
		data := vectorsFor(req)
		for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
			data[i], data[j] = data[j], data[i]
		}
		return openai.EmbeddingResponse{Object: "list", Data: data, Usage: openai.Usage{PromptTokens: 12, TotalTokens: 12}}
	})

	res, err := newTestEmbedder(srv.URL, "batch").BatchEmbed(context.Background(), texts)
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if len(res.Embeddings) != len(texts) {
		t.Fatalf("got %d vectors", len(res.Embeddings))
	}
	for i, text := range texts {
		if res.Embeddings[i][0] != float32(len(text)) {
			t.Fatalf("vector %d belongs to another input: %v", i, res.Embeddings[i])
		}
	}
	if res.TotalTokens != 12 {
		t.Fatalf("total tokens = %d", res.TotalTokens)
	}
}

func TestEmbedder_BatchEmbed_EmptySkipsCall(t *testing.T) {
	srv, calls := embeddingServer(t, http.StatusOK, func(req embeddingRequest) any {
		return openai.EmbeddingResponse{Data: vectorsFor(req)}
	})

	res, err := newTestEmbedder(srv.URL, "empty").BatchEmbed(context.Background(), nil)
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if len(res.Embeddings) != 0 || calls.Load() != 0 {
		t.Fatalf("expected no request, got %d calls", calls.Load())
	}
}

func TestEmbedder_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		reply    func(req embeddingRequest) any
		reason   string
		contains string
	}{
		{
			name:   "gateway detail",
			status: http.StatusBadGateway,
			reply: func(embeddingRequest) any {
				return map[string]string{"detail": "upstream unavailable"}
			},
			reason:   "api_error",
			contains: "upstream unavailable",
		},
		{
			name:   "openai error body",
			status: http.StatusTooManyRequests,
			reply: func(embeddingRequest) any {
				return map[string]any{"error": map[string]any{"message": "quota exhausted", "type": "insufficient_quota"}}
			},
			reason:   "api_error",
			contains: "quota exhausted",
		},
		{
			name:   "fewer vectors than inputs",
			status: http.StatusOK,
			reply: func(req embeddingRequest) any {
				return openai.EmbeddingResponse{Data: vectorsFor(req)[:1]}
			},
			reason:   "count_mismatch",
			contains: "got 1 embeddings for 2 inputs",
		},
		{
			name:   "empty vector",
			status: http.StatusOK,
			reply: func(req embeddingRequest) any {
				data := vectorsFor(req)
				data[1].Embedding = nil
				return openai.EmbeddingResponse{Data: data}
			},
			contains: "empty embedding at index 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := "fail-" + strings.ReplaceAll(tt.name, " ", "-")
			srv, _ := embeddingServer(t, tt.status, tt.reply)

			_, err := newTestEmbedder(srv.URL, provider).BatchEmbed(context.Background(), []string{"a", "bb"})
			if !errors.Is(err, domain.ErrEmbeddingProviderError) {
				t.Fatalf("err = %v, want ErrEmbeddingProviderError", err)
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Fatalf("error %q does not mention %q", err, tt.contains)
			}
			if tt.reason != "" {
				got := testutil.ToFloat64(metrics.EmbeddingErrorsTotal.WithLabelValues(provider, "text-embedding-3-large", tt.reason))
				if got != 1 {
					t.Fatalf("%s errors = %v, want 1", tt.reason, got)
				}
			}
		})
	}
}

func TestEmbedder_CanceledContext(t *testing.T) {
	srv, _ := embeddingServer(t, http.StatusOK, func(req embeddingRequest) any {
		return openai.EmbeddingResponse{Data: vectorsFor(req)}
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEmbedder(srv.URL, "cancel").Embed(ctx, "x")
	if !errors.Is(err, domain.ErrEmbeddingProviderError) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want provider error wrapping context.Canceled", err)
	}
}

func TestEmbedder_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer srv.Close()

	if err := newTestEmbedder(srv.URL, "health").HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}
