package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bmae/internal/domain"
)

func chatServer(t *testing.T, check func(req openai.ChatCompletionRequest), status int, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if check != nil {
			check(req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": reply, "type": "server_error"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Model: req.Model,
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
			}},
			Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17},
		})
	}))
}

func TestGenerator_Generate(t *testing.T) {
	server := chatServer(t, func(req openai.ChatCompletionRequest) {
		if req.Model != "gpt-4-turbo" {
			t.Errorf("unexpected model %q", req.Model)
		}
		if len(req.Messages) != 4 {
			t.Fatalf("expected system + 3 messages, got %d", len(req.Messages))
		}
		wantRoles := []string{"system", "user", "assistant", "user"}
		for i, want := range wantRoles {
			if req.Messages[i].Role != want {
				t.Errorf("message %d: role %q, want %q", i, req.Messages[i].Role, want)
			}
		}
		if req.Temperature <= 0 || req.Temperature > 1e-30 {
			t.Errorf("zero temperature must be sent as a tiny positive value, got %v", req.Temperature)
		}
	}, http.StatusOK, "  Who painted the portrait? \n")
	defer server.Close()

	g := NewGenerator(&GeneratorConfig{APIKey: "k", BaseURL: server.URL, Model: "gpt-4-turbo", Logger: zap.NewNop()})
	out, err := g.Generate(context.Background(), "rewrite the question", []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "Show me Leopold I"},
		{Role: domain.RoleAssistant, Content: "Here is a portrait."},
		{Role: domain.RoleUser, Content: "who painted it?"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Who painted the portrait?" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestGenerator_SessionOverrides(t *testing.T) {
	server := chatServer(t, func(req openai.ChatCompletionRequest) {
		if req.Model != "gpt-4o-mini" {
			t.Errorf("model = %q, want the session override", req.Model)
		}
		if req.Temperature != 0.9 {
			t.Errorf("temperature = %v, want 0.9", req.Temperature)
		}
	}, http.StatusOK, "ok")
	defer server.Close()

	g := NewGenerator(&GeneratorConfig{APIKey: "k", BaseURL: server.URL, Model: "gpt-4-turbo"})
	temp := float32(0.9)
	ctx := domain.WithGenerationSettings(context.Background(),
		domain.GenerationSettings{Model: "gpt-4o-mini", Temperature: &temp})
	if _, err := g.Generate(ctx, "", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGenerator_NoSystemPrompt(t *testing.T) {
	server := chatServer(t, func(req openai.ChatCompletionRequest) {
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("expected a single user message, got %+v", req.Messages)
		}
	}, http.StatusOK, "ok")
	defer server.Close()

	g := NewGenerator(&GeneratorConfig{APIKey: "k", BaseURL: server.URL, Model: "m"}).WithPurpose("contextualize")
	if _, err := g.Generate(context.Background(), "", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGenerator_APIError(t *testing.T) {
	server := chatServer(t, nil, http.StatusInternalServerError, "model overloaded")
	defer server.Close()

	g := NewGenerator(&GeneratorConfig{APIKey: "k", BaseURL: server.URL, Model: "m"})
	_, err := g.Generate(context.Background(), "sys", []domain.ChatMessage{{Role: domain.RoleUser, Content: "q"}})
	if !errors.Is(err, domain.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
}

func TestWithPurpose_SharesClient(t *testing.T) {
	g := NewGenerator(&GeneratorConfig{APIKey: "k", Model: "m"})
	c := g.WithPurpose("contextualize")
	if c.client != g.client || c.purpose != "contextualize" || g.purpose != "answer" {
		t.Fatalf("unexpected copy: %+v", c)
	}
}
