package openai

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/bmae/internal/domain"
	"github.com/kailas-cloud/bmae/internal/metrics"
)

var _ domain.Generator = (*Generator)(nil)

// GeneratorConfig holds the chat completion settings.
type GeneratorConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Logger      *zap.Logger
}

// Generator answers prompts with the chat completion API.
type Generator struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	purpose     string
	logger      *zap.Logger
}

// NewGenerator creates a chat completion client.
func NewGenerator(cfg *GeneratorConfig) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		client:      newClient(&Config{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL}),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		purpose:     "answer",
		logger:      logger,
	}
}

// WithPurpose returns a generator sharing the client whose metrics carry purpose.
func (g *Generator) WithPurpose(purpose string) *Generator {
	cp := *g
	cp.purpose = purpose
	return &cp
}

// Generate implements domain.Generator.
func (g *Generator) Generate(ctx context.Context, system string, messages []domain.ChatMessage) (string, error) {
	model, temperature := g.model, g.temperature
	if over := domain.GenerationSettingsFrom(ctx); !over.IsZero() {
		if over.Model != "" {
			model = over.Model
		}
		if over.Temperature != nil {
			temperature = *over.Temperature
		}
	}
	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: temperature,
		MaxTokens:   g.maxTokens,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)+1),
	}
	// temperature is omitempty on the wire; 0 would fall back to the server default
	if req.Temperature == 0 {
		req.Temperature = math.SmallestNonzeroFloat32
	}
	if system != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    chatRole(m.Role),
			Content: m.Content,
		})
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(model, g.purpose, "error").Inc()
		g.logger.Warn("Chat completion failed",
			zap.String("model", model), zap.String("purpose", g.purpose), zap.Duration("duration", duration), zap.Error(err))
		return "", wrapAPIError("chat completion", err, domain.ErrGeneration)
	}
	if len(resp.Choices) == 0 {
		metrics.GenerationRequestsTotal.WithLabelValues(model, g.purpose, "error").Inc()
		return "", fmt.Errorf("empty chat completion response: %w", domain.ErrGeneration)
	}

	metrics.GenerationRequestsTotal.WithLabelValues(model, g.purpose, "success").Inc()
	metrics.GenerationRequestDuration.WithLabelValues(model, g.purpose).Observe(duration.Seconds())
	if resp.Usage.TotalTokens > 0 {
		metrics.GenerationTokensTotal.WithLabelValues(model, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.GenerationTokensTotal.WithLabelValues(model, "completion").Add(float64(resp.Usage.CompletionTokens))
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func chatRole(r domain.Role) string {
	switch r {
	case domain.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case domain.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
