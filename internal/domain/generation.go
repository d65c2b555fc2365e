package domain

import (
	"context"
	"fmt"
)

// MaxTemperature is the highest sampling temperature a session may ask for.
const MaxTemperature = 2

// GenerationSettings overrides the process-wide model and temperature for one
// conversation. Zero values keep the defaults.
type GenerationSettings struct {
	Model       string
	Temperature *float32
}

// IsZero reports whether no override is set.
func (g GenerationSettings) IsZero() bool {
	return g.Model == "" && g.Temperature == nil
}

// Validate rejects temperatures outside [0, MaxTemperature].
func (g GenerationSettings) Validate() error {
	if g.Temperature != nil && (*g.Temperature < 0 || *g.Temperature > MaxTemperature) {
		return fmt.Errorf("%w: temperature %v outside [0, %d]", ErrInvalidInput, *g.Temperature, MaxTemperature)
	}
	return nil
}

type generationSettingsKey struct{}

// WithGenerationSettings attaches per-conversation overrides to ctx.
func WithGenerationSettings(ctx context.Context, g GenerationSettings) context.Context {
	if g.IsZero() {
		return ctx
	}
	return context.WithValue(ctx, generationSettingsKey{}, g)
}

// GenerationSettingsFrom returns the overrides attached to ctx, if any.
func GenerationSettingsFrom(ctx context.Context) GenerationSettings {
	g, _ := ctx.Value(generationSettingsKey{}).(GenerationSettings)
	return g
}

// ChatMessage is one message sent to the language model.
type ChatMessage struct {
	Role    Role
	Content string
}

// Generator is the language model black box: system prompt plus conversation in, text out.
// Implementations wrap every failure with ErrGeneration.
type Generator interface {
	Generate(ctx context.Context, system string, messages []ChatMessage) (string, error)
}

// HistoryMessages flattens history turns into alternating user/assistant messages.
func HistoryMessages(history []Turn) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(history)*2)
	for _, t := range history {
		msgs = append(msgs,
			ChatMessage{Role: RoleUser, Content: t.Question},
			ChatMessage{Role: RoleAssistant, Content: t.Answer},
		)
	}
	return msgs
}
