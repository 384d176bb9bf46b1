package facade

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
)

// Model is the language-model facade used by pipeline steps.
type Model interface {
	// Complete sends a system prompt and a user prompt and returns the
	// model's text response.
	Complete(ctx context.Context, system, user string) (string, error)
}

const defaultMaxTokens = 4096

// AnthropicModel is a Model backed by the Anthropic API via langchaingo.
type AnthropicModel struct {
	llm       llms.Model
	maxTokens int
}

var _ Model = (*AnthropicModel)(nil)

// NewAnthropicModel creates a Model for the given model name. The API key
// may be empty, in which case the client falls back to the
// ANTHROPIC_API_KEY environment variable.
func NewAnthropicModel(model, apiKey string) (*AnthropicModel, error) {
	opts := []anthropic.Option{anthropic.WithModel(model)}
	if apiKey != "" {
		opts = append(opts, anthropic.WithToken(apiKey))
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModel, err)
	}
	return &AnthropicModel{llm: llm, maxTokens: defaultMaxTokens}, nil
}

func (m *AnthropicModel) Complete(ctx context.Context, system, user string) (string, error) {
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(user)},
		},
	}

	resp, err := m.llm.GenerateContent(ctx, messages, llms.WithMaxTokens(m.maxTokens))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModel, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrModel)
	}
	return resp.Choices[0].Content, nil
}
