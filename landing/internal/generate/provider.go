package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrNoProvider is returned when generation is requested without
// configured credentials.
var ErrNoProvider = errors.New("generate: no provider configured")

// Provider turns a prompt into a JSON-shaped completion.
type Provider interface {
	Complete(ctx context.Context, prompt string, temperature float32) (string, error)
}

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" json:"-"`
	Model   string `yaml:"model" json:"model"`
	BaseURL string `yaml:"base_url" json:"base_url"`
}

// DefaultModel is used when OpenAIConfig.Model is empty.
const DefaultModel = "gpt-4o-mini"

const systemPrompt = "You write conversion-focused landing page copy. " +
	"Answer with a single JSON object whose values are plain strings. No markdown, no HTML."

// OpenAIProvider completes prompts through the chat completions API with
// JSON output mode.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider returns ErrNoProvider when cfg has no API key.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoProvider
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(oc), model: model}, nil
}

// Model returns the model name requests are sent with.
func (p *OpenAIProvider) Model() string { return p.model }

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string, temperature float32) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
