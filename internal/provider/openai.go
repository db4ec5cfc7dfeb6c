package provider

import (
	"context"
	"errors"

	"github.com/promptforge-ai/demon-engine/internal/resilience"
	"github.com/promptforge-ai/demon-engine/pkg/openai"
)

// OpenAIProvider serves completions through an OpenAI-compatible API.
type OpenAIProvider struct {
	name      string
	client    openai.Client
	models    map[string]string // model class -> model ID
	maxTokens int
}

// NewOpenAI wraps an OpenAI-compatible client as a Provider. name lets the
// same adapter front different compatible backends.
func NewOpenAI(name string, client openai.Client, models map[string]string) *OpenAIProvider {
	if name == "" {
		name = "openai"
	}
	return &OpenAIProvider{
		name:      name,
		client:    client,
		models:    models,
		maxTokens: 4096,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Supports(modelClass string) bool {
	_, ok := p.models[modelClass]
	return ok
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	messages := make([]openai.Message, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, openai.Message{Role: "user", Content: req.Prompt})

	resp, err := p.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.models[req.ModelClass],
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return nil, resilience.NewTransientError(err, apiErr.StatusCode)
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty completion")
	}

	return &CompletionResponse{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (p *OpenAIProvider) Ping(ctx context.Context) error {
	model := ""
	for _, m := range p.models {
		model = m
		break
	}
	one := 1
	_, err := p.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  []openai.Message{{Role: "user", Content: "ping"}},
		MaxTokens: &one,
	})
	return err
}
