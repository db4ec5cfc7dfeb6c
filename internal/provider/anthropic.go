package provider

import (
	"context"

	"github.com/promptforge-ai/demon-engine/pkg/anthropic"
)

// AnthropicProvider serves completions through the Anthropic API.
type AnthropicProvider struct {
	client    anthropic.Client
	models    map[string]string // model class -> model ID
	maxTokens int64
}

// NewAnthropic wraps an Anthropic client as a Provider. models maps the
// pipeline model classes this provider serves to concrete model IDs.
func NewAnthropic(client anthropic.Client, models map[string]string) *AnthropicProvider {
	return &AnthropicProvider{
		client:    client,
		models:    models,
		maxTokens: 4096,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Supports(modelClass string) bool {
	_, ok := p.models[modelClass]
	return ok
}

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       p.models[req.ModelClass],
		MaxTokens:   maxTokens,
		System:      req.System,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}

	return &CompletionResponse{
		Text:         resp.Text(),
		Model:        resp.Model,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func (p *AnthropicProvider) Ping(ctx context.Context) error {
	model := ""
	for _, m := range p.models {
		model = m
		break
	}
	_, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     model,
		MaxTokens: 1,
		Messages:  []anthropic.Message{{Role: "user", Content: "ping"}},
	})
	return err
}
