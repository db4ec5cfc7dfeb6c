// Package provider abstracts the model backends behind a common completion
// interface and tracks their health so the engine can always call the
// fastest live backend and fail over when it breaks.
package provider

import (
	"context"
	"time"
)

// CompletionRequest is a provider-agnostic completion call.
type CompletionRequest struct {
	System      string
	Prompt      string
	ModelClass  string
	MaxTokens   int
	Temperature *float64
}

// CompletionResponse is the normalized provider output.
type CompletionResponse struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}

// Provider is a model backend capable of serving completions.
type Provider interface {
	// Name identifies the provider in health reports and diagnostics.
	Name() string
	// Supports reports whether the provider can serve the model class.
	Supports(modelClass string) bool
	// Complete performs a single completion call.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Ping performs a cheap liveness probe.
	Ping(ctx context.Context) error
}
