package model

import "time"

// RequestState tracks a request through the execution engine.
type RequestState string

const (
	StateReceived          RequestState = "received"
	StateCreditReserved    RequestState = "credit_reserved"
	StateProviderCalled    RequestState = "provider_called"
	StateContractValidated RequestState = "contract_validated"
	StateBilled            RequestState = "billed"
	StateCompleted         RequestState = "completed"
	StateFailed            RequestState = "failed"
)

// ExecuteRequest is the body of POST /v1/demon/v2/upgrade. UserID and Plan
// come from the external auth layer, not the request body.
type ExecuteRequest struct {
	UserID  string            `json:"-"`
	Plan    Plan              `json:"-"`
	Text    string            `json:"text"`
	Intent  string            `json:"intent"`
	Client  string            `json:"client"`
	Mode    string            `json:"mode"`
	Meta    map[string]string `json:"meta,omitempty"`
	Explain bool              `json:"explain,omitempty"`
}

// TechniqueScore records one technique's match evaluation for diagnostics.
type TechniqueScore struct {
	TechniqueID string  `json:"technique_id"`
	Score       float64 `json:"score"`
	Included    bool    `json:"included"`
	Forced      bool    `json:"forced,omitempty"` // included via PFCL command
}

// Diagnostics explains how a request was processed.
type Diagnostics struct {
	Pipeline        string           `json:"pipeline"`
	Provider        string           `json:"provider"`
	Techniques      []TechniqueScore `json:"techniques"`
	InputTokens     int64            `json:"input_tokens"`
	OutputTokens    int64            `json:"output_tokens"`
	EstimatedCost   int64            `json:"estimated_cost"`
	ActualCost      int64            `json:"actual_cost"`
	FidelityScore   float64          `json:"fidelity_score"`
	ProviderLatency time.Duration    `json:"provider_latency_ms"`
	TotalLatency    time.Duration    `json:"total_latency_ms"`
}

// ExecuteResult is the successful outcome of an execute request.
type ExecuteResult struct {
	RequestID      string       `json:"request_id"`
	State          RequestState `json:"state"`
	RenderedOutput string       `json:"rendered_output"`
	CreditsUsed    int64        `json:"credits_used"`
	Diagnostics    *Diagnostics `json:"diagnostics,omitempty"`
}
