// Package engine drives a request through its full lifecycle: route,
// match, debit, call the provider, validate the output, and settle the
// bill. Credits are taken before the provider call and every failure after
// the debit triggers a compensating refund.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/promptforge-ai/demon-engine/internal/cost"
	"github.com/promptforge-ai/demon-engine/internal/ledger"
	"github.com/promptforge-ai/demon-engine/internal/matcher"
	"github.com/promptforge-ai/demon-engine/internal/model"
	"github.com/promptforge-ai/demon-engine/internal/provider"
	"github.com/promptforge-ai/demon-engine/internal/resilience"
	"github.com/promptforge-ai/demon-engine/internal/router"
)

// ErrEmptyText means the request carried no text to upgrade.
var ErrEmptyText = eris.New("request text is empty")

// Metrics receives a record of every finished request. Implementations
// must be safe for concurrent use.
type Metrics interface {
	RecordRequest(pipeline, providerName string, state model.RequestState, credits int64, latency time.Duration)
}

// Engine orchestrates pipeline execution.
type Engine struct {
	ledger    *ledger.Ledger
	router    *router.Router
	matcher   *matcher.Matcher
	providers *provider.Executor
	calc      *cost.Calculator
	refunds   *resilience.RefundQueue
	metrics   Metrics
	maxTokens int
}

// Config wires the engine's collaborators.
type Config struct {
	Ledger    *ledger.Ledger
	Router    *router.Router
	Matcher   *matcher.Matcher
	Providers *provider.Executor
	Calc      *cost.Calculator
	Refunds   *resilience.RefundQueue
	Metrics   Metrics
	MaxTokens int
}

// New creates an Engine.
func New(cfg Config) *Engine {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Engine{
		ledger:    cfg.Ledger,
		router:    cfg.Router,
		matcher:   cfg.Matcher,
		providers: cfg.Providers,
		calc:      cfg.Calc,
		refunds:   cfg.Refunds,
		metrics:   cfg.Metrics,
		maxTokens: maxTokens,
	}
}

// Execute runs one upgrade request end to end. The request ID doubles as
// the debit's idempotency key, so a retried request never double-charges.
func (e *Engine) Execute(ctx context.Context, req model.ExecuteRequest) (*model.ExecuteResult, error) {
	start := time.Now()
	requestID := uuid.New().String()
	log := zap.L().With(
		zap.String("component", "engine"),
		zap.String("request_id", requestID),
		zap.String("user_id", req.UserID),
	)

	if req.Text == "" {
		return nil, ErrEmptyText
	}

	if _, err := e.ledger.EnsureAccount(ctx, req.UserID, req.Plan); err != nil {
		return nil, err
	}

	pipeline, err := e.router.Route(req.Intent, req.Client, req.Mode, req.Plan)
	if err != nil {
		return nil, err
	}

	match, err := e.matcher.Match(pipeline, req.Text, req.Intent)
	if err != nil {
		return nil, err
	}

	techniqueUnits := int64(0)
	for _, tech := range match.Techniques {
		techniqueUnits += tech.Cost
	}
	estimate := e.calc.Estimate(pipeline.BaseCost, int(techniqueUnits), len(match.Text), req.Mode)

	// Debit before the provider call. An insufficient balance stops the
	// request before any upstream cost is incurred.
	debit, err := e.ledger.Debit(ctx, req.UserID, estimate, requestID)
	if err != nil {
		return nil, err
	}
	logState(log, model.StateCreditReserved,
		zap.String("pipeline", pipeline.ID),
		zap.Int64("estimate", estimate),
		zap.Bool("replayed", debit.Replayed),
	)

	prompt := renderPrompt(match.Techniques, match.Commands, req.Meta, match.Text)

	resp, providerName, err := e.providers.Execute(ctx, provider.CompletionRequest{
		System:     systemPrompt(pipeline.Contract),
		Prompt:     prompt,
		ModelClass: pipeline.ModelClass,
		MaxTokens:  e.maxTokens,
	})
	if err != nil {
		e.refund(ctx, req.UserID, estimate, requestID, "provider failure")
		e.record(pipeline.ID, providerName, model.StateFailed, 0, time.Since(start))
		return nil, eris.Wrap(err, "engine: provider call")
	}
	logState(log, model.StateProviderCalled,
		zap.String("provider", providerName),
		zap.Duration("provider_latency", resp.Latency),
	)

	if _, err := validateContract(pipeline.Contract, resp.Text); err != nil {
		e.refund(ctx, req.UserID, estimate, requestID, "contract violation")
		e.record(pipeline.ID, providerName, model.StateFailed, 0, time.Since(start))
		return nil, err
	}
	logState(log, model.StateContractValidated)

	actual := e.calc.Actual(pipeline.ModelClass, pipeline.BaseCost+techniqueUnits, resp.InputTokens, resp.OutputTokens, req.Mode)
	creditsUsed := estimate
	if e.calc.NeedsAdjustment(estimate, actual) {
		if _, err := e.ledger.Adjust(ctx, req.UserID, estimate-actual, requestID); err != nil {
			// Billing stands at the estimate; reconciliation is best-effort.
			log.Warn("cost adjustment failed", zap.Error(err))
		} else {
			creditsUsed = actual
		}
	}
	logState(log, model.StateBilled, zap.Int64("credits_used", creditsUsed))

	totalLatency := time.Since(start)
	e.record(pipeline.ID, providerName, model.StateCompleted, creditsUsed, totalLatency)
	log.Info("request completed",
		zap.String("pipeline", pipeline.ID),
		zap.String("provider", providerName),
		zap.Int64("credits_used", creditsUsed),
		zap.Duration("latency", totalLatency),
	)

	result := &model.ExecuteResult{
		RequestID:      requestID,
		State:          model.StateCompleted,
		RenderedOutput: resp.Text,
		CreditsUsed:    creditsUsed,
	}
	if req.Explain {
		result.Diagnostics = &model.Diagnostics{
			Pipeline:        pipeline.ID,
			Provider:        providerName,
			Techniques:      match.Scores,
			InputTokens:     int64(resp.InputTokens),
			OutputTokens:    int64(resp.OutputTokens),
			EstimatedCost:   estimate,
			ActualCost:      actual,
			FidelityScore:   fidelityScore(match.Text, resp),
			ProviderLatency: resp.Latency,
			TotalLatency:    totalLatency,
		}
	}
	return result, nil
}

// refund compensates a failed request. It survives caller cancellation
// and falls back to the retry queue when the ledger write fails, so a
// failed request can never silently keep the user's credits.
func (e *Engine) refund(ctx context.Context, userID string, amount int64, requestID, reason string) {
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	sourceEvent := "refund:" + requestID
	if _, err := e.ledger.Refund(refundCtx, userID, amount, sourceEvent, requestID, reason); err != nil {
		e.refunds.Enqueue(resilience.RefundEntry{
			RequestID:     requestID,
			UserID:        userID,
			Amount:        amount,
			SourceEventID: sourceEvent,
			Reason:        reason,
			LastError:     err.Error(),
		})
	}
}

func logState(log *zap.Logger, state model.RequestState, fields ...zap.Field) {
	log.Debug("state transition", append([]zap.Field{zap.String("state", string(state))}, fields...)...)
}

func (e *Engine) record(pipeline, providerName string, state model.RequestState, credits int64, latency time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordRequest(pipeline, providerName, state, credits, latency)
	}
}

// systemPrompt frames the provider call for the contract the pipeline
// expects back.
func systemPrompt(contract model.Contract) string {
	base := "You are a prompt upgrading engine. Apply the instructions you are given to produce a single improved prompt. Output only the result, no commentary."
	if contract.Format != model.ContractJSON {
		return base
	}
	out := base + " Respond with a JSON object"
	if len(contract.RequiredFields) > 0 {
		out += " containing the fields:"
		for field, typ := range contract.RequiredFields {
			out += " " + field + " (" + typ + ")"
		}
	}
	return out + "."
}

// fidelityScore is a rough confidence that the upgrade preserved the
// request. It penalizes truncation and implausibly short output.
func fidelityScore(input string, resp *provider.CompletionResponse) float64 {
	score := 1.0
	if len(resp.Text) < len(input)/4 {
		score -= 0.2
	}
	if resp.OutputTokens == 0 {
		score -= 0.3
	}
	if score < 0 {
		score = 0
	}
	return score
}
