package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/promptforge-ai/demon-engine/internal/resilience"
)

// ErrProvidersExhausted means every failover candidate was tried and failed.
var ErrProvidersExhausted = eris.New("all providers exhausted")

// Executor routes completion calls through the registry with automatic
// failover. Each provider is guarded by its own circuit breaker.
type Executor struct {
	registry     *Registry
	breakers     *resilience.ProviderBreakers
	maxFailovers int

	// CallTimeout bounds a single provider call. Zero means no per-call
	// deadline beyond the request context. Timeouts take the failover path.
	CallTimeout time.Duration
}

// NewExecutor creates an Executor. maxFailovers is the number of additional
// providers tried after the first choice fails; <= 0 uses the default of 2.
func NewExecutor(registry *Registry, breakerCfg resilience.CircuitBreakerConfig, maxFailovers int) *Executor {
	if maxFailovers <= 0 {
		maxFailovers = 2
	}
	onChange := func(provider string, from, to resilience.CircuitState) {
		zap.L().Info("provider circuit transition",
			zap.String("provider", provider),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &Executor{
		registry:     registry,
		breakers:     resilience.NewProviderBreakers(breakerCfg, onChange),
		maxFailovers: maxFailovers,
	}
}

// Execute calls the best available provider for the model class, failing
// over to the next best on error. Failures are reported to the registry so
// subsequent selections avoid the broken backend. Non-transient provider
// errors still trigger failover but the error is preserved when every
// candidate fails.
func (e *Executor) Execute(ctx context.Context, req CompletionRequest) (*CompletionResponse, string, error) {
	skip := make(map[string]bool)
	var lastErr error

	for attempt := 0; attempt <= e.maxFailovers; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		p, err := e.registry.Select(req.ModelClass, skip)
		if err != nil {
			if lastErr != nil {
				return nil, "", eris.Wrap(ErrProvidersExhausted, lastErr.Error())
			}
			return nil, "", err
		}

		resp, err := e.callOne(ctx, p, req)
		if err == nil {
			return resp, p.Name(), nil
		}
		// A dead request context aborts; a per-call timeout fails over.
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}

		lastErr = err
		skip[p.Name()] = true
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			e.registry.ReportFailure(p.Name(), err)
		}
		zap.L().Warn("provider call failed, failing over",
			zap.String("provider", p.Name()),
			zap.String("model_class", req.ModelClass),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return nil, "", eris.Wrap(ErrProvidersExhausted, lastErr.Error())
}

func (e *Executor) callOne(ctx context.Context, p Provider, req CompletionRequest) (*CompletionResponse, error) {
	if e.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.CallTimeout)
		defer cancel()
	}
	var resp *CompletionResponse
	err := e.breakers.Get(p.Name()).Execute(ctx, func(ctx context.Context) error {
		start := time.Now()
		r, err := p.Complete(ctx, req)
		if err != nil {
			return err
		}
		r.Latency = time.Since(start)
		e.registry.ReportSuccess(p.Name(), r.Latency)
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
