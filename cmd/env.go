package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/promptforge-ai/demon-engine/internal/cost"
	"github.com/promptforge-ai/demon-engine/internal/engine"
	"github.com/promptforge-ai/demon-engine/internal/ledger"
	"github.com/promptforge-ai/demon-engine/internal/matcher"
	"github.com/promptforge-ai/demon-engine/internal/monitoring"
	"github.com/promptforge-ai/demon-engine/internal/provider"
	"github.com/promptforge-ai/demon-engine/internal/ratelimit"
	"github.com/promptforge-ai/demon-engine/internal/resilience"
	"github.com/promptforge-ai/demon-engine/internal/router"
	"github.com/promptforge-ai/demon-engine/internal/store"
	"github.com/promptforge-ai/demon-engine/internal/webhook"
	"github.com/promptforge-ai/demon-engine/pkg/anthropic"
	"github.com/promptforge-ai/demon-engine/pkg/openai"
)

// appEnv holds the wired application components for the serve path.
type appEnv struct {
	store    store.Store
	ledger   *ledger.Ledger
	registry *provider.Registry
	engine   *engine.Engine
	router   *router.Router
	webhooks *webhook.Processor
	metrics  *monitoring.Collector
	limiter  *ratelimit.PerUser
	refunds  *resilience.RefundQueue
	prober   *provider.Prober
	reporter *monitoring.Reporter
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return store.NewSQLite(cfg.Store.SQLitePath)
	}
}

// initEnv builds the full engine stack from configuration.
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	led := ledger.New(st, cfg.Engine.LedgerRetries)

	registry := provider.NewRegistry()
	if cfg.Anthropic.Key != "" {
		var opts []anthropic.Option
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
		}
		registry.Register(provider.NewAnthropic(anthropic.NewClient(cfg.Anthropic.Key, opts...), cfg.Anthropic.Models))
	}
	if cfg.OpenAI.Key != "" {
		var opts []openai.Option
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		registry.Register(provider.NewOpenAI("openai", openai.NewClient(cfg.OpenAI.Key, opts...), cfg.OpenAI.Models))
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	if cfg.Engine.BreakerThreshold > 0 {
		breakerCfg.FailureThreshold = cfg.Engine.BreakerThreshold
	}
	if cfg.Engine.BreakerResetSecs > 0 {
		breakerCfg.ResetTimeout = time.Duration(cfg.Engine.BreakerResetSecs) * time.Second
	}
	executor := provider.NewExecutor(registry, breakerCfg, cfg.Engine.MaxFailovers)
	if cfg.Engine.CallTimeoutSecs > 0 {
		executor.CallTimeout = time.Duration(cfg.Engine.CallTimeoutSecs) * time.Second
	}

	rt, err := loadRouter()
	if err != nil {
		return nil, err
	}
	m, err := loadMatcher()
	if err != nil {
		return nil, err
	}

	rates := cost.DefaultRates()
	if cfg.Pricing.PerTechnique > 0 {
		rates.PerTechnique = cfg.Pricing.PerTechnique
	}
	if cfg.Pricing.PerInputChunk > 0 {
		rates.PerInputChunk = cfg.Pricing.PerInputChunk
	}
	if cfg.Pricing.InputChunkSize > 0 {
		rates.InputChunkSize = cfg.Pricing.InputChunkSize
	}
	if cfg.Pricing.AdjustThreshold > 0 {
		rates.AdjustThreshold = cfg.Pricing.AdjustThreshold
	}
	if len(cfg.Pricing.ModeMultiplier) > 0 {
		rates.ModeMultiplier = cfg.Pricing.ModeMultiplier
	}
	calc := cost.NewCalculator(rates)

	refunds := resilience.NewRefundQueue(func(ctx context.Context, e resilience.RefundEntry) error {
		_, err := led.Refund(ctx, e.UserID, e.Amount, e.SourceEventID, e.RequestID, e.Reason)
		return err
	}, cfg.Engine.RefundRetries, time.Duration(cfg.Engine.RefundIntervalSecs)*time.Second)

	metrics := monitoring.NewCollector()

	eng := engine.New(engine.Config{
		Ledger:    led,
		Router:    rt,
		Matcher:   m,
		Providers: executor,
		Calc:      calc,
		Refunds:   refunds,
		Metrics:   metrics,
		MaxTokens: cfg.Engine.MaxTokens,
	})

	env := &appEnv{
		store:    st,
		ledger:   led,
		registry: registry,
		engine:   eng,
		router:   rt,
		webhooks: webhook.NewProcessor(led, st),
		metrics:  metrics,
		limiter:  ratelimit.NewPerUser(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		refunds:  refunds,
		prober:   provider.NewProber(registry, time.Duration(cfg.Engine.ProbeIntervalSecs)*time.Second),
	}
	if cfg.Engine.MetricsReport {
		env.reporter = monitoring.NewReporter(metrics, time.Minute)
	}
	return env, nil
}

func loadRouter() (*router.Router, error) {
	if cfg.Pipelines.PipelineFile == "" {
		return router.New(router.DefaultPipelines()), nil
	}
	rt, err := router.Load(cfg.Pipelines.PipelineFile)
	if err != nil {
		return nil, eris.Wrap(err, "init pipelines")
	}
	zap.L().Info("loaded pipeline table",
		zap.String("path", cfg.Pipelines.PipelineFile),
		zap.Int("pipelines", len(rt.Pipelines())),
	)
	return rt, nil
}

func loadMatcher() (*matcher.Matcher, error) {
	if cfg.Pipelines.TechniqueFile == "" {
		return matcher.New(matcher.DefaultTechniques()), nil
	}
	techniques, err := matcher.LoadTechniques(cfg.Pipelines.TechniqueFile)
	if err != nil {
		return nil, eris.Wrap(err, "init techniques")
	}
	zap.L().Info("loaded technique catalog",
		zap.String("path", cfg.Pipelines.TechniqueFile),
		zap.Int("techniques", len(techniques)),
	)
	return matcher.New(techniques), nil
}

func (e *appEnv) Close() {
	if err := e.store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}
