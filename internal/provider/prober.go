package provider

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Prober periodically pings unhealthy providers and restores the ones
// that answer, so a backend that recovered does not stay benched forever.
type Prober struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
}

// NewProber creates a background health prober. interval <= 0 defaults to
// 30 seconds.
func NewProber(registry *Registry, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Prober{
		registry: registry,
		interval: interval,
		timeout:  10 * time.Second,
	}
}

// Run starts the probe loop. It blocks until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "provider.prober"))
	log.Info("starting health prober", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("health prober stopped")
			return
		case <-ticker.C:
			p.probe(ctx, log)
		}
	}
}

func (p *Prober) probe(ctx context.Context, log *zap.Logger) {
	unhealthy := p.registry.Unhealthy()
	if len(unhealthy) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, prov := range unhealthy {
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(gctx, p.timeout)
			defer cancel()

			start := time.Now()
			if err := prov.Ping(pingCtx); err != nil {
				log.Debug("probe failed",
					zap.String("provider", prov.Name()),
					zap.Error(err),
				)
				return nil
			}
			p.registry.ReportSuccess(prov.Name(), time.Since(start))
			return nil
		})
	}
	_ = g.Wait()
}
