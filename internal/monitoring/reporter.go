package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reporter logs a summary line on an interval so operators can follow
// throughput and error rates from the logs alone.
type Reporter struct {
	collector *Collector
	interval  time.Duration
}

// NewReporter creates a background metrics reporter. interval <= 0
// defaults to one minute.
func NewReporter(collector *Collector, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reporter{collector: collector, interval: interval}
}

// Run starts the reporting loop. It blocks until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.reporter"))
	log.Info("starting metrics reporter", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var lastTotal int64
	for {
		select {
		case <-ctx.Done():
			log.Info("metrics reporter stopped")
			return
		case <-ticker.C:
			snap := r.collector.Collect()
			if snap.RequestsTotal == lastTotal {
				continue
			}
			lastTotal = snap.RequestsTotal
			log.Info("engine metrics",
				zap.Int64("requests_total", snap.RequestsTotal),
				zap.Int64("requests_failed", snap.RequestsFailed),
				zap.Float64("fail_rate", snap.FailRate),
				zap.Int64("credits_billed", snap.CreditsBilled),
				zap.Duration("avg_latency", snap.AvgLatency),
			)
		}
	}
}
