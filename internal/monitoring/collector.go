// Package monitoring keeps in-process counters over request outcomes so
// the health endpoint and the periodic log line can report how the engine
// is doing without touching the store.
package monitoring

import (
	"sync"
	"time"

	"github.com/promptforge-ai/demon-engine/internal/model"
)

// Snapshot holds a point-in-time view of engine activity since start.
type Snapshot struct {
	RequestsTotal     int64   `json:"requests_total"`
	RequestsCompleted int64   `json:"requests_completed"`
	RequestsFailed    int64   `json:"requests_failed"`
	FailRate          float64 `json:"fail_rate"`

	CreditsBilled int64 `json:"credits_billed"`

	AvgLatency time.Duration `json:"avg_latency_ms"`

	ByPipeline map[string]int64 `json:"by_pipeline"`
	ByProvider map[string]int64 `json:"by_provider"`

	CollectedAt time.Time `json:"collected_at"`
}

// Collector accumulates request outcomes. Safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	total        int64
	completed    int64
	failed       int64
	credits      int64
	latencyTotal time.Duration

	byPipeline map[string]int64
	byProvider map[string]int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		byPipeline: make(map[string]int64),
		byProvider: make(map[string]int64),
	}
}

// RecordRequest folds one finished request into the counters.
func (c *Collector) RecordRequest(pipeline, provider string, state model.RequestState, credits int64, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	switch state {
	case model.StateCompleted:
		c.completed++
	case model.StateFailed:
		c.failed++
	}
	c.credits += credits
	c.latencyTotal += latency
	if pipeline != "" {
		c.byPipeline[pipeline]++
	}
	if provider != "" {
		c.byProvider[provider]++
	}
}

// Collect returns the current counters.
func (c *Collector) Collect() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		RequestsTotal:     c.total,
		RequestsCompleted: c.completed,
		RequestsFailed:    c.failed,
		CreditsBilled:     c.credits,
		ByPipeline:        make(map[string]int64, len(c.byPipeline)),
		ByProvider:        make(map[string]int64, len(c.byProvider)),
		CollectedAt:       time.Now().UTC(),
	}
	if c.total > 0 {
		snap.FailRate = float64(c.failed) / float64(c.total)
		snap.AvgLatency = c.latencyTotal / time.Duration(c.total)
	}
	for k, v := range c.byPipeline {
		snap.ByPipeline[k] = v
	}
	for k, v := range c.byProvider {
		snap.ByProvider[k] = v
	}
	return snap
}
