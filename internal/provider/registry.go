package provider

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrNoProvider means no registered provider supports the requested
	// model class at all.
	ErrNoProvider = eris.New("no provider for model class")
	// ErrAllProvidersUnhealthy means providers exist for the class but every
	// one of them is currently marked unhealthy.
	ErrAllProvidersUnhealthy = eris.New("all providers unhealthy")
)

// ewmaAlpha weights new latency samples against the running average.
const ewmaAlpha = 0.3

// Health is the tracked state of a single provider.
type Health struct {
	Provider            string        `json:"provider"`
	Healthy             bool          `json:"healthy"`
	LatencyEWMA         time.Duration `json:"latency_ewma"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastError           string        `json:"last_error,omitempty"`
	LastChecked         time.Time     `json:"last_checked"`
}

type entry struct {
	provider Provider
	order    int
	health   Health
}

// Registry tracks registered providers and their observed health. Health
// state is ephemeral: every provider starts healthy on process start.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nowFunc func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		nowFunc: time.Now,
	}
}

// Register adds a provider. Registration order breaks latency ties.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[p.Name()] = &entry{
		provider: p,
		order:    len(r.entries),
		health:   Health{Provider: p.Name(), Healthy: true},
	}
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// Select returns the healthy provider with the lowest latency average that
// supports the model class, excluding any names in skip. Ties resolve by
// registration order so selection is deterministic.
func (r *Registry) Select(modelClass string, skip map[string]bool) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *entry
	supported := false
	for _, e := range r.entries {
		if !e.provider.Supports(modelClass) || skip[e.provider.Name()] {
			continue
		}
		supported = true
		if !e.health.Healthy {
			continue
		}
		if best == nil || better(e, best) {
			best = e
		}
	}
	if best == nil {
		if !supported {
			return nil, eris.Wrapf(ErrNoProvider, "provider: select %q", modelClass)
		}
		return nil, ErrAllProvidersUnhealthy
	}
	return best.provider, nil
}

func better(a, b *entry) bool {
	if a.health.LatencyEWMA != b.health.LatencyEWMA {
		// A provider with no samples yet sorts first so it gets traffic.
		return a.health.LatencyEWMA < b.health.LatencyEWMA
	}
	return a.order < b.order
}

// ReportSuccess records a successful call and folds its latency into the
// provider's average. A success always restores the provider to healthy.
func (r *Registry) ReportSuccess(name string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	if e.health.LatencyEWMA == 0 {
		e.health.LatencyEWMA = latency
	} else {
		e.health.LatencyEWMA = time.Duration(
			ewmaAlpha*float64(latency) + (1-ewmaAlpha)*float64(e.health.LatencyEWMA),
		)
	}
	if !e.health.Healthy {
		zap.L().Info("provider recovered",
			zap.String("provider", name),
			zap.Duration("latency", latency),
		)
	}
	e.health.Healthy = true
	e.health.ConsecutiveFailures = 0
	e.health.LastError = ""
	e.health.LastChecked = r.nowFunc()
}

// ReportFailure records a failed call and marks the provider unhealthy.
func (r *Registry) ReportFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	e.health.ConsecutiveFailures++
	e.health.Healthy = false
	if err != nil {
		e.health.LastError = err.Error()
	}
	e.health.LastChecked = r.nowFunc()
	zap.L().Warn("provider marked unhealthy",
		zap.String("provider", name),
		zap.Int("consecutive_failures", e.health.ConsecutiveFailures),
		zap.Error(err),
	)
}

// Snapshot returns the current health of every registered provider in
// registration order.
func (r *Registry) Snapshot() []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Health, len(r.entries))
	for _, e := range r.entries {
		out[e.order] = e.health
	}
	return out
}

// Unhealthy returns the providers currently marked unhealthy.
func (r *Registry) Unhealthy() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Provider
	for _, e := range r.entries {
		if !e.health.Healthy {
			out = append(out, e.provider)
		}
	}
	return out
}
