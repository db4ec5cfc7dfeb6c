// Package router maps a request's intent, client, and mode to the pipeline
// that should serve it. Matching is most-specific-wins with declaration
// order breaking ties, falling back to the default pipeline when nothing
// else matches.
package router

import (
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/promptforge-ai/demon-engine/internal/model"
)

var (
	// ErrPipelineNotFound means an explicitly requested pipeline ID does
	// not exist in the routing table.
	ErrPipelineNotFound = eris.New("pipeline not found")
	// ErrNoPipelineMatch means no pipeline, including the default, covers
	// the request triple.
	ErrNoPipelineMatch = eris.New("no pipeline matches request")
	// ErrProRequired means the matched pipeline is reserved for pro plans.
	ErrProRequired = eris.New("pipeline requires pro plan")
	// ErrKillSwitch means the matched pipeline is administratively disabled.
	ErrKillSwitch = eris.New("pipeline disabled by kill switch")
)

// DefaultPipelineID is used when no specific pipeline covers a request.
const DefaultPipelineID = "Conversational.Default"

// Router holds the routing table and the kill switch set.
type Router struct {
	mu        sync.RWMutex
	pipelines []model.PipelineDefinition
	byID      map[string]int
	disabled  map[string]bool
}

// New creates a Router over the given pipelines. Slice order is the
// declaration order used for tie-breaks.
func New(pipelines []model.PipelineDefinition) *Router {
	r := &Router{
		byID:     make(map[string]int, len(pipelines)),
		disabled: make(map[string]bool),
	}
	for _, p := range pipelines {
		p.Order = len(r.pipelines)
		r.pipelines = append(r.pipelines, p)
		r.byID[p.ID] = p.Order
	}
	return r
}

// Pipelines returns the routing table in declaration order.
func (r *Router) Pipelines() []model.PipelineDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PipelineDefinition, len(r.pipelines))
	copy(out, r.pipelines)
	return out
}

// Get returns a pipeline by ID, honoring kill switches and pro gating.
func (r *Router) Get(id string, plan model.Plan) (*model.PipelineDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return nil, eris.Wrapf(ErrPipelineNotFound, "router: get %q", id)
	}
	return r.gate(r.pipelines[idx], plan)
}

// Route selects the most specific pipeline for the request triple. An
// exact intent+client+mode match beats intent+client, which beats intent
// alone; declaration order breaks ties. When nothing specific matches,
// the default pipeline serves the request if it covers the triple.
func (r *Router) Route(intent, client, mode string, plan model.Plan) (*model.PipelineDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := -1
	bestScore := -1
	for i, p := range r.pipelines {
		if p.ID == DefaultPipelineID {
			continue
		}
		score, ok := specificity(p, intent, client, mode)
		if !ok {
			continue
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	if best >= 0 {
		return r.gate(r.pipelines[best], plan)
	}

	idx, ok := r.byID[DefaultPipelineID]
	if !ok {
		return nil, ErrNoPipelineMatch
	}
	fallback := r.pipelines[idx]
	if _, ok := specificity(fallback, intent, client, mode); !ok {
		return nil, ErrNoPipelineMatch
	}
	zap.L().Debug("routed to default pipeline",
		zap.String("intent", intent),
		zap.String("client", client),
		zap.String("mode", mode),
	)
	return r.gate(fallback, plan)
}

func (r *Router) gate(p model.PipelineDefinition, plan model.Plan) (*model.PipelineDefinition, error) {
	if r.disabled[p.ID] {
		return nil, eris.Wrapf(ErrKillSwitch, "router: pipeline %q", p.ID)
	}
	if p.ProOnly && plan != model.PlanPro {
		return nil, eris.Wrapf(ErrProRequired, "router: pipeline %q", p.ID)
	}
	return &p, nil
}

// specificity scores how precisely the pipeline covers the triple. Every
// dimension must match, exactly or via wildcard; exact matches on more
// significant dimensions dominate.
func specificity(p model.PipelineDefinition, intent, client, mode string) (int, bool) {
	if !p.MatchesIntent(intent) || !p.MatchesClient(client) || !p.MatchesMode(mode) {
		return 0, false
	}
	score := 0
	if !p.WildcardIntent() {
		score += 4
	}
	if !p.WildcardClient() {
		score += 2
	}
	if !p.WildcardMode() {
		score += 1
	}
	return score, true
}

// Disable flips the kill switch for a pipeline ID.
func (r *Router) Disable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[id] = true
	zap.L().Warn("pipeline kill switch engaged", zap.String("pipeline", id))
}

// Enable clears the kill switch for a pipeline ID.
func (r *Router) Enable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.disabled, id)
	zap.L().Info("pipeline kill switch cleared", zap.String("pipeline", id))
}

// Disabled reports whether the pipeline is currently switched off.
func (r *Router) Disabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disabled[id]
}
