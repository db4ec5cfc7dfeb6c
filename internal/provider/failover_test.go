package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/promptforge-ai/demon-engine/internal/resilience"
)

func zapNop() *zap.Logger { return zap.NewNop() }

func newExecutor(r *Registry) *Executor {
	return NewExecutor(r, resilience.DefaultCircuitBreakerConfig(), 2)
}

func TestExecuteUsesFastestProvider(t *testing.T) {
	r := NewRegistry()
	a := &fakeProvider{name: "a", classes: fast(), reply: "from a"}
	b := &fakeProvider{name: "b", classes: fast(), reply: "from b"}
	r.Register(a)
	r.Register(b)
	r.ReportSuccess("a", 300*time.Millisecond)
	r.ReportSuccess("b", 40*time.Millisecond)

	resp, name, err := newExecutor(r).Execute(context.Background(), CompletionRequest{ModelClass: "fast", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "b", name)
	assert.Equal(t, "from b", resp.Text)
	assert.Zero(t, a.calls)
}

func TestExecuteFailsOverTransparently(t *testing.T) {
	r := NewRegistry()
	a := &fakeProvider{name: "a", classes: fast(), err: errors.New("upstream down")}
	b := &fakeProvider{name: "b", classes: fast(), reply: "from b"}
	r.Register(a)
	r.Register(b)
	r.ReportSuccess("a", 10*time.Millisecond)
	r.ReportSuccess("b", 500*time.Millisecond)

	resp, name, err := newExecutor(r).Execute(context.Background(), CompletionRequest{ModelClass: "fast", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "b", name)
	assert.Equal(t, "from b", resp.Text)
	assert.Equal(t, 1, a.calls)

	// The failing provider is benched for subsequent selections.
	p, err := r.Select("fast", nil)
	require.NoError(t, err)
	assert.Equal(t, "b", p.Name())
}

func TestExecuteExhaustsAllProviders(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "a", classes: fast(), err: errors.New("down")})
	r.Register(&fakeProvider{name: "b", classes: fast(), err: errors.New("also down")})

	_, _, err := newExecutor(r).Execute(context.Background(), CompletionRequest{ModelClass: "fast", Prompt: "hi"})
	require.Error(t, err)
}

func TestExecuteNoProviderForClass(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "a", classes: fast()})

	_, _, err := newExecutor(r).Execute(context.Background(), CompletionRequest{ModelClass: "deep", Prompt: "hi"})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestExecuteStopsOnContextCancel(t *testing.T) {
	r := NewRegistry()
	a := &fakeProvider{name: "a", classes: fast(), err: context.Canceled}
	r.Register(a)
	r.Register(&fakeProvider{name: "b", classes: fast(), reply: "never"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newExecutor(r).Execute(ctx, CompletionRequest{ModelClass: "fast", Prompt: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProberRestoresRecoveredProvider(t *testing.T) {
	r := NewRegistry()
	a := &fakeProvider{name: "a", classes: fast()}
	r.Register(a)
	r.ReportFailure("a", errors.New("blip"))
	require.Len(t, r.Unhealthy(), 1)

	p := NewProber(r, time.Second)
	p.probe(context.Background(), zapNop())

	assert.Empty(t, r.Unhealthy())
}

func TestProberLeavesDeadProviderBenched(t *testing.T) {
	r := NewRegistry()
	a := &fakeProvider{name: "a", classes: fast(), pingErr: errors.New("still down")}
	r.Register(a)
	r.ReportFailure("a", errors.New("down"))

	p := NewProber(r, time.Second)
	p.probe(context.Background(), zapNop())

	assert.Len(t, r.Unhealthy(), 1)
}
