package monitoring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/promptforge-ai/demon-engine/internal/model"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.RecordRequest("Conversational.Basic", "anthropic", model.StateCompleted, 4, 100*time.Millisecond)
	c.RecordRequest("Conversational.Basic", "anthropic", model.StateCompleted, 3, 200*time.Millisecond)
	c.RecordRequest("CodeForge.Basic", "openai", model.StateFailed, 0, 300*time.Millisecond)

	snap := c.Collect()
	assert.Equal(t, int64(3), snap.RequestsTotal)
	assert.Equal(t, int64(2), snap.RequestsCompleted)
	assert.Equal(t, int64(1), snap.RequestsFailed)
	assert.Equal(t, int64(7), snap.CreditsBilled)
	assert.InDelta(t, 1.0/3.0, snap.FailRate, 0.001)
	assert.Equal(t, 200*time.Millisecond, snap.AvgLatency)
	assert.Equal(t, int64(2), snap.ByPipeline["Conversational.Basic"])
	assert.Equal(t, int64(1), snap.ByProvider["openai"])
}

func TestCollectorEmpty(t *testing.T) {
	snap := NewCollector().Collect()
	assert.Zero(t, snap.RequestsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.AvgLatency)
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordRequest("P", "a", model.StateCompleted, 1, time.Millisecond)
		}()
	}
	wg.Wait()

	snap := c.Collect()
	assert.Equal(t, int64(50), snap.RequestsTotal)
	assert.Equal(t, int64(50), snap.CreditsBilled)
}
