package curiosity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEngine_Score_NewStateIsHighlyUncertain(t *testing.T) {
	e := NewEngine(DefaultEngineConfig(), zap.NewNop())
	score, _ := e.Score(State{1, 2, 3, 4, 5, 6, 7, 8}, time.Now())
	// Uncertainty and novelty saturate at 1.0 for a never-visited cell;
	// surprise is 0 with an empty history, so the even blend is 2/3.
	assert.InDelta(t, 2.0/3, score, 1e-9)
}

func TestEngine_ShouldExplore_RespectsThreshold(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.TriggerThreshold = 0.5
	e := NewEngine(cfg, zap.NewNop())
	assert.True(t, e.ShouldExplore(0.5))
	assert.False(t, e.ShouldExplore(0.49))
}

func TestEngine_Observe_LowersSubsequentUncertainty(t *testing.T) {
	e := NewEngine(DefaultEngineConfig(), zap.NewNop())
	state := State{10, 10, 10, 10, 10, 10, 10, 10}
	now := time.Now()
	for i := 0; i < 50; i++ {
		e.Observe(state, 0.95, now)
	}
	scoreAfter, _ := e.Score(state, now)
	assert.Less(t, scoreAfter, 1.0)
}

func TestEngine_Update_ReturnsAccuracyAndSurprise(t *testing.T) {
	e := NewEngine(DefaultEngineConfig(), zap.NewNop())
	predicted := State{}
	actual := State{1, 1, 1, 1, 1, 1, 1, 1}
	accuracy, surprise := e.Update(predicted, actual, time.Now())
	assert.Greater(t, accuracy, 0.0)
	assert.Less(t, accuracy, 1.0)
	assert.InDelta(t, 1.0, surprise, 1e-9)
}

func TestEngine_Update_RecordsIntoSurpriseHistory(t *testing.T) {
	e := NewEngine(DefaultEngineConfig(), zap.NewNop())
	_, surprise := e.Update(State{}, State{2, 2, 2, 2, 2, 2, 2, 2}, time.Now())
	assert.InDelta(t, surprise, e.Surprise.MaxRecentSurprise(), 1e-9)
}

func TestEngine_ReflexSimilarity_BoundedZeroToOne(t *testing.T) {
	e := NewEngine(DefaultEngineConfig(), zap.NewNop())
	for i := 0; i < 20; i++ {
		e.Update(State{}, State{float32(i) * 0.1, 0, 0, 0, 0, 0, 0, 0}, time.Now())
	}
	sim := e.ReflexSimilarity(0.05)
	assert.GreaterOrEqual(t, sim, 0.0)
	assert.LessOrEqual(t, sim, 1.0)
}

func TestEngine_RunCleanup_StopsOnContextCancel(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.CleanupInterval = time.Millisecond
	e := NewEngine(cfg, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.RunCleanup(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanup did not return after context cancellation")
	}
}

func TestDefaultWeights_SumToApproximatelyOne(t *testing.T) {
	w := DefaultWeights()
	sum := w.Uncertainty + w.Surprise + w.Novelty
	require.InDelta(t, 1.0, sum, 1e-9)
}
