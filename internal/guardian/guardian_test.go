package guardian

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nmxmxh/coreruntime/internal/coreerr"
	"github.com/nmxmxh/coreruntime/internal/metrics"
)

func newTestGuardian(t *testing.T, limits Limits) *Guardian {
	t.Helper()
	return New(limits, zap.NewNop(), metrics.New(prometheus.NewRegistry()))
}

func TestGuardian_TokenQuotaEnforced(t *testing.T) {
	g := newTestGuardian(t, Limits{MaxTokens: 2, MaxConnections: 10})
	require.NoError(t, g.RecordTokenCreated())
	require.NoError(t, g.RecordTokenCreated())
	err := g.RecordTokenCreated()
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.QuotaExceeded))
}

func TestGuardian_TokenRemovedFreesQuota(t *testing.T) {
	g := newTestGuardian(t, Limits{MaxTokens: 1, MaxConnections: 10})
	require.NoError(t, g.RecordTokenCreated())
	require.Error(t, g.RecordTokenCreated())
	g.RecordTokenRemoved()
	require.NoError(t, g.RecordTokenCreated())
}

func TestGuardian_RecordTokenRemoved_FloorsAtZero(t *testing.T) {
	g := newTestGuardian(t, Limits{MaxTokens: 5, MaxConnections: 5})
	g.RecordTokenRemoved()
	g.RecordTokenRemoved()
	assert.Equal(t, uint32(0), g.ResourceStats().Tokens)
}

func TestGuardian_ConnectionQuotaEnforced(t *testing.T) {
	g := newTestGuardian(t, Limits{MaxTokens: 10, MaxConnections: 1})
	require.NoError(t, g.RecordConnectionCreated())
	err := g.RecordConnectionCreated()
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.QuotaExceeded))
}

func TestGuardian_ResourceStats_FallsBackWhenProcNotRSS(t *testing.T) {
	g := newTestGuardian(t, Limits{MaxTokens: 10, MaxConnections: 10, MaxMemoryBytes: 1000})
	require.NoError(t, g.RecordTokenCreated())
	stats := g.ResourceStats()
	assert.Equal(t, uint32(1), stats.Tokens)
	assert.GreaterOrEqual(t, stats.MemoryBytes, uint64(0))
}

func TestGuardian_ShouldTriggerAggressiveCleanup(t *testing.T) {
	g := newTestGuardian(t, Limits{
		MaxTokens: 10, MaxConnections: 10,
		MaxMemoryBytes:          1, // force MemoryFrac far above threshold
		AggressiveCleanupThresh: 0.01,
	})
	require.NoError(t, g.RecordTokenCreated())
	assert.True(t, g.ShouldTriggerAggressiveCleanup())
}

func TestGuardian_Guard_RecoversPanic(t *testing.T) {
	g := newTestGuardian(t, DefaultLimits())
	err := g.Guard(context.Background(), "test.panic", func(context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.PanicRecovered))
}

func TestGuardian_Guard_PropagatesPlainError(t *testing.T) {
	g := newTestGuardian(t, DefaultLimits())
	sentinel := errors.New("validation failed")
	err := g.Guard(context.Background(), "test.err", func(context.Context) error {
		return sentinel
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
}

func TestGuardian_Guard_SucceedsWithoutError(t *testing.T) {
	g := newTestGuardian(t, DefaultLimits())
	err := g.Guard(context.Background(), "test.ok", func(context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestGuardian_Guard_RepeatedPanicsTripTheBreaker(t *testing.T) {
	limits := DefaultLimits()
	limits.BreakerMaxRequests = 1
	limits.BreakerFailureRatio = 0.5
	g := newTestGuardian(t, limits)

	panicking := func(context.Context) error { panic("boom") }
	for i := 0; i < 4; i++ {
		err := g.Guard(context.Background(), "test.panic_loop", panicking)
		require.Error(t, err)
		assert.True(t, coreerr.Is(err, coreerr.PanicRecovered))
	}

	assert.Equal(t, gobreaker.StateOpen, g.breaker.State(),
		"repeated panics must count as breaker failures, not successes")
}

func TestRecoverPanic_RecoversAndReturnsPanicRecovered(t *testing.T) {
	err := RecoverPanic(zap.NewNop(), "test.bg_panic", func() error {
		panic("background boom")
	})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.PanicRecovered))
}

func TestRecoverPanic_PassesThroughPlainError(t *testing.T) {
	sentinel := errors.New("bg failure")
	err := RecoverPanic(zap.NewNop(), "test.bg_err", func() error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestRecoverPanic_SucceedsWithoutError(t *testing.T) {
	err := RecoverPanic(zap.NewNop(), "test.bg_ok", func() error {
		return nil
	})
	assert.NoError(t, err)
}

func TestDefaultLimits_AreSane(t *testing.T) {
	l := DefaultLimits()
	assert.Greater(t, l.MaxTokens, uint32(0))
	assert.Greater(t, l.MaxConnections, uint32(0))
	assert.Greater(t, l.MaxMemoryBytes, uint64(0))
	assert.Greater(t, l.AggressiveCleanupThresh, 0.0)
	assert.LessOrEqual(t, l.AggressiveCleanupThresh, 1.0)
}
