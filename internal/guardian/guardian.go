// Package guardian enforces per-process resource quotas and contains
// panics at component boundaries so a fault in one pathway cannot take
// down the runtime. It generalizes the credit-account counters of
// threads/supervisor/credits.go (there, atomic balances guarded a
// shared-memory economic ledger) into plain in-process atomic counters
// guarding token/connection/memory quotas.
package guardian

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/nmxmxh/coreruntime/internal/coreerr"
	"github.com/nmxmxh/coreruntime/internal/metrics"
)

// Limits configures the per-process quotas Guardian enforces.
type Limits struct {
	MaxTokens                 uint32
	MaxConnections            uint32
	MaxMemoryBytes            uint64
	AggressiveCleanupThresh   float64 // (0,1], fraction of MaxMemoryBytes
	BreakerMaxRequests        uint32
	BreakerFailureRatio       float64
}

// DefaultLimits mirrors the bounds-checking idiom of a constitutional
// kernel's DefaultBounds(): sane values a process can run with
// out of the box, meant to be overridden from environment at startup.
func DefaultLimits() Limits {
	return Limits{
		MaxTokens:               1_000_000,
		MaxConnections:          4_000_000,
		MaxMemoryBytes:          2 << 30, // 2GiB
		AggressiveCleanupThresh: 0.85,
		BreakerMaxRequests:      8,
		BreakerFailureRatio:     0.6,
	}
}

// Stats is a point-in-time snapshot of resource usage.
type Stats struct {
	Tokens      uint32
	Connections uint32
	MemoryBytes uint64
	MemoryFrac  float64
}

// Guardian admits or rejects resource allocations and wraps panic-safe
// operations in a recovery boundary.
type Guardian struct {
	limits Limits
	log    *zap.Logger
	m      *metrics.Registry

	tokens      atomic.Uint32
	connections atomic.Uint32

	breaker *gobreaker.CircuitBreaker
}

// New constructs a Guardian with the given limits.
func New(limits Limits, log *zap.Logger, m *metrics.Registry) *Guardian {
	g := &Guardian{limits: limits, log: log, m: m}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "guardian-panic-boundary",
		MaxRequests: limits.BreakerMaxRequests,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 4 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= limits.BreakerFailureRatio
		},
	})
	return g
}

// CanCreateToken reports whether a new token may be admitted.
func (g *Guardian) CanCreateToken() bool {
	return g.tokens.Load() < g.limits.MaxTokens
}

// CanCreateConnection reports whether a new connection may be admitted.
func (g *Guardian) CanCreateConnection() bool {
	return g.connections.Load() < g.limits.MaxConnections
}

// RecordTokenCreated increments the token counter, rejecting with
// QuotaExceeded if the limit has already been reached.
func (g *Guardian) RecordTokenCreated() error {
	if !g.CanCreateToken() {
		if g.m != nil {
			g.m.QuotaRejections.WithLabelValues("token").Inc()
		}
		return coreerr.New(coreerr.QuotaExceeded, "guardian.record_token_created")
	}
	g.tokens.Add(1)
	return nil
}

// RecordTokenRemoved decrements the token counter.
func (g *Guardian) RecordTokenRemoved() {
	for {
		cur := g.tokens.Load()
		if cur == 0 {
			return
		}
		if g.tokens.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// RecordConnectionCreated increments the connection counter, rejecting
// with QuotaExceeded if the limit has already been reached.
func (g *Guardian) RecordConnectionCreated() error {
	if !g.CanCreateConnection() {
		if g.m != nil {
			g.m.QuotaRejections.WithLabelValues("connection").Inc()
		}
		return coreerr.New(coreerr.QuotaExceeded, "guardian.record_connection_created")
	}
	g.connections.Add(1)
	return nil
}

// RecordConnectionRemoved decrements the connection counter.
func (g *Guardian) RecordConnectionRemoved() {
	for {
		cur := g.connections.Load()
		if cur == 0 {
			return
		}
		if g.connections.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// ResourceStats returns a snapshot of current usage, preferring the
// kernel-reported resident set size on Linux and falling back to a
// per-entity byte estimate when /proc is unavailable.
func (g *Guardian) ResourceStats() Stats {
	mem := g.residentSetBytes()
	if mem == 0 {
		mem = uint64(g.tokens.Load())*64 + uint64(g.connections.Load())*64
	}
	frac := 0.0
	if g.limits.MaxMemoryBytes > 0 {
		frac = float64(mem) / float64(g.limits.MaxMemoryBytes)
	}
	return Stats{
		Tokens:      g.tokens.Load(),
		Connections: g.connections.Load(),
		MemoryBytes: mem,
		MemoryFrac:  frac,
	}
}

// ShouldTriggerAggressiveCleanup reports whether current memory usage
// has crossed AggressiveCleanupThresh of MaxMemoryBytes.
func (g *Guardian) ShouldTriggerAggressiveCleanup() bool {
	return g.ResourceStats().MemoryFrac >= g.limits.AggressiveCleanupThresh
}

func (g *Guardian) residentSetBytes() uint64 {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", os.Getpid()))
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}

// RecoverPanic is the global panic hook: it runs fn and, on panic,
// emits a structured log record and returns a PanicRecovered error
// instead of crashing the caller. Unlike Guard it carries no circuit
// breaker, so it is the right wrapper for background goroutines (e.g.
// an errgroup.Go callback) that have no Guardian boundary of their own
// but still must never crash the process silently.
func RecoverPanic(log *zap.Logger, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.Error("panic recovered",
				zap.String("op", op),
				zap.Any("recover", r),
				zap.ByteString("stack", stack),
			)
			err = coreerr.Wrap(coreerr.PanicRecovered, op, fmt.Errorf("%v", r))
		}
	}()
	return fn()
}

// Guard runs fn behind the panic-containment boundary: process-local
// panics are recovered, logged with full context, counted, and turned
// into a PanicRecovered error. No torn state escapes the boundary
// since fn is expected to mutate only after validating its inputs.
func (g *Guardian) Guard(ctx context.Context, op string, fn func(context.Context) error) error {
	_, breakerErr := g.breaker.Execute(func() (_ interface{}, reqErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				g.log.Error("panic recovered at guardian boundary",
					zap.String("op", op),
					zap.Any("recover", r),
					zap.ByteString("stack", stack),
				)
				reqErr = coreerr.Wrap(coreerr.PanicRecovered, op, fmt.Errorf("%v", r))
			}
		}()
		return nil, fn(ctx)
	})
	return breakerErr
}
