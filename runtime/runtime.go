// Package runtime wires Guardian -> Log -> RuntimeStore -> SpatialIndex
// -> FilterCompiler -> SignalSystem -> CuriosityEngine -> Arbiter into
// one explicitly constructed object, replacing the teacher's
// global-singleton kernel bootstrap (kernel's old top-level main.go)
// with a single Runtime struct per the re-architecture note in §9.
package runtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nmxmxh/coreruntime/internal/arbiter"
	"github.com/nmxmxh/coreruntime/internal/coreerr"
	"github.com/nmxmxh/coreruntime/internal/curiosity"
	"github.com/nmxmxh/coreruntime/internal/guardian"
	"github.com/nmxmxh/coreruntime/internal/logstore"
	"github.com/nmxmxh/coreruntime/internal/metrics"
	"github.com/nmxmxh/coreruntime/internal/signal"
	"github.com/nmxmxh/coreruntime/internal/store"
)

// Config is the process-wide startup configuration, populated from
// environment variables by cmd/coreruntime.
type Config struct {
	GuardianLimits guardian.Limits
	LogPath        string
	LogAsync       bool
	BucketSize     float32
	SignalConfig   signal.Config
	CuriosityConfig curiosity.EngineConfig
	ArbiterConfig  arbiter.Config
	ExperienceCap  int
	ReasoningCollaborator arbiter.ReasoningCollaborator
}

// DefaultConfig returns sane process defaults, meant to be overridden
// piecemeal from environment variables at startup.
func DefaultConfig() Config {
	return Config{
		GuardianLimits:  guardian.DefaultLimits(),
		LogPath:         "coreruntime.log",
		LogAsync:        true,
		BucketSize:      10.0,
		SignalConfig:    signal.DefaultConfig(),
		CuriosityConfig: curiosity.DefaultEngineConfig(),
		ArbiterConfig:   arbiter.DefaultConfig(),
		ExperienceCap:   256,
	}
}

// Runtime is the top-level object embedding every component, built in
// the §2 dependency order.
type Runtime struct {
	Log       *zap.Logger
	Metrics   *metrics.Registry
	Guardian  *guardian.Guardian
	Logstore  *logstore.Log
	Store     *store.Store
	Signal    *signal.System
	Curiosity *curiosity.Engine
	Arbiter   *arbiter.Arbiter

	cfg    Config
	cancel context.CancelFunc
	group  *errgroup.Group
	gctx   context.Context

	closeOnce sync.Once
}

// New constructs every component in this order: Guardian -> Log ->
// RuntimeStore (which builds its SpatialIndex) -> CuriosityEngine ->
// SignalSystem (which reads the engine's SurpriseHistory) -> Arbiter.
// Filters are compiled by callers, not here. It does not replay the
// log or start background tasks; call Replay then Start for that.
func New(cfg Config, log *zap.Logger) (*Runtime, error) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	g := guardian.New(cfg.GuardianLimits, log, m)

	l, err := logstore.Open(logstore.Options{
		Path:      cfg.LogPath,
		Async:     cfg.LogAsync,
		QueueSize: 10_000,
		BatchSize: 1_000,
		BatchWait: 100 * time.Millisecond,
	}, log, m)
	if err != nil {
		return nil, err
	}

	s := store.New(g, cfg.BucketSize, m)
	engine := curiosity.NewEngine(cfg.CuriosityConfig, log)
	memory := arbiter.NewExperienceMemory(cfg.ExperienceCap)

	sig := signal.New(cfg.SignalConfig, s, engine.Surprise, log, m)
	arb := arbiter.New(cfg.ArbiterConfig, engine, memory, cfg.ReasoningCollaborator, log, m)

	return &Runtime{
		Log: log, Metrics: m, Guardian: g, Logstore: l,
		Store: s, Signal: sig, Curiosity: engine, Arbiter: arb,
		cfg: cfg,
	}, nil
}

// CreateToken creates a token in Store and appends a TokenCreated
// entry with AppendSync (written through to the OS, not fsynced). If
// log append fails the token still exists in
// memory; callers treat a Durability error as fatal for the write path
// per §7 and should abort rather than continue mutating.
func (r *Runtime) CreateToken(prototype store.Token) (uint32, error) {
	id, err := r.Store.CreateToken(prototype)
	if err != nil {
		return 0, err
	}
	prototype.ID = id
	payload, err := json.Marshal(prototype)
	if err != nil {
		return id, coreerr.Wrap(coreerr.Durability, "runtime.create_token.marshal", err)
	}
	if _, err := r.Logstore.AppendSync(logstore.TokenCreated, payload); err != nil {
		return id, err
	}
	return id, nil
}

// CreateConnection creates a connection in Store and appends a
// ConnectionUpdated entry with AppendSync (written through to the OS,
// not fsynced).
func (r *Runtime) CreateConnection(prototype store.Connection) (uint64, error) {
	id, err := r.Store.CreateConnection(prototype)
	if err != nil {
		return 0, err
	}
	prototype.ID = id
	payload, err := json.Marshal(prototype)
	if err != nil {
		return id, coreerr.Wrap(coreerr.Durability, "runtime.create_connection.marshal", err)
	}
	if _, err := r.Logstore.AppendSync(logstore.ConnectionUpdated, payload); err != nil {
		return id, err
	}
	return id, nil
}

// Replay reconstructs Store from the log at cfg.LogPath. It must run
// before Start, and before any caller mutates Store directly.
func (r *Runtime) Replay() (lastGoodSeq uint64, err error) {
	return logstore.Replay(r.cfg.LogPath, func(e logstore.Entry) error {
		switch e.Type {
		case logstore.TokenCreated:
			var t store.Token
			if err := json.Unmarshal(e.Payload, &t); err != nil {
				return err
			}
			_, err := r.Store.CreateToken(t)
			if err != nil && !coreerr.Is(err, coreerr.QuotaExceeded) {
				return err
			}
			return nil
		case logstore.ConnectionUpdated:
			var c store.Connection
			if err := json.Unmarshal(e.Payload, &c); err != nil {
				return err
			}
			_, err := r.Store.CreateConnection(c)
			if err != nil && !coreerr.Is(err, coreerr.NotFound) {
				return err
			}
			return nil
		case logstore.Snapshot, logstore.ExperienceAdded:
			return nil
		}
		return nil
	})
}

// Start launches the background task scheduler: the curiosity cleanup
// loop and any periodic maintenance, all honoring ctx cancellation.
func (r *Runtime) Start(ctx context.Context) {
	gctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(gctx)
	r.cancel = cancel
	r.group = g
	r.gctx = gctx

	g.Go(func() error {
		return guardian.RecoverPanic(r.Log, "runtime.curiosity_cleanup", func() error {
			r.Curiosity.RunCleanup(gctx)
			return nil
		})
	})
}

// Shutdown cancels every background task and waits up to
// shutdownDeadline for them to drain, then closes the log.
func (r *Runtime) Shutdown(shutdownDeadline time.Duration) error {
	var err error
	r.closeOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		if r.group != nil {
			done := make(chan struct{})
			go func() { r.group.Wait(); close(done) }()
			select {
			case <-done:
			case <-time.After(shutdownDeadline):
				r.Log.Warn("background tasks did not drain before shutdown deadline")
			}
		}
		err = r.Logstore.Close()
	})
	return err
}
