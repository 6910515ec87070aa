// Package arbiter implements the tri-pathway ActionController: given
// a current 8D state, it decides between the Curiosity, Reflex
// (Fast), Reasoning (Slow) and Failsafe pathways and produces an
// ActionIntent. Grounded on threads/intelligence/coordinator.go's
// Decide() (cache-check fast path -> engine-dispatch slow path ->
// default fallback), mapped here to curiosity -> reflex -> reasoning ->
// failsafe.
package arbiter

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nmxmxh/coreruntime/internal/curiosity"
	"github.com/nmxmxh/coreruntime/internal/metrics"
)

// PathwaySource tags which pathway produced an ActionIntent.
type PathwaySource int

const (
	SourceReflex PathwaySource = iota
	SourceReasoning
	SourceCuriosity
	SourceFailsafe
)

func (s PathwaySource) String() string {
	switch s {
	case SourceReflex:
		return "reflex"
	case SourceReasoning:
		return "reasoning"
	case SourceCuriosity:
		return "curiosity"
	case SourceFailsafe:
		return "failsafe"
	default:
		return "unknown"
	}
}

// ActionIntent is the arbiter's decision output.
type ActionIntent struct {
	ActionID       uint64
	ActionType     string
	Parameters     map[string]interface{}
	EstimatedReward float64
	Confidence     float64
	Timestamp      time.Time
	Source         PathwaySource

	// Reflex fields
	ExperienceID string
	LookupNS     int64
	Similarity   float64

	// Reasoning fields
	PolicyVersion string
	TimeMS        int64

	// Curiosity fields
	CuriosityScore float64
	Reason         string

	// Failsafe fields
	FailsafeReason string
}

// ReflexExperience is one cached (state, intent) pair the Reflex
// pathway can return when a new state is close enough to it.
type ReflexExperience struct {
	ID     string
	State  curiosity.State
	Intent ActionIntent
}

// ExperienceMemory is the nearest-neighbor cache the Reflex pathway
// probes; in-process, small, and allocation-free on lookup.
type ExperienceMemory interface {
	Nearest(state curiosity.State) (ReflexExperience, float64, bool)
}

// ReasoningCollaborator is the deliberative policy component, treated
// as an external collaborator per the core's library-surface contract.
type ReasoningCollaborator interface {
	Decide(ctx context.Context, state curiosity.State, deadline time.Time) (ActionIntent, error)
}

// Config tunes arbiter thresholds.
type Config struct {
	SimilarityThreshold float64
	ReasoningTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{SimilarityThreshold: 0.85, ReasoningTimeout: 10 * time.Millisecond}
}

// State machine phases, per decision.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseArbitrating
	PhaseCuriosityPathway
	PhaseFastPathway
	PhaseSlowPathway
	PhaseFailsafePathway
	PhaseEmitted
)

// Arbiter ties the CuriosityEngine, an experience memory and a
// reasoning collaborator into the tri-pathway decision procedure.
type Arbiter struct {
	cfg       Config
	engine    *curiosity.Engine
	memory    ExperienceMemory
	reasoning ReasoningCollaborator
	log       *zap.Logger
	m         *metrics.Registry

	nextActionID atomic.Uint64
}

// New constructs an Arbiter. memory/reasoning may be nil, in which
// case their pathways always fall through to the next one. m may be
// nil, in which case decisions are not counted.
func New(cfg Config, engine *curiosity.Engine, memory ExperienceMemory, reasoning ReasoningCollaborator, log *zap.Logger, m *metrics.Registry) *Arbiter {
	return &Arbiter{cfg: cfg, engine: engine, memory: memory, reasoning: reasoning, log: log, m: m}
}

// Decide runs the full arbitration procedure for state, returning the
// produced ActionIntent. Phase is Idle -> Arbitrating ->
// {Curiosity|Fast|Slow|Failsafe} -> Emitted -> Idle; ctx cancellation
// at the Arbitrating phase aborts before any pathway commits.
func (a *Arbiter) Decide(ctx context.Context, state curiosity.State) (ActionIntent, error) {
	if err := ctx.Err(); err != nil {
		return ActionIntent{}, err
	}

	score, _ := a.engine.Score(state, time.Now())
	if a.engine.ShouldExplore(score) {
		if intent, ok := a.decideCuriosity(state, score); ok {
			return a.emit(intent, SourceCuriosity), nil
		}
	}

	if intent, ok := a.decideReflex(state); ok {
		return a.emit(intent, SourceReflex), nil
	}

	if a.reasoning != nil {
		deadline := time.Now().Add(a.cfg.ReasoningTimeout)
		rctx, cancel := context.WithDeadline(ctx, deadline)
		defer cancel()
		intent, err := a.reasoning.Decide(rctx, state, deadline)
		if err == nil {
			return a.emit(intent, SourceReasoning), nil
		}
		a.log.Warn("reasoning collaborator failed, falling back to failsafe", zap.Error(err))
	}

	return a.emit(a.failsafe("no pathway produced an intent"), SourceFailsafe), nil
}

func (a *Arbiter) decideCuriosity(state curiosity.State, score float64) (ActionIntent, bool) {
	if target := a.engine.Queue.Pop(); target != nil {
		return ActionIntent{
			ActionType:     "Explore",
			CuriosityScore: target.Score,
			Reason:         target.Reason,
			Confidence:     target.Score,
			Timestamp:      time.Now(),
		}, true
	}
	// No queued target: derive one from the current state directly.
	return ActionIntent{
		ActionType:     "Explore",
		CuriosityScore: score,
		Reason:         "most-uncertain-cell fallback",
		Confidence:     score,
		Timestamp:      time.Now(),
	}, true
}

func (a *Arbiter) decideReflex(state curiosity.State) (ActionIntent, bool) {
	if a.memory == nil {
		return ActionIntent{}, false
	}
	start := time.Now()
	exp, distance, found := a.memory.Nearest(state)
	lookupNS := time.Since(start).Nanoseconds()
	if !found {
		return ActionIntent{}, false
	}
	similarity := a.engine.ReflexSimilarity(distance)
	if similarity < a.cfg.SimilarityThreshold {
		return ActionIntent{}, false
	}
	intent := exp.Intent
	intent.ExperienceID = exp.ID
	intent.LookupNS = lookupNS
	intent.Similarity = similarity
	intent.Confidence = similarity
	intent.Timestamp = time.Now()
	return intent, true
}

func (a *Arbiter) failsafe(reason string) ActionIntent {
	return ActionIntent{
		ActionType:     "Failsafe",
		FailsafeReason: reason,
		Confidence:     0,
		Timestamp:      time.Now(),
	}
}

func (a *Arbiter) emit(intent ActionIntent, source PathwaySource) ActionIntent {
	intent.ActionID = a.nextActionID.Add(1)
	intent.Source = source
	if a.m != nil {
		a.m.ArbiterDecision.WithLabelValues(source.String()).Inc()
	}
	return intent
}

// Update closes the feedback loop: given the predicted and actual
// states following a chosen intent, it updates the CuriosityEngine's
// UncertaintyTracker and SurpriseHistory.
func (a *Arbiter) Update(predicted, actual curiosity.State) (accuracy, surprise float64) {
	return a.engine.Update(predicted, actual, time.Now())
}
