package curiosity

import (
	"context"
	"time"

	"github.com/cdipaolo/goml/base"
	"github.com/cdipaolo/goml/linear"
	"go.uber.org/zap"
)

// Weights configures the CuriosityScore blend; must sum to ~1.0.
type Weights struct {
	Uncertainty float64
	Surprise    float64
	Novelty     float64
}

// DefaultWeights splits the score evenly across the three signals.
func DefaultWeights() Weights {
	return Weights{Uncertainty: 1.0 / 3, Surprise: 1.0 / 3, Novelty: 1.0 / 3}
}

// EngineConfig tunes the CuriosityEngine's derived behaviors.
type EngineConfig struct {
	BucketSize        float32
	Weights           Weights
	TriggerThreshold  float64
	CleanupInterval   time.Duration
	MaxCellAge        time.Duration
	MinCellVisits     uint64
	ExplorationCap    int
	ExpectedCells     uint
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketSize:       10.0,
		Weights:          DefaultWeights(),
		TriggerThreshold: 0.6,
		CleanupInterval:  time.Minute,
		MaxCellAge:       24 * time.Hour,
		MinCellVisits:    2,
		ExplorationCap:   256,
		ExpectedCells:    100_000,
	}
}

// Engine is the CuriosityEngine: uncertainty, surprise and novelty
// tracking, a reflex-path similarity scorer, and the exploration queue.
type Engine struct {
	cfg EngineConfig
	log *zap.Logger

	Uncertainty *UncertaintyTracker
	Surprise    *SurpriseHistory
	Novelty     *NoveltyTracker
	Queue       *ExplorationQueue

	// reflex is an online-updated linear model over (distance features)
	// backing the Reflex pathway's similarity confidence, grounded on
	// threads/intelligence/learning/engine.go's EnhancedLearningEngine
	// cost model — here repurposed to score "how similar is this state
	// to the nearest cached experience" instead of predicting job cost.
	reflex *linear.LeastSquares
}

// NewEngine constructs a CuriosityEngine with cfg.
func NewEngine(cfg EngineConfig, log *zap.Logger) *Engine {
	reflex := linear.NewLeastSquares(base.BatchGA, 1e-4, 0, 300,
		[][]float64{{0}}, []float64{0})
	_ = reflex.Learn() // dummy-initialize weights, as the teacher's engine does

	return &Engine{
		cfg:         cfg,
		log:         log,
		Uncertainty: NewUncertaintyTracker(),
		Surprise:    NewSurpriseHistory(),
		Novelty:     NewNoveltyTracker(cfg.ExpectedCells),
		Queue:       NewExplorationQueue(cfg.ExplorationCap),
		reflex:      reflex,
	}
}

// Score computes the CuriosityScore for state at now.
func (e *Engine) Score(state State, now time.Time) (score float64, cell CellKey) {
	cell = Discretize(state, e.cfg.BucketSize)
	u := e.Uncertainty.Uncertainty(cell)
	s := e.Surprise.CurrentSurprise()
	n := e.Novelty.Novelty(cell, now)
	w := e.cfg.Weights
	score = w.Uncertainty*u + w.Surprise*s + w.Novelty*n
	return score, cell
}

// ShouldExplore reports whether score crosses the configured trigger
// threshold.
func (e *Engine) ShouldExplore(score float64) bool {
	return score >= e.cfg.TriggerThreshold
}

// Observe records a visit to state with prediction accuracy a and
// marks the cell seen for novelty purposes.
func (e *Engine) Observe(state State, accuracy float64, now time.Time) CellKey {
	cell := Discretize(state, e.cfg.BucketSize)
	e.Uncertainty.Visit(cell, accuracy, now)
	e.Novelty.Visit(cell, now)
	return cell
}

// Update implements the arbiter's feedback loop: compute
// prediction_accuracy = 1/(1+Euclidean(predicted,actual)), update the
// UncertaintyTracker for the relevant cell, and append a surprise
// event with the normalized distance.
func (e *Engine) Update(predicted, actual State, now time.Time) (accuracy, surprise float64) {
	dist := Distance(predicted, actual)
	accuracy = 1 / (1 + dist)
	cell := Discretize(actual, e.cfg.BucketSize)
	e.Uncertainty.Visit(cell, accuracy, now)
	e.Novelty.Visit(cell, now)
	surprise = Surprise(predicted, actual)
	e.Surprise.Record(surprise)
	e.reflexTrain(dist, accuracy)
	return accuracy, surprise
}

func (e *Engine) reflexTrain(distance, accuracy float64) {
	defer func() { recover() }() // goml panics on malformed input; never let that escape
	if err := e.reflex.UpdateTrainingSet([][]float64{{distance}}, []float64{accuracy}); err != nil {
		return
	}
	if err := e.reflex.Learn(); err != nil {
		e.log.Debug("reflex model learn failed", zap.Error(err))
	}
}

// ReflexSimilarity scores how confidently the reflex path should trust
// a cached experience at the given distance from the current state,
// via the online-updated linear model.
func (e *Engine) ReflexSimilarity(distance float64) float64 {
	out, err := e.reflex.Predict([]float64{distance})
	if err != nil || len(out) == 0 {
		return 0
	}
	v := out[0]
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RunCleanup starts the background cleanup task: every
// cfg.CleanupInterval, drops UncertaintyTracker cells older than
// cfg.MaxCellAge with visit_count < cfg.MinCellVisits, and
// NoveltyTracker cells older than cfg.MaxCellAge regardless of visits.
// Returns once ctx is cancelled.
func (e *Engine) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			ur := e.Uncertainty.Cleanup(e.cfg.MaxCellAge, e.cfg.MinCellVisits, now)
			nr := e.Novelty.Cleanup(e.cfg.MaxCellAge, now)
			if ur+nr > 0 {
				e.log.Debug("curiosity cleanup",
					zap.Int("uncertainty_removed", ur),
					zap.Int("novelty_removed", nr))
			}
		}
	}
}
