// Package curiosity implements CuriosityState: UncertaintyTracker,
// SurpriseHistory, NoveltyTracker and ExplorationQueue, plus the
// CuriosityScore combining them. Grounded on
// threads/intelligence/knowledge_graph.go's cell/node visit-count
// bookkeeping, threads/intelligence/feedback.go's prediction-error
// accumulation, and threads/intelligence/learning/engine.go's
// cdipaolo/goml linear.LeastSquares usage, reused here as the reflex
// similarity scorer's confidence smoothing model.
package curiosity

import "math"

// State is an 8-scalar discretized coordinate, one value per semantic
// space L1..L8 — the same shape as a SignalEvent's semantic_vector.
type State [8]float32

// CellKey is the discretized bucket identity of a State.
type CellKey [8]int32

// Discretize buckets state by the same per-dimension scheme the
// spatial grid uses, but across all 8 dimensions at once.
func Discretize(state State, bucketSize float32) CellKey {
	var key CellKey
	for i, v := range state {
		key[i] = int32(math.Floor(float64(v / bucketSize)))
	}
	return key
}

func sqrt8() float64 { return math.Sqrt(8) }

// Distance returns the Euclidean distance between two States.
func Distance(a, b State) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Surprise returns ||predicted-actual||2 / sqrt(8); may exceed 1 for
// extreme states, reported raw per spec.
func Surprise(predicted, actual State) float64 {
	return Distance(predicted, actual) / sqrt8()
}
