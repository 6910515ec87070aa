// Package signal implements the SignalSystem event bus: SignalEvent,
// the EventTypeRegistry, the SubscriptionFilter compiler and Subscriber
// dispatch. Grounded on threads/pattern/subscriber.go's
// PatternSubscriber/PatternQuery/priority-ranked subscription model and
// threads/pattern/detector.go's PatternDetectorAlgorithm interface shape,
// reused here for Condition evaluation against a SignalEvent instead of
// a pattern Observation.
package signal

import "time"

// Energy groups the scalar affect/confidence fields of a SignalEvent.
type Energy struct {
	Confidence uint8
	Urgency    uint8
	Magnitude  int16
	Valence    int8
	Arousal    uint8
}

// Temporal groups the time-related fields of a SignalEvent.
type Temporal struct {
	CreatedAt  time.Time
	NeuroTick  uint64
	SequenceID *uint64
}

// Routing groups delivery metadata.
type Routing struct {
	Tags          []string
	TTL           time.Duration
	CorrelationID string
}

// Trace groups distributed-tracing context.
type Trace struct {
	ParentSampled *bool
}

// SignalEvent is the unit of input to the engine.
type SignalEvent struct {
	EventType      string
	EventTypeID    uint32 // assigned by EventTypeRegistry on emit
	SemanticVector [8]float32
	Priority       uint8
	Energy         Energy
	Temporal       Temporal
	Routing        Routing
	Trace          Trace
	// LayerAffinities holds an optional per-layer affinity score
	// (one per semantic space L1..L8); nil when the producer omits it.
	LayerAffinities *[8]float32
}

func (e *SignalEvent) vectorFinite() bool {
	for _, v := range e.SemanticVector {
		if v != v || v > 3.4e38 || v < -3.4e38 {
			return false
		}
	}
	return true
}
