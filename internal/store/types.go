// Package store implements RuntimeStore: the single in-process source
// of truth for tokens, connections, the spatial grid and CDNA.
// Grounded on threads/pattern/storage.go's per-entity RWMutex-guarded
// maps and monotonic ID allocation (generatePatternID), generalized
// from a 4-tier SAB-backed pattern cache to a single in-memory
// token/connection store, and on the constitutional-kernel governance
// file's ParameterBounds/DefaultBounds validation idiom for CDNA.
package store

import (
	"math"
	"time"

	"github.com/nmxmxh/coreruntime/internal/spatial"
)

// TokenFlags bits.
type TokenFlags uint8

const (
	FlagActive TokenFlags = 1 << iota
)

// Token is the atomic entity of the runtime.
type Token struct {
	ID            uint32
	Coords        [spatial.NumSpaces]spatial.Vec3
	Weight        float32
	EntityType    uint8
	Flags         TokenFlags
	FieldRadius   float32
	FieldStrength float32
	CreatedAt     int64 // unix nanos, monotonic within process
	LastSeenAt    int64
}

// IsActive reports whether the ACTIVE flag bit is set.
func (t *Token) IsActive() bool { return t.Flags&FlagActive != 0 }

// ConnectionKind tags the semantic relation a Connection carries.
type ConnectionKind uint8

const (
	KindProximity ConnectionKind = iota
	KindHypernym
	KindSimilar
	KindRelated
)

// Connection is a force-model edge between two tokens.
type Connection struct {
	ID                uint64
	TokenA, TokenB    uint32
	Kind              ConnectionKind
	PreferredDistance float32
	PullStrength      float32
	Rigidity          float32
	ActiveLevels      uint8 // bitmask over spatial.NumSpaces
	Bidirectional     bool
	CreatedAt         int64
}

// ActiveInSpace reports whether the force model applies in the given
// space per ActiveLevels.
func (c *Connection) ActiveInSpace(space int) bool {
	return c.ActiveLevels&(1<<uint(space)) != 0
}

// CDNA is the process-wide constitutional configuration: per-dimension
// scales and flags governing the core's behavior. Mutated only through
// a validated update path; every mutation is expected to be logged by
// the caller (RuntimeStore itself does not own the log).
type CDNA struct {
	Scales          [spatial.NumSpaces]float32
	ProfileID       uint32
	Flags           uint32
	TraceSampleRate float32
}

// DefaultCDNA returns a CDNA with unit scales and no flags set,
// matching a constitutional kernel's DefaultBounds-style starting
// point: every dimension weighted equally until a profile says
// otherwise.
func DefaultCDNA() CDNA {
	c := CDNA{ProfileID: 0, Flags: 0, TraceSampleRate: 1.0}
	for i := range c.Scales {
		c.Scales[i] = 1.0
	}
	return c
}

// Validate checks the invariant that all 8 scales are strictly
// positive and finite.
func (c CDNA) Validate() error {
	for i, s := range c.Scales {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) || s <= 0 {
			return validationErrorf("cdna scale[%d]=%v must be finite and > 0", i, s)
		}
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return validationErrorf("cdna trace_sample_rate=%v must be in [0,1]", c.TraceSampleRate)
	}
	return nil
}

var processStart = time.Now()

func monotonicNow() int64 {
	// time.Since reads the monotonic clock, so wall-clock steps after
	// process start do not move timestamps backwards.
	return processStart.UnixNano() + int64(time.Since(processStart))
}
