package curiosity

import (
	"math"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// NoveltyTracker maps a discretized cell to its last-seen timestamp,
// with a bloom filter pre-check ahead of the exact map lookup so a
// clearly-never-seen cell short-circuits without touching the map
// under lock — mirrored from core/mesh/routing/gossip.go's use of the
// same library for duplicate-message suppression.
type NoveltyTracker struct {
	mu        sync.RWMutex
	lastSeen  map[CellKey]time.Time
	filter    *bloom.BloomFilter
	uniqueSeen uint64
}

// NewNoveltyTracker constructs a tracker sized for an expected number
// of distinct cells at a 1% false-positive rate.
func NewNoveltyTracker(expectedCells uint) *NoveltyTracker {
	return &NoveltyTracker{
		lastSeen: make(map[CellKey]time.Time),
		filter:   bloom.NewWithEstimates(expectedCells, 0.01),
	}
}

func cellKeyBytes(c CellKey) []byte {
	b := make([]byte, 0, 32)
	for _, v := range c {
		b = append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	return b
}

// Novelty returns 1.0 for a never-seen cell, else 1-exp(-Δt_sec/3600)
// since the cell's last-seen timestamp.
func (n *NoveltyTracker) Novelty(cell CellKey, now time.Time) float64 {
	key := cellKeyBytes(cell)
	n.mu.RLock()
	maybeSeen := n.filter.Test(key)
	n.mu.RUnlock()
	if !maybeSeen {
		return 1.0
	}
	n.mu.RLock()
	last, ok := n.lastSeen[cell]
	n.mu.RUnlock()
	if !ok {
		return 1.0
	}
	deltaSec := now.Sub(last).Seconds()
	return 1 - math.Exp(-deltaSec/3600)
}

// Visit records cell as seen at now.
func (n *NoveltyTracker) Visit(cell CellKey, now time.Time) {
	key := cellKeyBytes(cell)
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.lastSeen[cell]; !ok {
		n.uniqueSeen++
	}
	n.filter.Add(key)
	n.lastSeen[cell] = now
}

// UniqueCellsSeen returns the number of times a cell absent from the
// last-seen map was visited. A cell dropped by Cleanup and visited
// again is counted again, so this is not an exact count of distinct
// cells once Cleanup has removed entries.
func (n *NoveltyTracker) UniqueCellsSeen() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.uniqueSeen
}

// Cleanup drops cells older than maxAge. The bloom filter itself is
// never shrunk (it has no removal operation); a stale positive there
// only costs one extra map lookup, never an incorrect Novelty result,
// since the map is always the source of truth once consulted.
func (n *NoveltyTracker) Cleanup(maxAge time.Duration, now time.Time) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	removed := 0
	for k, t := range n.lastSeen {
		if now.Sub(t) > maxAge {
			delete(n.lastSeen, k)
			removed++
		}
	}
	return removed
}
