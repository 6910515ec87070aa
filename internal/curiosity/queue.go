package curiosity

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority bands assigned from an ExplorationTarget's score.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// PriorityFromScore maps a [0,1] score to its priority band.
func PriorityFromScore(score float64) Priority {
	switch {
	case score > 0.8:
		return PriorityCritical
	case score > 0.6:
		return PriorityHigh
	case score > 0.4:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// ExplorationTarget is one candidate the Curiosity pathway may act on.
type ExplorationTarget struct {
	ID        string
	State     State
	Score     float64
	Reason    string
	Priority  Priority
	CreatedAt time.Time

	index int // heap bookkeeping
}

// explorationHeap orders by priority desc, then score desc, then
// earliest created_at — a max-heap over (priority, score) and a
// min-heap over created_at as the final tiebreak.
type explorationHeap []*ExplorationTarget

func (h explorationHeap) Len() int { return len(h) }
func (h explorationHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if h[i].Score != h[j].Score {
		return h[i].Score > h[j].Score
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}
func (h explorationHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *explorationHeap) Push(x interface{}) {
	t := x.(*ExplorationTarget)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *explorationHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// ExplorationQueue is a capacity-bounded priority queue of
// ExplorationTargets, evicting the lowest-priority entry when full.
type ExplorationQueue struct {
	mu       sync.Mutex
	h        explorationHeap
	capacity int
}

// NewExplorationQueue constructs a queue bounded at capacity entries.
func NewExplorationQueue(capacity int) *ExplorationQueue {
	q := &ExplorationQueue{capacity: capacity}
	heap.Init(&q.h)
	return q
}

// Push inserts target, assigning its Priority from Score and an ID if
// unset, and evicts the current lowest-priority entry if the queue is
// at capacity.
func (q *ExplorationQueue) Push(target *ExplorationTarget) {
	target.Priority = PriorityFromScore(target.Score)
	if target.ID == "" {
		target.ID = uuid.NewString()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, target)
	if q.capacity > 0 && q.h.Len() > q.capacity {
		q.evictLowest()
	}
}

// evictLowest removes the single worst-ranked entry (last in heap
// order), called with q.mu held.
func (q *ExplorationQueue) evictLowest() {
	worstIdx := 0
	for i := 1; i < q.h.Len(); i++ {
		if q.h.Less(worstIdx, i) {
			// worstIdx outranks i, so i is the new worst candidate.
			worstIdx = i
		}
	}
	heap.Remove(&q.h, worstIdx)
}

// Pop removes and returns the highest-priority target, or nil if empty.
func (q *ExplorationQueue) Pop() *ExplorationTarget {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*ExplorationTarget)
}

// Len returns the number of queued targets.
func (q *ExplorationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}
