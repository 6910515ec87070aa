package arbiter

import (
	"sync"

	"github.com/nmxmxh/coreruntime/internal/curiosity"
)

// lruNode and the head/tail/nodes-map shape below are adapted from
// threads/pattern/storage.go's LRUList/LRUNode eviction list, rewired
// to key on experience id strings instead of uint64 pattern ids and
// to carry a cached ReflexExperience instead of a storage tier pointer.
type lruNode struct {
	id         string
	experience ReflexExperience
	prev, next *lruNode
}

// lruCache is a fixed-capacity LRU cache of ReflexExperiences, used as
// the Reflex pathway's experience memory. Capacity is kept small (the
// spec's target latency for this lookup is tens to hundreds of
// nanoseconds with no allocation), so Nearest does a linear scan over
// the resident set rather than building a secondary spatial index.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	nodes    map[string]*lruNode
	head     *lruNode
	tail     *lruNode
}

// NewExperienceMemory constructs an ExperienceMemory bounded at
// capacity entries.
func NewExperienceMemory(capacity int) *lruCache {
	return &lruCache{capacity: capacity, nodes: make(map[string]*lruNode)}
}

func (c *lruCache) touch(n *lruNode) {
	if c.head == n {
		return
	}
	c.unlink(n)
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *lruCache) unlink(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.head == n {
		c.head = n.next
	}
	if c.tail == n {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *lruCache) evictOldest() {
	if c.tail == nil {
		return
	}
	delete(c.nodes, c.tail.id)
	c.unlink(c.tail)
}

// Put inserts or refreshes exp in the cache, evicting the
// least-recently-used entry if at capacity.
func (c *lruCache) Put(exp ReflexExperience) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.nodes[exp.ID]; ok {
		n.experience = exp
		c.touch(n)
		return
	}
	n := &lruNode{id: exp.ID, experience: exp}
	c.nodes[exp.ID] = n
	c.touch(n)
	if c.capacity > 0 && len(c.nodes) > c.capacity {
		c.evictOldest()
	}
}

// Nearest scans the resident set and returns the closest experience to
// state by Euclidean distance, touching it as most-recently-used.
func (c *lruCache) Nearest(state curiosity.State) (ReflexExperience, float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.nodes) == 0 {
		return ReflexExperience{}, 0, false
	}
	var best *lruNode
	bestDist := 0.0
	for n := c.head; n != nil; n = n.next {
		d := curiosity.Distance(state, n.experience.State)
		if best == nil || d < bestDist {
			best, bestDist = n, d
		}
	}
	c.touch(best)
	return best.experience, bestDist, true
}
