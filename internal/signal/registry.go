package signal

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// expectedEventTypes sizes the bloom pre-check; event type vocabularies
// are small and closed in practice (dozens, not millions), so this
// comfortably over-provisions rather than needing to grow.
const expectedEventTypes = 4096

// EventTypeRegistry is a bidirectional string<->id map; ids are stable
// for the life of the process once assigned. A bloom filter pre-check
// ahead of the map lookup answers "have we ever seen this event type"
// without touching toID under lock, mirrored from
// curiosity.NoveltyTracker's use of the same library for cell novelty.
type EventTypeRegistry struct {
	mu     sync.RWMutex
	toID   map[string]uint32
	fromID map[uint32]string
	nextID uint32
	filter *bloom.BloomFilter
}

// NewEventTypeRegistry constructs an empty registry.
func NewEventTypeRegistry() *EventTypeRegistry {
	return &EventTypeRegistry{
		toID:   make(map[string]uint32),
		fromID: make(map[uint32]string),
		filter: bloom.NewWithEstimates(expectedEventTypes, 0.01),
	}
}

// Intern returns the stable id for eventType, assigning a new one on
// first use. A filter miss means eventType is definitely new, so the
// optimistic read path is skipped entirely in favor of the write path.
func (r *EventTypeRegistry) Intern(eventType string) uint32 {
	key := []byte(eventType)
	r.mu.RLock()
	maybeSeen := r.filter.Test(key)
	if maybeSeen {
		if id, ok := r.toID[eventType]; ok {
			r.mu.RUnlock()
			return id
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.toID[eventType]; ok {
		return id
	}
	r.nextID++
	id := r.nextID
	r.toID[eventType] = id
	r.fromID[id] = eventType
	r.filter.Add(key)
	return id
}

// Lookup returns the event type string for id, if assigned.
func (r *EventTypeRegistry) Lookup(id uint32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.fromID[id]
	return s, ok
}
