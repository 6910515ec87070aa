package signal

import (
	"sync"
	"sync/atomic"
)

// DeliveryKind selects how a Subscriber receives matched events.
type DeliveryKind int

const (
	DeliveryPolling DeliveryKind = iota
	DeliveryPush
	DeliveryCallback
)

// Callback is invoked synchronously from the emit hot path for a
// DeliveryCallback subscriber; it must not block.
type Callback func(*SignalEvent)

// Subscriber is one registered listener against a compiled filter.
type Subscriber struct {
	ID     uint32
	Name   string
	Filter *CompiledFilter
	Kind   DeliveryKind

	queueMu sync.Mutex
	queue   []*SignalEvent // DeliveryPolling backlog
	push    chan *SignalEvent
	cb      Callback

	failures     atomic.Int32
	maxFailures  int32
	removed      atomic.Bool
}

// NewPollingSubscriber constructs a subscriber whose matched events
// accumulate in an internal queue drained by Poll.
func NewPollingSubscriber(id uint32, name string, filter *CompiledFilter) *Subscriber {
	return &Subscriber{ID: id, Name: name, Filter: filter, Kind: DeliveryPolling}
}

// NewPushSubscriber constructs a subscriber delivered to over a
// bounded channel; after maxFailures consecutive non-blocking send
// failures the subscriber is marked removed.
func NewPushSubscriber(id uint32, name string, filter *CompiledFilter, bufSize int, maxFailures int32) *Subscriber {
	return &Subscriber{
		ID: id, Name: name, Filter: filter, Kind: DeliveryPush,
		push: make(chan *SignalEvent, bufSize), maxFailures: maxFailures,
	}
}

// NewCallbackSubscriber constructs a subscriber invoked synchronously
// on match from the emit hot path. cb must not block.
func NewCallbackSubscriber(id uint32, name string, filter *CompiledFilter, cb Callback) *Subscriber {
	return &Subscriber{ID: id, Name: name, Filter: filter, Kind: DeliveryCallback, cb: cb}
}

// Removed reports whether this subscriber has been torn down (either
// explicitly unsubscribed or auto-removed after too many push failures).
func (s *Subscriber) Removed() bool { return s.removed.Load() }

// deliver dispatches event to this subscriber per its Kind, returning
// false if the subscriber should be removed as a result.
func (s *Subscriber) deliver(event *SignalEvent) bool {
	switch s.Kind {
	case DeliveryCallback:
		s.cb(event)
		return true
	case DeliveryPolling:
		s.queueMu.Lock()
		s.queue = append(s.queue, event)
		s.queueMu.Unlock()
		return true
	case DeliveryPush:
		select {
		case s.push <- event:
			s.failures.Store(0)
			return true
		default:
			n := s.failures.Add(1)
			if n >= s.maxFailures {
				s.removed.Store(true)
				return false
			}
			return true
		}
	}
	return true
}

// Poll drains and returns every event queued for a DeliveryPolling
// subscriber.
func (s *Subscriber) Poll() []*SignalEvent {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// PushChannel exposes the push delivery channel for DeliveryPush
// subscribers.
func (s *Subscriber) PushChannel() <-chan *SignalEvent { return s.push }
