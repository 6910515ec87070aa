package signal

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nmxmxh/coreruntime/internal/coreerr"
	"github.com/nmxmxh/coreruntime/internal/metrics"
	"github.com/nmxmxh/coreruntime/internal/spatial"
)

// NearestFinder resolves the nearest indexed token to a point in a
// given space, satisfied by internal/store.Store.
type NearestFinder interface {
	NearestInSpace(space int, point spatial.Vec3, radius float32) (id uint32, distance float64, found bool)
}

// AnomalyProvider exposes the surprise signal the CuriosityEngine
// maintains, satisfied by internal/curiosity.SurpriseHistory.
type AnomalyProvider interface {
	CurrentSurprise() float64
	MaxRecentSurprise() float64
}

// AnomalyMode selects how ProcessingResult.AnomalyScore is derived from
// the AnomalyProvider.
type AnomalyMode int

const (
	// AnomalyBlend averages the windowed mean and the recent max,
	// balancing responsiveness against sensitivity to a single spike.
	AnomalyBlend AnomalyMode = iota
	AnomalyCurrent
	AnomalyMax
)

// Neighbor is one entry of a ProcessingResult's neighbor list.
type Neighbor struct {
	ID           uint32
	Distance     float64
	Resonance    float32
	LayerAffinity float32
}

// ProcessingResult is emit's return value.
type ProcessingResult struct {
	TokenID          *uint32
	IsNovel          bool
	AnomalyScore     float64
	Neighbors        []Neighbor
	TriggeredActions []uint32
	ProcessingTimeUS int64
}

// Stats are the counters emit maintains.
type Stats struct {
	TotalEvents           uint64
	FilterMatches         uint64
	FilterMisses          uint64
	SubscriberNotifications uint64
}

// Config tunes the SignalSystem's derived behaviors.
type Config struct {
	NoveltyRadius     float32
	NearestRadius     float32
	NearestSpace      int
	MaxPushFailures   int32
	AnomalyMode       AnomalyMode
}

func DefaultConfig() Config {
	return Config{NoveltyRadius: 5.0, NearestRadius: 25.0, NearestSpace: 0, MaxPushFailures: 5, AnomalyMode: AnomalyBlend}
}

// System is the SignalSystem: the event-bus heart of the core.
type System struct {
	cfg Config
	log *zap.Logger
	m   *metrics.Registry

	registry *EventTypeRegistry
	neuroTick atomic.Uint64

	nearest NearestFinder
	anomaly AnomalyProvider

	subsMu sync.RWMutex
	subs   map[uint32]*Subscriber
	nextID atomic.Uint32

	stats struct {
		sync.Mutex
		Stats
	}
}

// New constructs a SignalSystem. nearest/anomaly may be nil, in which
// case TokenID stays nil and AnomalyScore stays 0.
func New(cfg Config, nearest NearestFinder, anomaly AnomalyProvider, log *zap.Logger, m *metrics.Registry) *System {
	return &System{
		cfg:      cfg,
		log:      log,
		m:        m,
		registry: NewEventTypeRegistry(),
		nearest:  nearest,
		anomaly:  anomaly,
		subs:     make(map[uint32]*Subscriber),
	}
}

// Registry exposes the EventTypeRegistry for inspection.
func (s *System) Registry() *EventTypeRegistry { return s.registry }

// Subscribe registers a new subscriber and returns it; its ID field
// holds the assigned id.
func (s *System) Subscribe(name string, filter *CompiledFilter, kind DeliveryKind) *Subscriber {
	id := s.nextID.Add(1)
	var sub *Subscriber
	switch kind {
	case DeliveryPush:
		sub = NewPushSubscriber(id, name, filter, 64, s.cfg.MaxPushFailures)
	default:
		sub = NewPollingSubscriber(id, name, filter)
	}
	s.subsMu.Lock()
	s.subs[id] = sub
	s.subsMu.Unlock()
	return sub
}

// SubscribeCallback registers a synchronous callback subscriber.
func (s *System) SubscribeCallback(name string, filter *CompiledFilter, cb Callback) *Subscriber {
	id := s.nextID.Add(1)
	sub := NewCallbackSubscriber(id, name, filter, cb)
	s.subsMu.Lock()
	s.subs[id] = sub
	s.subsMu.Unlock()
	return sub
}

// Unsubscribe removes id, reporting whether it existed.
func (s *System) Unsubscribe(id uint32) bool {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return false
	}
	sub.removed.Store(true)
	delete(s.subs, id)
	return true
}

// Emit validates, registers, matches, and delivers event, returning the
// computed ProcessingResult.
func (s *System) Emit(event *SignalEvent) (ProcessingResult, error) {
	start := time.Now()

	if !event.vectorFinite() {
		return ProcessingResult{}, coreerr.New(coreerr.Validation, "signal.emit.non_finite_vector")
	}

	if event.Routing.CorrelationID == "" {
		event.Routing.CorrelationID = uuid.NewString()
	}
	event.Temporal.NeuroTick = s.neuroTick.Add(1)
	event.EventTypeID = s.registry.Intern(event.EventType)

	matched := s.dispatch(event)

	result := s.computeResult(event)
	result.ProcessingTimeUS = time.Since(start).Microseconds()

	s.stats.Lock()
	s.stats.TotalEvents++
	s.stats.SubscriberNotifications += uint64(matched)
	s.stats.Unlock()

	if s.m != nil {
		s.m.EmitLatency.Observe(time.Since(start).Seconds())
	}
	return result, nil
}

func (s *System) dispatch(event *SignalEvent) int {
	s.subsMu.RLock()
	targets := make([]*Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		targets = append(targets, sub)
	}
	s.subsMu.RUnlock()

	matched := 0
	var toRemove []uint32
	for _, sub := range targets {
		if sub.Removed() {
			continue
		}
		if !sub.Filter.Matches(event) {
			s.stats.Lock()
			s.stats.FilterMisses++
			s.stats.Unlock()
			if s.m != nil {
				s.m.FilterMisses.Inc()
			}
			continue
		}
		s.stats.Lock()
		s.stats.FilterMatches++
		s.stats.Unlock()
		if s.m != nil {
			s.m.FilterMatches.Inc()
		}
		matched++
		if !sub.deliver(event) {
			toRemove = append(toRemove, sub.ID)
		}
	}
	if len(toRemove) > 0 {
		s.subsMu.Lock()
		for _, id := range toRemove {
			delete(s.subs, id)
		}
		s.subsMu.Unlock()
	}
	return matched
}

func (s *System) computeResult(event *SignalEvent) ProcessingResult {
	result := ProcessingResult{TriggeredActions: []uint32{}}

	point := scalarToPoint(event.SemanticVector[s.cfg.NearestSpace])

	if s.nearest != nil {
		if id, dist, found := s.nearest.NearestInSpace(s.cfg.NearestSpace, point, s.cfg.NearestRadius); found {
			tid := id
			result.TokenID = &tid
			result.Neighbors = append(result.Neighbors, Neighbor{ID: id, Distance: dist})
		}
		_, _, withinNovelty := s.nearest.NearestInSpace(s.cfg.NearestSpace, point, s.cfg.NoveltyRadius)
		result.IsNovel = !withinNovelty
	} else {
		result.IsNovel = true
	}

	if s.anomaly != nil {
		switch s.cfg.AnomalyMode {
		case AnomalyCurrent:
			result.AnomalyScore = s.anomaly.CurrentSurprise()
		case AnomalyMax:
			result.AnomalyScore = s.anomaly.MaxRecentSurprise()
		default:
			result.AnomalyScore = (s.anomaly.CurrentSurprise() + s.anomaly.MaxRecentSurprise()) / 2
		}
	}

	sort.Slice(result.Neighbors, func(i, j int) bool {
		if result.Neighbors[i].Distance != result.Neighbors[j].Distance {
			return result.Neighbors[i].Distance < result.Neighbors[j].Distance
		}
		return result.Neighbors[i].ID < result.Neighbors[j].ID
	})
	return result
}

func scalarToPoint(v float32) spatial.Vec3 {
	return spatial.Vec3{v, v, v}
}

// Stats returns a snapshot of the engine's running counters.
func (s *System) Stats() Stats {
	s.stats.Lock()
	defer s.stats.Unlock()
	return s.stats.Stats
}
