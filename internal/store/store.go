package store

import (
	"sync"
	"sync/atomic"

	"github.com/nmxmxh/coreruntime/internal/coreerr"
	"github.com/nmxmxh/coreruntime/internal/metrics"
	"github.com/nmxmxh/coreruntime/internal/spatial"
)

// Guardian is the subset of internal/guardian.Guardian RuntimeStore
// needs, kept as an interface so store can be unit-tested without a
// real process-wide Guardian.
type Guardian interface {
	CanCreateToken() bool
	RecordTokenCreated() error
	RecordTokenRemoved()
	CanCreateConnection() bool
	RecordConnectionCreated() error
	RecordConnectionRemoved()
}

// Store is the RuntimeStore: tokens, connections, the spatial grid and
// CDNA, each guarded by its own mutex so readers of one component never
// block writers of another.
type Store struct {
	guardian Guardian
	m        *metrics.Registry

	tokensMu  sync.RWMutex
	tokens    map[uint32]*Token
	nextToken atomic.Uint32

	connsMu  sync.RWMutex
	conns    map[uint64]*Connection
	nextConn atomic.Uint64

	cdnaMu sync.RWMutex
	cdna   CDNA

	grid *spatial.Grid
}

// New constructs an empty Store backed by guardian for quota checks.
// bucketSize configures the spatial grid (0 selects the default 10.0).
// m may be nil, in which case spatial query counts are not observed.
func New(guardian Guardian, bucketSize float32, m *metrics.Registry) *Store {
	s := &Store{
		guardian: guardian,
		m:        m,
		tokens:   make(map[uint32]*Token),
		conns:    make(map[uint64]*Connection),
		cdna:     DefaultCDNA(),
	}
	s.grid = spatial.New(bucketSize, s)
	return s
}

// --- spatial.TokenLookup, implemented against the token map directly so
// the grid never needs its own copy of coordinate data.

func (s *Store) Coords(space int, id uint32) (spatial.Vec3, bool) {
	s.tokensMu.RLock()
	defer s.tokensMu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return spatial.Vec3{}, false
	}
	return t.Coords[space], true
}

func (s *Store) Active(id uint32) bool {
	s.tokensMu.RLock()
	defer s.tokensMu.RUnlock()
	t, ok := s.tokens[id]
	return ok && t.IsActive()
}

func (s *Store) FieldRadius(id uint32) float32 {
	s.tokensMu.RLock()
	defer s.tokensMu.RUnlock()
	if t, ok := s.tokens[id]; ok {
		return t.FieldRadius
	}
	return 0
}

func (s *Store) FieldStrength(id uint32) float32 {
	s.tokensMu.RLock()
	defer s.tokensMu.RUnlock()
	if t, ok := s.tokens[id]; ok {
		return t.FieldStrength
	}
	return 0
}

// Grid exposes the underlying spatial index for direct queries.
func (s *Store) Grid() *spatial.Grid { return s.grid }

// --- Tokens ---

// CreateToken allocates the next id, stores prototype under that id,
// and if ACTIVE, registers it in the grid for every space with finite
// coords. Returns QuotaExceeded if the guardian rejects the admission.
func (s *Store) CreateToken(prototype Token) (uint32, error) {
	if s.guardian != nil {
		if err := s.guardian.RecordTokenCreated(); err != nil {
			return 0, err
		}
	}
	id := s.nextToken.Add(1)
	now := monotonicNow()
	prototype.ID = id
	prototype.CreatedAt = now
	prototype.LastSeenAt = now

	s.tokensMu.Lock()
	s.tokens[id] = &prototype
	s.tokensMu.Unlock()

	if prototype.IsActive() {
		for space, c := range prototype.Coords {
			if isFinite3(c) {
				s.grid.Insert(space, id, c)
			}
		}
	}
	return id, nil
}

func isFinite3(v spatial.Vec3) bool {
	for _, c := range v {
		if c != c || c > 3.4e38 || c < -3.4e38 {
			return false
		}
	}
	return true
}

// GetToken returns the token for id, or NotFound.
func (s *Store) GetToken(id uint32) (Token, error) {
	s.tokensMu.RLock()
	defer s.tokensMu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return Token{}, coreerr.New(coreerr.NotFound, "store.get_token")
	}
	return *t, nil
}

// UpdateToken replaces the stored fields of id with prototype. If
// coords changed, all affected spaces are re-indexed atomically
// (remove-then-insert under the grid's per-space write lock).
func (s *Store) UpdateToken(id uint32, prototype Token) error {
	s.tokensMu.Lock()
	existing, ok := s.tokens[id]
	if !ok {
		s.tokensMu.Unlock()
		return coreerr.New(coreerr.NotFound, "store.update_token")
	}
	prototype.ID = id
	prototype.CreatedAt = existing.CreatedAt
	prototype.LastSeenAt = monotonicNow()
	oldCoords := existing.Coords
	oldActive := existing.IsActive()
	s.tokens[id] = &prototype
	s.tokensMu.Unlock()

	newActive := prototype.IsActive()
	for space := range prototype.Coords {
		switch {
		case oldActive && !newActive:
			s.grid.Remove(space, id)
		case !oldActive && newActive:
			if isFinite3(prototype.Coords[space]) {
				s.grid.Insert(space, id, prototype.Coords[space])
			}
		case oldActive && newActive && oldCoords[space] != prototype.Coords[space]:
			if isFinite3(prototype.Coords[space]) {
				s.grid.Insert(space, id, prototype.Coords[space])
			} else {
				s.grid.Remove(space, id)
			}
		}
	}
	return nil
}

// DeleteToken removes id from the grid, cascades deletion of every
// incident connection, and reports whether the token existed.
func (s *Store) DeleteToken(id uint32) bool {
	s.tokensMu.Lock()
	_, ok := s.tokens[id]
	if ok {
		delete(s.tokens, id)
	}
	s.tokensMu.Unlock()
	if !ok {
		return false
	}

	s.grid.RemoveAll(id)

	s.connsMu.Lock()
	for cid, c := range s.conns {
		if c.TokenA == id || c.TokenB == id {
			delete(s.conns, cid)
			if s.guardian != nil {
				s.guardian.RecordConnectionRemoved()
			}
		}
	}
	s.connsMu.Unlock()

	if s.guardian != nil {
		s.guardian.RecordTokenRemoved()
	}
	return true
}

// ListTokens returns up to limit tokens starting at offset, ordered by
// ascending id for deterministic pagination.
func (s *Store) ListTokens(limit, offset int) []Token {
	s.tokensMu.RLock()
	defer s.tokensMu.RUnlock()
	ids := make([]uint32, 0, len(s.tokens))
	for id := range s.tokens {
		ids = append(ids, id)
	}
	sortUint32(ids)
	if offset >= len(ids) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}
	out := make([]Token, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, *s.tokens[id])
	}
	return out
}

func sortUint32(ids []uint32) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// CountTokens returns the number of stored tokens.
func (s *Store) CountTokens() int {
	s.tokensMu.RLock()
	defer s.tokensMu.RUnlock()
	return len(s.tokens)
}

// ClearTokens removes every token, connection and grid entry.
func (s *Store) ClearTokens() {
	s.tokensMu.Lock()
	ids := make([]uint32, 0, len(s.tokens))
	for id := range s.tokens {
		ids = append(ids, id)
	}
	s.tokens = make(map[uint32]*Token)
	s.tokensMu.Unlock()

	for _, id := range ids {
		s.grid.RemoveAll(id)
	}

	s.connsMu.Lock()
	s.conns = make(map[uint64]*Connection)
	s.connsMu.Unlock()
}

// --- Connections ---

// CreateConnection allocates the next id and stores prototype,
// rejecting with NotFound if either endpoint token is missing.
func (s *Store) CreateConnection(prototype Connection) (uint64, error) {
	s.tokensMu.RLock()
	_, aOK := s.tokens[prototype.TokenA]
	_, bOK := s.tokens[prototype.TokenB]
	s.tokensMu.RUnlock()
	if !aOK || !bOK {
		return 0, coreerr.New(coreerr.NotFound, "store.create_connection")
	}
	if s.guardian != nil {
		if err := s.guardian.RecordConnectionCreated(); err != nil {
			return 0, err
		}
	}

	id := s.nextConn.Add(1)
	prototype.ID = id
	prototype.CreatedAt = monotonicNow()

	s.connsMu.Lock()
	s.conns[id] = &prototype
	s.connsMu.Unlock()
	return id, nil
}

// GetConnection returns the connection for id, or NotFound.
func (s *Store) GetConnection(id uint64) (Connection, error) {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	c, ok := s.conns[id]
	if !ok {
		return Connection{}, coreerr.New(coreerr.NotFound, "store.get_connection")
	}
	return *c, nil
}

// DeleteConnection removes id, reporting whether it existed.
func (s *Store) DeleteConnection(id uint64) bool {
	s.connsMu.Lock()
	_, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
	}
	s.connsMu.Unlock()
	if ok && s.guardian != nil {
		s.guardian.RecordConnectionRemoved()
	}
	return ok
}

// ListConnections returns up to limit connections from offset, ordered
// by ascending id.
func (s *Store) ListConnections(limit, offset int) []Connection {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	ids := make([]uint64, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	if offset >= len(ids) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}
	out := make([]Connection, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, *s.conns[id])
	}
	return out
}

// CountConnections returns the number of stored connections.
func (s *Store) CountConnections() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// --- CDNA ---

// CDNA returns the current constitutional configuration.
func (s *Store) CDNA() CDNA {
	s.cdnaMu.RLock()
	defer s.cdnaMu.RUnlock()
	return s.cdna
}

// SetProfile sets the profile id, validating the resulting config.
func (s *Store) SetProfile(profileID uint32) error {
	s.cdnaMu.Lock()
	defer s.cdnaMu.Unlock()
	next := s.cdna
	next.ProfileID = profileID
	if err := next.Validate(); err != nil {
		return err
	}
	s.cdna = next
	return nil
}

// SetFlags sets the bitflags field, validating the resulting config.
func (s *Store) SetFlags(flags uint32) error {
	s.cdnaMu.Lock()
	defer s.cdnaMu.Unlock()
	next := s.cdna
	next.Flags = flags
	if err := next.Validate(); err != nil {
		return err
	}
	s.cdna = next
	return nil
}

// SetTraceSampleRate sets the trace sample rate, validating it lies
// within [0,1].
func (s *Store) SetTraceSampleRate(rate float32) error {
	s.cdnaMu.Lock()
	defer s.cdnaMu.Unlock()
	next := s.cdna
	next.TraceSampleRate = rate
	if err := next.Validate(); err != nil {
		return err
	}
	s.cdna = next
	return nil
}

// UpdateScales replaces the 8 per-dimension scales, requiring every
// scale to be strictly positive and finite.
func (s *Store) UpdateScales(scales [spatial.NumSpaces]float32) error {
	s.cdnaMu.Lock()
	defer s.cdnaMu.Unlock()
	next := s.cdna
	next.Scales = scales
	if err := next.Validate(); err != nil {
		return err
	}
	s.cdna = next
	return nil
}
