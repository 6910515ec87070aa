// Package spatial implements the 8D bucketed spatial grid: one
// independent bucket hash per semantic space, discretized coordinate
// triplets mapping to sets of token ids. Grounded on
// core/mesh/optimization/tier_detector.go's map-keyed bucketing by a
// derived key, generalized here from a single replication-tier key to
// 8 independent per-space bucket maps.
package spatial

import (
	"math"
	"sort"
	"sync"
)

// NumSpaces is the number of semantic coordinate spaces (L1..L8).
const NumSpaces = 8

// Vec3 is a coordinate triplet in one semantic space.
type Vec3 [3]float32

func (v Vec3) finite() bool {
	for _, c := range v {
		if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
			return false
		}
	}
	return true
}

func (v Vec3) sub(o Vec3) Vec3 {
	return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]}
}

func (v Vec3) norm() float64 {
	return math.Sqrt(float64(v[0])*float64(v[0]) + float64(v[1])*float64(v[1]) + float64(v[2])*float64(v[2]))
}

type bucketKey [3]int32

func discretize(v Vec3, bucketSize float32) bucketKey {
	return bucketKey{
		int32(math.Floor(float64(v[0] / bucketSize))),
		int32(math.Floor(float64(v[1] / bucketSize))),
		int32(math.Floor(float64(v[2] / bucketSize))),
	}
}

// TokenLookup resolves a token id to the data needed for field
// influence and ACTIVE filtering, so the grid itself stores only ids.
type TokenLookup interface {
	Coords(space int, id uint32) (Vec3, bool)
	Active(id uint32) bool
	FieldRadius(id uint32) float32
	FieldStrength(id uint32) float32
}

// Grid is the 8-space bucketed index. Each space has its own mutex so
// a write in one space never blocks a reader in another.
type Grid struct {
	bucketSize float32
	spaces     [NumSpaces]spaceIndex
	lookup     TokenLookup
}

type spaceIndex struct {
	mu      sync.RWMutex
	buckets map[bucketKey]map[uint32]struct{}
	// tokenBucket tracks which bucket each token currently occupies in
	// this space, so removal is exact without a linear scan.
	tokenBucket map[uint32]bucketKey
}

// New constructs a Grid with the given bucket size (default 10.0 per
// the spec if bucketSize <= 0).
func New(bucketSize float32, lookup TokenLookup) *Grid {
	if bucketSize <= 0 {
		bucketSize = 10.0
	}
	g := &Grid{bucketSize: bucketSize, lookup: lookup}
	for i := range g.spaces {
		g.spaces[i].buckets = make(map[bucketKey]map[uint32]struct{})
		g.spaces[i].tokenBucket = make(map[uint32]bucketKey)
	}
	return g
}

// Insert places id into the bucket for coord in the given space. A
// token occupies at most one bucket per space; re-inserting first
// removes the prior placement.
func (g *Grid) Insert(space int, id uint32, coord Vec3) {
	if !coord.finite() {
		return
	}
	s := &g.spaces[space]
	key := discretize(coord, g.bucketSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.tokenBucket[id]; ok {
		if old == key {
			return
		}
		if b, ok := s.buckets[old]; ok {
			delete(b, id)
			if len(b) == 0 {
				delete(s.buckets, old)
			}
		}
	}
	b, ok := s.buckets[key]
	if !ok {
		b = make(map[uint32]struct{})
		s.buckets[key] = b
	}
	b[id] = struct{}{}
	s.tokenBucket[id] = key
}

// Remove removes id from the given space's index, a no-op if absent.
func (g *Grid) Remove(space int, id uint32) {
	s := &g.spaces[space]
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.tokenBucket[id]
	if !ok {
		return
	}
	delete(s.tokenBucket, id)
	if b, ok := s.buckets[key]; ok {
		delete(b, id)
		if len(b) == 0 {
			delete(s.buckets, key)
		}
	}
}

// RemoveAll removes id from every space's index.
func (g *Grid) RemoveAll(id uint32) {
	for space := range g.spaces {
		g.Remove(space, id)
	}
}

// Neighbor is one candidate returned by FindNeighbors/RangeQuery.
type Neighbor struct {
	ID       uint32
	Distance float64
}

// FindNeighbors returns up to maxResults tokens near origin's coord in
// space, sorted by ascending distance then ascending id, excluding
// origin itself and inactive tokens.
func (g *Grid) FindNeighbors(space int, originID uint32, radius float32, maxResults int) []Neighbor {
	if radius <= 0 || maxResults == 0 {
		return nil
	}
	origin, ok := g.lookup.Coords(space, originID)
	if !ok {
		return nil
	}
	cands := g.candidatesInRadius(space, origin, radius)
	out := make([]Neighbor, 0, len(cands))
	for id, d := range cands {
		if id == originID {
			continue
		}
		if !g.lookup.Active(id) {
			continue
		}
		out = append(out, Neighbor{ID: id, Distance: d})
	}
	sortNeighbors(out)
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

// RangeQuery returns every active token within radius of center in
// space, sorted the same way as FindNeighbors, with no origin excluded.
func (g *Grid) RangeQuery(space int, center Vec3, radius float32) []Neighbor {
	if radius <= 0 {
		return nil
	}
	cands := g.candidatesInRadius(space, center, radius)
	out := make([]Neighbor, 0, len(cands))
	for id, d := range cands {
		if !g.lookup.Active(id) {
			continue
		}
		out = append(out, Neighbor{ID: id, Distance: d})
	}
	sortNeighbors(out)
	return out
}

func sortNeighbors(n []Neighbor) {
	sort.Slice(n, func(i, j int) bool {
		if n[i].Distance != n[j].Distance {
			return n[i].Distance < n[j].Distance
		}
		return n[i].ID < n[j].ID
	})
}

// candidatesInRadius enumerates every bucket whose cell touches the
// sphere of the given radius around center, and returns the Euclidean
// distance of each candidate id actually within radius.
func (g *Grid) candidatesInRadius(space int, center Vec3, radius float32) map[uint32]float64 {
	s := &g.spaces[space]
	span := int32(math.Ceil(float64(radius / g.bucketSize)))
	centerKey := discretize(center, g.bucketSize)

	out := make(map[uint32]float64)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for dx := -span; dx <= span; dx++ {
		for dy := -span; dy <= span; dy++ {
			for dz := -span; dz <= span; dz++ {
				key := bucketKey{centerKey[0] + dx, centerKey[1] + dy, centerKey[2] + dz}
				bucket, ok := s.buckets[key]
				if !ok {
					continue
				}
				for id := range bucket {
					coord, ok := g.lookup.Coords(space, id)
					if !ok {
						continue
					}
					d := coord.sub(center).norm()
					if d <= float64(radius) {
						out[id] = d
					}
				}
			}
		}
	}
	return out
}

// FieldInfluence sums field_strength_t * max(0, 1 - d(p,t)/field_radius_t)
// over active tokens within R of p in space, clamped to [0,1].
func (g *Grid) FieldInfluence(space int, p Vec3, r float32) float64 {
	cands := g.candidatesInRadius(space, p, r)
	var total float64
	for id, d := range cands {
		if !g.lookup.Active(id) {
			continue
		}
		fr := float64(g.lookup.FieldRadius(id))
		if fr <= 0 {
			continue
		}
		fs := float64(g.lookup.FieldStrength(id))
		contrib := fs * math.Max(0, 1-d/fr)
		total += contrib
	}
	if total > 1 {
		total = 1
	}
	if total < 0 {
		total = 0
	}
	return total
}

// Density returns |active tokens within R of p| / volume(R), a rate.
func (g *Grid) Density(space int, p Vec3, r float32) float64 {
	if r <= 0 {
		return 0
	}
	cands := g.candidatesInRadius(space, p, r)
	count := 0
	for id := range cands {
		if g.lookup.Active(id) {
			count++
		}
	}
	volume := (4.0 / 3.0) * math.Pi * math.Pow(float64(r), 3)
	if volume == 0 {
		return 0
	}
	return float64(count) / volume
}
