package store

import "github.com/nmxmxh/coreruntime/internal/spatial"

// GridInfo summarizes grid occupancy for diagnostics.
type GridInfo struct {
	TokenCount int
}

// GridInfo reports the number of tokens currently tracked by the store.
func (s *Store) GridInfo() GridInfo {
	return GridInfo{TokenCount: s.CountTokens()}
}

// FindNeighbors delegates to the spatial grid for tokenID's coord in space.
func (s *Store) FindNeighbors(tokenID uint32, space int, radius float32, maxResults int) []spatial.Neighbor {
	s.observeGridQuery()
	return s.grid.FindNeighbors(space, tokenID, radius, maxResults)
}

// RangeQuery delegates to the spatial grid around center in space.
func (s *Store) RangeQuery(space int, center spatial.Vec3, radius float32) []spatial.Neighbor {
	s.observeGridQuery()
	return s.grid.RangeQuery(space, center, radius)
}

// NearestInSpace returns the closest active token to point within
// radius in space, or found=false if none qualifies.
func (s *Store) NearestInSpace(space int, point spatial.Vec3, radius float32) (id uint32, distance float64, found bool) {
	s.observeGridQuery()
	candidates := s.grid.RangeQuery(space, point, radius)
	if len(candidates) == 0 {
		return 0, 0, false
	}
	return candidates[0].ID, candidates[0].Distance, true
}

func (s *Store) observeGridQuery() {
	if s.m != nil {
		s.m.GridQueries.Inc()
	}
}
