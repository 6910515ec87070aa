package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/coreruntime/internal/coreerr"
	"github.com/nmxmxh/coreruntime/internal/spatial"
)

// fakeGuardian lets tests exercise quota rejection without a real
// process-wide Guardian.
type fakeGuardian struct {
	maxTokens, maxConns int
	tokens, conns       int
}

func (g *fakeGuardian) CanCreateToken() bool      { return g.tokens < g.maxTokens }
func (g *fakeGuardian) CanCreateConnection() bool { return g.conns < g.maxConns }
func (g *fakeGuardian) RecordTokenCreated() error {
	if !g.CanCreateToken() {
		return coreerr.New(coreerr.QuotaExceeded, "fake.token")
	}
	g.tokens++
	return nil
}
func (g *fakeGuardian) RecordTokenRemoved() { g.tokens-- }
func (g *fakeGuardian) RecordConnectionCreated() error {
	if !g.CanCreateConnection() {
		return coreerr.New(coreerr.QuotaExceeded, "fake.conn")
	}
	g.conns++
	return nil
}
func (g *fakeGuardian) RecordConnectionRemoved() { g.conns-- }

func activeToken(coord spatial.Vec3) Token {
	var t Token
	t.Flags = FlagActive
	t.Coords[0] = coord
	return t
}

func TestStore_CreateToken_EnforcesGuardianQuota(t *testing.T) {
	g := &fakeGuardian{maxTokens: 3, maxConns: 10}
	s := New(g, 10, nil)
	for i := 0; i < 3; i++ {
		_, err := s.CreateToken(activeToken(spatial.Vec3{}))
		require.NoError(t, err)
	}
	_, err := s.CreateToken(activeToken(spatial.Vec3{}))
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.QuotaExceeded))
	assert.Equal(t, 3, s.CountTokens())
}

func TestStore_CreateToken_RegistersActiveInGrid(t *testing.T) {
	s := New(nil, 10, nil)
	id, err := s.CreateToken(activeToken(spatial.Vec3{1, 0, 0}))
	require.NoError(t, err)

	id2, err := s.CreateToken(activeToken(spatial.Vec3{1.5, 0, 0}))
	require.NoError(t, err)

	neighbors := s.FindNeighbors(id, 0, 5, 10)
	require.Len(t, neighbors, 1)
	assert.Equal(t, id2, neighbors[0].ID)
}

func TestStore_GetToken_NotFound(t *testing.T) {
	s := New(nil, 10, nil)
	_, err := s.GetToken(999)
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.NotFound))
}

func TestStore_UpdateToken_ReindexesOnCoordChange(t *testing.T) {
	s := New(nil, 10, nil)
	id, err := s.CreateToken(activeToken(spatial.Vec3{0, 0, 0}))
	require.NoError(t, err)

	moved := activeToken(spatial.Vec3{100, 0, 0})
	require.NoError(t, s.UpdateToken(id, moved))

	assert.Empty(t, s.RangeQuery(0, spatial.Vec3{0, 0, 0}, 5))
	neighbors := s.RangeQuery(0, spatial.Vec3{100, 0, 0}, 5)
	require.Len(t, neighbors, 1)
	assert.Equal(t, id, neighbors[0].ID)
}

func TestStore_UpdateToken_DeactivateRemovesFromGrid(t *testing.T) {
	s := New(nil, 10, nil)
	id, err := s.CreateToken(activeToken(spatial.Vec3{0, 0, 0}))
	require.NoError(t, err)

	var inactive Token
	inactive.Coords[0] = spatial.Vec3{0, 0, 0}
	require.NoError(t, s.UpdateToken(id, inactive))

	assert.Empty(t, s.RangeQuery(0, spatial.Vec3{0, 0, 0}, 5))
}

func TestStore_DeleteToken_CascadesConnections(t *testing.T) {
	g := &fakeGuardian{maxTokens: 10, maxConns: 10}
	s := New(g, 10, nil)
	a, err := s.CreateToken(activeToken(spatial.Vec3{}))
	require.NoError(t, err)
	b, err := s.CreateToken(activeToken(spatial.Vec3{}))
	require.NoError(t, err)
	connID, err := s.CreateConnection(Connection{TokenA: a, TokenB: b})
	require.NoError(t, err)

	assert.True(t, s.DeleteToken(a))
	_, err = s.GetConnection(connID)
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.NotFound))
	assert.Equal(t, 0, g.conns)
}

func TestStore_DeleteToken_NotFoundReturnsFalse(t *testing.T) {
	s := New(nil, 10, nil)
	assert.False(t, s.DeleteToken(123))
}

func TestStore_ListTokens_PaginatesByAscendingID(t *testing.T) {
	s := New(nil, 10, nil)
	var ids []uint32
	for i := 0; i < 5; i++ {
		id, err := s.CreateToken(Token{})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	page := s.ListTokens(2, 1)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)
}

func TestStore_ClearTokens_RemovesEverything(t *testing.T) {
	s := New(nil, 10, nil)
	_, err := s.CreateToken(activeToken(spatial.Vec3{}))
	require.NoError(t, err)
	s.ClearTokens()
	assert.Equal(t, 0, s.CountTokens())
	assert.Equal(t, 0, s.CountConnections())
}

func TestStore_CreateConnection_RejectsMissingEndpoint(t *testing.T) {
	s := New(nil, 10, nil)
	a, err := s.CreateToken(Token{})
	require.NoError(t, err)
	_, err = s.CreateConnection(Connection{TokenA: a, TokenB: 9999})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.NotFound))
}

func TestStore_CreateConnection_EnforcesGuardianQuota(t *testing.T) {
	g := &fakeGuardian{maxTokens: 10, maxConns: 1}
	s := New(g, 10, nil)
	a, err := s.CreateToken(Token{})
	require.NoError(t, err)
	b, err := s.CreateToken(Token{})
	require.NoError(t, err)
	_, err = s.CreateConnection(Connection{TokenA: a, TokenB: b})
	require.NoError(t, err)
	_, err = s.CreateConnection(Connection{TokenA: a, TokenB: b})
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.QuotaExceeded))
}

func TestStore_SetProfile_StoresValidProfile(t *testing.T) {
	s := New(nil, 10, nil)
	require.NoError(t, s.SetProfile(7))
	assert.Equal(t, uint32(7), s.CDNA().ProfileID)
}

func TestStore_SetTraceSampleRate_ValidatesRange(t *testing.T) {
	s := New(nil, 10, nil)
	require.NoError(t, s.SetTraceSampleRate(0.5))
	assert.Equal(t, float32(0.5), s.CDNA().TraceSampleRate)

	err := s.SetTraceSampleRate(1.5)
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.Validation))
	// A rejected update must not mutate the stored CDNA.
	assert.Equal(t, float32(0.5), s.CDNA().TraceSampleRate)
}

func TestStore_UpdateScales_RejectsNonPositive(t *testing.T) {
	s := New(nil, 10, nil)
	var scales [spatial.NumSpaces]float32
	for i := range scales {
		scales[i] = 1.0
	}
	scales[3] = 0
	err := s.UpdateScales(scales)
	require.Error(t, err)
	assert.True(t, coreerr.Is(err, coreerr.Validation))
}

func TestStore_NearestInSpace_ReturnsClosestActiveToken(t *testing.T) {
	s := New(nil, 10, nil)
	_, err := s.CreateToken(activeToken(spatial.Vec3{0, 0, 0}))
	require.NoError(t, err)
	near, err := s.CreateToken(activeToken(spatial.Vec3{2, 0, 0}))
	require.NoError(t, err)

	id, dist, found := s.NearestInSpace(0, spatial.Vec3{2, 0, 0}, 1)
	require.True(t, found)
	assert.Equal(t, near, id)
	assert.InDelta(t, 0, dist, 1e-9)
}
