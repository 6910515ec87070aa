package arbiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmxmxh/coreruntime/internal/curiosity"
)

func TestExperienceMemory_Nearest_ReturnsClosestByEuclideanDistance(t *testing.T) {
	mem := NewExperienceMemory(10)
	mem.Put(ReflexExperience{ID: "a", State: curiosity.State{0, 0, 0, 0, 0, 0, 0, 0}})
	mem.Put(ReflexExperience{ID: "b", State: curiosity.State{10, 10, 10, 10, 10, 10, 10, 10}})

	exp, dist, found := mem.Nearest(curiosity.State{1, 0, 0, 0, 0, 0, 0, 0})
	require.True(t, found)
	assert.Equal(t, "a", exp.ID)
	assert.InDelta(t, 1.0, dist, 1e-9)
}

func TestExperienceMemory_Nearest_EmptyReturnsNotFound(t *testing.T) {
	mem := NewExperienceMemory(10)
	_, _, found := mem.Nearest(curiosity.State{})
	assert.False(t, found)
}

func TestExperienceMemory_Put_UpdatesExistingIDInPlace(t *testing.T) {
	mem := NewExperienceMemory(10)
	mem.Put(ReflexExperience{ID: "a", State: curiosity.State{0, 0, 0, 0, 0, 0, 0, 0}})
	mem.Put(ReflexExperience{ID: "a", State: curiosity.State{5, 0, 0, 0, 0, 0, 0, 0}})

	exp, _, found := mem.Nearest(curiosity.State{5, 0, 0, 0, 0, 0, 0, 0})
	require.True(t, found)
	assert.Equal(t, float32(5), exp.State[0])
}

func TestExperienceMemory_Put_EvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	mem := NewExperienceMemory(2)
	mem.Put(ReflexExperience{ID: "a", State: curiosity.State{0, 0, 0, 0, 0, 0, 0, 0}})
	mem.Put(ReflexExperience{ID: "b", State: curiosity.State{1, 0, 0, 0, 0, 0, 0, 0}})
	// Touch "a" so "b" becomes least-recently-used.
	mem.Nearest(curiosity.State{0, 0, 0, 0, 0, 0, 0, 0})
	mem.Put(ReflexExperience{ID: "c", State: curiosity.State{2, 0, 0, 0, 0, 0, 0, 0}})

	assert.Len(t, mem.nodes, 2)
	_, ok := mem.nodes["b"]
	assert.False(t, ok, "b should have been evicted as least-recently-used")
	_, ok = mem.nodes["a"]
	assert.True(t, ok)
	_, ok = mem.nodes["c"]
	assert.True(t, ok)
}
