package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeRegistry_Intern_StableAndIdempotent(t *testing.T) {
	r := NewEventTypeRegistry()
	id1 := r.Intern("token.created")
	id2 := r.Intern("token.created")
	assert.Equal(t, id1, id2)

	id3 := r.Intern("connection.created")
	assert.NotEqual(t, id1, id3)
}

func TestEventTypeRegistry_Intern_ManyDistinctTypesAllResolvable(t *testing.T) {
	r := NewEventTypeRegistry()
	ids := make(map[string]uint32)
	for i := 0; i < 50; i++ {
		name := "bulk.event." + string(rune('a'+i%26)) + string(rune('0'+i/26))
		ids[name] = r.Intern(name)
	}
	for name, id := range ids {
		got := r.Intern(name)
		assert.Equal(t, id, got, "re-interning %q must return the same id", name)
		resolved, ok := r.Lookup(id)
		require.True(t, ok)
		assert.Equal(t, name, resolved)
	}
}

func TestEventTypeRegistry_Lookup(t *testing.T) {
	r := NewEventTypeRegistry()
	id := r.Intern("token.created")
	name, ok := r.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "token.created", name)

	_, ok = r.Lookup(9999)
	assert.False(t, ok)
}
