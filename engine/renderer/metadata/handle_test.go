package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResource struct {
	name string
}

func TestZeroHandleIsInvalid(t *testing.T) {
	var h Handle[testResource]
	assert.False(t, h.IsValid())

	arena := NewArena[testResource]()
	_, err := arena.Get(h)
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestArenaInsertGetRemove(t *testing.T) {
	arena := NewArena[testResource]()

	h := arena.Insert(testResource{name: "vertex buffer"})
	assert.True(t, h.IsValid())
	assert.Equal(t, 1, arena.Len())

	res, err := arena.Get(h)
	require.NoError(t, err)
	assert.Equal(t, "vertex buffer", res.name)

	removed, err := arena.Remove(h)
	require.NoError(t, err)
	assert.Equal(t, "vertex buffer", removed.name)
	assert.Zero(t, arena.Len())

	_, err = arena.Get(h)
	assert.ErrorIs(t, err, ErrStaleHandle)
	_, err = arena.Remove(h)
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestArenaSlotReuseBumpsGeneration(t *testing.T) {
	arena := NewArena[testResource]()

	old := arena.Insert(testResource{name: "old"})
	_, err := arena.Remove(old)
	require.NoError(t, err)

	fresh := arena.Insert(testResource{name: "fresh"})
	assert.Equal(t, old.Index(), fresh.Index())
	assert.Greater(t, fresh.Generation(), old.Generation())

	// Every copy of the old handle went stale with the removal.
	_, err = arena.Get(old)
	assert.ErrorIs(t, err, ErrStaleHandle)
	res, err := arena.Get(fresh)
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.name)
}

func TestArenaEachAllowsSelfRemoval(t *testing.T) {
	arena := NewArena[testResource]()
	keep := arena.Insert(testResource{name: "keep"})
	arena.Insert(testResource{name: "drop"})

	arena.Each(func(h Handle[testResource], res *testResource) {
		if res.name == "drop" {
			_, err := arena.Remove(h)
			assert.NoError(t, err)
		}
	})

	assert.Equal(t, 1, arena.Len())
	res, err := arena.Get(keep)
	require.NoError(t, err)
	assert.Equal(t, "keep", res.name)
}
