package abr

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_last_write_wins(t *testing.T) {
	c := NewCache()

	c.Insert(Decision{Index: 5, Quality: 3, Timestamp: 100})
	c.Insert(Decision{Index: 5, Quality: 4, Timestamp: 90})

	got, ok := c.Lookup(5)
	require.True(t, ok)
	assert.Equal(t, Decision{Index: 5, Quality: 4, Timestamp: 90}, got)
	assert.Equal(t, 1, c.Len())
}

func TestCache_Lookup_missing(t *testing.T) {
	c := NewCache()
	_, ok := c.Lookup(1)
	assert.False(t, ok)
}

func TestCache_Snapshot_ordered(t *testing.T) {
	c := NewCache()
	for _, idx := range []ID{3, 1, 2} {
		c.Insert(Decision{Index: idx, Quality: int(idx)})
	}

	want := []Decision{{Index: 1, Quality: 1}, {Index: 2, Quality: 2}, {Index: 3, Quality: 3}}
	if diff := cmp.Diff(want, c.Snapshot()); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestCache_EvictBefore(t *testing.T) {
	c := NewCache()
	for idx := ID(1); idx <= 6; idx++ {
		c.Insert(Decision{Index: idx, Quality: 1})
	}

	assert.Equal(t, 3, c.EvictBefore(4))
	_, ok := c.Lookup(3)
	assert.False(t, ok)
	_, ok = c.Lookup(4)
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestNewCacheWithStore(t *testing.T) {
	store := NewInMemoryStore()
	c := NewCacheWithStore(store)

	c.Insert(Decision{Index: 2, Quality: 6})

	d, ok := store.Get(2)
	require.True(t, ok, "injected store should hold the decision")
	assert.Equal(t, 6, d.Quality)
}

func TestDecision_Validate(t *testing.T) {
	assert.NoError(t, Decision{Index: 1, Quality: 1}.Validate(6))
	assert.NoError(t, Decision{Index: 9, Quality: 6}.Validate(6))
	assert.ErrorIs(t, Decision{Index: 0, Quality: 3}.Validate(6), ErrInvalidDecision)
	assert.ErrorIs(t, Decision{Index: 1, Quality: 0}.Validate(6), ErrInvalidDecision)
	assert.ErrorIs(t, Decision{Index: 1, Quality: 7}.Validate(6), ErrInvalidDecision)
}
