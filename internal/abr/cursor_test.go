package abr

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCursor_default_on_miss(t *testing.T) {
	var misses []ID
	c := NewCursor(NewCache(), zerolog.Nop(), func(index ID) { misses = append(misses, index) })

	c.Advance(7)
	assert.Equal(t, DefaultQuality, c.Query())
	assert.Equal(t, []ID{7}, misses)
}

func TestCursor_Query_returns_quality(t *testing.T) {
	cache := NewCache()
	c := NewCursor(cache, zerolog.Nop(), nil)

	cache.Insert(Decision{Index: 3, Quality: 5})
	c.Advance(3)
	assert.Equal(t, 5, c.Query())
}

func TestCursor_rewind(t *testing.T) {
	cache := NewCache()
	c := NewCursor(cache, zerolog.Nop(), nil)
	cache.Insert(Decision{Index: 2, Quality: 2})
	cache.Insert(Decision{Index: 8, Quality: 6})

	c.Advance(8)
	assert.Equal(t, 6, c.Query())

	c.Advance(2)
	assert.Equal(t, ID(2), c.Index())
	assert.Equal(t, 2, c.Query())
}
