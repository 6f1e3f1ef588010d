package abr

import (
	"sync"

	"github.com/rs/zerolog"
)

// Cursor points at the segment index whose decision is authoritative for
// playback. Advance accepts any index, so a rewind changes the answer of
// the next Query.
type Cursor struct {
	mu        sync.Mutex
	cache     *Cache
	index     ID
	log       zerolog.Logger
	onDefault func(index ID)
}

// NewCursor returns a Cursor reading from cache. onDefault, if non-nil, is
// called whenever Query falls back to DefaultQuality.
func NewCursor(cache *Cache, log zerolog.Logger, onDefault func(index ID)) *Cursor {
	return &Cursor{cache: cache, log: log, onDefault: onDefault}
}

// Advance moves the cursor to index.
func (c *Cursor) Advance(index ID) {
	c.mu.Lock()
	c.index = index
	c.mu.Unlock()
}

// Index returns the current index.
func (c *Cursor) Index() ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Query returns the quality decided for the current index, or
// DefaultQuality when the cache holds no decision for it.
func (c *Cursor) Query() int {
	index := c.Index()
	if d, ok := c.cache.Lookup(index); ok {
		return d.Quality
	}

	c.log.Debug().Int("index", int(index)).Msg("no decision for index, using default quality")
	if c.onDefault != nil {
		c.onDefault(index)
	}
	return DefaultQuality
}
