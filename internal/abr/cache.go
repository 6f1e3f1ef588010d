package abr

import (
	"sort"
	"sync"
)

// Cache holds the latest Decision per segment index. Inserting a decision
// for an index that already has one replaces it.
type Cache struct {
	mu    sync.RWMutex
	store Store
}

// NewCache returns a Cache backed by an InMemoryStore.
func NewCache() *Cache {
	return NewCacheWithStore(NewInMemoryStore())
}

// NewCacheWithStore returns a Cache backed by store.
func NewCacheWithStore(store Store) *Cache {
	return &Cache{store: store}
}

// Insert writes d at d.Index, overwriting any previous decision.
func (c *Cache) Insert(d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Set(d)
}

// Lookup returns the decision stored for index.
func (c *Cache) Lookup(index ID) (Decision, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Get(index)
}

// Len returns the number of cached decisions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store.Indexes())
}

// Snapshot returns all cached decisions ordered by index.
func (c *Cache) Snapshot() []Decision {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.store.Indexes()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Decision, 0, len(ids))
	for _, id := range ids {
		if d, ok := c.store.Get(id); ok {
			out = append(out, d)
		}
	}
	return out
}

// EvictBefore removes decisions with an index lower than index and returns
// how many were removed.
func (c *Cache) EvictBefore(index ID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, id := range c.store.Indexes() {
		if id < index {
			c.store.Delete(id)
			n++
		}
	}
	return n
}
