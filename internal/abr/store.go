package abr

// Store is the storage abstraction behind the Decision Cache.
// Implementations need not be safe for concurrent use; Cache serializes
// every call.
type Store interface {
	Get(index ID) (Decision, bool)
	Set(d Decision)
	Delete(index ID)
	Indexes() []ID
}

// InMemoryStore is a map-backed Store.
type InMemoryStore struct {
	decisions map[ID]Decision
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		decisions: make(map[ID]Decision),
	}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(index ID) (Decision, bool) {
	d, ok := s.decisions[index]
	return d, ok
}

// Set implements Store.Set.
func (s *InMemoryStore) Set(d Decision) {
	s.decisions[d.Index] = d
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(index ID) {
	delete(s.decisions, index)
}

// Indexes implements Store.Indexes.
func (s *InMemoryStore) Indexes() []ID {
	ids := make([]ID, 0, len(s.decisions))
	for id := range s.decisions {
		ids = append(ids, id)
	}
	return ids
}
