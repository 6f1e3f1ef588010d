package session

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for an unknown or already ended session id.
var ErrSessionNotFound = errors.New("session not found")

// Factory builds a session for a freshly allocated id.
type Factory func(id string) *Session

// Registry is a concurrency-safe set of live sessions keyed by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	factory  Factory
}

// NewRegistry returns an empty Registry creating sessions with factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		factory:  factory,
	}
}

// Create starts a new session under a random id.
func (r *Registry) Create() *Session {
	s := r.factory(uuid.NewString())

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get returns the live session with id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// End removes the session with id and ends it.
func (r *Registry) End(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.End()
	return nil
}

// EndAll ends every live session. Used on shutdown.
func (r *Registry) EndAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.End()
	}
}

// IDs returns the ids of live sessions in ascending order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// ActiveCount returns the number of live sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
