package chat

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateSession is returned when a session is registered twice.
	ErrDuplicateSession = errors.New("session already registered")
	// ErrNicknameTaken is returned when another session uses the nickname.
	ErrNicknameTaken = errors.New("nickname already taken")
)

// Registry holds the live sessions.
// Both TCP and WebSocket sessions share a single Registry instance.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	byNick   map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		byNick:   make(map[string]*Session),
	}
}

// Register adds a session.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return ErrDuplicateSession
	}
	if _, ok := r.byNick[s.nickname]; ok {
		return ErrNicknameTaken
	}
	r.sessions[s.ID] = s
	r.byNick[s.nickname] = s
	return nil
}

// Unregister removes a session and reports whether it was registered.
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.ID] != s {
		return false
	}
	delete(r.sessions, s.ID)
	delete(r.byNick, s.nickname)
	return true
}

// Lookup returns the session registered under nickname.
func (r *Registry) Lookup(nickname string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byNick[nickname]
	return s, ok
}

// Find returns the first session matching pred, or nil.
func (r *Registry) Find(pred func(*Session) bool) *Session {
	for _, s := range r.Snapshot() {
		if pred(s) {
			return s
		}
	}
	return nil
}

// ForEach calls fn for every session registered when it was called.
// No lock is held while fn runs, so fn may unregister sessions.
func (r *Registry) ForEach(fn func(*Session)) {
	for _, s := range r.Snapshot() {
		fn(s)
	}
}

// Snapshot returns the registered sessions.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
