// Package sessionstore implements the kernel's SessionStore: an in-memory
// activationId -> Session map with reactive subscriber notification on
// every mutation, grounded on the teacher's sessions.MemoryStore
// clone-on-read/write idiom.
package sessionstore

import (
	"fmt"
	"sync"

	"github.com/agentkernel/kernel/pkg/models"
)

// Listener is notified after every mutation to a Session.
type Listener func(models.Session)

// Store is the kernel's in-memory SessionStore. All mutation goes through
// its explicit methods, never direct field writes on a returned Session —
// Get/List always return a clone, so callers can't corrupt the store's
// copy.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*models.Session
	listeners []Listener
}

// New creates an empty Store.
func New() *Store {
	return &Store{sessions: make(map[string]*models.Session)}
}

// Create registers a new Session for activationID. Returns an error if
// one already exists — the ActivationLoop creates exactly one Session per
// Activation at dispatch time.
func (s *Store) Create(session models.Session) error {
	s.mu.Lock()
	if _, exists := s.sessions[session.ActivationID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("session already exists for activation %s", session.ActivationID)
	}
	clone := session.Clone()
	s.sessions[session.ActivationID] = &clone
	s.mu.Unlock()

	s.notify(clone)
	return nil
}

// Get returns a clone of the Session for activationID.
func (s *Store) Get(activationID string) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[activationID]
	if !ok {
		return models.Session{}, false
	}
	return session.Clone(), true
}

// List returns a clone of every Session currently tracked.
func (s *Store) List() []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session.Clone())
	}
	return out
}

// Update replaces the stored Session for activationID wholesale and
// notifies subscribers. Returns an error if no Session exists yet.
func (s *Store) Update(activationID string, mutate func(*models.Session)) (models.Session, error) {
	s.mu.Lock()
	session, ok := s.sessions[activationID]
	if !ok {
		s.mu.Unlock()
		return models.Session{}, fmt.Errorf("session not found for activation %s", activationID)
	}
	clone := session.Clone()
	mutate(&clone)
	s.sessions[activationID] = &clone
	s.mu.Unlock()

	s.notify(clone)
	return clone, nil
}

// Delete removes the Session for activationID, e.g. once its checkpoint
// has been folded into a ReplayController snapshot.
func (s *Store) Delete(activationID string) {
	s.mu.Lock()
	delete(s.sessions, activationID)
	s.mu.Unlock()
}

// Subscribe registers listener for future mutations across every Session.
func (s *Store) Subscribe(listener Listener) (unsubscribe func()) {
	s.mu.Lock()
	idx := len(s.listeners)
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < len(s.listeners) {
			s.listeners[idx] = func(models.Session) {}
		}
	}
}

func (s *Store) notify(session models.Session) {
	s.mu.RLock()
	listeners := append([]Listener{}, s.listeners...)
	s.mu.RUnlock()
	for _, l := range listeners {
		l(session)
	}
}
