package memory

import (
	"context"
	"sync"
	"time"

	"livequiz/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore. Records
// are copied on the way in and out so callers never share state.
type SessionStore struct {
	retention time.Duration
	clock     func() time.Time

	mu       sync.RWMutex
	sessions map[string]domain.Session
}

// NewSessionStore keeps terminal sessions for retention before treating them
// as purged. A zero retention keeps them forever.
func NewSessionStore(retention time.Duration) *SessionStore {
	return &SessionStore{
		retention: retention,
		clock:     time.Now,
		sessions:  make(map[string]domain.Session),
	}
}

func (s *SessionStore) Get(_ context.Context, code string) (domain.Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[code]
	s.mu.RUnlock()
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if s.expired(session) {
		s.mu.Lock()
		if current, ok := s.sessions[code]; ok && current.Version == session.Version {
			delete(s.sessions, code)
		}
		s.mu.Unlock()
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *SessionStore) Create(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.Code]; ok {
		return domain.ErrSessionExists
	}
	s.sessions[session.Code] = session.Clone()
	return nil
}

func (s *SessionStore) CompareAndSwap(_ context.Context, session domain.Session, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[session.Code]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	s.sessions[session.Code] = session.Clone()
	return nil
}

// Len reports how many sessions are held, including expired ones not yet swept.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionStore) expired(session domain.Session) bool {
	if s.retention <= 0 || !session.Status.Terminal() || session.EndedAt == nil {
		return false
	}
	return s.clock().After(session.EndedAt.Add(s.retention))
}
