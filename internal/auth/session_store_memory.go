package auth

import (
	"context"
	"sync"
	"time"
)

// NewInMemorySessionStore returns a SessionStore backed by an in-memory map.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]Session)}
}

// InMemorySessionStore implements SessionStore for tests and local development.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session // keyed by refresh token
}

// Save persists the provided session record.
func (s *InMemorySessionStore) Save(_ context.Context, session Session) error {
	s.mu.Lock()
	s.sessions[session.Token] = session
	s.mu.Unlock()
	return nil
}

// Find retrieves a session by refresh token.
func (s *InMemorySessionStore) Find(_ context.Context, refreshToken string) (Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[refreshToken]
	s.mu.RUnlock()
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return session, nil
}

// Delete removes the session associated with the refresh token.
func (s *InMemorySessionStore) Delete(_ context.Context, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[refreshToken]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, refreshToken)
	return nil
}

// DeleteForAccount removes every session belonging to the account.
func (s *InMemorySessionStore) DeleteForAccount(_ context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for token, session := range s.sessions {
		if session.AccountID == accountID {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

// Extend pushes the expiry of the account's sessions to the provided horizon.
func (s *InMemorySessionStore) Extend(_ context.Context, accountID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for token, session := range s.sessions {
		if session.AccountID == accountID && session.ExpiresAt.Before(until) {
			session.ExpiresAt = until
			s.sessions[token] = session
		}
	}
	return nil
}

// Has reports whether a refresh token exists. Useful for tests.
func (s *InMemorySessionStore) Has(refreshToken string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[refreshToken]
	return ok
}

// ExpiryOf returns the stored expiry for a refresh token. Useful for tests.
func (s *InMemorySessionStore) ExpiryOf(refreshToken string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[refreshToken]
	return session.ExpiresAt, ok
}
