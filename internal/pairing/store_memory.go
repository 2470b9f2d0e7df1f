package pairing

import (
	"context"
	"sync"
	"time"

	"github.com/duetapp/backend/internal/models"
)

// NewInMemoryStore returns a Store backed by an in-memory map.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{pairings: make(map[string]models.Pairing)}
}

// InMemoryStore implements Store for tests and local development. Its
// conditional updates hold the same exactly-one-winner semantics as the
// PostgreSQL implementation.
type InMemoryStore struct {
	mu       sync.Mutex
	pairings map[string]models.Pairing
}

// Create stores a new pairing, enforcing code uniqueness across pending rows.
func (s *InMemoryStore) Create(_ context.Context, pairing models.Pairing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pairing.Code != nil {
		for _, existing := range s.pairings {
			if existing.Code != nil && *existing.Code == *pairing.Code && existing.DeletedAt == nil {
				return ErrCodeTaken
			}
		}
	}

	s.pairings[pairing.ID] = pairing
	return nil
}

// GetByID returns the pairing, excluding tombstoned rows unless asked.
func (s *InMemoryStore) GetByID(_ context.Context, id string, includeDeleted bool) (models.Pairing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairing, ok := s.pairings[id]
	if !ok || (!includeDeleted && pairing.DeletedAt != nil) {
		return models.Pairing{}, ErrNotFound
	}
	return pairing, nil
}

// GetPendingByCode finds the pending pairing holding the code.
func (s *InMemoryStore) GetPendingByCode(_ context.Context, code string) (models.Pairing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pairing := range s.pairings {
		if pairing.Code != nil && *pairing.Code == code &&
			pairing.Status == models.PairingStatusPending && pairing.DeletedAt == nil {
			return pairing, nil
		}
	}
	return models.Pairing{}, ErrNotFound
}

// AcceptPending performs the conditional acceptance update.
func (s *InMemoryStore) AcceptPending(_ context.Context, id, partnerID string) (models.Pairing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairing, ok := s.pairings[id]
	if !ok || pairing.DeletedAt != nil ||
		pairing.Status != models.PairingStatusPending ||
		pairing.Code == nil || pairing.PartnerID != nil {
		return models.Pairing{}, ErrNotFound
	}

	now := time.Now().UTC()
	pairing.PartnerID = &partnerID
	pairing.Code = nil
	pairing.Status = models.PairingStatusAccepted
	pairing.RespondedAt = &now
	s.pairings[id] = pairing
	return pairing, nil
}

// MarkRejected flips a pending pairing to rejected.
func (s *InMemoryStore) MarkRejected(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairing, ok := s.pairings[id]
	if !ok || pairing.DeletedAt != nil || pairing.Status != models.PairingStatusPending {
		return ErrNotFound
	}

	now := time.Now().UTC()
	pairing.Status = models.PairingStatusRejected
	pairing.Code = nil
	pairing.RespondedAt = &now
	s.pairings[id] = pairing
	return nil
}

// SoftDelete tombstones an active pairing.
func (s *InMemoryStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairing, ok := s.pairings[id]
	if !ok || pairing.DeletedAt != nil {
		return ErrNotFound
	}

	now := time.Now().UTC()
	pairing.DeletedAt = &now
	s.pairings[id] = pairing
	return nil
}

// Restore clears a tombstone.
func (s *InMemoryStore) Restore(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairing, ok := s.pairings[id]
	if !ok || pairing.DeletedAt == nil {
		return ErrNotFound
	}

	pairing.DeletedAt = nil
	s.pairings[id] = pairing
	return nil
}

// SoftDeleteForAccount tombstones every active pairing touching the account.
func (s *InMemoryStore) SoftDeleteForAccount(_ context.Context, accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var count int64
	for id, pairing := range s.pairings {
		if pairing.DeletedAt != nil || !pairing.Involves(accountID) {
			continue
		}
		pairing.DeletedAt = &now
		s.pairings[id] = pairing
		count++
	}
	return count, nil
}

// CountAccepted counts the account's active accepted pairings.
func (s *InMemoryStore) CountAccepted(_ context.Context, accountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, pairing := range s.pairings {
		if pairing.Status == models.PairingStatusAccepted && pairing.DeletedAt == nil && pairing.Involves(accountID) {
			count++
		}
	}
	return count, nil
}

// HasPendingRequest reports whether the account holds an unused pending code.
func (s *InMemoryStore) HasPendingRequest(_ context.Context, requesterID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pairing := range s.pairings {
		if pairing.RequesterID == requesterID && pairing.Status == models.PairingStatusPending &&
			pairing.Code != nil && pairing.DeletedAt == nil {
			return true, nil
		}
	}
	return false, nil
}

// HasActiveBetween reports whether the two accounts share a non-deleted
// accepted pairing.
func (s *InMemoryStore) HasActiveBetween(_ context.Context, a, b string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pairing := range s.pairings {
		if pairing.Status == models.PairingStatusAccepted && pairing.DeletedAt == nil &&
			pairing.Involves(a) && pairing.Involves(b) {
			return true, nil
		}
	}
	return false, nil
}

// ListForAccount returns the account's pairings.
func (s *InMemoryStore) ListForAccount(_ context.Context, accountID string, includeDeleted bool) ([]models.Pairing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Pairing
	for _, pairing := range s.pairings {
		if !pairing.Involves(accountID) {
			continue
		}
		if pairing.DeletedAt != nil && !includeDeleted {
			continue
		}
		out = append(out, pairing)
	}
	return out, nil
}

var _ Store = (*InMemoryStore)(nil)
