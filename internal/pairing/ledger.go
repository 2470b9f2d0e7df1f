package pairing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duetapp/backend/internal/logging"
	"github.com/duetapp/backend/internal/models"
)

var (
	// ErrQuotaExceeded indicates the account already holds its maximum
	// number of accepted pairings.
	ErrQuotaExceeded = errors.New("pairing quota exceeded")
	// ErrDuplicatePending indicates the account already has a pending
	// request with an unused code.
	ErrDuplicatePending = errors.New("pending pairing request already exists")
	// ErrCodeExhausted indicates code generation collided on every attempt.
	ErrCodeExhausted = errors.New("could not generate a unique partner code")
	// ErrCodeTaken is returned by stores when a partner code is already in
	// use; the ledger retries with a fresh code.
	ErrCodeTaken = errors.New("partner code already in use")
	// ErrNotFound covers missing pairings, unknown codes, and soft-delete
	// toggles that find nothing to change.
	ErrNotFound = errors.New("pairing not found")
	// ErrSelfPairing indicates an account tried to accept its own code.
	ErrSelfPairing = errors.New("cannot accept own pairing code")
	// ErrAlreadyPaired indicates the two accounts already share an active
	// pairing.
	ErrAlreadyPaired = errors.New("accounts are already paired")
	// ErrAlreadyProcessed indicates the pairing left the pending state.
	ErrAlreadyProcessed = errors.New("pairing already processed")
	// ErrForbidden indicates the actor is neither requester nor partner.
	ErrForbidden = errors.New("not a party to this pairing")
)

// Store defines persistence for pairings. AcceptPending and MarkRejected
// are conditional updates: they succeed for at most one caller when raced.
type Store interface {
	Create(ctx context.Context, pairing models.Pairing) error
	GetByID(ctx context.Context, id string, includeDeleted bool) (models.Pairing, error)
	GetPendingByCode(ctx context.Context, code string) (models.Pairing, error)
	// AcceptPending binds the partner, clears the code, and flips status to
	// accepted, conditional on the row still being pending with an unused
	// code. Returns ErrNotFound when the condition no longer holds.
	AcceptPending(ctx context.Context, id, partnerID string) (models.Pairing, error)
	// MarkRejected flips a pending pairing to rejected. Returns ErrNotFound
	// when the row is no longer pending.
	MarkRejected(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) error
	SoftDeleteForAccount(ctx context.Context, accountID string) (int64, error)
	CountAccepted(ctx context.Context, accountID string) (int, error)
	HasPendingRequest(ctx context.Context, requesterID string) (bool, error)
	HasActiveBetween(ctx context.Context, a, b string) (bool, error)
	ListForAccount(ctx context.Context, accountID string, includeDeleted bool) ([]models.Pairing, error)
}

// Ledger drives the pairing lifecycle: one-time partner codes, acceptance,
// rejection, and cascade soft deletes.
type Ledger struct {
	store Store

	codeAttempts int
	newCode      func() (string, error)
	now          func() time.Time
}

// NewLedger constructs a Ledger over the provided store.
func NewLedger(store Store) *Ledger {
	if store == nil {
		panic("pairing: store must not be nil")
	}
	return &Ledger{
		store:        store,
		codeAttempts: 5,
		newCode:      NewCode,
		now:          time.Now,
	}
}

// Request creates a pending pairing with a fresh one-time code for the
// requester. The account's accepted pairings must be under its cap and it
// must not already hold a pending request.
func (l *Ledger) Request(ctx context.Context, requester models.Account) (models.Pairing, error) {
	accepted, err := l.store.CountAccepted(ctx, requester.ID)
	if err != nil {
		return models.Pairing{}, fmt.Errorf("count accepted pairings: %w", err)
	}
	if accepted >= requester.MaxPairings {
		return models.Pairing{}, ErrQuotaExceeded
	}

	pending, err := l.store.HasPendingRequest(ctx, requester.ID)
	if err != nil {
		return models.Pairing{}, fmt.Errorf("check pending request: %w", err)
	}
	if pending {
		return models.Pairing{}, ErrDuplicatePending
	}

	for attempt := 0; attempt < l.codeAttempts; attempt++ {
		code, err := l.newCode()
		if err != nil {
			return models.Pairing{}, fmt.Errorf("generate partner code: %w", err)
		}

		pairing := models.Pairing{
			ID:          uuid.NewString(),
			RequesterID: requester.ID,
			Code:        &code,
			Status:      models.PairingStatusPending,
			CreatedAt:   l.now().UTC(),
		}

		switch err := l.store.Create(ctx, pairing); {
		case err == nil:
			return pairing, nil
		case errors.Is(err, ErrCodeTaken):
			continue
		default:
			return models.Pairing{}, fmt.Errorf("create pairing: %w", err)
		}
	}

	return models.Pairing{}, ErrCodeExhausted
}

// AcceptByCode redeems a one-time partner code for the accepting account.
// Two concurrent acceptances of the same code resolve to exactly one winner;
// the loser observes ErrNotFound because the conditional update found no
// pending row.
func (l *Ledger) AcceptByCode(ctx context.Context, acceptor models.Account, code string) (models.Pairing, error) {
	pairing, err := l.store.GetPendingByCode(ctx, code)
	if err != nil {
		return models.Pairing{}, err
	}

	if pairing.RequesterID == acceptor.ID {
		return models.Pairing{}, ErrSelfPairing
	}

	accepted, err := l.store.CountAccepted(ctx, acceptor.ID)
	if err != nil {
		return models.Pairing{}, fmt.Errorf("count accepted pairings: %w", err)
	}
	if accepted >= acceptor.MaxPairings {
		return models.Pairing{}, ErrQuotaExceeded
	}

	alreadyPaired, err := l.store.HasActiveBetween(ctx, pairing.RequesterID, acceptor.ID)
	if err != nil {
		return models.Pairing{}, fmt.Errorf("check existing pairing: %w", err)
	}
	if alreadyPaired {
		return models.Pairing{}, ErrAlreadyPaired
	}

	return l.store.AcceptPending(ctx, pairing.ID, acceptor.ID)
}

// Reject marks a pending pairing as rejected. Only the requester or the
// bound partner may reject.
func (l *Ledger) Reject(ctx context.Context, actorID, pairingID string) error {
	pairing, err := l.store.GetByID(ctx, pairingID, false)
	if err != nil {
		return err
	}

	if !pairing.Involves(actorID) {
		return ErrForbidden
	}
	if pairing.Status != models.PairingStatusPending {
		return ErrAlreadyProcessed
	}

	if err := l.store.MarkRejected(ctx, pairingID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrAlreadyProcessed
		}
		return err
	}
	return nil
}

// SoftDelete tombstones a pairing. Deleting an already-deleted or unknown
// pairing returns ErrNotFound.
func (l *Ledger) SoftDelete(ctx context.Context, actorID, pairingID string) error {
	pairing, err := l.store.GetByID(ctx, pairingID, false)
	if err != nil {
		return err
	}
	if !pairing.Involves(actorID) {
		return ErrForbidden
	}
	return l.store.SoftDelete(ctx, pairingID)
}

// Restore clears a pairing's tombstone.
func (l *Ledger) Restore(ctx context.Context, actorID, pairingID string) error {
	pairing, err := l.store.GetByID(ctx, pairingID, true)
	if err != nil {
		return err
	}
	if !pairing.Involves(actorID) {
		return ErrForbidden
	}
	return l.store.Restore(ctx, pairingID)
}

// CascadeSoftDeleteForAccount tombstones every active pairing touching the
// account. Best-effort: the caller (account deletion) must not fail when
// this partially fails, but gets the affected count for reporting.
func (l *Ledger) CascadeSoftDeleteForAccount(ctx context.Context, accountID string) (int64, error) {
	count, err := l.store.SoftDeleteForAccount(ctx, accountID)
	if err != nil {
		logging.FromContext(ctx).Warn("cascade pairing soft delete", "accountId", accountID, "error", err)
		return count, err
	}
	return count, nil
}

// ListForAccount returns the account's pairings, excluding tombstoned rows
// unless includeDeleted is set.
func (l *Ledger) ListForAccount(ctx context.Context, accountID string, includeDeleted bool) ([]models.Pairing, error) {
	return l.store.ListForAccount(ctx, accountID, includeDeleted)
}

// GetActive returns a non-deleted pairing by id.
func (l *Ledger) GetActive(ctx context.Context, pairingID string) (models.Pairing, error) {
	return l.store.GetByID(ctx, pairingID, false)
}
