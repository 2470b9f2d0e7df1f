package handlers

import (
	"context"
	"time"

	"github.com/duetapp/backend/internal/models"
)

// AccountStore captures the persistence operations required by the account
// and auth handlers.
type AccountStore interface {
	Create(ctx context.Context, account models.Account) error
	FindByEmail(ctx context.Context, email string) (models.Account, error)
	FindByID(ctx context.Context, id string) (models.Account, error)
	Update(ctx context.Context, id string, update models.AccountUpdate) (models.Account, error)
	SoftDelete(ctx context.Context, id string) error
}

// SessionManager drives the token lifecycle for authenticated accounts.
type SessionManager interface {
	Issue(ctx context.Context, account models.Account) (models.SessionTokens, error)
	Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error)
	Logout(ctx context.Context, refreshToken string) error
	RevokeForAccount(ctx context.Context, accountID string) (int64, error)
}

// PairingService drives the pairing lifecycle on behalf of the handlers.
type PairingService interface {
	Request(ctx context.Context, requester models.Account) (models.Pairing, error)
	AcceptByCode(ctx context.Context, acceptor models.Account, code string) (models.Pairing, error)
	Reject(ctx context.Context, actorID, pairingID string) error
	SoftDelete(ctx context.Context, actorID, pairingID string) error
	Restore(ctx context.Context, actorID, pairingID string) error
	CascadeSoftDeleteForAccount(ctx context.Context, accountID string) (int64, error)
	ListForAccount(ctx context.Context, accountID string, includeDeleted bool) ([]models.Pairing, error)
}

// ProgramService drives program creation, reads, and the unlock gate.
type ProgramService interface {
	Create(ctx context.Context, owner models.Account, pairingID *string, seed string) (models.Program, []models.Step, error)
	CreateNext(ctx context.Context, owner models.Account, previousID, seed string) (models.Program, []models.Step, error)
	Get(ctx context.Context, actorID, programID string) (models.Program, []models.Step, error)
	SoftDelete(ctx context.Context, actorID, programID string) error
	ComputeUnlockStatus(ctx context.Context, programID string, requiredStepCount int) (bool, error)
}

// MessageService stores step messages and coordinates crossover generation.
type MessageService interface {
	HandleUserMessage(ctx context.Context, actorID, stepID, body string) (models.Message, error)
	ListMessages(ctx context.Context, actorID, stepID string) ([]models.Message, error)
}

// LoginGuard tracks failed logins and lockout state per identifier.
type LoginGuard interface {
	RecordFailure(identifier string) bool
	IsLocked(identifier string) (bool, time.Duration)
	ClearFailures(identifier string)
}

// TranscriptArchiver schedules transcript exports for unlocked programs.
type TranscriptArchiver interface {
	ExportAsync(ctx context.Context, programID string)
}
