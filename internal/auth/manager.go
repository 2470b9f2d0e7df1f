package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/duetapp/backend/internal/logging"
	"github.com/duetapp/backend/internal/models"
	"github.com/duetapp/backend/internal/tasks"
)

var (
	// ErrSessionNotFound indicates the provided refresh token does not map
	// to an active session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRefreshTokenExpired indicates the refresh token has expired and
	// cannot be used.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
)

// Session represents a refresh credential issued to an account. At most one
// active session is expected per account after login; issuing supersedes
// prior rows.
type Session struct {
	ID        string
	AccountID string
	Token     string
	ExpiresAt time.Time
}

// SessionStore persists issued refresh credentials.
type SessionStore interface {
	Save(ctx context.Context, session Session) error
	Find(ctx context.Context, refreshToken string) (Session, error)
	Delete(ctx context.Context, refreshToken string) error
	// DeleteForAccount removes every session for the account and reports
	// how many rows were affected.
	DeleteForAccount(ctx context.Context, accountID string) (int64, error)
	// Extend pushes the expiry of the account's sessions to the provided
	// horizon.
	Extend(ctx context.Context, accountID string, until time.Time) error
}

// AccountFinder resolves accounts when a refresh token is exchanged.
type AccountFinder interface {
	FindByID(ctx context.Context, id string) (models.Account, error)
}

// Manager drives the session token lifecycle: issuance, single-use refresh
// rotation, sliding expiry extension, and revocation cascades.
type Manager struct {
	signer     *TokenSigner
	accessTTL  time.Duration
	refreshTTL time.Duration

	store    SessionStore
	accounts AccountFinder
	runner   tasks.Submitter

	now func() time.Time
}

// NewManager constructs a Manager that issues access and refresh tokens
// with the provided TTLs. The runner may be nil, in which case sliding
// extension runs synchronously.
func NewManager(signer *TokenSigner, accessTTL, refreshTTL time.Duration, store SessionStore, accounts AccountFinder, runner tasks.Submitter) *Manager {
	if signer == nil {
		panic("auth: token signer must not be nil")
	}
	if store == nil {
		panic("auth: session store must not be nil")
	}
	return &Manager{
		signer:     signer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		store:      store,
		accounts:   accounts,
		runner:     runner,
		now:        time.Now,
	}
}

// Issue creates a new access/refresh pair for the account, superseding any
// refresh credential previously issued to it.
func (m *Manager) Issue(ctx context.Context, account models.Account) (models.SessionTokens, error) {
	if account.ID == "" {
		return models.SessionTokens{}, errors.New("account id must be provided")
	}

	now := m.now().UTC()

	accessToken, err := m.signer.Sign(account.ID, account.Email, m.accessTTL)
	if err != nil {
		return models.SessionTokens{}, err
	}

	refreshToken, err := randomToken()
	if err != nil {
		return models.SessionTokens{}, err
	}

	tokens := models.SessionTokens{
		AccessToken:      accessToken,
		AccessExpiresAt:  now.Add(m.accessTTL),
		RefreshToken:     refreshToken,
		RefreshExpiresAt: now.Add(m.refreshTTL),
	}

	if _, err := m.store.DeleteForAccount(ctx, account.ID); err != nil {
		return models.SessionTokens{}, fmt.Errorf("supersede sessions: %w", err)
	}

	if err := m.store.Save(ctx, Session{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Token:     refreshToken,
		ExpiresAt: tokens.RefreshExpiresAt,
	}); err != nil {
		return models.SessionTokens{}, err
	}

	return tokens, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// single-use: it is invalidated whether or not a new pair is issued.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (models.SessionTokens, error) {
	if refreshToken == "" {
		return models.SessionTokens{}, ErrSessionNotFound
	}

	session, err := m.store.Find(ctx, refreshToken)
	if err != nil {
		return models.SessionTokens{}, err
	}

	if m.now().UTC().After(session.ExpiresAt) {
		_ = m.store.Delete(ctx, refreshToken)
		return models.SessionTokens{}, ErrRefreshTokenExpired
	}

	if err := m.store.Delete(ctx, refreshToken); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return models.SessionTokens{}, err
	}

	account, err := m.accounts.FindByID(ctx, session.AccountID)
	if err != nil {
		return models.SessionTokens{}, ErrSessionNotFound
	}

	return m.Issue(ctx, account)
}

// Logout removes the session for the provided refresh token. Idempotent:
// unknown tokens are not an error.
func (m *Manager) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := m.store.Delete(ctx, refreshToken); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return nil
}

// ExtendOnActivity pushes the account's refresh expiry forward to a fixed
// horizon from now. Best-effort and asynchronous: failures are logged and
// never block or fail the request that triggered the extension.
func (m *Manager) ExtendOnActivity(ctx context.Context, accountID string) {
	logger := logging.FromContext(ctx)
	until := m.now().UTC().Add(m.refreshTTL)

	extend := func(taskCtx context.Context) {
		taskCtx, cancel := context.WithTimeout(taskCtx, 5*time.Second)
		defer cancel()
		if err := m.store.Extend(taskCtx, accountID, until); err != nil {
			logger.Warn("extend session expiry", "accountId", accountID, "error", err)
		}
	}

	if m.runner == nil {
		extend(context.Background())
		return
	}
	if err := m.runner.Submit(ctx, "session-extend", extend); err != nil {
		logger.Warn("schedule session extension", "accountId", accountID, "error", err)
	}
}

// RevokeForAccount deletes every refresh credential for a tombstoned
// account and reports the affected row count.
func (m *Manager) RevokeForAccount(ctx context.Context, accountID string) (int64, error) {
	return m.store.DeleteForAccount(ctx, accountID)
}

// VerifyAccess validates a bearer access token and returns its claims.
func (m *Manager) VerifyAccess(tokenString string) (Claims, error) {
	return m.signer.Verify(tokenString)
}

func randomToken() (string, error) {
	const size = 32
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
