package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/duetapp/backend/internal/auth"
	"github.com/duetapp/backend/internal/db"
)

// PostgresSessionStore persists refresh credentials to PostgreSQL.
type PostgresSessionStore struct {
	pool db.Pool
}

// NewPostgresSessionStore constructs a session store backed by PostgreSQL.
func NewPostgresSessionStore(pool db.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

var _ auth.SessionStore = (*PostgresSessionStore)(nil)

// Save stores a session record.
func (s *PostgresSessionStore) Save(ctx context.Context, session auth.Session) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO sessions (id, account_id, refresh_token, expires_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (refresh_token)
        DO UPDATE SET account_id = EXCLUDED.account_id, expires_at = EXCLUDED.expires_at
    `, session.ID, session.AccountID, session.Token, session.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	return nil
}

// Find loads a session by its refresh token.
func (s *PostgresSessionStore) Find(ctx context.Context, refreshToken string) (auth.Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return auth.Session{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, account_id, refresh_token, expires_at
        FROM sessions
        WHERE refresh_token = $1
    `, refreshToken)

	var session auth.Session
	var expiresAt time.Time
	if err := row.Scan(&session.ID, &session.AccountID, &session.Token, &expiresAt); err != nil {
		if err == pgx.ErrNoRows {
			return auth.Session{}, auth.ErrSessionNotFound
		}
		return auth.Session{}, fmt.Errorf("select session: %w", err)
	}

	session.ExpiresAt = expiresAt.UTC()
	return session, nil
}

// Delete removes a session by its refresh token.
func (s *PostgresSessionStore) Delete(ctx context.Context, refreshToken string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM sessions
        WHERE refresh_token = $1
    `, refreshToken)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return auth.ErrSessionNotFound
	}

	return nil
}

// DeleteForAccount removes every session held by the account and reports the
// affected row count.
func (s *PostgresSessionStore) DeleteForAccount(ctx context.Context, accountID string) (int64, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM sessions
        WHERE account_id = $1
    `, accountID)
	if err != nil {
		return 0, fmt.Errorf("delete account sessions: %w", err)
	}

	return tag.RowsAffected(), nil
}

// Extend pushes session expiry forward; it never shortens a session.
func (s *PostgresSessionStore) Extend(ctx context.Context, accountID string, until time.Time) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        UPDATE sessions
        SET expires_at = $2
        WHERE account_id = $1 AND expires_at < $2
    `, accountID, until.UTC())
	if err != nil {
		return fmt.Errorf("extend sessions: %w", err)
	}

	return nil
}
