package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/duetapp/backend/internal/db"
	"github.com/duetapp/backend/internal/models"
)

// PostgresAccountRepository provides PostgreSQL-backed persistence for
// accounts. Accounts are soft-deleted; reads exclude tombstoned rows.
type PostgresAccountRepository struct {
	pool db.Pool
}

// NewPostgresAccountRepository constructs an account repository backed by
// PostgreSQL.
func NewPostgresAccountRepository(pool db.Pool) *PostgresAccountRepository {
	return &PostgresAccountRepository{pool: pool}
}

// Create persists a new account record.
func (r *PostgresAccountRepository) Create(ctx context.Context, account models.Account) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO accounts (id, email, password_hash, display_name, max_pairings, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, account.ID, account.Email, account.PasswordHash, account.DisplayName, account.MaxPairings, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

const accountColumns = `id, email, password_hash, display_name, max_pairings, created_at, updated_at, deleted_at`

// FindByEmail fetches a live account by email address.
func (r *PostgresAccountRepository) FindByEmail(ctx context.Context, email string) (models.Account, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Account{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT `+accountColumns+`
        FROM accounts
        WHERE email = $1 AND deleted_at IS NULL
    `, email)

	return scanAccount(row, "select account by email")
}

// FindByID fetches a live account by id.
func (r *PostgresAccountRepository) FindByID(ctx context.Context, id string) (models.Account, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Account{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT `+accountColumns+`
        FROM accounts
        WHERE id = $1 AND deleted_at IS NULL
    `, id)

	return scanAccount(row, "select account by id")
}

// Update applies a partial profile update and returns the updated account.
// Nil fields are left unchanged.
func (r *PostgresAccountRepository) Update(ctx context.Context, id string, update models.AccountUpdate) (models.Account, error) {
	set := map[string]interface{}{"updated_at": time.Now().UTC()}
	if update.Email != nil {
		set["email"] = *update.Email
	}
	if update.DisplayName != nil {
		set["display_name"] = *update.DisplayName
	}
	if update.PasswordHash != nil {
		set["password_hash"] = *update.PasswordHash
	}

	query, args, err := sq.Update("accounts").
		SetMap(set).
		Where(sq.Eq{"id": id, "deleted_at": nil}).
		Suffix("RETURNING " + accountColumns).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return models.Account{}, fmt.Errorf("build account update: %w", err)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Account{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return scanAccount(conn.QueryRow(ctx, query, args...), "update account")
}

// SoftDelete tombstones a live account.
func (r *PostgresAccountRepository) SoftDelete(ctx context.Context, id string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE accounts
        SET deleted_at = now(), updated_at = now()
        WHERE id = $1 AND deleted_at IS NULL
    `, id)
	if err != nil {
		return fmt.Errorf("soft delete account: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner, op string) (models.Account, error) {
	var account models.Account
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.DisplayName,
		&account.MaxPairings,
		&account.CreatedAt,
		&account.UpdatedAt,
		&account.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Account{}, ErrConflict
		}
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return account, nil
}
