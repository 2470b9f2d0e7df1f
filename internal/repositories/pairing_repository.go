package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/duetapp/backend/internal/db"
	"github.com/duetapp/backend/internal/models"
	"github.com/duetapp/backend/internal/pairing"
)

// PostgresPairingRepository provides PostgreSQL-backed persistence for
// pairings. Acceptance and rejection are single conditional UPDATEs so
// racing callers resolve to exactly one winner at the database.
type PostgresPairingRepository struct {
	pool db.Pool
}

// NewPostgresPairingRepository constructs a pairing repository backed by
// PostgreSQL.
func NewPostgresPairingRepository(pool db.Pool) *PostgresPairingRepository {
	return &PostgresPairingRepository{pool: pool}
}

var _ pairing.Store = (*PostgresPairingRepository)(nil)

const pairingColumns = `id, requester_id, partner_id, code, status, created_at, responded_at, deleted_at`

// Create persists a pending pairing. A unique index on live codes maps
// collisions to pairing.ErrCodeTaken so the ledger can retry.
func (r *PostgresPairingRepository) Create(ctx context.Context, p models.Pairing) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO pairings (id, requester_id, partner_id, code, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, p.ID, p.RequesterID, p.PartnerID, p.Code, p.Status, p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return pairing.ErrCodeTaken
		}
		return fmt.Errorf("insert pairing: %w", err)
	}

	return nil
}

func (r *PostgresPairingRepository) GetByID(ctx context.Context, id string, includeDeleted bool) (models.Pairing, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Pairing{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	query := `SELECT ` + pairingColumns + ` FROM pairings WHERE id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}

	return scanPairing(conn.QueryRow(ctx, query, id), "select pairing by id")
}

func (r *PostgresPairingRepository) GetPendingByCode(ctx context.Context, code string) (models.Pairing, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Pairing{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT `+pairingColumns+`
        FROM pairings
        WHERE code = $1 AND status = 'pending' AND deleted_at IS NULL
    `, code)

	return scanPairing(row, "select pairing by code")
}

// AcceptPending binds the partner, clears the one-time code, and flips the
// status, all conditional on the row still being pending. Losers of a race
// observe pairing.ErrNotFound.
func (r *PostgresPairingRepository) AcceptPending(ctx context.Context, id, partnerID string) (models.Pairing, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Pairing{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        UPDATE pairings
        SET partner_id = $2,
            code = NULL,
            status = 'accepted',
            responded_at = now()
        WHERE id = $1
          AND status = 'pending'
          AND code IS NOT NULL
          AND deleted_at IS NULL
        RETURNING `+pairingColumns+`
    `, id, partnerID)

	return scanPairing(row, "accept pairing")
}

// MarkRejected flips a pending pairing to rejected.
func (r *PostgresPairingRepository) MarkRejected(ctx context.Context, id string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE pairings
        SET status = 'rejected', code = NULL, responded_at = now()
        WHERE id = $1 AND status = 'pending' AND deleted_at IS NULL
    `, id)
	if err != nil {
		return fmt.Errorf("reject pairing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pairing.ErrNotFound
	}
	return nil
}

func (r *PostgresPairingRepository) SoftDelete(ctx context.Context, id string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE pairings SET deleted_at = now()
        WHERE id = $1 AND deleted_at IS NULL
    `, id)
	if err != nil {
		return fmt.Errorf("soft delete pairing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pairing.ErrNotFound
	}
	return nil
}

func (r *PostgresPairingRepository) Restore(ctx context.Context, id string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE pairings SET deleted_at = NULL
        WHERE id = $1 AND deleted_at IS NOT NULL
    `, id)
	if err != nil {
		return fmt.Errorf("restore pairing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pairing.ErrNotFound
	}
	return nil
}

// SoftDeleteForAccount tombstones every live pairing the account is a party
// to and reports the affected row count.
func (r *PostgresPairingRepository) SoftDeleteForAccount(ctx context.Context, accountID string) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE pairings SET deleted_at = now()
        WHERE (requester_id = $1 OR partner_id = $1) AND deleted_at IS NULL
    `, accountID)
	if err != nil {
		return 0, fmt.Errorf("cascade soft delete pairings: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresPairingRepository) CountAccepted(ctx context.Context, accountID string) (int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var count int
	err = conn.QueryRow(ctx, `
        SELECT count(*) FROM pairings
        WHERE (requester_id = $1 OR partner_id = $1)
          AND status = 'accepted' AND deleted_at IS NULL
    `, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count accepted pairings: %w", err)
	}
	return count, nil
}

func (r *PostgresPairingRepository) HasPendingRequest(ctx context.Context, requesterID string) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var exists bool
	err = conn.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM pairings
            WHERE requester_id = $1 AND status = 'pending' AND deleted_at IS NULL
        )
    `, requesterID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending pairing: %w", err)
	}
	return exists, nil
}

func (r *PostgresPairingRepository) HasActiveBetween(ctx context.Context, a, b string) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var exists bool
	err = conn.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM pairings
            WHERE status = 'accepted' AND deleted_at IS NULL
              AND ((requester_id = $1 AND partner_id = $2)
                OR (requester_id = $2 AND partner_id = $1))
        )
    `, a, b).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active pairing: %w", err)
	}
	return exists, nil
}

func (r *PostgresPairingRepository) ListForAccount(ctx context.Context, accountID string, includeDeleted bool) ([]models.Pairing, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	query := `
        SELECT ` + pairingColumns + `
        FROM pairings
        WHERE (requester_id = $1 OR partner_id = $1)`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := conn.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("query pairings: %w", err)
	}
	defer rows.Close()

	var pairings []models.Pairing
	for rows.Next() {
		p, err := scanPairing(rows, "scan pairing")
		if err != nil {
			return nil, err
		}
		pairings = append(pairings, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pairings: %w", err)
	}

	return pairings, nil
}

func scanPairing(row rowScanner, op string) (models.Pairing, error) {
	var p models.Pairing
	err := row.Scan(
		&p.ID,
		&p.RequesterID,
		&p.PartnerID,
		&p.Code,
		&p.Status,
		&p.CreatedAt,
		&p.RespondedAt,
		&p.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Pairing{}, pairing.ErrNotFound
		}
		return models.Pairing{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}
