package repositories

import (
	"context"
	"fmt"

	crdbpgx "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"

	"github.com/duetapp/backend/internal/db"
	"github.com/duetapp/backend/internal/models"
	"github.com/duetapp/backend/internal/trigger"
)

// PostgresMessageRepository provides PostgreSQL-backed persistence for step
// messages. Metadata is stored as JSONB; pgx maps it to MessageMetadata
// through the standard JSON codec.
type PostgresMessageRepository struct {
	pool db.Pool
}

// NewPostgresMessageRepository constructs a message repository backed by
// PostgreSQL.
func NewPostgresMessageRepository(pool db.Pool) *PostgresMessageRepository {
	return &PostgresMessageRepository{pool: pool}
}

var _ trigger.MessageStore = (*PostgresMessageRepository)(nil)

func (r *PostgresMessageRepository) InsertUserMessage(ctx context.Context, msg models.Message) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO messages (id, step_id, sender_id, type, body, metadata, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, msg.ID, msg.StepID, msg.SenderID, msg.Type, msg.Body, msg.Metadata, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return nil
}

// InsertSystemBatch writes a generation batch in one retryable transaction
// so readers never observe a partial batch.
func (r *PostgresMessageRepository) InsertSystemBatch(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	err = crdbpgx.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, msg := range msgs {
			_, err := tx.Exec(ctx, `
                INSERT INTO messages (id, step_id, sender_id, type, body, metadata, created_at)
                VALUES ($1, $2, $3, $4, $5, $6, $7)
            `, msg.ID, msg.StepID, msg.SenderID, msg.Type, msg.Body, msg.Metadata, msg.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert system message: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("system batch transaction: %w", err)
	}

	return nil
}

// ListForStep returns a step's messages in send order, with generation
// batches ordered by their sequence.
func (r *PostgresMessageRepository) ListForStep(ctx context.Context, stepID string) ([]models.Message, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, step_id, sender_id, type, body, metadata, created_at
        FROM messages
        WHERE step_id = $1
        ORDER BY created_at, COALESCE((metadata->>'sequence')::int, 0)
    `, stepID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.StepID, &msg.SenderID, &msg.Type, &msg.Body, &msg.Metadata, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return msgs, nil
}

func (r *PostgresMessageRepository) HasGeneratedForStep(ctx context.Context, stepID string) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var exists bool
	err = conn.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM messages
            WHERE step_id = $1 AND type = 'system' AND metadata->>'type' = 'generated_response'
        )
    `, stepID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check generated messages: %w", err)
	}
	return exists, nil
}
