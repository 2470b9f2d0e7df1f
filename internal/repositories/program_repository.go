package repositories

import (
	"context"
	"errors"
	"fmt"

	crdbpgx "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"

	"github.com/duetapp/backend/internal/db"
	"github.com/duetapp/backend/internal/models"
	"github.com/duetapp/backend/internal/program"
)

// PostgresProgramRepository provides PostgreSQL-backed persistence for
// programs, steps, and first-touch contributions.
type PostgresProgramRepository struct {
	pool db.Pool
}

// NewPostgresProgramRepository constructs a program repository backed by
// PostgreSQL.
func NewPostgresProgramRepository(pool db.Pool) *PostgresProgramRepository {
	return &PostgresProgramRepository{pool: pool}
}

var _ program.Store = (*PostgresProgramRepository)(nil)

// CreateProgramWithSteps inserts the program and its steps in one retryable
// transaction so a partially created program is never visible.
func (r *PostgresProgramRepository) CreateProgramWithSteps(ctx context.Context, prog models.Program, steps []models.Step) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	err = crdbpgx.ExecuteTx(ctx, conn, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
            INSERT INTO programs (id, owner_id, pairing_id, seed_text, previous_program_id, created_at)
            VALUES ($1, $2, $3, $4, $5, $6)
        `, prog.ID, prog.OwnerID, prog.PairingID, prog.SeedText, prog.PreviousProgramID, prog.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert program: %w", err)
		}

		for _, step := range steps {
			_, err := tx.Exec(ctx, `
                INSERT INTO steps (id, program_id, day, prompt, started, created_at)
                VALUES ($1, $2, $3, $4, false, $5)
            `, step.ID, step.ProgramID, step.Day, step.Prompt, step.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert step %d: %w", step.Day, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create program transaction: %w", err)
	}

	return nil
}

func (r *PostgresProgramRepository) GetProgram(ctx context.Context, id string) (models.Program, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Program{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, owner_id, pairing_id, seed_text, previous_program_id, created_at, deleted_at
        FROM programs
        WHERE id = $1 AND deleted_at IS NULL
    `, id)

	var prog models.Program
	err = row.Scan(&prog.ID, &prog.OwnerID, &prog.PairingID, &prog.SeedText, &prog.PreviousProgramID, &prog.CreatedAt, &prog.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Program{}, program.ErrNotFound
		}
		return models.Program{}, fmt.Errorf("select program: %w", err)
	}
	return prog, nil
}

func (r *PostgresProgramRepository) SoftDeleteProgram(ctx context.Context, id string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE programs SET deleted_at = now()
        WHERE id = $1 AND deleted_at IS NULL
    `, id)
	if err != nil {
		return fmt.Errorf("soft delete program: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return program.ErrNotFound
	}
	return nil
}

func (r *PostgresProgramRepository) ListSteps(ctx context.Context, programID string) ([]models.Step, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, program_id, day, prompt, started, created_at
        FROM steps
        WHERE program_id = $1
        ORDER BY day
    `, programID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []models.Step
	for rows.Next() {
		var step models.Step
		if err := rows.Scan(&step.ID, &step.ProgramID, &step.Day, &step.Prompt, &step.Started, &step.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}

	return steps, nil
}

func (r *PostgresProgramRepository) GetStep(ctx context.Context, stepID string) (models.Step, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Step{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, program_id, day, prompt, started, created_at
        FROM steps
        WHERE id = $1
    `, stepID)

	var step models.Step
	if err := row.Scan(&step.ID, &step.ProgramID, &step.Day, &step.Prompt, &step.Started, &step.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Step{}, program.ErrNotFound
		}
		return models.Step{}, fmt.Errorf("select step: %w", err)
	}
	return step, nil
}

// InsertContribution records the first touch. The primary key on
// (step_id, account_id) plus ON CONFLICT DO NOTHING makes retries and
// duplicates report inserted=false without erroring.
func (r *PostgresProgramRepository) InsertContribution(ctx context.Context, stepID, accountID string) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        INSERT INTO contributions (step_id, account_id, contributed_at)
        VALUES ($1, $2, now())
        ON CONFLICT (step_id, account_id) DO NOTHING
    `, stepID, accountID)
	if err != nil {
		return false, fmt.Errorf("insert contribution: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *PostgresProgramRepository) HasContribution(ctx context.Context, stepID, accountID string) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var exists bool
	err = conn.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM contributions WHERE step_id = $1 AND account_id = $2
        )
    `, stepID, accountID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check contribution: %w", err)
	}
	return exists, nil
}

// MarkStepStarted flips started exactly once; the WHERE clause makes
// repeated calls no-ops.
func (r *PostgresProgramRepository) MarkStepStarted(ctx context.Context, stepID string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        UPDATE steps SET started = true
        WHERE id = $1 AND started = false
    `, stepID)
	if err != nil {
		return fmt.Errorf("mark step started: %w", err)
	}
	return nil
}

func (r *PostgresProgramRepository) CountStartedSteps(ctx context.Context, programID string) (int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var count int
	err = conn.QueryRow(ctx, `
        SELECT count(*) FROM steps
        WHERE program_id = $1 AND started = true
    `, programID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count started steps: %w", err)
	}
	return count, nil
}
