package program

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/duetapp/backend/internal/generation"
	"github.com/duetapp/backend/internal/models"
	"github.com/duetapp/backend/internal/pairing"
)

var (
	// ErrNotFound covers missing or tombstoned programs and steps.
	ErrNotFound = errors.New("program not found")
	// ErrForbidden indicates the actor may not access the program.
	ErrForbidden = errors.New("not a participant of this program")
	// ErrLocked indicates the program has not started enough steps to
	// unlock creation of its successor.
	ErrLocked = errors.New("program is not yet unlocked")
	// ErrInvalidSeed indicates the seed text was empty after sanitization.
	ErrInvalidSeed = errors.New("seed text is required")
	// ErrInvalidPairing indicates the pairing bound at creation is missing,
	// tombstoned, not accepted, or does not involve the owner.
	ErrInvalidPairing = errors.New("pairing must be an accepted pairing of the owner")
)

// Store defines persistence for programs, steps, and contributions.
type Store interface {
	// CreateProgramWithSteps persists the program and its steps atomically.
	CreateProgramWithSteps(ctx context.Context, program models.Program, steps []models.Step) error
	GetProgram(ctx context.Context, id string) (models.Program, error)
	SoftDeleteProgram(ctx context.Context, id string) error
	ListSteps(ctx context.Context, programID string) ([]models.Step, error)
	GetStep(ctx context.Context, stepID string) (models.Step, error)
	// InsertContribution records the account's first touch on the step.
	// Duplicate inserts are no-ops; the bool reports whether this call
	// inserted the row.
	InsertContribution(ctx context.Context, stepID, accountID string) (bool, error)
	HasContribution(ctx context.Context, stepID, accountID string) (bool, error)
	// MarkStepStarted flips started false->true. No-op when already true.
	MarkStepStarted(ctx context.Context, stepID string) error
	CountStartedSteps(ctx context.Context, programID string) (int, error)
}

// PairingResolver resolves a program's pairing for access-control checks.
type PairingResolver interface {
	GetActive(ctx context.Context, pairingID string) (models.Pairing, error)
}

// Service manages program creation, the per-step contribution tracker, and
// the unlock gate for chained programs.
type Service struct {
	store     Store
	pairings  PairingResolver
	generator generation.Generator

	days        int
	unlockCount int
	now         func() time.Time
}

// NewService constructs a Service. days controls how many steps are
// generated per program; unlockCount is the number of started steps
// required before a successor program may be created.
func NewService(store Store, pairings PairingResolver, generator generation.Generator, days, unlockCount int) *Service {
	if days <= 0 {
		days = 7
	}
	if unlockCount <= 0 {
		unlockCount = days
	}
	return &Service{
		store:       store,
		pairings:    pairings,
		generator:   generator,
		days:        days,
		unlockCount: unlockCount,
		now:         time.Now,
	}
}

// Create generates a multi-day plan around the seed text and persists the
// program with one step per day. The generation call is synchronous here:
// the caller is creating the program and expects its steps in the response.
func (s *Service) Create(ctx context.Context, owner models.Account, pairingID *string, seed string) (models.Program, []models.Step, error) {
	if pairingID != nil {
		if err := s.validatePairing(ctx, owner.ID, *pairingID); err != nil {
			return models.Program{}, nil, err
		}
	}
	return s.create(ctx, owner, pairingID, seed, nil)
}

// validatePairing checks a caller-supplied pairing id before it is bound to
// a program: the pairing must exist, be accepted, not be tombstoned, and the
// owner must be a party to it. Without this check a stranger's pairing id
// would grant both its parties access through the access-control path.
func (s *Service) validatePairing(ctx context.Context, ownerID, pairingID string) error {
	p, err := s.pairings.GetActive(ctx, pairingID)
	if err != nil {
		if errors.Is(err, pairing.ErrNotFound) {
			return ErrInvalidPairing
		}
		return fmt.Errorf("resolve pairing: %w", err)
	}
	if p.Status != models.PairingStatusAccepted || !p.Involves(ownerID) {
		return ErrInvalidPairing
	}
	return nil
}

// CreateNext creates the successor of an unlocked program, linked through
// PreviousProgramID.
func (s *Service) CreateNext(ctx context.Context, owner models.Account, previousID, seed string) (models.Program, []models.Step, error) {
	previous, err := s.store.GetProgram(ctx, previousID)
	if err != nil {
		return models.Program{}, nil, err
	}
	if previous.OwnerID != owner.ID {
		return models.Program{}, nil, ErrForbidden
	}

	unlocked, err := s.ComputeUnlockStatus(ctx, previousID, s.unlockCount)
	if err != nil {
		return models.Program{}, nil, err
	}
	if !unlocked {
		return models.Program{}, nil, ErrLocked
	}

	return s.create(ctx, owner, previous.PairingID, seed, &previous.ID)
}

func (s *Service) create(ctx context.Context, owner models.Account, pairingID *string, seed string, previousID *string) (models.Program, []models.Step, error) {
	seed = generation.SanitizeInput(seed)
	if strings.TrimSpace(seed) == "" {
		return models.Program{}, nil, ErrInvalidSeed
	}

	prompts, err := s.generator.GenerateContent(ctx, generation.BuildPlanPrompt(seed, s.days))
	if err != nil {
		return models.Program{}, nil, err
	}
	if err := generation.ValidatePlan(prompts, s.days); err != nil {
		return models.Program{}, nil, err
	}

	now := s.now().UTC()
	program := models.Program{
		ID:                uuid.NewString(),
		OwnerID:           owner.ID,
		PairingID:         pairingID,
		SeedText:          seed,
		PreviousProgramID: previousID,
		CreatedAt:         now,
	}

	steps := make([]models.Step, 0, len(prompts))
	for i, prompt := range prompts {
		steps = append(steps, models.Step{
			ID:        uuid.NewString(),
			ProgramID: program.ID,
			Day:       i + 1,
			Prompt:    prompt,
			CreatedAt: now,
		})
	}

	if err := s.store.CreateProgramWithSteps(ctx, program, steps); err != nil {
		return models.Program{}, nil, fmt.Errorf("persist program: %w", err)
	}

	return program, steps, nil
}

// Get returns a program and its steps after checking the actor is the owner
// or the partner of the program's pairing.
func (s *Service) Get(ctx context.Context, actorID, programID string) (models.Program, []models.Step, error) {
	program, err := s.store.GetProgram(ctx, programID)
	if err != nil {
		return models.Program{}, nil, err
	}

	if err := s.authorize(ctx, actorID, program); err != nil {
		return models.Program{}, nil, err
	}

	steps, err := s.store.ListSteps(ctx, programID)
	if err != nil {
		return models.Program{}, nil, err
	}
	return program, steps, nil
}

// SoftDelete tombstones a program. Owner only.
func (s *Service) SoftDelete(ctx context.Context, actorID, programID string) error {
	program, err := s.store.GetProgram(ctx, programID)
	if err != nil {
		return err
	}
	if program.OwnerID != actorID {
		return ErrForbidden
	}
	return s.store.SoftDeleteProgram(ctx, programID)
}

// RecordFirstContribution records the account's first touch on the step and
// reports whether this call was the first. Retried requests re-report false
// and must never be mistaken for a second distinct contributor.
func (s *Service) RecordFirstContribution(ctx context.Context, stepID, accountID string) (bool, error) {
	return s.store.InsertContribution(ctx, stepID, accountID)
}

// HasContribution reports whether the account has touched the step.
func (s *Service) HasContribution(ctx context.Context, stepID, accountID string) (bool, error) {
	return s.store.HasContribution(ctx, stepID, accountID)
}

// MarkStepStarted flips the step's started flag. One-way: the flag never
// reverts, and repeated calls are no-ops.
func (s *Service) MarkStepStarted(ctx context.Context, stepID string) error {
	return s.store.MarkStepStarted(ctx, stepID)
}

// ComputeUnlockStatus reports whether enough steps have started to unlock
// creation of the chained next program.
func (s *Service) ComputeUnlockStatus(ctx context.Context, programID string, requiredStepCount int) (bool, error) {
	started, err := s.store.CountStartedSteps(ctx, programID)
	if err != nil {
		return false, err
	}
	return started >= requiredStepCount, nil
}

// GetStep returns a step by id.
func (s *Service) GetStep(ctx context.Context, stepID string) (models.Step, error) {
	return s.store.GetStep(ctx, stepID)
}

// GetProgram returns a non-deleted program by id.
func (s *Service) GetProgram(ctx context.Context, programID string) (models.Program, error) {
	return s.store.GetProgram(ctx, programID)
}

// Authorize checks the actor may interact with the program: the owner
// always may; otherwise the actor must be the other party of the program's
// accepted pairing.
func (s *Service) Authorize(ctx context.Context, actorID string, program models.Program) error {
	return s.authorize(ctx, actorID, program)
}

func (s *Service) authorize(ctx context.Context, actorID string, program models.Program) error {
	if program.OwnerID == actorID {
		return nil
	}
	if program.PairingID == nil {
		return ErrForbidden
	}
	p, err := s.pairings.GetActive(ctx, *program.PairingID)
	if err != nil {
		return ErrForbidden
	}
	if p.Status != models.PairingStatusAccepted || !p.Involves(actorID) {
		return ErrForbidden
	}
	return nil
}
