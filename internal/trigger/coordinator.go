package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/duetapp/backend/internal/generation"
	"github.com/duetapp/backend/internal/logging"
	"github.com/duetapp/backend/internal/models"
	"github.com/duetapp/backend/internal/tasks"
)

var (
	// ErrEmptyMessage indicates the message body was blank.
	ErrEmptyMessage = errors.New("message body is required")
)

// MessageStore persists step messages.
type MessageStore interface {
	InsertUserMessage(ctx context.Context, msg models.Message) error
	// InsertSystemBatch persists a generation batch atomically, preserving
	// slice order.
	InsertSystemBatch(ctx context.Context, msgs []models.Message) error
	ListForStep(ctx context.Context, stepID string) ([]models.Message, error)
	// HasGeneratedForStep reports whether a generated_response system batch
	// already exists for the step.
	HasGeneratedForStep(ctx context.Context, stepID string) (bool, error)
}

// ProgramService is the slice of the program service the coordinator needs.
type ProgramService interface {
	GetStep(ctx context.Context, stepID string) (models.Step, error)
	GetProgram(ctx context.Context, programID string) (models.Program, error)
	Authorize(ctx context.Context, actorID string, program models.Program) error
	RecordFirstContribution(ctx context.Context, stepID, accountID string) (bool, error)
	HasContribution(ctx context.Context, stepID, accountID string) (bool, error)
	MarkStepStarted(ctx context.Context, stepID string) error
}

// PairingResolver resolves the pairing bound to a program.
type PairingResolver interface {
	GetActive(ctx context.Context, pairingID string) (models.Pairing, error)
}

// Coordinator handles incoming step messages and fires the crossover
// generation exactly once per step, when both partners have contributed.
type Coordinator struct {
	messages  MessageStore
	programs  ProgramService
	pairings  PairingResolver
	generator generation.Generator
	runner    tasks.Submitter
	logger    *slog.Logger

	locks      *keyedMutex
	genTimeout time.Duration
	now        func() time.Time
}

// NewCoordinator constructs a Coordinator. runner may be nil, in which case
// generation runs synchronously on the calling goroutine.
func NewCoordinator(messages MessageStore, programs ProgramService, pairings PairingResolver, generator generation.Generator, runner tasks.Submitter, genTimeout time.Duration, logger *slog.Logger) *Coordinator {
	if genTimeout <= 0 {
		genTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		messages:   messages,
		programs:   programs,
		pairings:   pairings,
		generator:  generator,
		runner:     runner,
		logger:     logger,
		locks:      newKeyedMutex(),
		genTimeout: genTimeout,
		now:        time.Now,
	}
}

// HandleUserMessage stores the message, records the sender's first touch on
// the step, and fires the crossover generation if this message completes the
// pair. The record, partner check, and fire decision run under a per-step
// lock so concurrent messages on the same step cannot both fire.
func (c *Coordinator) HandleUserMessage(ctx context.Context, actorID, stepID, body string) (models.Message, error) {
	if strings.TrimSpace(body) == "" {
		return models.Message{}, ErrEmptyMessage
	}

	step, err := c.programs.GetStep(ctx, stepID)
	if err != nil {
		return models.Message{}, err
	}
	prog, err := c.programs.GetProgram(ctx, step.ProgramID)
	if err != nil {
		return models.Message{}, err
	}
	if err := c.programs.Authorize(ctx, actorID, prog); err != nil {
		return models.Message{}, err
	}

	senderID := actorID
	msg := models.Message{
		ID:        uuid.NewString(),
		StepID:    stepID,
		SenderID:  &senderID,
		Type:      models.MessageTypeUser,
		Body:      body,
		CreatedAt: c.now().UTC(),
	}
	if err := c.messages.InsertUserMessage(ctx, msg); err != nil {
		return models.Message{}, err
	}

	unlock := c.locks.Lock(stepID)
	defer unlock()

	inserted, err := c.programs.RecordFirstContribution(ctx, stepID, actorID)
	if err != nil {
		return models.Message{}, err
	}
	if !inserted {
		return msg, nil
	}

	if err := c.programs.MarkStepStarted(ctx, stepID); err != nil {
		c.logger.Error("failed to mark step started", "step_id", stepID, "error", err)
	}

	fire, err := c.shouldFire(ctx, prog, stepID, actorID)
	if err != nil {
		c.logger.Error("crossover fire check failed", "step_id", stepID, "error", err)
		return msg, nil
	}
	if fire {
		c.fire(ctx, step)
	}

	return msg, nil
}

// shouldFire is called only for the sender's first touch on the step, under
// the step lock. It fires when the other party has already contributed and
// no generation batch exists yet.
func (c *Coordinator) shouldFire(ctx context.Context, prog models.Program, stepID, actorID string) (bool, error) {
	if prog.PairingID == nil {
		return false, nil
	}
	pairing, err := c.pairings.GetActive(ctx, *prog.PairingID)
	if err != nil {
		return false, err
	}
	other := pairing.OtherParty(actorID)
	if other == "" {
		return false, nil
	}

	otherContributed, err := c.programs.HasContribution(ctx, stepID, other)
	if err != nil {
		return false, err
	}
	if !otherContributed {
		return false, nil
	}

	generated, err := c.messages.HasGeneratedForStep(ctx, stepID)
	if err != nil {
		return false, err
	}
	return !generated, nil
}

func (c *Coordinator) fire(ctx context.Context, step models.Step) {
	task := func(taskCtx context.Context) {
		c.generateCrossover(taskCtx, step)
	}

	if c.runner == nil {
		task(context.WithoutCancel(ctx))
		return
	}
	if err := c.runner.Submit(ctx, "crossover-generation", task); err != nil {
		c.logger.Error("failed to schedule crossover generation", "step_id", step.ID, "error", err)
	}
}

// generateCrossover runs the generation call and stores the resulting system
// messages in order. Failures are logged and not retried; the step simply
// never receives its generated batch.
func (c *Coordinator) generateCrossover(ctx context.Context, step models.Step) {
	ctx, span := logging.StartSpan(ctx, "crossover-generation")
	defer span.End()

	logger := logging.FromContext(ctx).With("step_id", step.ID)

	history, err := c.messages.ListForStep(ctx, step.ID)
	if err != nil {
		logger.Error("failed to load step messages for generation", "error", err)
		return
	}
	contributions := firstBodiesBySender(history)

	genCtx, cancel := context.WithTimeout(ctx, c.genTimeout)
	defer cancel()

	outputs, err := c.generator.GenerateContent(genCtx, generation.BuildCrossoverPrompt(step.Prompt, contributions))
	if err != nil {
		logger.Error("crossover generation failed", "error", err)
		return
	}

	now := c.now().UTC()
	batch := make([]models.Message, 0, len(outputs))
	for i, out := range outputs {
		batch = append(batch, models.Message{
			ID:     uuid.NewString(),
			StepID: step.ID,
			Type:   models.MessageTypeSystem,
			Body:   out,
			Metadata: &models.MessageMetadata{
				Type:     models.MetadataTypeGenerated,
				Sequence: i + 1,
				Total:    len(outputs),
			},
			CreatedAt: now,
		})
	}

	if err := c.messages.InsertSystemBatch(ctx, batch); err != nil {
		logger.Error("failed to store generated messages", "error", err)
		return
	}

	logger.Info("crossover generation completed", "messages", len(batch))
}

// ListMessages returns the step's messages in stored order after checking
// the actor may read the program.
func (c *Coordinator) ListMessages(ctx context.Context, actorID, stepID string) ([]models.Message, error) {
	step, err := c.programs.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	prog, err := c.programs.GetProgram(ctx, step.ProgramID)
	if err != nil {
		return nil, err
	}
	if err := c.programs.Authorize(ctx, actorID, prog); err != nil {
		return nil, err
	}
	return c.messages.ListForStep(ctx, stepID)
}

// firstBodiesBySender extracts each sender's earliest user message body, in
// the order the senders first appeared.
func firstBodiesBySender(msgs []models.Message) []string {
	sorted := make([]models.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	seen := make(map[string]struct{})
	var bodies []string
	for _, m := range sorted {
		if m.Type != models.MessageTypeUser || m.SenderID == nil {
			continue
		}
		if _, ok := seen[*m.SenderID]; ok {
			continue
		}
		seen[*m.SenderID] = struct{}{}
		bodies = append(bodies, m.Body)
	}
	return bodies
}
