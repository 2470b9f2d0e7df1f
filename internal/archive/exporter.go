package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/duetapp/backend/internal/logging"
	"github.com/duetapp/backend/internal/models"
	"github.com/duetapp/backend/internal/tasks"
)

// ObjectStore writes archive objects to durable storage.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// ProgramReader loads a program and its steps for archiving.
type ProgramReader interface {
	GetProgram(ctx context.Context, programID string) (models.Program, error)
	ListSteps(ctx context.Context, programID string) ([]models.Step, error)
}

// MessageReader loads a step's messages for archiving.
type MessageReader interface {
	ListForStep(ctx context.Context, stepID string) ([]models.Message, error)
}

// Exporter writes a completed program's full transcript to the object store.
// Exports run as background tasks after a program unlocks its successor; a
// failed export is logged and the program remains readable from the primary
// store.
type Exporter struct {
	store    ObjectStore
	programs ProgramReader
	messages MessageReader
	runner   tasks.Submitter
	logger   *slog.Logger
	now      func() time.Time
}

func NewExporter(store ObjectStore, programs ProgramReader, messages MessageReader, runner tasks.Submitter, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		store:    store,
		programs: programs,
		messages: messages,
		runner:   runner,
		logger:   logger,
		now:      time.Now,
	}
}

type transcript struct {
	ProgramID  string           `json:"programId"`
	OwnerID    string           `json:"ownerId"`
	PairingID  *string          `json:"pairingId,omitempty"`
	SeedText   string           `json:"seedText"`
	ArchivedAt time.Time        `json:"archivedAt"`
	Steps      []transcriptStep `json:"steps"`
}

type transcriptStep struct {
	Day      int                 `json:"day"`
	Prompt   string              `json:"prompt"`
	Started  bool                `json:"started"`
	Messages []transcriptMessage `json:"messages"`
}

type transcriptMessage struct {
	SenderID *string                 `json:"senderId,omitempty"`
	Type     string                  `json:"type"`
	Body     string                  `json:"body"`
	Metadata *models.MessageMetadata `json:"metadata,omitempty"`
	SentAt   time.Time               `json:"sentAt"`
}

// ExportAsync schedules a transcript export. It is a no-op when no object
// store is configured.
func (e *Exporter) ExportAsync(ctx context.Context, programID string) {
	if e.store == nil {
		return
	}

	task := func(taskCtx context.Context) {
		taskCtx, span := logging.StartSpan(taskCtx, "transcript-export")
		defer span.End()
		if err := e.Export(taskCtx, programID); err != nil {
			logging.FromContext(taskCtx).Error("transcript export failed", "program_id", programID, "error", err)
		}
	}

	if e.runner == nil {
		task(context.WithoutCancel(ctx))
		return
	}
	if err := e.runner.Submit(ctx, "transcript-export", task); err != nil {
		e.logger.Error("failed to schedule transcript export", "program_id", programID, "error", err)
	}
}

// Export assembles the program transcript and writes it as a JSON object
// keyed by program id.
func (e *Exporter) Export(ctx context.Context, programID string) error {
	if e.store == nil {
		return nil
	}

	program, err := e.programs.GetProgram(ctx, programID)
	if err != nil {
		return fmt.Errorf("load program: %w", err)
	}
	steps, err := e.programs.ListSteps(ctx, programID)
	if err != nil {
		return fmt.Errorf("load steps: %w", err)
	}

	doc := transcript{
		ProgramID:  program.ID,
		OwnerID:    program.OwnerID,
		PairingID:  program.PairingID,
		SeedText:   program.SeedText,
		ArchivedAt: e.now().UTC(),
	}

	for _, step := range steps {
		msgs, err := e.messages.ListForStep(ctx, step.ID)
		if err != nil {
			return fmt.Errorf("load messages for step %s: %w", step.ID, err)
		}
		ts := transcriptStep{Day: step.Day, Prompt: step.Prompt, Started: step.Started}
		for _, m := range msgs {
			ts.Messages = append(ts.Messages, transcriptMessage{
				SenderID: m.SenderID,
				Type:     m.Type,
				Body:     m.Body,
				Metadata: m.Metadata,
				SentAt:   m.CreatedAt,
			})
		}
		doc.Steps = append(doc.Steps, ts)
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	key := fmt.Sprintf("programs/%s/transcript.json", program.ID)
	if _, err := e.store.Put(ctx, key, "application/json", bytes.NewReader(payload)); err != nil {
		return err
	}

	e.logger.Info("program transcript archived", "program_id", program.ID, "key", key)
	return nil
}
