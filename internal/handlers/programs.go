package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/duetapp/backend/internal/generation"
	"github.com/duetapp/backend/internal/logging"
	"github.com/duetapp/backend/internal/middleware"
	"github.com/duetapp/backend/internal/models"
	"github.com/duetapp/backend/internal/program"
	"github.com/duetapp/backend/internal/repositories"
)

// ProgramHandler implements program creation, reads, deletion, and the
// chained next-program flow.
type ProgramHandler struct {
	Programs    ProgramService
	Accounts    AccountStore
	Archiver    TranscriptArchiver
	UnlockSteps int
}

// Handle dispatches /api/v1/programs: POST creates, GET reads by id query
// param, DELETE tombstones.
func (h ProgramHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.get(w, r)
	case http.MethodDelete:
		h.remove(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type programCreateRequest struct {
	SeedText  string  `json:"seedText"`
	PairingID *string `json:"pairingId"`
}

func (h ProgramHandler) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	account, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req programCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	prog, steps, err := h.Programs.Create(ctx, account, req.PairingID, req.SeedText)
	if err != nil {
		switch {
		case errors.Is(err, program.ErrInvalidSeed):
			respondError(ctx, w, http.StatusBadRequest, "seed text is required")
		case errors.Is(err, program.ErrInvalidPairing):
			respondError(ctx, w, http.StatusBadRequest, "pairingId must reference an accepted pairing you belong to")
		case errors.Is(err, generation.ErrGeneration):
			logger.Error("program generation failed", "error", err)
			respondError(ctx, w, http.StatusBadGateway, "content generation failed, try again")
		default:
			logger.Error("create program", "error", err)
			respondError(ctx, w, http.StatusInternalServerError, "unable to create program")
		}
		return
	}

	respondJSON(ctx, w, http.StatusCreated, newProgramView(prog, steps))
}

func (h ProgramHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := middleware.ClaimsFromContext(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
		return
	}

	programID := strings.TrimSpace(r.URL.Query().Get("id"))
	if programID == "" {
		respondError(ctx, w, http.StatusBadRequest, "id query parameter is required")
		return
	}

	prog, steps, err := h.Programs.Get(ctx, claims.AccountID, programID)
	if err != nil {
		h.respondProgramError(w, r, err, "load program")
		return
	}

	view := newProgramView(prog, steps)
	if h.UnlockSteps > 0 {
		unlocked, err := h.Programs.ComputeUnlockStatus(ctx, programID, h.UnlockSteps)
		if err == nil {
			view.Unlocked = &unlocked
		}
	}

	respondJSON(ctx, w, http.StatusOK, view)
}

func (h ProgramHandler) remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := middleware.ClaimsFromContext(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
		return
	}

	programID := strings.TrimSpace(r.URL.Query().Get("id"))
	if programID == "" {
		respondError(ctx, w, http.StatusBadRequest, "id query parameter is required")
		return
	}

	if err := h.Programs.SoftDelete(ctx, claims.AccountID, programID); err != nil {
		h.respondProgramError(w, r, err, "delete program")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]string{"status": "program deleted"})
}

type programNextRequest struct {
	ProgramID string `json:"programId"`
	SeedText  string `json:"seedText"`
}

// Next handles POST /api/v1/programs/next: once the current program has
// enough started steps, it creates the chained successor and archives the
// predecessor's transcript in the background.
func (h ProgramHandler) Next(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	account, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req programNextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ProgramID) == "" {
		respondError(ctx, w, http.StatusBadRequest, "programId is required")
		return
	}

	prog, steps, err := h.Programs.CreateNext(ctx, account, req.ProgramID, req.SeedText)
	if err != nil {
		switch {
		case errors.Is(err, program.ErrLocked):
			respondError(ctx, w, http.StatusConflict, "program has not been unlocked yet")
		case errors.Is(err, program.ErrInvalidSeed):
			respondError(ctx, w, http.StatusBadRequest, "seed text is required")
		case errors.Is(err, generation.ErrGeneration):
			logger.Error("next program generation failed", "error", err)
			respondError(ctx, w, http.StatusBadGateway, "content generation failed, try again")
		default:
			h.respondProgramError(w, r, err, "create next program")
		}
		return
	}

	if h.Archiver != nil {
		h.Archiver.ExportAsync(ctx, req.ProgramID)
	}

	respondJSON(ctx, w, http.StatusCreated, newProgramView(prog, steps))
}

func (h ProgramHandler) respondProgramError(w http.ResponseWriter, r *http.Request, err error, op string) {
	ctx := r.Context()
	switch {
	case errors.Is(err, program.ErrNotFound):
		respondError(ctx, w, http.StatusNotFound, "program not found")
	case errors.Is(err, program.ErrForbidden):
		respondError(ctx, w, http.StatusForbidden, "not a participant of this program")
	default:
		logging.FromContext(ctx).Error(op, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to "+op)
	}
}

func (h ProgramHandler) actor(w http.ResponseWriter, r *http.Request) (models.Account, bool) {
	ctx := r.Context()
	claims, ok := middleware.ClaimsFromContext(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
		return models.Account{}, false
	}

	account, err := h.Accounts.FindByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusUnauthorized, "account no longer exists")
			return models.Account{}, false
		}
		logging.FromContext(ctx).Error("load acting account", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to load account")
		return models.Account{}, false
	}

	return account, true
}

type stepView struct {
	ID      string `json:"id"`
	Day     int    `json:"day"`
	Prompt  string `json:"prompt"`
	Started bool   `json:"started"`
}

type programView struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"ownerId"`
	PairingID         *string    `json:"pairingId,omitempty"`
	SeedText          string     `json:"seedText"`
	PreviousProgramID *string    `json:"previousProgramId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	Unlocked          *bool      `json:"unlocked,omitempty"`
	Steps             []stepView `json:"steps"`
}

func newProgramView(prog models.Program, steps []models.Step) programView {
	view := programView{
		ID:                prog.ID,
		OwnerID:           prog.OwnerID,
		PairingID:         prog.PairingID,
		SeedText:          prog.SeedText,
		PreviousProgramID: prog.PreviousProgramID,
		CreatedAt:         prog.CreatedAt,
		Steps:             make([]stepView, 0, len(steps)),
	}
	for _, step := range steps {
		view.Steps = append(view.Steps, stepView{ID: step.ID, Day: step.Day, Prompt: step.Prompt, Started: step.Started})
	}
	return view
}
