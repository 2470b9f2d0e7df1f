package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/duetapp/backend/internal/logging"
	"github.com/duetapp/backend/internal/middleware"
	"github.com/duetapp/backend/internal/models"
	"github.com/duetapp/backend/internal/program"
	"github.com/duetapp/backend/internal/trigger"
)

// MessageHandler posts step messages and lists a step's conversation.
type MessageHandler struct {
	Messages MessageService
}

// Handle dispatches /api/v1/messages: POST stores a message, GET lists a
// step's conversation in reading order.
func (h MessageHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.post(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type messagePostRequest struct {
	StepID string `json:"stepId"`
	Body   string `json:"body"`
}

func (h MessageHandler) post(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := middleware.ClaimsFromContext(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req messagePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.StepID) == "" {
		respondError(ctx, w, http.StatusBadRequest, "stepId is required")
		return
	}

	msg, err := h.Messages.HandleUserMessage(ctx, claims.AccountID, req.StepID, req.Body)
	if err != nil {
		h.respondMessageError(w, r, err, "store message")
		return
	}

	respondJSON(ctx, w, http.StatusCreated, newMessageView(msg))
}

func (h MessageHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := middleware.ClaimsFromContext(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
		return
	}

	stepID := strings.TrimSpace(r.URL.Query().Get("stepId"))
	if stepID == "" {
		respondError(ctx, w, http.StatusBadRequest, "stepId query parameter is required")
		return
	}

	msgs, err := h.Messages.ListMessages(ctx, claims.AccountID, stepID)
	if err != nil {
		h.respondMessageError(w, r, err, "list messages")
		return
	}

	views := make([]messageView, 0, len(msgs))
	for _, msg := range msgs {
		views = append(views, newMessageView(msg))
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"messages": views})
}

func (h MessageHandler) respondMessageError(w http.ResponseWriter, r *http.Request, err error, op string) {
	ctx := r.Context()
	switch {
	case errors.Is(err, trigger.ErrEmptyMessage):
		respondError(ctx, w, http.StatusBadRequest, "message body must not be empty")
	case errors.Is(err, program.ErrNotFound):
		respondError(ctx, w, http.StatusNotFound, "step not found")
	case errors.Is(err, program.ErrForbidden):
		respondError(ctx, w, http.StatusForbidden, "not a participant of this program")
	default:
		logging.FromContext(ctx).Error(op, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to "+op)
	}
}

type messageView struct {
	ID        string                  `json:"id"`
	StepID    string                  `json:"stepId"`
	SenderID  *string                 `json:"senderId,omitempty"`
	Type      string                  `json:"type"`
	Body      string                  `json:"body"`
	Metadata  *models.MessageMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time               `json:"createdAt"`
}

func newMessageView(msg models.Message) messageView {
	return messageView{
		ID:        msg.ID,
		StepID:    msg.StepID,
		SenderID:  msg.SenderID,
		Type:      msg.Type,
		Body:      msg.Body,
		Metadata:  msg.Metadata,
		CreatedAt: msg.CreatedAt,
	}
}
