package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/duetapp/backend/internal/logging"
	"github.com/duetapp/backend/internal/middleware"
	"github.com/duetapp/backend/internal/models"
	"github.com/duetapp/backend/internal/pairing"
	"github.com/duetapp/backend/internal/repositories"
)

// PairingHandler implements the pairing lifecycle endpoints.
type PairingHandler struct {
	Pairings PairingService
	Accounts AccountStore
}

// List handles GET /api/v1/pairings.
func (h PairingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	claims, ok := middleware.ClaimsFromContext(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
		return
	}

	includeDeleted := r.URL.Query().Get("includeDeleted") == "true"
	pairings, err := h.Pairings.ListForAccount(ctx, claims.AccountID, includeDeleted)
	if err != nil {
		logging.FromContext(ctx).Error("list pairings", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to list pairings")
		return
	}

	views := make([]pairingView, 0, len(pairings))
	for _, p := range pairings {
		views = append(views, newPairingView(p, claims.AccountID))
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"pairings": views})
}

// Request handles POST /api/v1/pairings/request: it creates a pending
// pairing and returns the one-time partner code.
func (h PairingHandler) Request(w http.ResponseWriter, r *http.Request) {
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

	created, err := h.Pairings.Request(ctx, account)
	if err != nil {
		switch {
		case errors.Is(err, pairing.ErrQuotaExceeded):
			respondError(ctx, w, http.StatusConflict, "pairing limit reached")
		case errors.Is(err, pairing.ErrDuplicatePending):
			respondError(ctx, w, http.StatusConflict, "a pending pairing request already exists")
		case errors.Is(err, pairing.ErrCodeExhausted):
			logger.Error("partner code space exhausted", "error", err)
			respondError(ctx, w, http.StatusServiceUnavailable, "unable to generate partner code, try again")
		default:
			logger.Error("create pairing request", "error", err)
			respondError(ctx, w, http.StatusInternalServerError, "unable to create pairing request")
		}
		return
	}

	respondJSON(ctx, w, http.StatusCreated, newPairingView(created, account.ID))
}

// Accept handles POST /api/v1/pairings/accept: it redeems a partner code.
func (h PairingHandler) Accept(w http.ResponseWriter, r *http.Request) {
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

	var req pairingCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		respondError(ctx, w, http.StatusBadRequest, "partner code is required")
		return
	}

	accepted, err := h.Pairings.AcceptByCode(ctx, account, code)
	if err != nil {
		switch {
		case errors.Is(err, pairing.ErrNotFound):
			respondError(ctx, w, http.StatusNotFound, "unknown or already used partner code")
		case errors.Is(err, pairing.ErrSelfPairing):
			respondError(ctx, w, http.StatusBadRequest, "cannot accept your own partner code")
		case errors.Is(err, pairing.ErrQuotaExceeded):
			respondError(ctx, w, http.StatusConflict, "pairing limit reached")
		case errors.Is(err, pairing.ErrAlreadyPaired):
			respondError(ctx, w, http.StatusConflict, "already paired with this account")
		default:
			logger.Error("accept pairing", "error", err)
			respondError(ctx, w, http.StatusInternalServerError, "unable to accept pairing")
		}
		return
	}

	respondJSON(ctx, w, http.StatusOK, newPairingView(accepted, account.ID))
}

// Reject handles POST /api/v1/pairings/reject.
func (h PairingHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "rejected", func(ctx context.Context, actorID, pairingID string) error {
		return h.Pairings.Reject(ctx, actorID, pairingID)
	})
}

// Remove handles POST /api/v1/pairings/remove (soft delete).
func (h PairingHandler) Remove(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "removed", func(ctx context.Context, actorID, pairingID string) error {
		return h.Pairings.SoftDelete(ctx, actorID, pairingID)
	})
}

// Restore handles POST /api/v1/pairings/restore.
func (h PairingHandler) Restore(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "restored", func(ctx context.Context, actorID, pairingID string) error {
		return h.Pairings.Restore(ctx, actorID, pairingID)
	})
}

func (h PairingHandler) mutate(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, actorID, pairingID string) error) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	claims, ok := middleware.ClaimsFromContext(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req pairingIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.PairingID) == "" {
		respondError(ctx, w, http.StatusBadRequest, "pairingId is required")
		return
	}

	if err := fn(ctx, claims.AccountID, req.PairingID); err != nil {
		switch {
		case errors.Is(err, pairing.ErrNotFound):
			respondError(ctx, w, http.StatusNotFound, "pairing not found")
		case errors.Is(err, pairing.ErrForbidden):
			respondError(ctx, w, http.StatusForbidden, "not a party to this pairing")
		case errors.Is(err, pairing.ErrAlreadyProcessed):
			respondError(ctx, w, http.StatusConflict, "pairing already processed")
		default:
			logger.Error("pairing update failed", "action", op, "error", err, "pairingId", req.PairingID)
			respondError(ctx, w, http.StatusInternalServerError, "unable to update pairing")
		}
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]string{"status": op})
}

// actor loads the authenticated account; pairing operations need its
// MaxPairings quota, not just the token claims.
func (h PairingHandler) actor(w http.ResponseWriter, r *http.Request) (models.Account, bool) {
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

type pairingCodeRequest struct {
	Code string `json:"code"`
}

type pairingIDRequest struct {
	PairingID string `json:"pairingId"`
}

type pairingView struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Code        *string    `json:"code,omitempty"`
	PartnerID   string     `json:"partnerId,omitempty"`
	RequestedBy string     `json:"requestedBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// newPairingView renders a pairing from the viewer's perspective. The
// one-time code is only shown to the requester while the pairing is pending.
func newPairingView(p models.Pairing, viewerID string) pairingView {
	view := pairingView{
		ID:          p.ID,
		Status:      p.Status,
		RequestedBy: p.RequesterID,
		PartnerID:   p.OtherParty(viewerID),
		CreatedAt:   p.CreatedAt,
		RespondedAt: p.RespondedAt,
		DeletedAt:   p.DeletedAt,
	}
	if p.RequesterID == viewerID && p.Status == models.PairingStatusPending {
		view.Code = p.Code
	}
	return view
}
