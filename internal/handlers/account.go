package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/duetapp/backend/internal/logging"
	"github.com/duetapp/backend/internal/middleware"
	"github.com/duetapp/backend/internal/models"
	"github.com/duetapp/backend/internal/repositories"
)

// AccountHandler implements the authenticated account profile endpoints.
type AccountHandler struct {
	Accounts AccountStore
	Sessions SessionManager
	Pairings PairingService
}

// Handle dispatches /api/v1/account by method: GET reads the profile, PATCH
// applies a partial update, DELETE tombstones the account.
func (h AccountHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.me(w, r)
	case http.MethodPatch:
		h.update(w, r)
	case http.MethodDelete:
		h.delete(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h AccountHandler) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, ok := middleware.ClaimsFromContext(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
		return
	}

	account, err := h.Accounts.FindByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "account not found")
			return
		}
		logging.FromContext(ctx).Error("load account", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to load account")
		return
	}

	respondJSON(ctx, w, http.StatusOK, newAccountView(account))
}

type accountUpdateRequest struct {
	Email       *string `json:"email"`
	DisplayName *string `json:"displayName"`
	Password    *string `json:"password"`
}

func (h AccountHandler) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	claims, ok := middleware.ClaimsFromContext(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req accountUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	update := models.AccountUpdate{DisplayName: req.DisplayName}

	if req.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*req.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			respondError(ctx, w, http.StatusBadRequest, "invalid email address")
			return
		}
		update.Email = &email
	}

	if req.Password != nil {
		if len(*req.Password) < 8 {
			respondError(ctx, w, http.StatusBadRequest, "password must be at least 8 characters")
			return
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			logger.Error("hash password", "error", err)
			respondError(ctx, w, http.StatusInternalServerError, "failed to secure password")
			return
		}
		hash := string(hashed)
		update.PasswordHash = &hash
	}

	if update.Email == nil && update.DisplayName == nil && update.PasswordHash == nil {
		respondError(ctx, w, http.StatusBadRequest, "no fields to update")
		return
	}

	account, err := h.Accounts.Update(ctx, claims.AccountID, update)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrConflict):
			respondError(ctx, w, http.StatusConflict, "email already in use")
		case errors.Is(err, repositories.ErrNotFound):
			respondError(ctx, w, http.StatusNotFound, "account not found")
		default:
			logger.Error("update account", "error", err)
			respondError(ctx, w, http.StatusInternalServerError, "unable to update account")
		}
		return
	}

	respondJSON(ctx, w, http.StatusOK, newAccountView(account))
}

// delete tombstones the account, then cascades best-effort: every session is
// revoked and every pairing the account participates in is soft-deleted.
// Cascade failures are logged, not surfaced; the tombstone already makes the
// account unusable.
func (h AccountHandler) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	claims, ok := middleware.ClaimsFromContext(ctx)
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.Accounts.SoftDelete(ctx, claims.AccountID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "account not found")
			return
		}
		logger.Error("delete account", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to delete account")
		return
	}

	if revoked, err := h.Sessions.RevokeForAccount(ctx, claims.AccountID); err != nil {
		logger.Error("revoke sessions after account delete", "error", err)
	} else {
		logger.Info("sessions revoked", "count", revoked)
	}

	if h.Pairings != nil {
		if removed, err := h.Pairings.CascadeSoftDeleteForAccount(ctx, claims.AccountID); err != nil {
			logger.Error("cascade pairing delete", "error", err)
		} else {
			logger.Info("pairings tombstoned", "count", removed)
		}
	}

	respondJSON(ctx, w, http.StatusOK, map[string]string{"status": "account deleted"})
}

type accountView struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	MaxPairings int       `json:"maxPairings"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newAccountView(account models.Account) *accountView {
	return &accountView{
		ID:          account.ID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
		MaxPairings: account.MaxPairings,
		CreatedAt:   account.CreatedAt,
	}
}
