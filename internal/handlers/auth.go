package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/duetapp/backend/internal/auth"
	"github.com/duetapp/backend/internal/logging"
	"github.com/duetapp/backend/internal/models"
	"github.com/duetapp/backend/internal/repositories"
)

// AuthHandler implements account authentication endpoints. Login failures
// feed the lockout guard keyed by email, and both login and signup sit
// behind a stricter rate limit than the rest of the API.
type AuthHandler struct {
	Accounts    AccountStore
	Sessions    SessionManager
	Guard       LoginGuard
	AuthLimiter RateLimiter
	MaxPairings int
	NowFunc     func() time.Time
}

// Login handles POST /api/v1/auth/login requests.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if !allowRequest(h.AuthLimiter, r, "auth") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many requests")
		return
	}

	if h.Accounts == nil || h.Sessions == nil {
		logger.Error("authentication dependencies unavailable", "hasAccounts", h.Accounts != nil, "hasSessions", h.Sessions != nil)
		respondError(ctx, w, http.StatusInternalServerError, "authentication services unavailable")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid login payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		respondError(ctx, w, http.StatusBadRequest, "email and password are required")
		return
	}

	if h.Guard != nil {
		if locked, retryAfter := h.Guard.IsLocked(req.Email); locked {
			logger.Warn("login attempt on locked identifier", "email", req.Email)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
			respondError(ctx, w, http.StatusTooManyRequests, "account temporarily locked")
			return
		}
	}

	account, err := h.Accounts.FindByEmail(ctx, req.Email)
	if err != nil {
		// Unknown emails and wrong passwords must be indistinguishable,
		// and both count toward the lockout.
		h.recordFailure(req.Email)
		logger.Warn("login account lookup failed", "error", err)
		respondError(ctx, w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		h.recordFailure(req.Email)
		logger.Warn("login password mismatch", "accountId", account.ID)
		respondError(ctx, w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if h.Guard != nil {
		h.Guard.ClearFailures(req.Email)
	}

	tokens, err := h.Sessions.Issue(ctx, account)
	if err != nil {
		logger.Error("failed to issue session", "error", err, "accountId", account.ID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create session")
		return
	}

	respondJSON(ctx, w, http.StatusOK, authResponse{Tokens: tokens})
}

func (h AuthHandler) recordFailure(identifier string) {
	if h.Guard != nil {
		h.Guard.RecordFailure(identifier)
	}
}

// SignUp handles POST /api/v1/auth/signup requests.
func (h AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if !allowRequest(h.AuthLimiter, r, "auth") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many requests")
		return
	}

	if h.Accounts == nil || h.Sessions == nil {
		logger.Error("authentication dependencies unavailable", "hasAccounts", h.Accounts != nil, "hasSessions", h.Sessions != nil)
		respondError(ctx, w, http.StatusInternalServerError, "authentication services unavailable")
		return
	}

	var req signUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid signup payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.Email == "" || req.Password == "" {
		respondError(ctx, w, http.StatusBadRequest, "email and password are required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid email address")
		return
	}
	if len(req.Password) < 8 {
		respondError(ctx, w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("signup failed to hash password", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to secure password")
		return
	}

	now := h.now()
	maxPairings := h.MaxPairings
	if maxPairings <= 0 {
		maxPairings = 1
	}
	account := models.Account{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hashed),
		DisplayName:  req.DisplayName,
		MaxPairings:  maxPairings,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.Accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			logger.Warn("signup conflict", "email", req.Email)
			respondError(ctx, w, http.StatusConflict, "account already exists")
			return
		}
		logger.Error("signup failed to create account", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create account")
		return
	}

	tokens, err := h.Sessions.Issue(ctx, account)
	if err != nil {
		logger.Error("signup failed to issue session", "error", err, "accountId", account.ID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create session")
		return
	}

	respondJSON(ctx, w, http.StatusCreated, authResponse{Account: newAccountView(account), Tokens: tokens})
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// single-use: replays after a successful exchange are rejected.
func (h AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Sessions == nil {
		logger.Error("session manager unavailable")
		respondError(ctx, w, http.StatusInternalServerError, "session service unavailable")
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid refresh payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondError(ctx, w, http.StatusBadRequest, "refresh token is required")
		return
	}

	tokens, err := h.Sessions.Refresh(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrRefreshTokenExpired) || errors.Is(err, auth.ErrSessionNotFound) {
			logger.Warn("refresh rejected", "error", err)
			respondError(ctx, w, http.StatusUnauthorized, "unable to refresh session")
			return
		}
		logger.Error("refresh failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to refresh session")
		return
	}

	respondJSON(ctx, w, http.StatusOK, authResponse{Tokens: tokens})
}

// Logout handles POST /api/v1/auth/logout requests. Idempotent: logging out
// an unknown or already-removed token succeeds.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Sessions.Logout(ctx, strings.TrimSpace(req.RefreshToken)); err != nil {
		logging.FromContext(ctx).Error("logout failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to log out")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]string{"status": "logged out"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type authResponse struct {
	Account *accountView         `json:"account,omitempty"`
	Tokens  models.SessionTokens `json:"tokens"`
}

func (h AuthHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
