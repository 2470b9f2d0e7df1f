package handlers

import (
	"net/http"

	"github.com/duetapp/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Accounts AccountStore
	Sessions SessionManager
	Pairings PairingService
	Programs ProgramService
	Messages MessageService
	Guard    LoginGuard
	Archiver TranscriptArchiver
	Pinger   Pinger
	Verifier middleware.TokenVerifier

	AuthLimiter RateLimiter
	APILimiter  RateLimiter

	MaxPairings int
	UnlockSteps int
}

// RegisterRoutes wires HTTP handlers into the provided ServeMux. Everything
// under /api/v1 except the auth endpoints requires a bearer access token.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Pinger: deps.Pinger}
	auth := AuthHandler{
		Accounts:    deps.Accounts,
		Sessions:    deps.Sessions,
		Guard:       deps.Guard,
		AuthLimiter: deps.AuthLimiter,
		MaxPairings: deps.MaxPairings,
	}
	account := AccountHandler{Accounts: deps.Accounts, Sessions: deps.Sessions, Pairings: deps.Pairings}
	pairings := PairingHandler{Pairings: deps.Pairings, Accounts: deps.Accounts}
	programs := ProgramHandler{
		Programs:    deps.Programs,
		Accounts:    deps.Accounts,
		Archiver:    deps.Archiver,
		UnlockSteps: deps.UnlockSteps,
	}
	messages := MessageHandler{Messages: deps.Messages}

	mux.HandleFunc("/healthz", health.Handle)
	mux.HandleFunc("/api/v1/auth/signup", auth.SignUp)
	mux.HandleFunc("/api/v1/auth/login", auth.Login)
	mux.HandleFunc("/api/v1/auth/refresh", auth.Refresh)
	mux.HandleFunc("/api/v1/auth/logout", auth.Logout)

	authed := func(h http.HandlerFunc) http.HandlerFunc {
		guarded := middleware.RequireAuth(deps.Verifier)(throttled(deps.APILimiter, h))
		return guarded.ServeHTTP
	}

	mux.HandleFunc("/api/v1/account", authed(account.Handle))
	mux.HandleFunc("/api/v1/pairings", authed(pairings.List))
	mux.HandleFunc("/api/v1/pairings/request", authed(pairings.Request))
	mux.HandleFunc("/api/v1/pairings/accept", authed(pairings.Accept))
	mux.HandleFunc("/api/v1/pairings/reject", authed(pairings.Reject))
	mux.HandleFunc("/api/v1/pairings/remove", authed(pairings.Remove))
	mux.HandleFunc("/api/v1/pairings/restore", authed(pairings.Restore))
	mux.HandleFunc("/api/v1/programs", authed(programs.Handle))
	mux.HandleFunc("/api/v1/programs/next", authed(programs.Next))
	mux.HandleFunc("/api/v1/messages", authed(messages.Handle))
}

// throttled applies the API-wide rate limit, keyed per account once
// RequireAuth has attached claims.
func throttled(limiter RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowRequest(limiter, r, "api") {
			respondError(r.Context(), w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	}
}
