package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/duetapp/backend/internal/auth"
	"github.com/duetapp/backend/internal/logging"
)

type claimsKey struct{}

// ClaimsFromContext returns the verified access token claims attached by
// RequireAuth, if any.
func ClaimsFromContext(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(auth.Claims)
	return claims, ok
}

// WithClaims returns a context carrying the given claims, as if the request
// had passed RequireAuth.
func WithClaims(ctx context.Context, claims auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// TokenVerifier validates bearer access tokens and reacts to account
// activity.
type TokenVerifier interface {
	VerifyAccess(tokenString string) (auth.Claims, error)
	ExtendOnActivity(ctx context.Context, accountID string)
}

// RequireAuth rejects requests without a valid bearer access token. Verified
// claims land in the request context, and each authenticated request slides
// the account's session expiry forward.
func RequireAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w)
				return
			}

			claims, err := verifier.VerifyAccess(token)
			if err != nil {
				logging.FromContext(r.Context()).Warn("access token rejected", "error", err)
				unauthorized(w)
				return
			}

			ctx := WithClaims(r.Context(), claims)
			verifier.ExtendOnActivity(ctx, claims.AccountID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"authentication required"}`))
}
