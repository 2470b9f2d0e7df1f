package handlers

import (
	"net"
	"net/http"
	"strings"

	"github.com/duetapp/backend/internal/middleware"
)

// RateLimiter is the minimal interface required to throttle endpoints.
type RateLimiter interface {
	Allow(key string) bool
}

// allowRequest keys throttling by the authenticated account when the request
// carries one, and by client IP otherwise. Pre-auth endpoints always fall in
// the IP bucket.
func allowRequest(limiter RateLimiter, r *http.Request, scope string) bool {
	if limiter == nil {
		return true
	}
	return limiter.Allow(rateLimitKey(r, scope))
}

func rateLimitKey(r *http.Request, scope string) string {
	subject := clientIP(r)
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		subject = claims.AccountID
	}
	if scope == "" {
		return subject
	}
	return scope + ":" + subject
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
