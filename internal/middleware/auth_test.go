package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/duetapp/backend/internal/auth"
)

type stubVerifier struct {
	claims   auth.Claims
	err      error
	extended []string
}

func (v *stubVerifier) VerifyAccess(string) (auth.Claims, error) {
	if v.err != nil {
		return auth.Claims{}, v.err
	}
	return v.claims, nil
}

func (v *stubVerifier) ExtendOnActivity(_ context.Context, accountID string) {
	v.extended = append(v.extended, accountID)
}

func TestRequireAuthAttachesClaims(t *testing.T) {
	verifier := &stubVerifier{claims: auth.Claims{AccountID: "acc-1"}}

	var gotClaims auth.Claims
	var hadClaims bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims, hadClaims = ClaimsFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/account", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()

	RequireAuth(verifier)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if !hadClaims || gotClaims.AccountID != "acc-1" {
		t.Fatalf("expected claims for acc-1, got %+v (ok=%v)", gotClaims, hadClaims)
	}
	if len(verifier.extended) != 1 || verifier.extended[0] != "acc-1" {
		t.Fatalf("expected session extension for acc-1, got %v", verifier.extended)
	}
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	verifier := &stubVerifier{claims: auth.Claims{AccountID: "acc-1"}}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a token")
	})

	cases := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"bare token", "some-token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/account", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()

			RequireAuth(verifier)(next).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 got %d", rec.Code)
			}
		})
	}
}

func TestRequireAuthRejectsInvalidToken(t *testing.T) {
	verifier := &stubVerifier{err: errors.New("token expired")}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run with a rejected token")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/account", nil)
	req.Header.Set("Authorization", "Bearer stale-token")
	rec := httptest.NewRecorder()

	RequireAuth(verifier)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if len(verifier.extended) != 0 {
		t.Fatal("a rejected token must not extend any session")
	}
}
