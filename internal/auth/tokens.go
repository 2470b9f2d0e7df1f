package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired indicates a structurally valid access token whose
	// lifetime has elapsed. Surfaced separately so callers can challenge
	// with a refresh hint instead of a generic rejection.
	ErrTokenExpired = errors.New("access token expired")
	// ErrTokenInvalid covers malformed tokens and signature mismatches.
	ErrTokenInvalid = errors.New("access token invalid")
)

// Claims are embedded into every signed access token.
type Claims struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// TokenSigner signs and verifies short-lived access tokens with a shared
// HMAC secret.
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

// NewTokenSigner constructs a signer around the shared secret.
func NewTokenSigner(secret string) *TokenSigner {
	return &TokenSigner{secret: []byte(secret), now: time.Now}
}

// Sign issues an access token carrying the account identity.
func (s *TokenSigner) Sign(accountID, email string, ttl time.Duration) (string, error) {
	now := s.now().UTC()
	claims := &Claims{
		AccountID: accountID,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "duet",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an access token, distinguishing expiry from
// malformed or forged tokens.
func (s *TokenSigner) Verify(tokenString string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}

	if claims.AccountID == "" {
		return Claims{}, ErrTokenInvalid
	}

	return claims, nil
}
