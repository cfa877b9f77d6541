package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "fieldreport"

// Claims are the JWT claims carried by short-lived access tokens.
type Claims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	Dept string `json:"dept,omitempty"`
	jwt.RegisteredClaims
}

// TokenSigner issues and validates HS256 access tokens. The secret is
// injected at construction; there is no package-level state.
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

// NewTokenSigner creates a signer for the given shared secret.
func NewTokenSigner(secret string) (*TokenSigner, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: token secret is not configured")
	}
	return &TokenSigner{secret: []byte(secret), now: time.Now}, nil
}

// Sign issues a token for the identity with the given lifetime.
func (s *TokenSigner) Sign(identity Identity, ttl time.Duration) (string, error) {
	if strings.TrimSpace(identity.Email) == "" {
		return "", errors.New("auth: identity email is required")
	}
	if ttl <= 0 {
		return "", errors.New("auth: ttl must be greater than zero")
	}
	now := s.now().UTC()
	claims := Claims{
		Name: identity.Name,
		Role: identity.Role,
		Dept: identity.Dept,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   identity.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify validates signature, issuer and expiry, returning the identity.
func (s *TokenSigner) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(func() time.Time {
		return s.now().UTC()
	}))
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{Email: claims.Subject, Name: claims.Name, Role: claims.Role, Dept: claims.Dept}, nil
}
