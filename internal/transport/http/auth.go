package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"livequiz/internal/domain"
)

// Role is what an authenticated actor may do.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleParticipant Role = "participant"
)

// Actor is the identity attached to a request or websocket connection.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Authenticator resolves the actor behind a request.
type Authenticator interface {
	Authenticate(r *http.Request) (Actor, error)
}

type claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthenticator accepts HS256 tokens from the Authorization header or a
// token query parameter (browsers cannot set headers on websocket upgrades).
// Requests without a token are anonymous participants.
type JWTAuthenticator struct {
	secret []byte
	now    func() time.Time
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), now: time.Now}
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (Actor, error) {
	raw := bearerToken(r)
	if raw == "" {
		return Actor{Role: RoleParticipant}, nil
	}
	if len(a.secret) == 0 {
		return Actor{}, domain.ErrUnauthorized.WithMessage("token authentication is not configured")
	}

	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Actor{}, domain.ErrUnauthorized.WithMessage("token has expired")
		}
		return Actor{}, domain.ErrUnauthorized.WithMessage("invalid token")
	}

	role := c.Role
	if role != RoleAdmin {
		role = RoleParticipant
	}
	return Actor{ID: c.Subject, Role: role}, nil
}

// Issue signs a token for subject. It backs the token CLI command and tests.
func (a *JWTAuthenticator) Issue(subject string, role Role, ttl time.Duration) (string, error) {
	now := a.now()
	c := claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
