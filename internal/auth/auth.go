// Package auth resolves the verified player identity of a request.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/park285/cheese-chess-server/internal/faults"
	"github.com/park285/cheese-chess-server/internal/session"
)

const (
	ModeJWT    = "jwt"
	ModeHeader = "header"

	DefaultHeader = "X-User-Id"
)

// Authenticator matches gateway.Authenticator.
type Authenticator interface {
	Authenticate(r *http.Request) (session.Identity, error)
}

// New builds the authenticator for mode.
func New(mode, secret string) (Authenticator, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeJWT:
		return NewJWT(secret)
	case ModeHeader:
		return Header{Name: DefaultHeader}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// JWT verifies HS256 bearer tokens; the subject is the player identity.
type JWT struct {
	secret []byte
	now    func() time.Time
}

func NewJWT(secret string) (*JWT, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("JWT_SECRET is required for jwt auth")
	}
	return &JWT{secret: []byte(secret), now: time.Now}, nil
}

// Authenticate reads the token from the Authorization header, or from the
// token query parameter for browser websocket clients.
func (a *JWT) Authenticate(r *http.Request) (session.Identity, error) {
	raw := bearer(r.Header.Get("Authorization"))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if raw == "" {
		return "", fmt.Errorf("%w: missing token", faults.ErrUnauthorized)
	}
	return a.Verify(raw)
}

func (a *JWT) Verify(raw string) (session.Identity, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", faults.ErrUnauthorized, err)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", fmt.Errorf("%w: token has no subject", faults.ErrUnauthorized)
	}
	return accept(sub)
}

// Issue signs a token for subject. Used by tooling and tests.
func (a *JWT) Issue(subject string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Header trusts an identity header set by a fronting proxy. Development only.
type Header struct {
	Name string
}

func (h Header) Authenticate(r *http.Request) (session.Identity, error) {
	name := h.Name
	if name == "" {
		name = DefaultHeader
	}
	id := strings.TrimSpace(r.Header.Get(name))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("user"))
	}
	if id == "" {
		return "", fmt.Errorf("%w: missing %s", faults.ErrUnauthorized, name)
	}
	return accept(id)
}

// accept refuses identities reserved for automated opponents.
func accept(raw string) (session.Identity, error) {
	id := session.Identity(raw).Normalize()
	if id.IsEngine() {
		return "", fmt.Errorf("%w: %w", faults.ErrUnauthorized, session.ErrReservedIdentity)
	}
	return id, nil
}

func bearer(h string) string {
	h = strings.TrimSpace(h)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
