// Package auth issues and validates the bearer tokens that identify the calling
// window on the front-end bridge.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// ShellSubject identifies the desktop shell rather than a note window.
	ShellSubject = "shell"
	// Issuer and Audience are stamped into every bridge token.
	Issuer   = "hoverthought"
	Audience = "hoverthought-bridge"

	signingSecretSize = 32
	tokenQueryParam   = "access_token"
)

var (
	ErrMissingSigningSecret = errors.New("auth: signing secret must be provided")
	ErrMissingSubject       = errors.New("auth: subject claim must be provided")
	ErrMissingToken         = errors.New("auth: token required")
	ErrInvalidToken         = errors.New("auth: invalid token")
	ErrExpiredToken         = errors.New("auth: token expired")
	ErrForeignSession       = errors.New("auth: token issued by another session")
)

// TokenIssuerConfig configures the bridge token issuer. A zero TokenTTL issues
// tokens that stay valid for the lifetime of the issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer signs HS256 tokens whose subject is a window label. Every token carries
// the issuer's session id, so tokens from an earlier launch never validate.
type TokenIssuer struct {
	signingSecret []byte
	sessionID     string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	if cfg.TokenTTL < 0 {
		return nil, fmt.Errorf("auth: token ttl must not be negative, got %s", cfg.TokenTTL)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		sessionID:     uuid.NewString(),
		tokenTTL:      cfg.TokenTTL,
		clock:         clock,
	}, nil
}

// NewSigningSecret returns a random secret for a single process lifetime.
func NewSigningSecret() ([]byte, error) {
	secret := make([]byte, signingSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("auth: generate signing secret: %w", err)
	}
	return secret, nil
}

// IssueWindowToken signs a token for the window with the given label.
func (i *TokenIssuer) IssueWindowToken(label string) (string, error) {
	if strings.TrimSpace(label) == "" {
		return "", ErrMissingSubject
	}

	now := i.clock().UTC()
	registered := jwt.RegisteredClaims{
		ID:       i.sessionID,
		Subject:  label,
		Issuer:   Issuer,
		Audience: []string{Audience},
		IssuedAt: jwt.NewNumericDate(now),
	}
	if i.tokenTTL > 0 {
		registered.ExpiresAt = jwt.NewNumericDate(now.Add(i.tokenTTL))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	return token.SignedString(i.signingSecret)
}

// ValidateToken verifies a bridge token and returns its subject.
func (i *TokenIssuer) ValidateToken(tokenString string) (string, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return "", ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			return i.signingSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID != i.sessionID {
		return "", ErrForeignSession
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}

// ValidateRequest reads the bearer token from the Authorization header, or from the
// access_token query parameter for event streams that cannot set headers.
func (i *TokenIssuer) ValidateRequest(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrMissingToken
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		const prefix = "Bearer "
		if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
			return "", ErrInvalidToken
		}
		return i.ValidateToken(header[len(prefix):])
	}
	return i.ValidateToken(r.URL.Query().Get(tokenQueryParam))
}
