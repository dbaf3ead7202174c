package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when an access token cannot be parsed.
var ErrInvalidToken = errors.New("invalid access token")

// Claims are the fields the client reads from the server's access token.
// The signature is not checked here; the server remains the authority.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims decodes token without verifying its signature.
func ParseClaims(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Expiry returns the expiry, or the zero time when the token has none.
func (c *Claims) Expiry() time.Time {
	if c == nil || c.RegisteredClaims.ExpiresAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.ExpiresAt.Time
}

// Expired reports whether the token is past its expiry at now.
func (c *Claims) Expired(now time.Time) bool {
	exp := c.Expiry()
	return !exp.IsZero() && !now.Before(exp)
}
