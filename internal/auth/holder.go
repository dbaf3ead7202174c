// Package auth keeps the session credential in memory and reads the claims
// of the access token.
package auth

import (
	"sync"
	"time"

	"github.com/haasonsaas/proximo/pkg/models"
)

// Holder is the in-memory credential of the current session. It implements
// the token sources of the api and realtime packages.
type Holder struct {
	mu     sync.RWMutex
	token  string
	user   *models.User
	claims *Claims
	now    func() time.Time
}

// NewHolder returns an empty holder.
func NewHolder() *Holder {
	return &Holder{now: time.Now}
}

// Token returns the access token, or "" when logged out or expired.
func (h *Holder) Token() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.claims != nil && h.claims.Expired(h.now()) {
		return ""
	}
	return h.token
}

// Set stores the credential returned by login or register.
func (h *Holder) Set(resp models.AuthResponse) {
	// Opaque tokens are accepted; they just carry no claims.
	claims, _ := ParseClaims(resp.AccessToken)
	user := resp.User

	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = resp.AccessToken
	h.user = &user
	h.claims = claims
}

// SetUser replaces the cached user, e.g. after GET /auth/me.
func (h *Holder) SetUser(user models.User) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.user = &user
}

// Clear forgets the credential.
func (h *Holder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = ""
	h.user = nil
	h.claims = nil
}

// User returns the logged-in user.
func (h *Holder) User() (models.User, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.user == nil {
		return models.User{}, false
	}
	return *h.user, true
}

// UserID returns the logged-in user's id, falling back to the token subject.
func (h *Holder) UserID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.user != nil && h.user.ID != "" {
		return h.user.ID
	}
	if h.claims != nil {
		return h.claims.Subject
	}
	return ""
}

// LoggedIn reports whether a usable token is held.
func (h *Holder) LoggedIn() bool {
	return h.Token() != ""
}

// ExpiresAt returns the token expiry, or the zero time when unknown.
func (h *Holder) ExpiresAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.claims.Expiry()
}
