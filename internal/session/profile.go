package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/proximo/internal/api"
	"github.com/haasonsaas/proximo/pkg/models"
)

// ViewProfile fetches a peer's full profile through a fresh proximity token.
// A peer who left the radius or no longer exists sends the user home; the
// error is still returned so the caller can show api.UserMessage(err).
func (s *Session) ViewProfile(ctx context.Context, userID string) (*models.Profile, error) {
	if err := s.requireMounted(); err != nil {
		return nil, err
	}
	tok, err := s.api.ProximityToken(ctx, userID)
	if err != nil {
		return nil, s.proximityFailure("issue proximity token", err)
	}
	profile, err := s.api.ProfileByToken(ctx, tok.Token)
	if err != nil {
		return nil, s.proximityFailure("load profile", err)
	}
	return profile, nil
}

// BlockUser blocks userID, closes a conversation open with them and sends
// the user home.
func (s *Session) BlockUser(ctx context.Context, userID string, reason *string) error {
	if err := s.requireMounted(); err != nil {
		return err
	}
	if err := s.api.BlockUser(ctx, userID, reason); err != nil {
		return fmt.Errorf("block user: %w", err)
	}
	s.mu.Lock()
	chat := s.chat
	s.mu.Unlock()
	if chat != nil && chat.PeerID() == userID {
		chat.Close()
	}
	s.nav.Navigate(RouteHome)
	return nil
}

// proximityFailure navigates home when err means the proximity relationship
// no longer holds, and wraps err.
func (s *Session) proximityFailure(op string, err error) error {
	if errors.Is(err, api.ErrOutOfRadius) || errors.Is(err, api.ErrNotFound) {
		s.logger.Info("proximity relationship expired", "op", op, "error", err)
		s.nav.Navigate(RouteHome)
	}
	return fmt.Errorf("%s: %w", op, err)
}
