package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/haasonsaas/proximo/pkg/models"
)

// ProximityToken issues a short-lived token to view targetUserID's profile.
// The server answers 403 when the target is outside the radius.
func (c *Client) ProximityToken(ctx context.Context, targetUserID string) (*models.ProximityToken, error) {
	var out models.ProximityToken
	if err := c.sendJSON(ctx, http.MethodPost, "/proximity/token/:targetUserId", "/proximity/token/"+escape(targetUserID), nil, &out); err != nil {
		return nil, err
	}
	if out.TargetUserID == "" {
		out.TargetUserID = targetUserID
	}
	return &out, nil
}

// ProfileByToken redeems a proximity token. Distance is re-checked on every call.
func (c *Client) ProfileByToken(ctx context.Context, token string) (*models.Profile, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/proximity/profile/:token", "/proximity/profile/"+escape(token), nil, &raw); err != nil {
		return nil, err
	}

	// The profile is either the body itself or wrapped in {"profile": ...}.
	var wrapped struct {
		Profile *models.Profile `json:"profile"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Profile != nil {
		return wrapped.Profile, nil
	}
	var out models.Profile
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &out, nil
}
