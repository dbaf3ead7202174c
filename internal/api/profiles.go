package api

import (
	"context"
	"net/http"

	"github.com/haasonsaas/proximo/pkg/models"
)

func (c *Client) MyProfile(ctx context.Context) (*models.UserProfile, error) {
	var out models.UserProfile
	if err := c.getJSON(ctx, "/profiles/me", "/profiles/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateMyProfile(ctx context.Context, profile models.UserProfile) (*models.UserProfile, error) {
	var out models.UserProfile
	if err := c.sendJSON(ctx, http.MethodPut, "/profiles/me", "/profiles/me", profile, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile fetches a user's public profile.
func (c *Client) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	var out models.Profile
	if err := c.getJSON(ctx, "/profiles/:userId", "/profiles/"+escape(userID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Settings(ctx context.Context) (*models.UserSettings, error) {
	var out models.UserSettings
	if err := c.getJSON(ctx, "/profiles/settings", "/profiles/settings", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateSettings(ctx context.Context, settings models.UserSettings) (*models.UserSettings, error) {
	var out models.UserSettings
	if err := c.sendJSON(ctx, http.MethodPut, "/profiles/settings", "/profiles/settings", settings, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToggleVisibility flips whether the user is discoverable and returns the new value.
func (c *Client) ToggleVisibility(ctx context.Context) (bool, error) {
	var out struct {
		IsVisible bool `json:"isVisible"`
	}
	if err := c.sendJSON(ctx, http.MethodPatch, "/profiles/visibility", "/profiles/visibility", nil, &out); err != nil {
		return false, err
	}
	return out.IsVisible, nil
}
