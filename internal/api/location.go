package api

import (
	"context"
	"net/http"

	"github.com/haasonsaas/proximo/pkg/models"
)

// UpdateLocation reports the device position over REST.
func (c *Client) UpdateLocation(ctx context.Context, loc models.Location) error {
	return c.sendJSON(ctx, http.MethodPost, "/location/update", "/location/update", loc, nil)
}

// NearbyUsers lists users within the proximity radius.
func (c *Client) NearbyUsers(ctx context.Context) ([]models.NearbyUser, error) {
	var out []models.NearbyUser
	if err := c.getJSON(ctx, "/location/nearby", "/location/nearby", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MyLocation returns the position the server holds for the user.
func (c *Client) MyLocation(ctx context.Context) (*models.Location, error) {
	var out models.Location
	if err := c.getJSON(ctx, "/location/me", "/location/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveLocation deletes the stored position, hiding the user until the next update.
func (c *Client) RemoveLocation(ctx context.Context) error {
	return c.sendJSON(ctx, http.MethodDelete, "/location/me", "/location/me", nil, nil)
}

func (c *Client) Reencounters(ctx context.Context) ([]models.Reencounter, error) {
	var out []models.Reencounter
	if err := c.getJSON(ctx, "/location/reencounters", "/location/reencounters", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
