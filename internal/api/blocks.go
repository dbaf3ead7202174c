package api

import (
	"context"
	"net/http"

	"github.com/haasonsaas/proximo/pkg/models"
)

func (c *Client) BlockUser(ctx context.Context, userID string, reason *string) error {
	body := struct {
		UserID string  `json:"userId"`
		Reason *string `json:"reason,omitempty"`
	}{UserID: userID, Reason: reason}
	return c.sendJSON(ctx, http.MethodPost, "/blocks", "/blocks", body, nil)
}

func (c *Client) UnblockUser(ctx context.Context, userID string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/blocks/:userId", "/blocks/"+escape(userID), nil, nil)
}

func (c *Client) BlockedUsers(ctx context.Context) ([]models.Block, error) {
	var out []models.Block
	if err := c.getJSON(ctx, "/blocks", "/blocks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) IsBlocked(ctx context.Context, userID string) (bool, error) {
	var out models.BlockStatus
	if err := c.getJSON(ctx, "/blocks/check/:userId", "/blocks/check/"+escape(userID), nil, &out); err != nil {
		return false, err
	}
	return out.Blocked, nil
}
