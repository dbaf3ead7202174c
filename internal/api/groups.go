package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/haasonsaas/proximo/pkg/models"
)

func (c *Client) NearbyGroups(ctx context.Context) ([]models.GroupSummary, error) {
	var out []models.GroupSummary
	if err := c.getJSON(ctx, "/groups/nearby", "/groups/nearby", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// JoinProximityGroup joins (or creates) the group for the user's current spot.
func (c *Client) JoinProximityGroup(ctx context.Context) (*models.Group, error) {
	var out models.Group
	if err := c.sendJSON(ctx, http.MethodPost, "/groups/join/proximity", "/groups/join/proximity", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) JoinGroup(ctx context.Context, groupID string) error {
	return c.sendJSON(ctx, http.MethodPost, "/groups/:id/join", "/groups/"+escape(groupID)+"/join", nil, nil)
}

func (c *Client) LeaveGroup(ctx context.Context, groupID string) error {
	return c.sendJSON(ctx, http.MethodPost, "/groups/:id/leave", "/groups/"+escape(groupID)+"/leave", nil, nil)
}

func (c *Client) Group(ctx context.Context, groupID string) (*models.Group, error) {
	var out models.Group
	if err := c.getJSON(ctx, "/groups/:id", "/groups/"+escape(groupID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GroupMessages pages through a group's history. Zero limit and empty before
// use the server defaults.
func (c *Client) GroupMessages(ctx context.Context, groupID string, limit int, before string) ([]models.Message, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		query.Set("before", before)
	}
	var out []models.Message
	if err := c.getJSON(ctx, "/groups/:id/messages", "/groups/"+escape(groupID)+"/messages", query, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].GroupID = groupID
	}
	return out, nil
}

func (c *Client) SendGroupMessage(ctx context.Context, groupID string, req models.GroupSendRequest) (*models.Message, error) {
	var out models.Message
	if err := c.sendJSON(ctx, http.MethodPost, "/groups/:id/messages", "/groups/"+escape(groupID)+"/messages", req, &out); err != nil {
		return nil, err
	}
	out.GroupID = groupID
	return &out, nil
}
