package api

import (
	"context"
	"net/http"

	"github.com/haasonsaas/proximo/pkg/models"
)

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	var out models.AuthResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.sendJSON(ctx, http.MethodPost, "/auth/login", "/auth/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account and returns its first access token.
func (c *Client) Register(ctx context.Context, email, password, name string) (*models.AuthResponse, error) {
	var out models.AuthResponse
	body := map[string]string{"email": email, "password": password, "name": name}
	if err := c.sendJSON(ctx, http.MethodPost, "/auth/register", "/auth/register", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var out models.User
	if err := c.getJSON(ctx, "/auth/me", "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
