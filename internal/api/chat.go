package api

import (
	"context"
	"net/http"

	"github.com/haasonsaas/proximo/pkg/models"
)

// SendMessage posts a direct message and returns the stored copy.
func (c *Client) SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	var out models.Message
	if err := c.sendJSON(ctx, http.MethodPost, "/chat/send", "/chat/send", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Conversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	if err := c.getJSON(ctx, "/chat/conversations", "/chat/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Conversation returns the message history with userID, oldest first.
func (c *Client) Conversation(ctx context.Context, userID string) ([]models.Message, error) {
	var out []models.Message
	if err := c.getJSON(ctx, "/chat/conversation/:userId", "/chat/conversation/"+escape(userID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartConversation checks that userID can be messaged (proximity and blocks).
func (c *Client) StartConversation(ctx context.Context, userID string) error {
	return c.sendJSON(ctx, http.MethodPost, "/chat/start/:userId", "/chat/start/"+escape(userID), nil, nil)
}

func (c *Client) MarkMessageRead(ctx context.Context, messageID string) error {
	return c.sendJSON(ctx, http.MethodPatch, "/chat/message/:id/read", "/chat/message/"+escape(messageID)+"/read", nil, nil)
}
