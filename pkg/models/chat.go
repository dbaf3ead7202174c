package models

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Placeholder names shown when a sender cannot be identified.
const (
	AnonymousName   = "Anônimo"
	UnknownUserName = "Usuário desconhecido"
)

// ErrEmptyMessage is returned when a message has neither text nor image.
var ErrEmptyMessage = errors.New("message must have content or image")

// DeliveryStatus tracks an outbound message from optimistic append to server confirmation.
type DeliveryStatus string

const (
	StatusSent    DeliveryStatus = "sent"
	StatusPending DeliveryStatus = "pending"
	StatusFailed  DeliveryStatus = "failed"
)

// Sender identifies the author of a message. ID is nil for anonymized group senders.
type Sender struct {
	ID       *string `json:"id"`
	Name     string  `json:"name,omitempty"`
	PhotoURL *string `json:"photoUrl,omitempty"`
}

// SenderID returns the sender id, or "" when anonymized.
func (s Sender) SenderID() string {
	if s.ID == nil {
		return ""
	}
	return *s.ID
}

// DisplayName never returns an empty string.
func (s Sender) DisplayName() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	if s.ID == nil {
		return AnonymousName
	}
	return UnknownUserName
}

// Initial returns the upper-cased first letter used for avatar fallbacks, or "?".
func (s Sender) Initial() string {
	return Initial(s.Name)
}

// Initial returns the upper-cased first rune of name, or "?" when name is blank.
func Initial(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "?"
	}
	r, _ := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return "?"
	}
	// Casers are stateful, so one is built per call.
	return cases.Upper(language.BrazilianPortuguese).String(string(r))
}

// Message is a direct or group chat message.
type Message struct {
	ID        string    `json:"id"`
	Content   *string   `json:"content,omitempty"`
	ImageURL  *string   `json:"imageUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	IsRead    bool      `json:"isRead"`
	IsMine    bool      `json:"isMine"`
	Sender    Sender    `json:"sender"`

	// GroupID is set for group messages.
	GroupID string `json:"groupId,omitempty"`

	// Client-side delivery tracking; never sent to the server.
	Status  DeliveryStatus `json:"-"`
	LocalID string         `json:"-"`
}

// Validate enforces that at most one of content and image is absent.
func (m Message) Validate() error {
	hasContent := m.Content != nil && strings.TrimSpace(*m.Content) != ""
	hasImage := m.ImageURL != nil && strings.TrimSpace(*m.ImageURL) != ""
	if !hasContent && !hasImage {
		return ErrEmptyMessage
	}
	return nil
}

// Text returns the message content or "".
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Peer is the other participant of a direct conversation.
type Peer struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	PhotoURL  *string  `json:"photoUrl,omitempty"`
	Distance  *float64 `json:"distance,omitempty"`
	Direction string   `json:"direction,omitempty"`
}

// MessagePreview is the last message shown in a conversation list.
type MessagePreview struct {
	ID        string    `json:"id"`
	Content   *string   `json:"content,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	IsMine    bool      `json:"isMine"`
	IsRead    bool      `json:"isRead"`
}

// PreviewOf builds a conversation preview from a message.
func PreviewOf(m Message) MessagePreview {
	return MessagePreview{
		ID:        m.ID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		IsMine:    m.IsMine,
		IsRead:    m.IsRead,
	}
}

// Conversation is one direct 1:1 thread keyed by the peer id.
type Conversation struct {
	OtherUser   Peer           `json:"otherUser"`
	LastMessage MessagePreview `json:"lastMessage"`
	UnreadCount int            `json:"unreadCount"`
}

// SendMessageRequest is the body of POST /chat/send.
type SendMessageRequest struct {
	ReceiverID string  `json:"receiverId"`
	Content    *string `json:"content,omitempty"`
	ImageURL   *string `json:"imageUrl,omitempty"`
}

// TypingEvent is exchanged on the chat and groups channels.
type TypingEvent struct {
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	UserID     string `json:"userId,omitempty"`
	IsTyping   bool   `json:"isTyping"`
}

// MessageReadEvent is pushed when the peer reads one of our messages.
type MessageReadEvent struct {
	MessageID string `json:"messageId"`
}
