package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/proximo/internal/api"
	"github.com/haasonsaas/proximo/internal/cache"
	"github.com/haasonsaas/proximo/internal/realtime"
	"github.com/haasonsaas/proximo/internal/typing"
	"github.com/haasonsaas/proximo/pkg/models"
)

// ChatRoom is the open direct conversation with one peer. Opening another
// conversation closes the previous room.
type ChatRoom struct {
	s      *Session
	peerID string
	typing *typing.Indicator

	mu     sync.Mutex
	closed bool
}

// StartChat asks the server whether peerID can be messaged, then opens the
// conversation.
func (s *Session) StartChat(ctx context.Context, peerID string) (*ChatRoom, error) {
	if err := s.requireMounted(); err != nil {
		return nil, err
	}
	if err := s.api.StartConversation(ctx, peerID); err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	room, err := s.OpenChat(ctx, peerID)
	if err != nil {
		return nil, err
	}
	s.nav.Navigate(ChatRoute(peerID))
	return room, nil
}

// OpenChat loads the history with peerID and makes it the open conversation.
// Unread messages from the peer are marked read. A peer who is gone or out of
// range sends the user home.
func (s *Session) OpenChat(ctx context.Context, peerID string) (*ChatRoom, error) {
	if peerID == "" {
		return nil, errors.New("session: empty peer id")
	}
	if err := s.requireMounted(); err != nil {
		return nil, err
	}
	history, err := s.api.Conversation(ctx, peerID)
	if err != nil {
		return nil, s.proximityFailure("load conversation", err)
	}

	room := &ChatRoom{s: s, peerID: peerID}
	room.typing = typing.NewIndicator(typing.IndicatorConfig{
		Emit:   room.emitTyping,
		Idle:   s.typingIdle,
		Logger: s.logger,
	})

	s.mu.Lock()
	prev := s.chat
	s.chat = room
	s.mu.Unlock()
	if prev != nil {
		prev.seal()
	}

	var unread []string
	for _, m := range history {
		if !m.IsMine && !m.IsRead {
			unread = append(unread, m.ID)
		}
		s.seen.Mark(cache.MessageKey("chat", peerID, m.ID))
	}
	s.Chats.OpenConversation(peerID, history)
	s.Chats.MarkConversationRead(peerID)
	for _, id := range unread {
		if err := s.api.MarkMessageRead(ctx, id); err != nil {
			s.logger.Debug("mark read failed", "message_id", id, "error", err)
		}
	}
	return room, nil
}

// PeerID returns the other participant.
func (r *ChatRoom) PeerID() string { return r.peerID }

// Messages returns the conversation in order.
func (r *ChatRoom) Messages() []models.Message {
	if r.s.Chats.CurrentPeer() != r.peerID {
		return nil
	}
	return r.s.Chats.Snapshot().Messages
}

// PeerTyping reports whether the peer is typing.
func (r *ChatRoom) PeerTyping() bool {
	return r.s.Chats.IsTyping(r.peerID)
}

// Typing records local input.
func (r *ChatRoom) Typing() {
	r.typing.Activity()
}

func (r *ChatRoom) emitTyping(isTyping bool) {
	r.s.emit(realtime.Chat, EventTyping, models.TypingEvent{ReceiverID: r.peerID, IsTyping: isTyping})
}

// Send sends a text message. It is appended at once as pending and replaced
// by the server copy, or marked failed.
func (r *ChatRoom) Send(ctx context.Context, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, models.ErrEmptyMessage
	}
	return r.send(ctx, &text, nil)
}

// SendImage uploads an image and sends it as a message.
func (r *ChatRoom) SendImage(ctx context.Context, filename string, data io.Reader) (models.Message, error) {
	if r.isClosed() {
		return models.Message{}, ErrRoomClosed
	}
	url, err := r.s.api.UploadImage(ctx, filename, data)
	if err != nil {
		return models.Message{}, fmt.Errorf("upload image: %w", err)
	}
	return r.send(ctx, nil, &url)
}

func (r *ChatRoom) send(ctx context.Context, content, imageURL *string) (models.Message, error) {
	if r.isClosed() {
		return models.Message{}, ErrRoomClosed
	}
	r.typing.Flush()

	msg := models.Message{
		LocalID:   uuid.NewString(),
		Content:   content,
		ImageURL:  imageURL,
		CreatedAt: time.Now(),
		IsMine:    true,
		Sender:    r.s.self(),
		Status:    models.StatusPending,
	}
	r.s.Chats.AddMessage(msg)
	return r.deliver(ctx, msg)
}

// Retry resends a failed message under the same local id.
func (r *ChatRoom) Retry(ctx context.Context, localID string) (models.Message, error) {
	if r.isClosed() {
		return models.Message{}, ErrRoomClosed
	}
	msg, ok := r.s.Chats.Pending(localID)
	if !ok || msg.Status != models.StatusFailed {
		return models.Message{}, ErrNotRetryable
	}
	r.s.Chats.RetryPending(localID)
	msg.Status = models.StatusPending
	return r.deliver(ctx, msg)
}

func (r *ChatRoom) deliver(ctx context.Context, msg models.Message) (models.Message, error) {
	sent, err := r.s.api.SendMessage(ctx, models.SendMessageRequest{
		ReceiverID: r.peerID,
		Content:    msg.Content,
		ImageURL:   msg.ImageURL,
	})
	if err != nil {
		r.s.Chats.FailPending(msg.LocalID)
		msg.Status = models.StatusFailed
		if errors.Is(err, api.ErrOutOfRadius) {
			return msg, fmt.Errorf("send message: peer out of range: %w", err)
		}
		return msg, fmt.Errorf("send message: %w", err)
	}

	r.s.seen.Mark(cache.MessageKey("chat", r.peerID, sent.ID))
	r.s.Chats.ResolvePending(msg.LocalID, *sent)

	out := *sent
	out.LocalID = msg.LocalID
	out.IsMine = true
	out.Status = models.StatusSent
	return out, nil
}

// MarkRead marks one received message read on the server and locally.
func (r *ChatRoom) MarkRead(ctx context.Context, messageID string) error {
	if err := r.s.api.MarkMessageRead(ctx, messageID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	r.s.Chats.MarkAsRead(messageID)
	return nil
}

// Close leaves the conversation. It is idempotent.
func (r *ChatRoom) Close() {
	if !r.seal() {
		return
	}
	s := r.s
	s.mu.Lock()
	current := s.chat == r
	if current {
		s.chat = nil
	}
	s.mu.Unlock()
	if current {
		s.Chats.CloseConversation()
	}
}

// seal stops the typing indicator and rejects further sends. It reports
// whether this call sealed the room.
func (r *ChatRoom) seal() bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.closed = true
	r.mu.Unlock()
	r.typing.Close()
	return true
}

func (r *ChatRoom) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
