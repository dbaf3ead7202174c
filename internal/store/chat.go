package store

import (
	"sync"
	"time"

	"github.com/haasonsaas/proximo/internal/typing"
	"github.com/haasonsaas/proximo/pkg/models"
)

// ChatSnapshot is a copy of the chat store state.
type ChatSnapshot struct {
	Conversations []models.Conversation
	// CurrentPeer is the user id of the open conversation, or "".
	CurrentPeer string
	Messages    []models.Message
	TypingPeers []string
}

// UnreadTotal sums the unread counters of every conversation.
func (s ChatSnapshot) UnreadTotal() int {
	total := 0
	for _, c := range s.Conversations {
		total += c.UnreadCount
	}
	return total
}

// ChatStore holds the conversation list and the open direct conversation.
type ChatStore struct {
	mu            sync.Mutex
	conversations []models.Conversation
	currentPeer   string
	messages      messageLog
	typing        *typing.State

	subs listeners[ChatSnapshot]
}

// NewChatStore returns an empty store. typingGrace bounds how long a peer
// reads as typing without a typing:false.
func NewChatStore(typingGrace time.Duration) *ChatStore {
	return &ChatStore{typing: typing.NewState(typingGrace)}
}

// Snapshot returns a copy of the current state.
func (s *ChatStore) Snapshot() ChatSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ChatSnapshot{
		Conversations: append([]models.Conversation{}, s.conversations...),
		CurrentPeer:   s.currentPeer,
		Messages:      s.messages.clone(),
		TypingPeers:   s.typing.Peers(),
	}
}

// Subscribe registers fn to receive a snapshot after every change.
func (s *ChatStore) Subscribe(fn func(ChatSnapshot)) (unsubscribe func()) {
	return s.subs.add(fn)
}

func (s *ChatStore) changed() {
	s.subs.notify(s.Snapshot)
}

// SetConversations replaces the conversation list.
func (s *ChatStore) SetConversations(list []models.Conversation) {
	s.mu.Lock()
	s.conversations = append([]models.Conversation{}, list...)
	s.mu.Unlock()
	s.changed()
}

// OpenConversation makes peerID the open conversation with the given history.
// It does not mark anything read.
func (s *ChatStore) OpenConversation(peerID string, history []models.Message) {
	if peerID == "" {
		return
	}
	s.mu.Lock()
	s.currentPeer = peerID
	s.messages = normalizeMessages(history)
	s.mu.Unlock()
	s.changed()
}

// CloseConversation clears the open conversation.
func (s *ChatStore) CloseConversation() {
	s.mu.Lock()
	if s.currentPeer == "" {
		s.mu.Unlock()
		return
	}
	s.currentPeer = ""
	s.messages = nil
	s.mu.Unlock()
	s.changed()
}

// CurrentPeer returns the user id of the open conversation.
func (s *ChatStore) CurrentPeer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPeer
}

// SetMessages replaces the open conversation's messages.
func (s *ChatStore) SetMessages(msgs []models.Message) {
	s.mu.Lock()
	s.messages = normalizeMessages(msgs)
	s.mu.Unlock()
	s.changed()
}

// AddMessage appends msg to the open conversation. It does not deduplicate.
func (s *ChatStore) AddMessage(msg models.Message) {
	if msg.Status == "" {
		msg.Status = models.StatusSent
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	if s.currentPeer != "" && msg.Status == models.StatusSent {
		s.touchConversationLocked(s.currentPeer, msg, false)
	}
	s.mu.Unlock()
	s.changed()
}

// ApplyInbound applies a message pushed by the server. A message from the open
// peer is appended; any other sender's conversation gets its unread counter
// incremented. It reports whether the message was appended.
func (s *ChatStore) ApplyInbound(msg models.Message) bool {
	peer := msg.Sender.SenderID()
	if peer == "" {
		return false
	}
	if msg.Status == "" {
		msg.Status = models.StatusSent
	}

	s.mu.Lock()
	appended := peer == s.currentPeer
	if appended {
		s.messages = append(s.messages, msg)
	}
	s.touchConversationLocked(peer, msg, !appended)
	s.mu.Unlock()

	// The message ends the sender's typing burst.
	s.typing.Set(peer, false)
	s.changed()
	return appended
}

// touchConversationLocked moves the peer's conversation to the top with msg as
// its preview, creating it if needed.
func (s *ChatStore) touchConversationLocked(peer string, msg models.Message, unread bool) {
	idx := -1
	for i := range s.conversations {
		if s.conversations[i].OtherUser.ID == peer {
			idx = i
			break
		}
	}

	var conv models.Conversation
	if idx >= 0 {
		conv = s.conversations[idx]
		s.conversations = append(s.conversations[:idx], s.conversations[idx+1:]...)
	} else {
		conv.OtherUser = models.Peer{ID: peer}
		if !msg.IsMine {
			conv.OtherUser.Name = msg.Sender.Name
			conv.OtherUser.PhotoURL = msg.Sender.PhotoURL
		}
	}
	conv.LastMessage = models.PreviewOf(msg)
	if unread {
		conv.UnreadCount++
	}
	s.conversations = append([]models.Conversation{conv}, s.conversations...)
}

// MarkConversationRead zeroes the peer's unread counter and marks the peer's
// messages in the open conversation as read.
func (s *ChatStore) MarkConversationRead(peerID string) {
	s.mu.Lock()
	changed := false
	for i := range s.conversations {
		c := &s.conversations[i]
		if c.OtherUser.ID == peerID && c.UnreadCount != 0 {
			c.UnreadCount = 0
			changed = true
		}
	}
	if peerID != "" && peerID == s.currentPeer {
		for i := range s.messages {
			m := &s.messages[i]
			if !m.IsMine && !m.IsRead {
				m.IsRead = true
				changed = true
			}
		}
	}
	s.mu.Unlock()
	if changed {
		s.changed()
	}
}

// MarkAsRead flips isRead on the one message with the given id.
func (s *ChatStore) MarkAsRead(messageID string) bool {
	s.mu.Lock()
	i := s.messages.indexByID(messageID)
	if i < 0 || s.messages[i].IsRead {
		s.mu.Unlock()
		return false
	}
	s.messages[i].IsRead = true
	s.mu.Unlock()
	s.changed()
	return true
}

// HasMessage reports whether a message with id is in the open conversation.
func (s *ChatStore) HasMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages.indexByID(id) >= 0
}

// Pending returns the optimistic message with the given local id.
func (s *ChatStore) Pending(localID string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages.byLocalID(localID)
}

// ResolvePending replaces an optimistic message with the server's copy.
func (s *ChatStore) ResolvePending(localID string, server models.Message) bool {
	s.mu.Lock()
	var ok bool
	s.messages, ok = s.messages.resolve(localID, server)
	if ok && s.currentPeer != "" {
		s.touchConversationLocked(s.currentPeer, server, false)
	}
	s.mu.Unlock()
	if ok {
		s.changed()
	}
	return ok
}

// FailPending marks an optimistic message as failed.
func (s *ChatStore) FailPending(localID string) bool {
	return s.setPendingStatus(localID, models.StatusFailed)
}

// RetryPending moves a failed message back to pending.
func (s *ChatStore) RetryPending(localID string) bool {
	return s.setPendingStatus(localID, models.StatusPending)
}

func (s *ChatStore) setPendingStatus(localID string, status models.DeliveryStatus) bool {
	s.mu.Lock()
	ok := s.messages.setStatus(localID, status)
	s.mu.Unlock()
	if ok {
		s.changed()
	}
	return ok
}

// SetTyping records a typing event from peerID.
func (s *ChatStore) SetTyping(peerID string, isTyping bool) {
	if s.typing.Set(peerID, isTyping) {
		s.changed()
	}
}

// IsTyping reports whether peerID is typing.
func (s *ChatStore) IsTyping(peerID string) bool {
	return s.typing.IsTyping(peerID)
}

// TypingCount returns how many peers are typing.
func (s *ChatStore) TypingCount() int {
	return s.typing.Count()
}

// Reset clears everything, as on logout.
func (s *ChatStore) Reset() {
	s.mu.Lock()
	s.conversations = nil
	s.currentPeer = ""
	s.messages = nil
	s.mu.Unlock()
	s.typing.Reset()
	s.changed()
}
