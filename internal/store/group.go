package store

import (
	"sync"
	"time"

	"github.com/haasonsaas/proximo/internal/typing"
	"github.com/haasonsaas/proximo/pkg/models"
)

// GroupSnapshot is a copy of the group store state.
type GroupSnapshot struct {
	NearbyGroups []models.GroupSummary
	CurrentGroup *models.Group
	Messages     []models.Message
	TypingPeers  []string
}

// GroupStore holds nearby groups and the open group room.
type GroupStore struct {
	mu       sync.Mutex
	nearby   []models.GroupSummary
	current  *models.Group
	messages messageLog
	typing   *typing.State

	subs listeners[GroupSnapshot]
}

// NewGroupStore returns an empty store.
func NewGroupStore(typingGrace time.Duration) *GroupStore {
	return &GroupStore{typing: typing.NewState(typingGrace)}
}

// Snapshot returns a copy of the current state. CurrentGroup.MemberCount
// always equals len(CurrentGroup.Members).
func (s *GroupStore) Snapshot() GroupSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := GroupSnapshot{
		NearbyGroups: append([]models.GroupSummary{}, s.nearby...),
		Messages:     s.messages.clone(),
		TypingPeers:  s.typing.Peers(),
	}
	if s.current != nil {
		g := s.current.Clone()
		snap.CurrentGroup = &g
	}
	return snap
}

// Subscribe registers fn to receive a snapshot after every change.
func (s *GroupStore) Subscribe(fn func(GroupSnapshot)) (unsubscribe func()) {
	return s.subs.add(fn)
}

func (s *GroupStore) changed() {
	s.subs.notify(s.Snapshot)
}

// SetNearbyGroups replaces the nearby group listing.
func (s *GroupStore) SetNearbyGroups(groups []models.GroupSummary) {
	s.mu.Lock()
	s.nearby = append([]models.GroupSummary{}, groups...)
	s.mu.Unlock()
	s.changed()
}

// SetCurrentGroup opens g. MemberCount is recomputed from the member list.
func (s *GroupStore) SetCurrentGroup(g models.Group) {
	if g.ID == "" {
		return
	}
	c := g.Clone()
	c.MemberCount = len(c.Members)

	s.mu.Lock()
	if s.current == nil || s.current.ID != c.ID {
		s.messages = nil
		s.typing.Reset()
	}
	s.current = &c
	s.mu.Unlock()
	s.changed()
}

// ClearCurrentGroup closes the open group.
func (s *GroupStore) ClearCurrentGroup() {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.messages = nil
	s.typing.Reset()
	s.mu.Unlock()
	s.changed()
}

// CurrentGroupID returns the id of the open group, or "".
func (s *GroupStore) CurrentGroupID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

// SetMessages replaces the open group's history.
func (s *GroupStore) SetMessages(msgs []models.Message) {
	s.mu.Lock()
	s.messages = normalizeMessages(msgs)
	s.mu.Unlock()
	s.changed()
}

// AddMessage appends msg to the open group. It does not deduplicate.
func (s *GroupStore) AddMessage(msg models.Message) {
	if msg.Status == "" {
		msg.Status = models.StatusSent
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.changed()
}

// ApplyInbound appends a pushed message if it belongs to the open group.
func (s *GroupStore) ApplyInbound(groupID string, msg models.Message) bool {
	if msg.Status == "" {
		msg.Status = models.StatusSent
	}
	msg.GroupID = groupID

	s.mu.Lock()
	if s.current == nil || s.current.ID != groupID {
		s.mu.Unlock()
		return false
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	if id := msg.Sender.SenderID(); id != "" {
		s.typing.Set(id, false)
	}
	s.changed()
	return true
}

// HasMessage reports whether a message with id is in the open group.
func (s *GroupStore) HasMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages.indexByID(id) >= 0
}

// Pending returns the optimistic message with the given local id.
func (s *GroupStore) Pending(localID string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages.byLocalID(localID)
}

// ResolvePending replaces an optimistic message with the server's copy.
func (s *GroupStore) ResolvePending(localID string, server models.Message) bool {
	s.mu.Lock()
	if s.current != nil && server.GroupID == "" {
		server.GroupID = s.current.ID
	}
	var ok bool
	s.messages, ok = s.messages.resolve(localID, server)
	s.mu.Unlock()
	if ok {
		s.changed()
	}
	return ok
}

// FailPending marks an optimistic message as failed.
func (s *GroupStore) FailPending(localID string) bool {
	return s.setPendingStatus(localID, models.StatusFailed)
}

// RetryPending moves a failed message back to pending.
func (s *GroupStore) RetryPending(localID string) bool {
	return s.setPendingStatus(localID, models.StatusPending)
}

func (s *GroupStore) setPendingStatus(localID string, status models.DeliveryStatus) bool {
	s.mu.Lock()
	ok := s.messages.setStatus(localID, status)
	s.mu.Unlock()
	if ok {
		s.changed()
	}
	return ok
}

// AddMember adds m to the open group if groupID matches and m is not already
// a member. Members and MemberCount change together.
func (s *GroupStore) AddMember(groupID string, m models.GroupMember) bool {
	if m.UserID == "" {
		return false
	}
	s.mu.Lock()
	if s.current == nil || s.current.ID != groupID || s.current.HasMember(m.UserID) {
		s.mu.Unlock()
		return false
	}
	members := append(append([]models.GroupMember{}, s.current.Members...), m)
	s.current.Members = members
	s.current.MemberCount = len(members)
	s.mu.Unlock()
	s.changed()
	return true
}

// RemoveMember removes userID from the open group. Missing members are a no-op.
func (s *GroupStore) RemoveMember(groupID, userID string) bool {
	s.mu.Lock()
	if s.current == nil || s.current.ID != groupID {
		s.mu.Unlock()
		return false
	}
	idx := -1
	for i, m := range s.current.Members {
		if m.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	members := make([]models.GroupMember, 0, len(s.current.Members)-1)
	members = append(members, s.current.Members[:idx]...)
	members = append(members, s.current.Members[idx+1:]...)
	s.current.Members = members
	s.current.MemberCount = len(members)
	s.mu.Unlock()

	s.typing.Set(userID, false)
	s.changed()
	return true
}

// SetTyping records a typing event from userID in groupID. Events for any
// group other than the open one are ignored.
func (s *GroupStore) SetTyping(groupID, userID string, isTyping bool) {
	s.mu.Lock()
	changed := s.current != nil && s.current.ID == groupID && s.typing.Set(userID, isTyping)
	s.mu.Unlock()
	if changed {
		s.changed()
	}
}

// IsTyping reports whether userID is typing in the open group.
func (s *GroupStore) IsTyping(userID string) bool {
	return s.typing.IsTyping(userID)
}

// TypingCount returns how many members are typing.
func (s *GroupStore) TypingCount() int {
	return s.typing.Count()
}

// Reset clears everything, as on logout.
func (s *GroupStore) Reset() {
	s.mu.Lock()
	s.nearby = nil
	s.current = nil
	s.messages = nil
	s.typing.Reset()
	s.mu.Unlock()
	s.changed()
}
