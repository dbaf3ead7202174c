package session

import (
	"context"
	"encoding/json"
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

// GroupHistoryLimit is how many messages are loaded when a group opens.
const GroupHistoryLimit = 50

// GroupRoom is the open group chat. Its listeners on the groups channel are
// filtered by group id and removed on Close.
type GroupRoom struct {
	s       *Session
	groupID string
	typing  *typing.Indicator

	mu     sync.Mutex
	closed bool
	offs   []func()
}

// JoinGroup joins groupID and opens it. Already being a member is not an error.
func (s *Session) JoinGroup(ctx context.Context, groupID string) (*GroupRoom, error) {
	if err := s.requireMounted(); err != nil {
		return nil, err
	}
	if err := s.api.JoinGroup(ctx, groupID); err != nil {
		var apiErr *api.Error
		if !errors.As(err, &apiErr) || apiErr.Code != api.ErrCodeConflict {
			return nil, s.proximityFailure("join group", err)
		}
	}
	return s.OpenGroup(ctx, groupID)
}

// JoinNearbyGroup joins, or creates, the proximity group of the current area
// and opens it.
func (s *Session) JoinNearbyGroup(ctx context.Context) (*GroupRoom, error) {
	if err := s.requireMounted(); err != nil {
		return nil, err
	}
	g, err := s.api.JoinProximityGroup(ctx)
	if err != nil {
		return nil, fmt.Errorf("join proximity group: %w", err)
	}
	return s.OpenGroup(ctx, g.ID)
}

// OpenGroup loads a group with its recent history, subscribes to its events
// and makes it the open group.
func (s *Session) OpenGroup(ctx context.Context, groupID string) (*GroupRoom, error) {
	if groupID == "" {
		return nil, errors.New("session: empty group id")
	}
	if err := s.requireMounted(); err != nil {
		return nil, err
	}
	g, err := s.api.Group(ctx, groupID)
	if err != nil {
		return nil, s.proximityFailure("load group", err)
	}
	history, err := s.api.GroupMessages(ctx, groupID, GroupHistoryLimit, "")
	if err != nil {
		return nil, fmt.Errorf("load group messages: %w", err)
	}
	conn, err := s.channels.Connect(realtime.Groups)
	if err != nil {
		return nil, fmt.Errorf("connect groups channel: %w", err)
	}

	room := &GroupRoom{s: s, groupID: groupID}
	room.typing = typing.NewIndicator(typing.IndicatorConfig{
		Emit:   room.emitTyping,
		Idle:   s.typingIdle,
		Logger: s.logger,
	})

	s.mu.Lock()
	prev := s.group
	s.group = room
	s.mu.Unlock()
	if prev != nil {
		prev.seal()
	}

	for _, m := range history {
		s.seen.Mark(cache.MessageKey("group", groupID, m.ID))
	}
	s.Groups.SetCurrentGroup(*g)
	s.Groups.SetMessages(history)

	room.mu.Lock()
	room.offs = []func(){
		conn.On(EventNewGroupMessage, room.handleMessage),
		conn.On(EventMemberJoined, room.handleMemberJoined),
		conn.On(EventMemberLeft, room.handleMemberLeft),
		conn.On(EventUserTyping, room.handleTyping),
		// Rooms are server-side state of the socket and must be rejoined.
		conn.OnStateChange(func(state realtime.State) {
			if state == realtime.StateConnected {
				room.join()
			}
		}),
	}
	room.mu.Unlock()
	room.join()
	return room, nil
}

func (r *GroupRoom) join() {
	if r.isClosed() {
		return
	}
	r.s.emit(realtime.Groups, EventJoinGroup, models.JoinGroupEvent{GroupID: r.groupID})
}

// GroupID returns the open group's id.
func (r *GroupRoom) GroupID() string { return r.groupID }

// Group returns the open group, members included.
func (r *GroupRoom) Group() (models.Group, bool) {
	snap := r.s.Groups.Snapshot()
	if snap.CurrentGroup == nil || snap.CurrentGroup.ID != r.groupID {
		return models.Group{}, false
	}
	return *snap.CurrentGroup, true
}

// Messages returns the group history in order.
func (r *GroupRoom) Messages() []models.Message {
	if r.s.Groups.CurrentGroupID() != r.groupID {
		return nil
	}
	return r.s.Groups.Snapshot().Messages
}

// Typing records local input.
func (r *GroupRoom) Typing() {
	r.typing.Activity()
}

// TypingCount returns how many members are typing.
func (r *GroupRoom) TypingCount() int {
	return r.s.Groups.TypingCount()
}

func (r *GroupRoom) emitTyping(isTyping bool) {
	r.s.emit(realtime.Groups, EventTyping, models.TypingEvent{GroupID: r.groupID, IsTyping: isTyping})
}

// Send sends a text message to the group.
func (r *GroupRoom) Send(ctx context.Context, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, models.ErrEmptyMessage
	}
	return r.send(ctx, &text, nil)
}

// SendImage uploads an image and sends it to the group.
func (r *GroupRoom) SendImage(ctx context.Context, filename string, data io.Reader) (models.Message, error) {
	if r.isClosed() {
		return models.Message{}, ErrRoomClosed
	}
	url, err := r.s.api.UploadImage(ctx, filename, data)
	if err != nil {
		return models.Message{}, fmt.Errorf("upload image: %w", err)
	}
	return r.send(ctx, nil, &url)
}

func (r *GroupRoom) send(ctx context.Context, content, imageURL *string) (models.Message, error) {
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
		GroupID:   r.groupID,
		Status:    models.StatusPending,
	}
	r.s.Groups.AddMessage(msg)
	return r.deliver(ctx, msg)
}

// Retry resends a failed message under the same local id.
func (r *GroupRoom) Retry(ctx context.Context, localID string) (models.Message, error) {
	if r.isClosed() {
		return models.Message{}, ErrRoomClosed
	}
	msg, ok := r.s.Groups.Pending(localID)
	if !ok || msg.Status != models.StatusFailed {
		return models.Message{}, ErrNotRetryable
	}
	r.s.Groups.RetryPending(localID)
	msg.Status = models.StatusPending
	return r.deliver(ctx, msg)
}

func (r *GroupRoom) deliver(ctx context.Context, msg models.Message) (models.Message, error) {
	sent, err := r.s.api.SendGroupMessage(ctx, r.groupID, models.GroupSendRequest{
		Content:  msg.Content,
		ImageURL: msg.ImageURL,
	})
	if err != nil {
		r.s.Groups.FailPending(msg.LocalID)
		msg.Status = models.StatusFailed
		return msg, fmt.Errorf("send group message: %w", err)
	}

	r.s.seen.Mark(cache.MessageKey("group", r.groupID, sent.ID))
	r.s.Groups.ResolvePending(msg.LocalID, *sent)

	out := *sent
	out.LocalID = msg.LocalID
	out.IsMine = true
	out.Status = models.StatusSent
	return out, nil
}

// Leave leaves the group on the server and closes the room.
func (r *GroupRoom) Leave(ctx context.Context) error {
	err := r.s.api.LeaveGroup(ctx, r.groupID)
	r.Close()
	if err != nil {
		return fmt.Errorf("leave group: %w", err)
	}
	return nil
}

func (r *GroupRoom) handleMessage(payload json.RawMessage) {
	var ev models.GroupMessageEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.s.logger.Warn("invalid newGroupMessage payload", "error", err)
		return
	}
	if ev.GroupID != r.groupID {
		return
	}
	if err := ev.Message.Validate(); err != nil {
		r.s.logger.Warn("dropping newGroupMessage", "group_id", ev.GroupID, "message_id", ev.Message.ID, "error", err)
		return
	}
	if r.s.seen.Check(cache.MessageKey("group", ev.GroupID, ev.Message.ID)) || r.s.Groups.HasMessage(ev.Message.ID) {
		return
	}
	// Our own echo may land before the send response; ResolvePending then
	// folds it into the optimistic entry.
	self := r.s.auth.UserID()
	ev.Message.IsMine = self != "" && ev.Message.Sender.SenderID() == self
	r.s.Groups.ApplyInbound(ev.GroupID, ev.Message)
}

func (r *GroupRoom) handleMemberJoined(payload json.RawMessage) {
	var ev models.MemberJoinedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.s.logger.Warn("invalid memberJoined payload", "error", err)
		return
	}
	r.s.Groups.AddMember(ev.GroupID, ev.Member)
}

func (r *GroupRoom) handleMemberLeft(payload json.RawMessage) {
	var ev models.MemberLeftEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.s.logger.Warn("invalid memberLeft payload", "error", err)
		return
	}
	r.s.Groups.RemoveMember(ev.GroupID, ev.UserID)
}

func (r *GroupRoom) handleTyping(payload json.RawMessage) {
	var ev models.TypingEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.s.logger.Warn("invalid userTyping payload", "error", err)
		return
	}
	if ev.UserID == r.s.auth.UserID() {
		return
	}
	r.s.Groups.SetTyping(ev.GroupID, ev.UserID, ev.IsTyping)
}

// Close leaves the room locally. It is idempotent.
func (r *GroupRoom) Close() {
	if !r.seal() {
		return
	}
	s := r.s
	s.mu.Lock()
	current := s.group == r
	if current {
		s.group = nil
	}
	s.mu.Unlock()
	if current {
		s.Groups.ClearCurrentGroup()
	}
}

func (r *GroupRoom) seal() bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.closed = true
	offs := r.offs
	r.offs = nil
	r.mu.Unlock()

	for _, off := range offs {
		off()
	}
	r.typing.Close()
	return true
}

func (r *GroupRoom) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
