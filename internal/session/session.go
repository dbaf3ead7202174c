// Package session ties the credential, the REST client, the event channels
// and the stores into one logged-in session. Logging in mounts the session;
// logging out, explicitly or because the server rejected the credential,
// unmounts it and releases every listener, timer and socket.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/proximo/internal/api"
	"github.com/haasonsaas/proximo/internal/auth"
	"github.com/haasonsaas/proximo/internal/cache"
	"github.com/haasonsaas/proximo/internal/geolocation"
	"github.com/haasonsaas/proximo/internal/realtime"
	"github.com/haasonsaas/proximo/internal/store"
	"github.com/haasonsaas/proximo/internal/tracking"
	"github.com/haasonsaas/proximo/internal/typing"
	"github.com/haasonsaas/proximo/pkg/models"
)

// Channel events handled by the session.
const (
	EventNewMessage      = "newMessage"
	EventMessageRead     = "messageRead"
	EventUserTyping      = "userTyping"
	EventTyping          = "typing"
	EventJoinGroup       = "joinGroup"
	EventNewGroupMessage = "newGroupMessage"
	EventMemberJoined    = "memberJoined"
	EventMemberLeft      = "memberLeft"
)

const defaultTypingGrace = 6 * time.Second

var (
	// ErrNotLoggedIn is returned when an operation needs a credential.
	ErrNotLoggedIn = errors.New("session: not logged in")
	// ErrRoomClosed is returned by room operations after Close.
	ErrRoomClosed = errors.New("session: room closed")
	// ErrNotRetryable is returned by Retry for a message that did not fail.
	ErrNotRetryable = errors.New("session: message is not a failed send")
)

// Deps are the collaborators of a Session. API must read its token from Auth.
type Deps struct {
	API      *api.Client
	Auth     *auth.Holder
	Channels *realtime.Manager
	Sampler  *geolocation.Sampler
}

// Options configures a Session.
type Options struct {
	Tracking    tracking.Options
	TypingIdle  time.Duration
	TypingGrace time.Duration
	Navigator   Navigator
	Logger      *slog.Logger
}

// Session is one user's logged-in state.
type Session struct {
	Locations *store.LocationStore
	Chats     *store.ChatStore
	Groups    *store.GroupStore

	api        *api.Client
	auth       *auth.Holder
	channels   *realtime.Manager
	tracker    *tracking.Orchestrator
	seen       *cache.DedupeCache
	nav        Navigator
	typingIdle time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	mounted bool
	offs    []func()
	chat    *ChatRoom
	group   *GroupRoom
}

// New creates a logged-out session and installs the client's 401 hook.
func New(deps Deps, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := opts.TypingGrace
	if grace <= 0 {
		grace = defaultTypingGrace
	}
	idle := opts.TypingIdle
	if idle <= 0 {
		idle = typing.DefaultIdle
	}
	nav := opts.Navigator
	if nav == nil {
		nav = NavigatorFunc(func(string) {})
	}
	if opts.Tracking.Logger == nil {
		opts.Tracking.Logger = logger
	}

	locations := store.NewLocationStore()
	s := &Session{
		Locations:  locations,
		Chats:      store.NewChatStore(grace),
		Groups:     store.NewGroupStore(grace),
		api:        deps.API,
		auth:       deps.Auth,
		channels:   deps.Channels,
		tracker:    tracking.New(deps.Channels, deps.Sampler, locations, deps.API, opts.Tracking),
		seen:       cache.NewDedupeCache(cache.DedupeCacheOptions{}),
		nav:        nav,
		typingIdle: idle,
		logger:     logger.With("component", "session"),
	}
	// The hook may fire from inside a job that unmount waits for.
	deps.API.SetOnUnauthorized(func() { go s.expire() })
	return s
}

// Tracker returns the location tracking orchestrator.
func (s *Session) Tracker() *tracking.Orchestrator {
	return s.tracker
}

// User returns the logged-in user.
func (s *Session) User() (models.User, bool) {
	return s.auth.User()
}

// LoggedIn reports whether the session holds a usable credential.
func (s *Session) LoggedIn() bool {
	return s.auth.LoggedIn()
}

// Mounted reports whether channels and tracking are running.
func (s *Session) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounted
}

// Login authenticates and mounts the session.
func (s *Session) Login(ctx context.Context, email, password string) error {
	s.Logout()
	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return s.begin(ctx, resp)
}

// Register creates an account and mounts the session.
func (s *Session) Register(ctx context.Context, email, password, name string) error {
	s.Logout()
	resp, err := s.api.Register(ctx, email, password, name)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return s.begin(ctx, resp)
}

func (s *Session) begin(ctx context.Context, resp *models.AuthResponse) error {
	s.auth.Set(*resp)
	if err := s.Mount(ctx); err != nil {
		s.auth.Clear()
		return err
	}
	if _, err := s.RefreshConversations(ctx); err != nil {
		s.logger.Warn("conversation list not loaded", "error", err)
	}
	s.logger.Info("logged in", "user_id", s.auth.UserID())
	return nil
}

// RefreshUser reloads the account from GET /auth/me.
func (s *Session) RefreshUser(ctx context.Context) (*models.User, error) {
	user, err := s.api.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	s.auth.SetUser(*user)
	return user, nil
}

// Mount connects the chat, groups and notifications channels and starts
// location tracking. It outlives ctx's cancellation; only unmount ends it.
// A device without geolocation still mounts, with the error in the
// location store.
func (s *Session) Mount(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mounted {
		return nil
	}
	if !s.auth.LoggedIn() {
		return ErrNotLoggedIn
	}

	chat, err := s.channels.Connect(realtime.Chat)
	if err != nil {
		return fmt.Errorf("connect chat channel: %w", err)
	}
	if _, err := s.channels.Connect(realtime.Groups); err != nil {
		s.channels.DisconnectAll()
		return fmt.Errorf("connect groups channel: %w", err)
	}
	notifications, err := s.channels.Connect(realtime.Notifications)
	if err != nil {
		s.channels.DisconnectAll()
		return fmt.Errorf("connect notifications channel: %w", err)
	}

	s.offs = []func(){
		chat.On(EventNewMessage, s.handleNewMessage),
		chat.On(EventMessageRead, s.handleMessageRead),
		chat.On(EventUserTyping, s.handleChatTyping),
		notifications.OnStateChange(func(state realtime.State) {
			s.watchCredential(notifications, state)
		}),
	}
	// The handshake may have been refused before the listener existed.
	s.watchCredential(notifications, notifications.State())

	if err := s.tracker.Start(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("location tracking unavailable", "error", err)
	}
	s.mounted = true
	return nil
}

// watchCredential logs out when the server refuses the channel credential.
func (s *Session) watchCredential(conn *realtime.Conn, state realtime.State) {
	if state != realtime.StateClosed {
		return
	}
	var rejected *realtime.RejectedError
	if errors.As(conn.Err(), &rejected) {
		go s.expire()
	}
}

// Logout unmounts the session and forgets the credential. It is idempotent.
func (s *Session) Logout() {
	s.unmount()
	s.auth.Clear()
}

func (s *Session) unmount() {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return
	}
	s.mounted = false
	chat, group, offs := s.chat, s.group, s.offs
	s.chat, s.group, s.offs = nil, nil, nil
	s.mu.Unlock()

	if chat != nil {
		chat.Close()
	}
	if group != nil {
		group.Close()
	}
	for _, off := range offs {
		off()
	}
	s.tracker.Stop()
	s.channels.DisconnectAll()

	s.Locations.Reset()
	s.Chats.Reset()
	s.Groups.Reset()
	s.seen.Clear()
	s.logger.Info("session unmounted")
}

// expire forces a logout after the server rejected the credential.
func (s *Session) expire() {
	if !s.auth.LoggedIn() && !s.Mounted() {
		return
	}
	s.logger.Warn("credential rejected, logging out")
	s.Logout()
	s.nav.Navigate(RouteLogin)
}

func (s *Session) requireMounted() error {
	if !s.Mounted() {
		return ErrNotLoggedIn
	}
	return nil
}

// RefreshConversations reloads the conversation list.
func (s *Session) RefreshConversations(ctx context.Context) ([]models.Conversation, error) {
	list, err := s.api.Conversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	s.Chats.SetConversations(list)
	return list, nil
}

// RefreshNearbyGroups reloads the nearby group listing.
func (s *Session) RefreshNearbyGroups(ctx context.Context) ([]models.GroupSummary, error) {
	groups, err := s.api.NearbyGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("load nearby groups: %w", err)
	}
	s.Groups.SetNearbyGroups(groups)
	return groups, nil
}

// RefreshReencounters reloads the re-encounter list.
func (s *Session) RefreshReencounters(ctx context.Context) ([]models.Reencounter, error) {
	list, err := s.api.Reencounters(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reencounters: %w", err)
	}
	s.Locations.SetReencounters(list)
	return list, nil
}

func (s *Session) handleNewMessage(payload json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Warn("invalid newMessage payload", "error", err)
		return
	}
	peer := msg.Sender.SenderID()
	// Our own messages are applied from the send response.
	if peer == "" || peer == s.auth.UserID() {
		return
	}
	if err := msg.Validate(); err != nil {
		s.logger.Warn("dropping newMessage", "message_id", msg.ID, "error", err)
		return
	}
	if s.seen.Check(cache.MessageKey("chat", peer, msg.ID)) || s.Chats.HasMessage(msg.ID) {
		return
	}
	msg.IsMine = false
	s.Chats.ApplyInbound(msg)
}

func (s *Session) handleMessageRead(payload json.RawMessage) {
	var ev models.MessageReadEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.logger.Warn("invalid messageRead payload", "error", err)
		return
	}
	s.Chats.MarkAsRead(ev.MessageID)
}

func (s *Session) handleChatTyping(payload json.RawMessage) {
	var ev models.TypingEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.logger.Warn("invalid userTyping payload", "error", err)
		return
	}
	s.Chats.SetTyping(ev.UserID, ev.IsTyping)
}

// emit sends on ns, treating a missing or down channel as a transient miss.
func (s *Session) emit(ns realtime.Namespace, event string, payload any) {
	conn := s.channels.Get(ns)
	if conn == nil {
		return
	}
	if err := conn.Emit(event, payload); err != nil {
		s.logger.Debug("event not sent", "channel", string(ns), "event", event, "error", err)
	}
}

// self builds the sender of an optimistic message.
func (s *Session) self() models.Sender {
	id := s.auth.UserID()
	sender := models.Sender{ID: &id}
	if user, ok := s.auth.User(); ok {
		sender.Name = user.DisplayName()
		if user.Profile != nil {
			sender.PhotoURL = user.Profile.PhotoURL
		}
	}
	return sender
}
