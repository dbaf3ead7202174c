package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/proximo/internal/backoff"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 25 * time.Second
	defaultPongWait         = 60 * time.Second
	defaultWriteWait        = 10 * time.Second
	sendBufferSize          = 64
)

// Handler receives the raw JSON payload of one event.
type Handler func(payload json.RawMessage)

// Options configures every connection created by a Manager.
type Options struct {
	// URL is the websocket base, e.g. wss://api.example.com/ws. The namespace
	// is appended as a path segment.
	URL              string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	Reconnect        backoff.Policy
	ClientID         string
	Logger           *slog.Logger
	Observer         Observer
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = o.PingInterval * 2
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	o.Reconnect = o.Reconnect.WithDefaults()
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}

type handlerEntry struct {
	id int
	fn Handler
}

type stateEntry struct {
	id int
	fn func(State)
}

// Conn is one logical channel. It survives socket drops: listeners stay
// registered across reconnects until the connection is closed.
type Conn struct {
	ns     Namespace
	url    string
	token  string
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    State
	changed  chan struct{}
	handlers map[string][]handlerEntry
	stateFns []stateEntry
	nextID   int
	send     chan []byte
	ws       *websocket.Conn
	err      error
}

func newConn(ns Namespace, token string, opts Options) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		ns:       ns,
		url:      strings.TrimRight(opts.URL, "/") + "/" + string(ns),
		token:    token,
		opts:     opts,
		logger:   opts.Logger.With("channel", string(ns)),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateIdle,
		changed:  make(chan struct{}),
		handlers: make(map[string][]handlerEntry),
	}
}

// Namespace returns the channel name.
func (c *Conn) Namespace() Namespace { return c.ns }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns why the connection closed, or nil.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the connection reached StateClosed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// On registers h for event. Handlers of one connection run sequentially, in
// delivery order, on the connection's read goroutine. A handler must not
// close its own connection synchronously.
func (c *Conn) On(event string, h Handler) (off func()) {
	if h == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: id, fn: h})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			list := c.handlers[event]
			for i, e := range list {
				if e.id == id {
					c.handlers[event] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(c.handlers[event]) == 0 {
				delete(c.handlers, event)
			}
		})
	}
}

// Off removes every handler for event.
func (c *Conn) Off(event string) {
	c.mu.Lock()
	delete(c.handlers, event)
	c.mu.Unlock()
}

// OnStateChange registers fn for state transitions.
func (c *Conn) OnStateChange(fn func(State)) (off func()) {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.stateFns = append(c.stateFns, stateEntry{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, e := range c.stateFns {
				if e.id == id {
					c.stateFns = append(c.stateFns[:i:i], c.stateFns[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit sends an event. It returns ErrNotConnected while the socket is down;
// nothing is queued for later.
func (c *Conn) Emit(event string, payload any) error {
	data, err := EncodeEvent(event, payload, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClosed
	}
	if c.state != StateConnected || c.send == nil {
		return ErrNotConnected
	}
	select {
	case c.send <- data:
		c.opts.Observer.EventSent(c.ns, event)
		return nil
	default:
		return ErrSendBufferFull
	}
}

// WaitConnected blocks until the connection is connected, closed, or ctx is done.
func (c *Conn) WaitConnected(ctx context.Context) error {
	for {
		c.mu.Lock()
		state, changed, err := c.state, c.changed, c.err
		c.mu.Unlock()

		switch state {
		case StateConnected:
			return nil
		case StateClosed:
			if err != nil {
				return fmt.Errorf("%w: %w", ErrClosed, err)
			}
			return ErrClosed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Close tears the connection down for good and drops every listener.
func (c *Conn) Close() {
	c.cancel()
	c.mu.Lock()
	if c.ws != nil {
		_ = c.ws.Close()
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Conn) start() {
	go c.run()
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	fns := c.setStateLocked(s)
	c.mu.Unlock()
	c.notifyState(s, fns)
}

// setStateLocked returns the listeners to notify once the lock is released,
// or nil when the state did not change.
func (c *Conn) setStateLocked(s State) []stateEntry {
	if c.state == s {
		return nil
	}
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
	return append([]stateEntry{}, c.stateFns...)
}

func (c *Conn) notifyState(s State, fns []stateEntry) {
	if fns == nil {
		return
	}
	c.logger.Debug("channel state", "state", s.String())
	c.opts.Observer.StateChanged(c.ns, s)
	for _, e := range fns {
		e.fn(s)
	}
}

func (c *Conn) run() {
	defer close(c.done)

	policy := c.opts.Reconnect
	attempt := 0
	connectedOnce := false
	for {
		if c.ctx.Err() != nil {
			c.finish(nil)
			return
		}
		if connectedOnce || attempt > 0 {
			c.setState(StateReconnecting)
		} else {
			c.setState(StateConnecting)
		}

		ws, err := c.dial()
		if err != nil {
			var rejected *RejectedError
			if errors.As(err, &rejected) {
				c.logger.Warn("channel handshake rejected", "code", rejected.Code, "message", rejected.Message)
				c.finish(err)
				return
			}
			if c.ctx.Err() != nil {
				c.finish(nil)
				return
			}
			attempt++
			c.logger.Warn("channel connect failed", "attempt", attempt, "error", err)
			if policy.Exhausted(attempt) {
				c.finish(fmt.Errorf("giving up after %d attempts: %w", attempt, err))
				return
			}
			if backoff.Sleep(c.ctx, policy.Delay(attempt)) != nil {
				c.finish(nil)
				return
			}
			continue
		}

		if connectedOnce {
			c.opts.Observer.Reconnected(c.ns)
			c.logger.Info("channel reconnected")
		}
		connectedOnce = true
		attempt = 0

		err = c.serve(ws)
		c.setState(StateDisconnected)
		if c.ctx.Err() != nil {
			c.finish(nil)
			return
		}
		c.logger.Info("channel disconnected", "error", err)
		if backoff.Sleep(c.ctx, policy.Delay(1)) != nil {
			c.finish(nil)
			return
		}
	}
}

func (c *Conn) finish(err error) {
	c.mu.Lock()
	c.err = err
	c.handlers = make(map[string][]handlerEntry)
	fns := c.setStateLocked(StateClosed)
	c.stateFns = nil
	c.mu.Unlock()
	c.cancel()
	c.notifyState(StateClosed, fns)
}

func (c *Conn) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.HandshakeTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &RejectedError{Code: "unauthorized", Message: resp.Status}
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	ws.SetReadLimit(maxPayloadBytes)

	// Unblock the handshake read if the connection is closed meanwhile.
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	if err := c.handshake(ws); err != nil {
		_ = ws.Close()
		if ctx.Err() != nil && c.ctx.Err() == nil {
			return nil, fmt.Errorf("handshake: %w", ctx.Err())
		}
		return nil, err
	}
	return ws, nil
}

func (c *Conn) handshake(ws *websocket.Conn) error {
	payload, err := json.Marshal(ConnectPayload{Token: c.token, ClientID: c.opts.ClientID})
	if err != nil {
		return err
	}
	data, err := json.Marshal(Frame{Type: FrameConnect, Payload: payload})
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)) //nolint:errcheck
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout)) //nolint:errcheck
	for {
		messageType, raw, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("await connect ack: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		frame, err := DecodeFrame(raw)
		if err != nil {
			continue
		}
		switch frame.Type {
		case FrameConnected:
			return nil
		case FrameConnectError:
			rejected := &RejectedError{Code: "connect_error"}
			if frame.Error != nil {
				rejected.Code = frame.Error.Code
				rejected.Message = frame.Error.Message
			}
			return rejected
		}
	}
}

// serve runs the socket until it fails or the connection is closed.
func (c *Conn) serve(ws *websocket.Conn) error {
	send := make(chan []byte, sendBufferSize)

	c.mu.Lock()
	c.ws = ws
	c.send = send
	fns := c.setStateLocked(StateConnected)
	c.mu.Unlock()
	c.notifyState(StateConnected, fns)

	stopWriter := make(chan struct{})
	writerDone := make(chan struct{})
	go c.writeLoop(ws, send, stopWriter, writerDone)

	stop := context.AfterFunc(c.ctx, func() { _ = ws.Close() })
	err := c.readLoop(ws)
	stop()

	c.mu.Lock()
	c.ws = nil
	c.send = nil
	c.mu.Unlock()

	close(stopWriter)
	<-writerDone
	_ = ws.Close()
	return err
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	_ = ws.SetReadDeadline(time.Now().Add(c.opts.PongWait)) //nolint:errcheck
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.opts.PongWait)) //nolint:errcheck
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			c.logger.Debug("dropping invalid frame", "error", err)
			continue
		}
		if frame.Type != FrameEvent || frame.Event == "" {
			continue
		}
		if err := ValidatePayload(frame.Event, frame.Payload); err != nil {
			c.logger.Warn("dropping malformed event", "event", frame.Event, "error", err)
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Conn) dispatch(frame *Frame) {
	c.mu.Lock()
	list := append([]handlerEntry(nil), c.handlers[frame.Event]...)
	c.mu.Unlock()

	c.opts.Observer.EventReceived(c.ns, frame.Event)
	for _, e := range list {
		c.invoke(frame.Event, e.fn, frame.Payload)
	}
}

func (c *Conn) invoke(event string, fn Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked", "event", event, "panic", r)
		}
	}()
	fn(payload)
}

func (c *Conn) writeLoop(ws *websocket.Conn, send <-chan []byte, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteWait))
			return
		case msg := <-send:
			_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)) //nolint:errcheck
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", "error", err)
				_ = ws.Close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}
