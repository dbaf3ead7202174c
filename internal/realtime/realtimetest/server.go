// Package realtimetest provides an in-process websocket server speaking the
// channel protocol, for tests.
package realtimetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/proximo/internal/realtime"
)

// Received is one event a client emitted.
type Received struct {
	Namespace realtime.Namespace
	Event     string
	Payload   json.RawMessage
}

// Server accepts channel connections at /{namespace}.
type Server struct {
	*httptest.Server

	upgrader websocket.Upgrader

	mu         sync.Mutex
	accept     func(token string) bool
	conns      map[realtime.Namespace][]*serverConn
	handshakes map[realtime.Namespace]int
	tokens     []string
	received   []Received
	seq        int64
	changed    chan struct{}
}

type serverConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *serverConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// NewServer starts a server accepting only token. Callers must Close it.
func NewServer(token string) *Server {
	s := &Server{
		accept:     func(got string) bool { return got == token },
		conns:      make(map[realtime.Namespace][]*serverConn),
		handshakes: make(map[realtime.Namespace]int),
		changed:    make(chan struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	return s
}

// URL returns the ws:// base URL to configure clients with.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// SetAccept replaces the token check.
func (s *Server) SetAccept(fn func(token string) bool) {
	s.mu.Lock()
	s.accept = fn
	s.mu.Unlock()
}

func (s *Server) signalLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	ns := realtime.Namespace(strings.TrimPrefix(r.URL.Path, "/"))
	if !ns.Valid() {
		http.NotFound(w, r)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	conn := &serverConn{ws: ws}
	if !s.handshake(ns, conn) {
		return
	}

	s.mu.Lock()
	s.conns[ns] = append(s.conns[ns], conn)
	s.signalLocked()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		list := s.conns[ns]
		for i, c := range list {
			if c == conn {
				s.conns[ns] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		s.signalLocked()
		s.mu.Unlock()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		frame, err := realtime.DecodeFrame(data)
		if err != nil || frame.Type != realtime.FrameEvent {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, Received{Namespace: ns, Event: frame.Event, Payload: frame.Payload})
		s.signalLocked()
		s.mu.Unlock()
	}
}

func (s *Server) handshake(ns realtime.Namespace, conn *serverConn) bool {
	_ = conn.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ws.ReadMessage()
	if err != nil {
		return false
	}
	_ = conn.ws.SetReadDeadline(time.Time{})

	var payload realtime.ConnectPayload
	frame, err := realtime.DecodeFrame(data)
	if err == nil && frame.Type == realtime.FrameConnect {
		err = json.Unmarshal(frame.Payload, &payload)
	}

	s.mu.Lock()
	s.handshakes[ns]++
	s.tokens = append(s.tokens, payload.Token)
	ok := err == nil && s.accept(payload.Token)
	s.mu.Unlock()

	reply := realtime.Frame{Type: realtime.FrameConnected}
	if !ok {
		reply = realtime.Frame{Type: realtime.FrameConnectError, Error: &realtime.FrameError{Code: "unauthorized", Message: "invalid token"}}
	}
	raw, _ := json.Marshal(reply)
	if err := conn.write(raw); err != nil {
		return false
	}
	return ok
}

// Push sends an event to every live connection of ns and returns how many got it.
func (s *Server) Push(ns realtime.Namespace, event string, payload any) int {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	conns := append([]*serverConn(nil), s.conns[ns]...)
	s.mu.Unlock()

	data, err := realtime.EncodeEvent(event, payload, &seq)
	if err != nil {
		return 0
	}
	sent := 0
	for _, c := range conns {
		if c.write(data) == nil {
			sent++
		}
	}
	return sent
}

// DropAll closes every connection from the server side.
func (s *Server) DropAll() {
	s.mu.Lock()
	var all []*serverConn
	for _, list := range s.conns {
		all = append(all, list...)
	}
	s.mu.Unlock()
	for _, c := range all {
		_ = c.ws.Close()
	}
}

// ConnCount returns the number of live connections on ns.
func (s *Server) ConnCount(ns realtime.Namespace) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns[ns])
}

// Handshakes returns how many handshakes ns has seen.
func (s *Server) Handshakes(ns realtime.Namespace) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes[ns]
}

// Tokens returns the tokens presented in every handshake so far.
func (s *Server) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

// Events returns the events received on ns with the given name.
func (s *Server) Events(ns realtime.Namespace, event string) []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []json.RawMessage
	for _, r := range s.received {
		if r.Namespace == ns && r.Event == event {
			out = append(out, r.Payload)
		}
	}
	return out
}

// WaitFor blocks until cond holds or timeout elapses. cond runs without the
// server lock held.
func (s *Server) WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		changed := s.changed
		s.mu.Unlock()
		if cond() {
			return true
		}
		select {
		case <-changed:
		case <-time.After(10 * time.Millisecond):
		case <-deadline.C:
			return cond()
		}
	}
}

// WaitConns waits until ns has n live connections.
func (s *Server) WaitConns(ns realtime.Namespace, n int, timeout time.Duration) bool {
	return s.WaitFor(timeout, func() bool { return s.ConnCount(ns) == n })
}

// WaitEvents waits for at least n events named event on ns.
func (s *Server) WaitEvents(ns realtime.Namespace, event string, n int, timeout time.Duration) ([]json.RawMessage, bool) {
	ok := s.WaitFor(timeout, func() bool { return len(s.Events(ns, event)) >= n })
	return s.Events(ns, event), ok
}
