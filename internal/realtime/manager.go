// Package realtime maintains the four long-lived event channels of a session
// over websockets. Each channel reconnects on its own with backoff and keeps
// its listeners across socket drops.
package realtime

import (
	"fmt"
	"sync"
)

// Namespace names one channel.
type Namespace string

const (
	Location      Namespace = "location"
	Chat          Namespace = "chat"
	Groups        Namespace = "groups"
	Notifications Namespace = "notifications"
)

// Namespaces lists every channel.
func Namespaces() []Namespace {
	return []Namespace{Location, Chat, Groups, Notifications}
}

// Valid reports whether ns is one of the four channels.
func (ns Namespace) Valid() bool {
	switch ns {
	case Location, Chat, Groups, Notifications:
		return true
	}
	return false
}

// TokenSource supplies the access token captured at connect time.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// Manager owns at most one connection per channel name.
type Manager struct {
	opts   Options
	tokens TokenSource

	mu    sync.Mutex
	conns map[Namespace]*Conn
}

// NewManager creates a manager. Connections are created lazily by Connect.
func NewManager(opts Options, tokens TokenSource) *Manager {
	return &Manager{
		opts:   opts.withDefaults(),
		tokens: tokens,
		conns:  make(map[Namespace]*Conn),
	}
}

// Connect returns the channel's connection, creating one when none exists or
// the previous one is closed. A new connection reads the token once, now.
func (m *Manager) Connect(name Namespace) (*Conn, error) {
	if !name.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conns[name]; ok && c.State() != StateClosed {
		return c, nil
	}

	token := ""
	if m.tokens != nil {
		token = m.tokens.Token()
	}
	if token == "" {
		return nil, ErrNoCredential
	}

	c := newConn(name, token, m.opts)
	m.conns[name] = c
	c.start()
	m.opts.Logger.Debug("channel created", "channel", string(name))
	return c, nil
}

// Get returns the channel's connection or nil.
func (m *Manager) Get(name Namespace) *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[name]
}

// Disconnect closes and forgets the channel's connection. Its listeners are
// dropped with it.
func (m *Manager) Disconnect(name Namespace) {
	m.mu.Lock()
	c := m.conns[name]
	delete(m.conns, name)
	m.mu.Unlock()

	if c != nil {
		c.Close()
	}
}

// DisconnectAll closes every connection.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[Namespace]*Conn)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()
}
