package typing

import (
	"sort"
	"sync"
	"time"
)

// DefaultGrace bounds how long a typing:true without a matching false counts.
const DefaultGrace = 6 * time.Second

// State is the set of peers currently typing, keyed by user id.
// Entries older than the grace window read as not typing, so a lost
// typing:false event cannot leave a peer typing forever.
type State struct {
	mu    sync.Mutex
	grace time.Duration
	now   func() time.Time
	peers map[string]time.Time
}

// NewState creates an empty set. A non-positive grace uses DefaultGrace.
func NewState(grace time.Duration) *State {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &State{
		grace: grace,
		now:   time.Now,
		peers: make(map[string]time.Time),
	}
}

// Set records a typing event for peer. It reports whether the visible state changed.
func (s *State) Set(peer string, isTyping bool) bool {
	if peer == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	was := s.liveLocked(peer, now)
	if isTyping {
		s.peers[peer] = now
	} else {
		delete(s.peers, peer)
	}
	return was != isTyping
}

func (s *State) liveLocked(peer string, now time.Time) bool {
	at, ok := s.peers[peer]
	if !ok {
		return false
	}
	if now.Sub(at) >= s.grace {
		delete(s.peers, peer)
		return false
	}
	return true
}

// IsTyping reports whether peer is typing.
func (s *State) IsTyping(peer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked(peer, s.now())
}

// Peers returns the typing peers in sorted order.
func (s *State) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]string, 0, len(s.peers))
	for peer := range s.peers {
		if s.liveLocked(peer, now) {
			out = append(out, peer)
		}
	}
	sort.Strings(out)
	return out
}

// Count returns the number of typing peers.
func (s *State) Count() int {
	return len(s.Peers())
}

// Reset clears the set.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = make(map[string]time.Time)
}
