// Package cache provides the bounded, time-limited set used to drop message
// events that were already applied locally.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Default bounds for a DedupeCache.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 2048
)

// DedupeCache remembers keys for a TTL, evicting the least recently seen key
// when MaxSize is exceeded.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	order   *list.List
	entries map[string]*list.Element
}

type entry struct {
	key  string
	seen time.Time
}

// DedupeCacheOptions configures the cache. Zero values use the defaults;
// a negative TTL disables expiry.
type DedupeCacheOptions struct {
	TTL     time.Duration
	MaxSize int
}

// NewDedupeCache creates a cache.
func NewDedupeCache(opts DedupeCacheOptions) *DedupeCache {
	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &DedupeCache{
		ttl:     ttl,
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Check reports whether key was already seen and records it.
func (c *DedupeCache) Check(key string) bool {
	return c.CheckAt(key, time.Now())
}

// CheckAt is Check with an explicit clock.
func (c *DedupeCache) CheckAt(key string, now time.Time) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dup := c.liveLocked(key, now)
	c.markLocked(key, now)
	return dup
}

// Mark records key without reporting whether it was present.
func (c *DedupeCache) Mark(key string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, time.Now())
}

// Contains reports whether key is present and unexpired, without refreshing it.
func (c *DedupeCache) Contains(key string) bool {
	return c.ContainsAt(key, time.Now())
}

// ContainsAt is Contains with an explicit clock.
func (c *DedupeCache) ContainsAt(key string, now time.Time) bool {
	if key == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key, now)
}

func (c *DedupeCache) liveLocked(key string, now time.Time) bool {
	el, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.ttl > 0 && now.Sub(el.Value.(*entry).seen) >= c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		return false
	}
	return true
}

func (c *DedupeCache) markLocked(key string, now time.Time) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*entry).seen = now
		c.order.MoveToBack(el)
	} else {
		c.entries[key] = c.order.PushBack(&entry{key: key, seen: now})
	}

	for c.order.Len() > c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}
}

// Remove forgets key.
func (c *DedupeCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Clear forgets every key.
func (c *DedupeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// Size returns the number of stored keys, expired ones included until touched.
func (c *DedupeCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// MessageKey scopes a message id to its conversation, e.g. "chat:<peer>:<id>"
// or "group:<group>:<id>". An empty id yields an empty key.
func MessageKey(kind, scope, messageID string) string {
	if messageID == "" {
		return ""
	}
	return kind + ":" + scope + ":" + messageID
}
