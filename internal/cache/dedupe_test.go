package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNewDedupeCache_Defaults(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{})
	if c.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", c.ttl, DefaultTTL)
	}
	if c.maxSize != DefaultMaxSize {
		t.Errorf("maxSize = %d, want %d", c.maxSize, DefaultMaxSize)
	}
}

func TestDedupeCache_Check(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{TTL: time.Minute, MaxSize: 10})

	if c.Check("m1") {
		t.Error("first Check should report unseen")
	}
	if !c.Check("m1") {
		t.Error("second Check should report duplicate")
	}
	if c.Check("") {
		t.Error("empty key is never a duplicate")
	}
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}
}

func TestDedupeCache_TTL(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{TTL: time.Minute, MaxSize: 10})
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	c.CheckAt("m1", start)
	if !c.ContainsAt("m1", start.Add(59*time.Second)) {
		t.Error("expected key within TTL")
	}
	if c.ContainsAt("m1", start.Add(time.Minute)) {
		t.Error("expected key expired at TTL")
	}
	if c.CheckAt("m1", start.Add(2*time.Minute)) {
		t.Error("expired key should not be a duplicate")
	}
}

func TestDedupeCache_NoExpiry(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{TTL: -1, MaxSize: 10})
	start := time.Now()
	c.CheckAt("m1", start)
	if !c.ContainsAt("m1", start.Add(24*time.Hour)) {
		t.Error("negative TTL should never expire")
	}
}

func TestDedupeCache_EvictsLeastRecent(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{TTL: time.Hour, MaxSize: 3})
	now := time.Now()

	c.CheckAt("a", now)
	c.CheckAt("b", now)
	c.CheckAt("c", now)
	// Touch "a" so "b" becomes the oldest.
	c.CheckAt("a", now)
	c.CheckAt("d", now)

	if c.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", c.Size())
	}
	if c.ContainsAt("b", now) {
		t.Error("expected b evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if !c.ContainsAt(k, now) {
			t.Errorf("expected %s retained", k)
		}
	}
}

func TestDedupeCache_MarkRemoveClear(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{})
	c.Mark("m1")
	c.Mark("")
	if !c.Contains("m1") || c.Size() != 1 {
		t.Fatal("Mark did not record key")
	}
	c.Remove("m1")
	if c.Contains("m1") {
		t.Error("Remove did not forget key")
	}
	c.Mark("m2")
	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Size() after Clear = %d", c.Size())
	}
}

func TestMessageKey(t *testing.T) {
	if got := MessageKey("chat", "u1", "m1"); got != "chat:u1:m1" {
		t.Errorf("MessageKey = %q", got)
	}
	if got := MessageKey("group", "g1", ""); got != "" {
		t.Errorf("MessageKey with empty id = %q", got)
	}
}

func TestDedupeCache_Concurrency(t *testing.T) {
	c := NewDedupeCache(DedupeCacheOptions{TTL: time.Minute, MaxSize: 100})
	var wg sync.WaitGroup
	dups := make([]int, 10)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if c.Check(fmt.Sprintf("m%d", i)) {
					dups[g]++
				}
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for _, n := range dups {
		total += n
	}
	// Each of the 50 keys is new exactly once.
	if total != 450 {
		t.Errorf("duplicates = %d, want 450", total)
	}
}
