// Package store holds the client-side state fed by the realtime channels:
// location and nearby users, direct conversations, and the open group.
//
// Every store serializes its mutations behind a mutex and notifies
// subscribers with a fresh snapshot after the lock is released. Invalid
// mutations are no-ops.
package store

import "sync"

type listeners[S any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(S)
}

func (l *listeners[S]) add(fn func(S)) func() {
	if fn == nil {
		return func() {}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(S))
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners[S]) notify(snapshot func() S) {
	l.mu.Lock()
	if len(l.fns) == 0 {
		l.mu.Unlock()
		return
	}
	fns := make([]func(S), 0, len(l.fns))
	// Subscription order.
	for i := 0; i < l.next; i++ {
		if fn, ok := l.fns[i]; ok {
			fns = append(fns, fn)
		}
	}
	l.mu.Unlock()

	s := snapshot()
	for _, fn := range fns {
		fn(s)
	}
}
