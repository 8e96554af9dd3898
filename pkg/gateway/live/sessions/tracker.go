package sessions

import (
	"context"
	"sync"
)

// Control lets the server reach a live connection during shutdown.
type Control struct {
	Cancel func()
	Warn   func(code, message string) error
}

// Tracker follows every open voice connection so shutdown can warn, cancel
// and wait for them. A connection is tracked for its whole lifetime, while
// Registry entries come and go with each start frame.
type Tracker struct {
	mu    sync.Mutex
	conns map[string]*Control
	// idle is closed whenever conns is empty.
	idle chan struct{}
}

func NewTracker() *Tracker {
	idle := make(chan struct{})
	close(idle)
	return &Tracker{conns: make(map[string]*Control), idle: idle}
}

// Track registers a connection and returns its idempotent untrack func.
// Tracking an id again replaces the earlier entry; the stale untrack then
// does nothing.
func (t *Tracker) Track(connID string, c Control) (untrack func()) {
	if t == nil {
		return func() {}
	}
	entry := &c

	t.mu.Lock()
	if len(t.conns) == 0 {
		t.idle = make(chan struct{})
	}
	t.conns[connID] = entry
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.remove(connID, entry) })
	}
}

func (t *Tracker) remove(connID string, entry *Control) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[connID] != entry {
		return
	}
	delete(t.conns, connID)
	if len(t.conns) == 0 {
		close(t.idle)
	}
}

func (t *Tracker) Active() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *Tracker) snapshot() []Control {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Control, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, *c)
	}
	return out
}

// WarnAll sends a closing notice to every connection and returns how many
// were delivered. Callbacks run outside the lock.
func (t *Tracker) WarnAll(code, message string) (delivered int) {
	if t == nil {
		return 0
	}
	for _, c := range t.snapshot() {
		if c.Warn != nil && c.Warn(code, message) == nil {
			delivered++
		}
	}
	return delivered
}

func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	for _, c := range t.snapshot() {
		if c.Cancel != nil {
			c.Cancel()
			canceled++
		}
	}
	return canceled
}

// Wait blocks until no connection is tracked or ctx ends. It reports
// whether the tracker went idle.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return true
	case <-ctx.Done():
		return false
	}
}
