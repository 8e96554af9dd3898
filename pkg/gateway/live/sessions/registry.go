// Package sessions owns the process-wide view of live voice sessions: the
// Registry pairing each connection with its upstream handle, and the Tracker
// used for graceful shutdown.
package sessions

import (
	"log/slog"
	"sync"
	"time"
)

// Handle is the upstream duplex session owned by a registry entry.
type Handle interface {
	Close() error
}

// Meta is the caller identity a session was started with.
type Meta struct {
	Locale     string
	UserID     string
	IsLoggedIn bool
}

// Snapshot is a copy of an entry; it never aliases registry state.
type Snapshot struct {
	ID        string
	Meta      Meta
	CreatedAt time.Time
	UpdatedAt time.Time
}

type entry struct {
	snap   Snapshot
	handle Handle
	once   sync.Once
}

// Registry maps connection ids to sessions. An entry and its handle live and
// die together: removing an entry always closes its handle, exactly once.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  *slog.Logger
	now     func() time.Time
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
		now:     time.Now,
	}
}

// Install stores h under id. Any existing entry for id is removed and its
// handle closed before h becomes visible.
func (r *Registry) Install(id string, meta Meta, h Handle) Snapshot {
	now := r.now()
	e := &entry{
		snap:   Snapshot{ID: id, Meta: meta, CreatedAt: now, UpdatedAt: now},
		handle: h,
	}
	for {
		r.mu.Lock()
		old, exists := r.entries[id]
		if !exists {
			r.entries[id] = e
			r.mu.Unlock()
			return e.snap
		}
		delete(r.entries, id)
		r.mu.Unlock()

		r.release(old, "superseded")
	}
}

// Remove deletes the entry for id and closes its handle. It reports whether
// an entry existed. A failing Close is logged; the entry is gone regardless.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.release(e, "removed")
	return true
}

func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Snapshot{}, false
	}
	return e.snap, true
}

// Touch bumps UpdatedAt. It reports false for unknown ids.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.snap.UpdatedAt = r.now()
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CloseAll removes every entry. Used on shutdown.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	all := make([]*entry, 0, len(r.entries))
	for id, e := range r.entries {
		all = append(all, e)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	for _, e := range all {
		r.release(e, "shutdown")
	}
	return len(all)
}

func (r *Registry) release(e *entry, reason string) {
	e.once.Do(func() {
		if e.handle == nil {
			return
		}
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("session handle close panicked", "session_id", e.snap.ID, "reason", reason, "panic", rec)
			}
		}()
		if err := e.handle.Close(); err != nil {
			r.logger.Warn("session handle close failed", "session_id", e.snap.ID, "reason", reason, "error", err)
			return
		}
		r.logger.Debug("session released", "session_id", e.snap.ID, "reason", reason)
	})
}
