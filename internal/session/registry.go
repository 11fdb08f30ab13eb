package session

import (
	"sync"

	"github.com/remote-agent-terminal/workspace-terminal/internal/model"
	"github.com/remote-agent-terminal/workspace-terminal/internal/pty"
)

// Entry binds a persisted session to its live process.
type Entry struct {
	Session *model.Session
	Handle  *pty.Handle
}

// Registry maps (user, project) keys to live sessions. It is the only
// state shared between connections.
type Registry struct {
	mu      sync.Mutex
	entries map[model.SessionKey]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[model.SessionKey]*Entry)}
}

// Put stores entry under key and returns the entry it replaced, if any.
func (r *Registry) Put(key model.SessionKey, entry *Entry) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.entries[key]
	r.entries[key] = entry
	return prev
}

// PutIfAbsent stores entry only when key is free or its process has
// already exited. It returns the occupying entry and false otherwise.
func (r *Registry) PutIfAbsent(key model.SessionKey, entry *Entry) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[key]; ok && existing.Handle.Alive() {
		return existing, false
	}
	r.entries[key] = entry
	return entry, true
}

// Get returns the entry stored under key.
func (r *Registry) Get(key model.SessionKey) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	return e, ok
}

// Remove deletes the entry under key only if it still refers to handle,
// so a stale connection never evicts a newer session.
func (r *Registry) Remove(key model.SessionKey, handle *pty.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok || e.Handle != handle {
		return false
	}
	delete(r.entries, key)
	return true
}

// FindBySessionID returns the live entry whose session has the given ID.
func (r *Registry) FindBySessionID(id string) (model.SessionKey, *Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, e := range r.entries {
		if e.Session.ID == id {
			return k, e, true
		}
	}
	return model.SessionKey{}, nil, false
}

// Entries returns a snapshot of every entry.
func (r *Registry) Entries() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	return entries
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
