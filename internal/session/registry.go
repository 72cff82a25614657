package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"gamecore/internal/model"
)

// entry is the live record of one session. mu serializes mutation; busy
// implements the reject policy for overlapping intents.
type entry struct {
	mu    sync.Mutex
	busy  atomic.Bool
	sess  model.Session // guarded by mu
	local model.Player  // the participant acting through this process

	snap    atomic.Pointer[model.Session]
	leaving atomic.Bool

	// cancel interrupts whatever the session is waiting on: an AI think
	// timer or an envelope in flight to the relay.
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

func newEntry(s model.Session, local model.Player) *entry {
	e := &entry{sess: s, local: local}
	e.publish()
	return e
}

// publish makes the current session visible to readers. Caller holds mu.
func (e *entry) publish() {
	c := e.sess.Clone()
	e.snap.Store(&c)
}

func (e *entry) snapshot() model.Session {
	return e.snap.Load().Clone()
}

func (e *entry) setCancel(cancel context.CancelFunc) {
	e.cancelMu.Lock()
	e.cancel = cancel
	e.cancelMu.Unlock()
}

// interrupt cancels a pending AI think timer or relay send, if any.
func (e *entry) interrupt() {
	e.cancelMu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.cancelMu.Unlock()
}

// Registry is the in-memory index of live sessions.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Get returns a copy of the session with the given id.
func (r *Registry) Get(id string) (model.Session, bool) {
	e, ok := r.entry(id)
	if !ok {
		return model.Session{}, false
	}
	return e.snapshot(), true
}

// List returns copies of every live session, oldest first.
func (r *Registry) List() []model.Session {
	entries := r.all()
	out := make([]model.Session, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) entry(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// add registers e unless the id is taken, returning the entry now stored.
func (r *Registry) add(id string, e *entry) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[id]; ok {
		return cur, false
	}
	r.entries[id] = e
	return e, true
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

func (r *Registry) all() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
