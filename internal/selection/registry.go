package selection

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownHandle is returned for a handle that was never issued or has
// been dropped.
var ErrUnknownHandle = errors.New("unknown selection handle")

type entry struct {
	projectID string
	sel       *Selection
	touched   time.Time
}

// Registry maps selection handles to live selections. Each UI session owns
// its handle; there is no shared default selection.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Create issues a new handle scoped to projectID.
func (r *Registry) Create(projectID string) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.entries[id] = &entry{projectID: projectID, sel: New(), touched: time.Now()}
	r.mu.Unlock()
	return id
}

// With runs fn on the selection behind handle while holding the registry
// lock. The handle must belong to projectID.
func (r *Registry) With(handle, projectID string, fn func(*Selection)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[handle]
	if !ok || e.projectID != projectID {
		return ErrUnknownHandle
	}
	e.touched = time.Now()
	fn(e.sel)
	return nil
}

// Drop forgets a handle.
func (r *Registry) Drop(handle string) {
	r.mu.Lock()
	delete(r.entries, handle)
	r.mu.Unlock()
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Expire drops handles idle for longer than maxIdle and returns how many
// were removed.
func (r *Registry) Expire(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if e.touched.Before(cutoff) {
			delete(r.entries, id)
			n++
		}
	}
	return n
}
