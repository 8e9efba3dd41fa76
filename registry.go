package canopy

import (
	"sync"
	"weak"
)

// DrawableRegistry maps node ids to drawables through weak pointers. It
// never owns a drawable: a drawable lives while its node holds it, and an
// entry whose drawable has been collected is pruned on the next lookup miss.
// The lock is held only around map access.
type DrawableRegistry struct {
	mu      sync.Mutex
	entries map[NodeID]weak.Pointer[Drawable]
	diag    *Diagnostics
}

// NewDrawableRegistry returns an empty registry.
func NewDrawableRegistry(diag *Diagnostics) *DrawableRegistry {
	return &DrawableRegistry{
		entries: make(map[NodeID]weak.Pointer[Drawable]),
		diag:    diag,
	}
}

// Lookup returns the live drawable for id, or nil. A dead entry is erased.
func (r *DrawableRegistry) Lookup(id NodeID) *Drawable {
	r.mu.Lock()
	defer r.mu.Unlock()
	wp, ok := r.entries[id]
	if !ok {
		return nil
	}
	d := wp.Value()
	if d == nil || d.IsReleased() {
		delete(r.entries, id)
		return nil
	}
	return d
}

// OnGenerate returns the drawable for id, creating and registering one when
// none is alive.
func (r *DrawableRegistry) OnGenerate(id NodeID, kind NodeKind) *Drawable {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wp, ok := r.entries[id]; ok {
		if d := wp.Value(); d != nil && !d.IsReleased() {
			return d
		}
	}
	d := newDrawable(id, kind, r.diag)
	r.entries[id] = weak.Make(d)
	return d
}

// Prune erases the entry for id if its drawable is gone or released. A live
// drawable registered under a reused id is kept.
func (r *DrawableRegistry) Prune(id NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wp, ok := r.entries[id]; ok {
		if d := wp.Value(); d == nil || d.IsReleased() {
			delete(r.entries, id)
		}
	}
}

// Remove erases the entry for id.
func (r *DrawableRegistry) Remove(id NodeID) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Len returns the number of entries, dead ones included.
func (r *DrawableRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
