// Package registry tracks live tracer instances by stable id. It holds weak
// back-references only: registration never keeps an instance alive, and
// entries are cleaned up automatically when the instance is collected. The
// registry is the lookup side of decorator auto-discovery.
package registry

import (
	"runtime"
	"sync"
	"weak"
)

// Registry maps ids to weak references of live instances. The generic
// parameter keeps this package free of a dependency on the tracer type,
// which would otherwise close a tracer -> registry -> tracer cycle.
type Registry[T any] struct {
	mu        sync.RWMutex
	items     map[string]weak.Pointer[T]
	defaultID string
}

// New creates an empty Registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		items: make(map[string]weak.Pointer[T]),
	}
}

// Register adds v under id, replacing any previous entry. A cleanup is
// attached so the entry disappears when v is collected; explicit
// Unregister at shutdown remains the normal path.
func (r *Registry[T]) Register(id string, v *T) {
	p := weak.Make(v)
	r.mu.Lock()
	r.items[id] = p
	r.mu.Unlock()

	// The cleanup captures the weak pointer, never v itself, and only
	// evicts the entry it belongs to: the id may have been re-registered
	// to a newer instance by the time the old one is collected.
	runtime.AddCleanup(v, func(id string) {
		r.unregisterIf(id, p)
	}, id)
}

// unregisterIf removes id only while it still maps to p.
func (r *Registry[T]) unregisterIf(id string, p weak.Pointer[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.items[id]; ok && cur == p {
		delete(r.items, id)
		if r.defaultID == id {
			r.defaultID = ""
		}
	}
}

// Unregister removes the entry for id. Removing an unknown id is a no-op.
func (r *Registry[T]) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	if r.defaultID == id {
		r.defaultID = ""
	}
}

// Lookup resolves id to a live instance. A registered-but-collected entry
// reads as absent and is removed.
func (r *Registry[T]) Lookup(id string) (*T, bool) {
	r.mu.RLock()
	p, ok := r.items[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	v := p.Value()
	if v == nil {
		r.unregisterIf(id, p)
		return nil, false
	}
	return v, true
}

// SetDefault marks id as the process default instance. The id does not need
// to be registered yet.
func (r *Registry[T]) SetDefault(id string) {
	r.mu.Lock()
	r.defaultID = id
	r.mu.Unlock()
}

// Default resolves the process default instance, if one is set and alive.
func (r *Registry[T]) Default() (*T, bool) {
	r.mu.RLock()
	id := r.defaultID
	r.mu.RUnlock()
	if id == "" {
		return nil, false
	}
	return r.Lookup(id)
}

// Len returns the number of registered entries, including any whose
// referent has been collected but not yet cleaned up.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
