package store

import "sync"

// registry caches resource handles by id, so metadata resolved through one
// handle (such as a container's key schema) is reused by later lookups.
type registry[T any] struct {
	mu    sync.Mutex
	items map[string]*T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{items: make(map[string]*T)}
}

// get returns the handle for id, creating it on first use.
func (r *registry[T]) get(id string, create func() *T) *T {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.items[id]; ok {
		return h
	}
	h := create()
	r.items[id] = h
	return h
}

// remove drops the handle for id. Existing references stay usable.
func (r *registry[T]) remove(id string) {
	r.mu.Lock()
	delete(r.items, id)
	r.mu.Unlock()
}

// clear drops every handle.
func (r *registry[T]) clear() {
	r.mu.Lock()
	r.items = make(map[string]*T)
	r.mu.Unlock()
}

// len returns the number of cached handles.
func (r *registry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
