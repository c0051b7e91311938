// Package registry implements the sparse id→object maps spec.md §4.7 and
// §G describe: databases, prepared statements, and connected clients. Ids
// come from a monotonically increasing atomic counter and are never reused
// within a process lifetime; lookups return a stable pointer.
//
// This is a simplified descendant of the teacher's eventloop registry: that
// type exists to scavenge short-lived promises via weak pointers and a
// compacting ring buffer, which is the wrong shape here — our entries are
// long-lived handles removed only by an explicit Delete (a FINALIZE request
// deletes its statement; database entries are never deleted), not
// ephemeral values a GC needs to help reclaim (see DESIGN.md).
package registry

import (
	"sync"
	"sync/atomic"
)

// WireID truncates a registry id to the uint32 the wire protocol carries
// (spec.md §4.7: "truncated to uint32 on the wire").
func WireID(id uint64) uint32 { return uint32(id) }

// Registry is a sparse id→*T map, keyed by its own monotonic atomic
// counter (spec.md §9: "the id generator is... an atomic counter owned by
// a singleton registry"; one counter per registry, e.g. dbs and statements
// each start at 0 independently — see spec.md §8 scenarios 1 and 3). The
// zero value is ready to use.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries map[uint64]*T
	next    atomic.Uint64
}

// NextID returns a fresh, registry-local unique id without storing
// anything — used when an id must be reserved before the entry it names is
// fully constructed.
func (r *Registry[T]) NextID() uint64 {
	return r.next.Add(1) - 1
}

// Insert assigns v a fresh id and stores it, returning the id.
func (r *Registry[T]) Insert(v *T) uint64 {
	id := r.NextID()
	r.mu.Lock()
	if r.entries == nil {
		r.entries = make(map[uint64]*T)
	}
	r.entries[id] = v
	r.mu.Unlock()
	return id
}

// Get returns the entry stored under id, and whether it was found.
func (r *Registry[T]) Get(id uint64) (*T, bool) {
	r.mu.RLock()
	v, ok := r.entries[id]
	r.mu.RUnlock()
	return v, ok
}

// Delete removes the entry stored under id, if any. Deleting an id does not
// make it eligible for reuse — ids are handed out once, forever.
func (r *Registry[T]) Delete(id uint64) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Len reports the number of live entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Range calls fn for every live entry. fn must not call back into the
// Registry.
func (r *Registry[T]) Range(fn func(id uint64, v *T) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, v := range r.entries {
		if !fn(id, v) {
			return
		}
	}
}
