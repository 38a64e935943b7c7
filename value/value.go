// Package value implements the refcounted value handle the cache package
// builds on: an immutable key/value record that is leased while a Finding
// holds a reference to it, and is only safe to free once its refcount
// drains to zero.
//
// The bucket and cache machinery in package cache never copies key/value
// bytes on its own; it always goes through Handle so that lease/release
// accounting stays centralized and freeing races are governed by a single
// acquire/release protocol.
package value

import (
	"bytes"
	"sync/atomic"
)

// refcount wraps an atomic counter. Increment/decrement use acquire/release
// ordering semantics (Go's sync/atomic operations are already sequentially
// consistent, which is a strictly stronger guarantee): an increment that
// happens-before a matching decrement ensures a reader spinning on
// IsFreeable never observes freeable==true while a lease is still in flight.
type refcount struct{ n atomic.Int64 }

func (r *refcount) incr()     { r.n.Add(1) }
func (r *refcount) decr()     { r.n.Add(-1) }
func (r *refcount) load() int64 { return r.n.Load() }

// Handle is an immutable key/value record with reference counting.
// A Handle is safe for concurrent Lease/Release from multiple goroutines;
// mutating Key/Value after construction is not supported — build a new
// Handle instead.
type Handle struct {
	key  []byte
	val  []byte
	refs refcount
	// size is precomputed at construction time and never recomputed; a
	// stable answer for the handle's lifetime matters more than byte-exact
	// accounting.
	size uint64
}

// New constructs a Handle with an initial refcount of zero. Callers that
// intend to hold a reference (e.g. via Finding) must Lease it themselves.
func New(key, val []byte) *Handle {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), val...)
	return &Handle{
		key:  k,
		val:  v,
		size: uint64(len(k) + len(v)),
	}
}

// Key returns the handle's key bytes. The returned slice must not be mutated.
func (h *Handle) Key() []byte { return h.key }

// Value returns the handle's value bytes. The returned slice must not be mutated.
func (h *Handle) Value() []byte { return h.val }

// Size reports the logical byte size charged against a cache's usage.
func (h *Handle) Size() uint64 { return h.size }

// KeyMatches reports whether this handle's key equals the given bytes.
func (h *Handle) KeyMatches(key []byte) bool { return bytes.Equal(h.key, key) }

// Lease increments the reference count. Call once per outstanding Finding;
// a bucket slot merely storing a Handle does not itself hold a lease, so
// that IsFreeable reports true (and the entry becomes evictable) as soon
// as the last caller inspecting it releases it.
func (h *Handle) Lease() { h.refs.incr() }

// Release decrements the reference count. The handle must not be touched
// again by the releasing goroutine after this call.
func (h *Handle) Release() { h.refs.decr() }

// IsFreeable reports whether the refcount has drained to zero, i.e. no
// bucket slot and no outstanding Finding still references this handle.
func (h *Handle) IsFreeable() bool { return h.refs.load() == 0 }

// Copy returns a brand-new, independently-refcounted deep copy of the
// handle's key/value bytes. Used by Finding.Copy when a caller needs the
// data to outlive the Finding's scope.
func (h *Handle) Copy() *Handle { return New(h.key, h.val) }
