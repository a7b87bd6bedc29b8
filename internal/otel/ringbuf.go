package otel

import "sync"

// DefaultRingSize is the default ring capacity.
const DefaultRingSize = 1024

// Ring is a fixed-size circular buffer, safe for concurrent use. The offload
// pool keeps its recent calls in one; the trace logger keeps events in another.
type Ring[T any] struct {
	mu    sync.Mutex
	buf   []T
	head  int // next write position
	count int
}

// NewRing creates a ring with the given capacity.
func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring[T]{buf: make([]T, size)}
}

// Push adds v, overwriting the oldest entry when full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.mu.Unlock()
}

// Snapshot returns every entry, oldest first.
func (r *Ring[T]) Snapshot() []T {
	return r.Last(r.Cap())
}

// Last returns up to n most recent entries, oldest first. It returns nil when
// n <= 0 or the ring is empty.
func (r *Ring[T]) Last(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || r.count == 0 {
		return nil
	}
	if n > r.count {
		n = r.count
	}

	size := len(r.buf)
	out := make([]T, n)
	start := (r.head - n + size) % size
	if start+n <= size {
		copy(out, r.buf[start:start+n])
	} else {
		k := copy(out, r.buf[start:])
		copy(out[k:], r.buf[:n-k])
	}
	return out
}

// Len returns the number of entries held.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Clear drops every entry.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.count = 0, 0
	r.mu.Unlock()
}
