package sched

import "sync/atomic"

// TXRingSize is the default capacity of the ring between a build tasklet
// and its transmitter tasklet.
const TXRingSize = 128

// Ring is a single-producer/single-consumer lock-free ring buffer, sized
// to a power of two (default TXRingSize). Matches the teacher's
// atomics-over-mutexes idiom in hot paths (phc/pps_source.go).
type Ring[T any] struct {
	mask uint64
	buf  []T
	head atomic.Uint64 // next write index (producer-owned)
	tail atomic.Uint64 // next read index (consumer-owned)
}

// NewRing creates a Ring with capacity rounded up to the next power of two.
func NewRing[T any](capacity int) *Ring[T] {
	n := 1
	for n < capacity {
		n <<= 1
	}
	if n == 0 {
		n = 1
	}
	return &Ring[T]{
		mask: uint64(n - 1),
		buf:  make([]T, n),
	}
}

// Cap returns the ring's capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len returns the number of queued elements. Safe to call from either
// side; may be stale by one element under concurrent access from the
// other side.
func (r *Ring[T]) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// EnqueueBulk enqueues as many of items as fit, returning the count
// accepted. Producer-only.
func (r *Ring[T]) EnqueueBulk(items []T) int {
	head := r.head.Load()
	tail := r.tail.Load()
	free := uint64(len(r.buf)) - (head - tail)
	n := uint64(len(items))
	if n > free {
		n = free
	}
	for i := uint64(0); i < n; i++ {
		r.buf[(head+i)&r.mask] = items[i]
	}
	r.head.Store(head + n)
	return int(n)
}

// DequeueBulk dequeues up to len(out) elements into out, returning the
// count filled. Consumer-only.
func (r *Ring[T]) DequeueBulk(out []T) int {
	head := r.head.Load()
	tail := r.tail.Load()
	avail := head - tail
	n := uint64(len(out))
	if n > avail {
		n = avail
	}
	for i := uint64(0); i < n; i++ {
		out[i] = r.buf[(tail+i)&r.mask]
	}
	r.tail.Store(tail + n)
	return int(n)
}
