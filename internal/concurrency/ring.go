// File: internal/concurrency/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RingBuffer is a bounded circular buffer with atomic head/tail,
// padded to prevent false sharing.

package concurrency

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// RingBuffer is a lock-free ring buffer (single-producer, single-consumer safe).
// Multi-producer users must serialize Enqueue themselves.
type RingBuffer[T any] struct {
	data []T
	mask uint64
	head atomic.Uint64
	_    cpu.CacheLinePad
	tail atomic.Uint64
	_    cpu.CacheLinePad
}

// NewRingBuffer allocates a ring buffer holding at least size items. The
// backing array is rounded up to a power of two.
func NewRingBuffer[T any](size uint64) *RingBuffer[T] {
	if size == 0 {
		panic("concurrency: ring size must be positive")
	}
	n := NextPowerOfTwo(size)
	return &RingBuffer[T]{
		data: make([]T, n),
		mask: n - 1,
	}
}

// NextPowerOfTwo returns the smallest power of two >= n (1 for n == 0).
func NextPowerOfTwo(n uint64) uint64 {
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// Enqueue adds item; returns false if full.
func (r *RingBuffer[T]) Enqueue(item T) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if tail-head >= uint64(len(r.data)) {
		return false
	}
	r.data[tail&r.mask] = item
	r.tail.Store(tail + 1)
	return true
}

// Dequeue removes and returns item; ok false if empty.
func (r *RingBuffer[T]) Dequeue() (T, bool) {
	var zero T
	head := r.head.Load()
	tail := r.tail.Load()
	if head >= tail {
		return zero, false
	}
	slot := &r.data[head&r.mask]
	item := *slot
	*slot = zero
	r.head.Store(head + 1)
	return item, true
}

// Len returns number of items currently in buffer.
func (r *RingBuffer[T]) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	return int(tail - head)
}

// Cap returns fixed buffer capacity.
func (r *RingBuffer[T]) Cap() int {
	return len(r.data)
}
