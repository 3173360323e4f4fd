// File: internal/concurrency/injector.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Injector is the shared FIFO run queue fed by non-worker goroutines and
// by local queue overflow.

package concurrency

import (
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
	"golang.org/x/sys/cpu"
)

// Injector is a multi-producer multi-consumer FIFO. Len is lock-free so
// idle workers can poll it cheaply.
type Injector[T any] struct {
	n atomic.Int64
	_ cpu.CacheLinePad

	mu     sync.Mutex
	q      deque.Deque[*T]
	closed bool
}

// NewInjector returns an empty injector.
func NewInjector[T any]() *Injector[T] {
	return &Injector[T]{}
}

// Push appends t. It returns false once the injector is closed.
func (in *Injector[T]) Push(t *T) bool {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return false
	}
	in.q.PushBack(t)
	in.n.Add(1)
	in.mu.Unlock()
	return true
}

// PushBatch appends batch in order. Items are dropped once closed.
func (in *Injector[T]) PushBatch(batch []*T) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return false
	}
	for _, t := range batch {
		in.q.PushBack(t)
	}
	in.n.Add(int64(len(batch)))
	return true
}

// Pop removes the oldest item, or returns nil.
func (in *Injector[T]) Pop() *T {
	if in.n.Load() == 0 {
		return nil
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.q.Len() == 0 {
		return nil
	}
	in.n.Add(-1)
	return in.q.PopFront()
}

// PopInto moves up to max items into dst, returning the first of them
// directly. Used by a worker refilling its local queue.
func (in *Injector[T]) PopInto(dst *LocalQueue[T], max int) *T {
	if in.n.Load() == 0 {
		return nil
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	n := in.q.Len()
	if n == 0 {
		return nil
	}
	if n > max {
		n = max
	}
	if room := LocalQueueCapacity - dst.Len(); n-1 > room {
		n = room + 1
	}
	first := in.q.PopFront()
	for i := 1; i < n; i++ {
		dst.Push(in.q.PopFront(), in.requeueLocked)
	}
	in.n.Add(-int64(n))
	return first
}

func (in *Injector[T]) requeueLocked(batch []*T) {
	for _, t := range batch {
		in.q.PushBack(t)
	}
	in.n.Add(int64(len(batch)))
}

// Len returns the number of queued items.
func (in *Injector[T]) Len() int { return int(in.n.Load()) }

// IsEmpty reports whether nothing is queued.
func (in *Injector[T]) IsEmpty() bool { return in.n.Load() == 0 }

// Close rejects further pushes and returns everything still queued.
func (in *Injector[T]) Close() []*T {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	out := make([]*T, 0, in.q.Len())
	for in.q.Len() > 0 {
		out = append(out, in.q.PopFront())
	}
	in.n.Store(0)
	return out
}
