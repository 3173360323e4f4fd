// File: internal/concurrency/local_queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// LocalQueue is the per-worker run queue: one owner pushes and pops,
// any number of thieves steal half of it at a time.

package concurrency

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// LocalQueueCapacity is the fixed number of slots in a LocalQueue.
const LocalQueueCapacity = 256

const localMask = LocalQueueCapacity - 1

// LocalQueue is a bounded work-stealing ring.
//
// head packs two cursors: steal (high 32 bits) marks the first slot still
// owned by an in-flight thief, real (low 32 bits) the next slot to pop.
// They differ only while a steal copies slots out.
type LocalQueue[T any] struct {
	head atomic.Uint64
	_    cpu.CacheLinePad
	tail atomic.Uint32
	_    cpu.CacheLinePad
	buf  [LocalQueueCapacity]atomic.Pointer[T]
}

// NewLocalQueue returns an empty queue.
func NewLocalQueue[T any]() *LocalQueue[T] {
	return &LocalQueue[T]{}
}

func unpack(v uint64) (steal, real uint32) { return uint32(v >> 32), uint32(v) }

func pack(steal, real uint32) uint64 { return uint64(steal)<<32 | uint64(real) }

// Len is a racy snapshot of the number of queued items.
func (q *LocalQueue[T]) Len() int {
	_, real := unpack(q.head.Load())
	return int(q.tail.Load() - real)
}

// IsEmpty reports whether nothing is queued.
func (q *LocalQueue[T]) IsEmpty() bool { return q.Len() == 0 }

// HasStealable reports whether a thief could take anything.
func (q *LocalQueue[T]) HasStealable() bool { return q.Len() > 1 }

// Push appends t. Owner only. When the ring is full half of it, plus t,
// is handed to overflow in FIFO order.
func (q *LocalQueue[T]) Push(t *T, overflow func(batch []*T)) {
	for {
		head := q.head.Load()
		steal, real := unpack(head)
		tail := q.tail.Load()

		if tail-steal < LocalQueueCapacity {
			q.buf[tail&localMask].Store(t)
			q.tail.Store(tail + 1)
			return
		}
		if steal != real {
			// A thief is draining; it will free space shortly.
			overflow([]*T{t})
			return
		}
		if q.pushOverflow(t, head, real, overflow) {
			return
		}
	}
}

func (q *LocalQueue[T]) pushOverflow(t *T, head uint64, real uint32, overflow func([]*T)) bool {
	const half = LocalQueueCapacity / 2
	if !q.head.CompareAndSwap(head, pack(real+half, real+half)) {
		return false
	}
	batch := make([]*T, 0, half+1)
	for i := uint32(0); i < half; i++ {
		slot := &q.buf[(real+i)&localMask]
		batch = append(batch, slot.Load())
		slot.Store(nil)
	}
	batch = append(batch, t)
	overflow(batch)
	return true
}

// Pop removes the oldest item. Owner only.
func (q *LocalQueue[T]) Pop() *T {
	for {
		head := q.head.Load()
		steal, real := unpack(head)
		if real == q.tail.Load() {
			return nil
		}
		next := real + 1
		var packed uint64
		if steal == real {
			packed = pack(next, next)
		} else {
			packed = pack(steal, next)
		}
		if q.head.CompareAndSwap(head, packed) {
			return q.buf[real&localMask].Swap(nil)
		}
	}
}

// StealInto moves roughly half of q into dst, which must be owned by the
// caller, and returns one of the stolen items directly. It returns nil when
// there was nothing to take, another thief was active, or dst is already
// more than half full.
func (q *LocalQueue[T]) StealInto(dst *LocalQueue[T]) *T {
	dstTail := dst.tail.Load()
	dstSteal, _ := unpack(dst.head.Load())
	if dstTail-dstSteal > LocalQueueCapacity/2 {
		return nil
	}

	n := q.claimInto(dst, dstTail)
	if n == 0 {
		return nil
	}
	n--
	ret := dst.buf[(dstTail+n)&localMask].Swap(nil)
	if n > 0 {
		dst.tail.Store(dstTail + n)
	}
	return ret
}

func (q *LocalQueue[T]) claimInto(dst *LocalQueue[T], dstTail uint32) uint32 {
	var (
		next  uint64
		n     uint32
		first uint32
	)
	prev := q.head.Load()
	for {
		steal, real := unpack(prev)
		if steal != real {
			return 0
		}
		n = q.tail.Load() - real
		n -= n / 2
		if n == 0 {
			return 0
		}
		if n > LocalQueueCapacity/2 {
			n = LocalQueueCapacity / 2
		}
		next = pack(steal, real+n)
		if q.head.CompareAndSwap(prev, next) {
			first = steal
			break
		}
		prev = q.head.Load()
	}

	for i := uint32(0); i < n; i++ {
		src := &q.buf[(first+i)&localMask]
		dst.buf[(dstTail+i)&localMask].Store(src.Swap(nil))
	}

	// Hand the copied slots back to the owner.
	prev = next
	for {
		_, real := unpack(prev)
		if q.head.CompareAndSwap(prev, pack(real, real)) {
			return n
		}
		prev = q.head.Load()
	}
}

// Drain pops everything, passing each item to fn. Owner only.
func (q *LocalQueue[T]) Drain(fn func(*T)) int {
	n := 0
	for t := q.Pop(); t != nil; t = q.Pop() {
		fn(t)
		n++
	}
	return n
}
