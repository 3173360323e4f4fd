// File: mpsc/receiver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mpsc

import (
	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/rt"
)

// Receiver is the single consumer handle.
type Receiver[T any] struct {
	c *channel[T]
}

// Recv returns a future for the next value. Values arrive in FIFO order;
// after the last sender closes the buffer drains and then the result
// carries ErrClosed.
func (r *Receiver[T]) Recv() rt.Future[api.Result[T]] {
	return &recvFuture[T]{c: r.c}
}

// TryRecv takes a value without waiting. It fails with ErrEmpty, or
// ErrClosed once the channel is closed and drained.
func (r *Receiver[T]) TryRecv() (T, error) {
	c := r.c
	c.mu.Lock()
	v, ok := c.buf.pop()
	if ok {
		w := c.wakeSenderLocked()
		c.mu.Unlock()
		if w != nil {
			w.Wake()
		}
		return v, nil
	}
	closed := c.closed || c.rxClosed
	c.mu.Unlock()
	if closed {
		return v, ErrClosed
	}
	return v, ErrEmpty
}

// Close stops further sends and wakes waiting senders so they observe
// *SendError. Values already buffered can still be received.
func (r *Receiver[T]) Close() {
	c := r.c
	c.mu.Lock()
	if c.rxClosed {
		c.mu.Unlock()
		return
	}
	c.rxClosed = true
	ws := c.drainWaitersLocked()
	c.mu.Unlock()
	for _, w := range ws {
		w.Wake()
	}
}

// Len returns the number of buffered values.
func (r *Receiver[T]) Len() int {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.c.buf.len()
}

// Capacity returns the bound of the channel, 0 when unbounded.
func (r *Receiver[T]) Capacity() int { return r.c.capacity }

type recvFuture[T any] struct {
	c *channel[T]
}

func (f *recvFuture[T]) Poll(cx *rt.Context) (api.Result[T], bool) {
	c := f.c
	c.mu.Lock()
	if v, ok := c.buf.pop(); ok {
		w := c.wakeSenderLocked()
		c.mu.Unlock()
		if w != nil {
			w.Wake()
		}
		return api.Ok(v), true
	}
	if c.closed || c.rxClosed {
		c.mu.Unlock()
		return api.Fail[T](ErrClosed), true
	}
	c.rxWaker = cx.Waker()
	c.mu.Unlock()
	return api.Result[T]{}, false
}

// Drop forgets the registered waker.
func (f *recvFuture[T]) Drop() {
	f.c.mu.Lock()
	f.c.rxWaker = nil
	f.c.mu.Unlock()
}
