// File: mpsc/sender.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mpsc

import (
	"errors"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/rt"
)

// Sender is one producer handle. Every Sender, including clones, must be
// closed for the receiver to observe ErrClosed.
type Sender[T any] struct {
	c      *channel[T]
	closed bool // guarded by c.mu
}

// Send returns a future that delivers v, waiting while a bounded channel is
// full. It resolves to nil, or to *SendError[T] once the receiver is gone.
// Waiting senders are served in arrival order.
func (s *Sender[T]) Send(v T) rt.Future[error] {
	return &sendFuture[T]{s: s, v: v}
}

// TrySend delivers v without waiting. It fails with ErrFull or
// *SendError[T].
func (s *Sender[T]) TrySend(v T) error {
	c := s.c
	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		return &SendError[T]{Value: v}
	}
	if c.waiters.Len() > 0 && !c.rxClosed {
		c.mu.Unlock()
		return ErrFull
	}
	w, err := c.trySendLocked(v)
	c.mu.Unlock()
	if w != nil {
		w.Wake()
	}
	return err
}

// Clone returns another handle to the same channel.
func (s *Sender[T]) Clone() *Sender[T] {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.closed {
		return &Sender[T]{c: c, closed: true}
	}
	c.senders++
	return &Sender[T]{c: c}
}

// Close releases this handle. When the last one closes, the receiver
// drains what is buffered and then sees ErrClosed. Closing twice is a
// no-op.
func (s *Sender[T]) Close() {
	c := s.c
	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		return
	}
	s.closed = true
	c.senders--
	var w api.Waker
	if c.senders == 0 {
		c.closed = true
		w, c.rxWaker = c.rxWaker, nil
	}
	c.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}

// IsClosed reports whether sends through s can no longer succeed.
func (s *Sender[T]) IsClosed() bool {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.closed || s.c.rxClosed
}

// Capacity returns the bound of the channel, 0 when unbounded.
func (s *Sender[T]) Capacity() int { return s.c.capacity }

// Len returns the number of buffered values.
func (s *Sender[T]) Len() int {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.c.buf.len()
}

type sendFuture[T any] struct {
	s      *Sender[T]
	v      T
	waiter *sendWaiter
	done   bool
}

func (f *sendFuture[T]) Poll(cx *rt.Context) (error, bool) {
	if f.done {
		return nil, true
	}
	c := f.s.c
	c.mu.Lock()
	if f.s.closed {
		c.mu.Unlock()
		f.done = true
		return &SendError[T]{Value: f.v}, true
	}
	if f.waiter != nil && !f.waiter.notified {
		f.waiter.waker = cx.Waker()
		c.mu.Unlock()
		return nil, false
	}
	if f.waiter == nil && c.waiters.Len() > 0 && !c.rxClosed {
		f.park(c, cx, false)
		c.mu.Unlock()
		return nil, false
	}

	rx, err := c.trySendLocked(f.v)
	if errors.Is(err, ErrFull) {
		// Lost the freed slot to a receiver-side race; keep our place.
		f.park(c, cx, f.waiter != nil)
		c.mu.Unlock()
		return nil, false
	}
	var next api.Waker
	if f.waiter != nil && c.buf.len() < c.capacity {
		next = c.wakeSenderLocked()
	}
	f.waiter = nil
	f.done = true
	c.mu.Unlock()

	if rx != nil {
		rx.Wake()
	}
	if next != nil {
		next.Wake()
	}
	return err, true
}

func (f *sendFuture[T]) park(c *channel[T], cx *rt.Context, front bool) {
	f.waiter = &sendWaiter{waker: cx.Waker()}
	if front {
		c.waiters.PushFront(f.waiter)
	} else {
		c.waiters.PushBack(f.waiter)
	}
}

// Drop withdraws a waiting send. A slot already handed to it passes to
// the next waiter.
func (f *sendFuture[T]) Drop() {
	if f.done || f.waiter == nil {
		return
	}
	c := f.s.c
	c.mu.Lock()
	var next api.Waker
	if !c.removeWaiterLocked(f.waiter) && f.waiter.notified {
		next = c.wakeSenderLocked()
	}
	f.waiter = nil
	f.done = true
	c.mu.Unlock()
	if next != nil {
		next.Wake()
	}
}
