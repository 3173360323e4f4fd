// File: mpsc/chan.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package mpsc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/eapache/queue"
	"github.com/gammazero/deque"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/internal/concurrency"
)

var (
	// ErrClosed is returned by receives once every sender is gone and the
	// buffer is drained.
	ErrClosed = errors.New("mpsc: channel closed")
	// ErrFull is returned by TrySend on a full bounded channel.
	ErrFull = errors.New("mpsc: channel full")
)

// SendError hands back a value that could not be delivered because the
// receiver is gone.
type SendError[T any] struct {
	Value T
}

func (e *SendError[T]) Error() string { return "mpsc: send on closed channel" }

// Is makes errors.Is(err, ErrClosed) hold for send failures.
func (e *SendError[T]) Is(target error) bool { return target == ErrClosed }

// buffer abstracts the bounded ring and the unbounded queue.
type buffer[T any] interface {
	push(v T) bool
	pop() (T, bool)
	len() int
}

type ringBuffer[T any] struct {
	r   *concurrency.RingBuffer[T]
	cap int
}

func (b *ringBuffer[T]) push(v T) bool {
	if b.r.Len() >= b.cap {
		return false
	}
	return b.r.Enqueue(v)
}

func (b *ringBuffer[T]) pop() (T, bool) { return b.r.Dequeue() }
func (b *ringBuffer[T]) len() int       { return b.r.Len() }

type queueBuffer[T any] struct {
	q *queue.Queue
}

func (b *queueBuffer[T]) push(v T) bool {
	b.q.Add(v)
	return true
}

func (b *queueBuffer[T]) pop() (T, bool) {
	if b.q.Length() == 0 {
		var zero T
		return zero, false
	}
	return b.q.Remove().(T), true
}

func (b *queueBuffer[T]) len() int { return b.q.Length() }

// sendWaiter is a sender parked on a full channel.
type sendWaiter struct {
	waker    api.Waker
	notified bool
}

type channel[T any] struct {
	mu       sync.Mutex
	buf      buffer[T]
	capacity int // 0 for unbounded

	senders  int
	closed   bool // no senders left
	rxClosed bool

	rxWaker api.Waker
	waiters deque.Deque[*sendWaiter]
}

// Bounded creates a channel holding at most capacity values.
func Bounded[T any](capacity int) (*Sender[T], *Receiver[T]) {
	if capacity <= 0 {
		panic(fmt.Sprintf("mpsc: bounded capacity must be positive, got %d", capacity))
	}
	c := &channel[T]{
		buf:      &ringBuffer[T]{r: concurrency.NewRingBuffer[T](uint64(capacity)), cap: capacity},
		capacity: capacity,
		senders:  1,
	}
	return &Sender[T]{c: c}, &Receiver[T]{c: c}
}

// Unbounded creates a channel whose sends never wait.
func Unbounded[T any]() (*Sender[T], *Receiver[T]) {
	c := &channel[T]{
		buf:     &queueBuffer[T]{q: queue.New()},
		senders: 1,
	}
	return &Sender[T]{c: c}, &Receiver[T]{c: c}
}

// trySendLocked appends v or reports why it cannot. Caller holds mu.
func (c *channel[T]) trySendLocked(v T) (api.Waker, error) {
	if c.rxClosed {
		return nil, &SendError[T]{Value: v}
	}
	if !c.buf.push(v) {
		return nil, ErrFull
	}
	w := c.rxWaker
	c.rxWaker = nil
	return w, nil
}

// wakeSenderLocked passes the freed slot to the oldest waiting sender.
func (c *channel[T]) wakeSenderLocked() api.Waker {
	for c.waiters.Len() > 0 {
		sw := c.waiters.PopFront()
		sw.notified = true
		if sw.waker != nil {
			return sw.waker
		}
	}
	return nil
}

func (c *channel[T]) removeWaiterLocked(sw *sendWaiter) bool {
	if i := c.waiters.Index(func(x *sendWaiter) bool { return x == sw }); i >= 0 {
		c.waiters.Remove(i)
		return true
	}
	return false
}

// drainWaitersLocked detaches every waiting sender.
func (c *channel[T]) drainWaitersLocked() []api.Waker {
	out := make([]api.Waker, 0, c.waiters.Len())
	for c.waiters.Len() > 0 {
		sw := c.waiters.PopFront()
		sw.notified = true
		if sw.waker != nil {
			out = append(out, sw.waker)
		}
	}
	return out
}

// ErrEmpty is returned by TryRecv when nothing is buffered.
var ErrEmpty = errors.New("mpsc: channel empty")
