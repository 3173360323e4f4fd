// File: rt/join.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// JoinHandle: the awaitable, abortable result of a spawned task.

package rt

import (
	"context"
	"sync"

	"github.com/momentics/hioload-rt/api"
)

// joinCell is the output slot shared by a task and its JoinHandle.
type joinCell[T any] struct {
	id uint64

	mu    sync.Mutex
	done  bool
	value T
	err   error
	waker api.Waker
	ch    chan struct{}
}

func newJoinCell[T any](id uint64) *joinCell[T] {
	return &joinCell[T]{id: id, ch: make(chan struct{})}
}

// complete stores the output once; later calls are ignored.
func (c *joinCell[T]) complete(v T, err error) bool {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return false
	}
	c.done = true
	c.value, c.err = v, err
	w := c.waker
	c.waker = nil
	close(c.ch)
	c.mu.Unlock()
	if w != nil {
		w.Wake()
	}
	return true
}

func (c *joinCell[T]) poll(w api.Waker) (Result[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return Result[T]{Value: c.value, Err: c.err}, true
	}
	c.waker = w
	return Result[T]{}, false
}

type aborter interface {
	abort()
}

type taskAborter struct {
	t *task
	s *scheduler
}

func (a taskAborter) abort() { a.t.abort(a.s) }

// JoinHandle resolves to the task's output, or to a *api.JoinError when
// the task was cancelled or panicked.
type JoinHandle[T any] struct {
	cell *joinCell[T]
	ab   aborter
}

var _ Future[Result[int]] = (*JoinHandle[int])(nil)

// ID returns the task id.
func (h *JoinHandle[T]) ID() uint64 { return h.cell.id }

// Poll implements Future.
func (h *JoinHandle[T]) Poll(cx *Context) (Result[T], bool) {
	return h.cell.poll(cx.Waker())
}

// Abort requests cancellation. The task's future is dropped at its next
// poll boundary; a task that already finished is unaffected.
func (h *JoinHandle[T]) Abort() {
	if h.ab != nil && !h.IsFinished() {
		h.ab.abort()
	}
}

// Drop implements Dropper: abandoning the handle cancels the task.
func (h *JoinHandle[T]) Drop() { h.Abort() }

// IsFinished reports whether the output is available.
func (h *JoinHandle[T]) IsFinished() bool {
	select {
	case <-h.cell.ch:
		return true
	default:
		return false
	}
}

// Done is closed once the output is available.
func (h *JoinHandle[T]) Done() <-chan struct{} { return h.cell.ch }

// Wait blocks the calling goroutine until the task finishes or ctx is done.
// It must not be called from inside a Poll.
func (h *JoinHandle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.cell.ch:
		h.cell.mu.Lock()
		defer h.cell.mu.Unlock()
		return h.cell.value, h.cell.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// cancelledHandle returns a handle already resolved as cancelled.
func cancelledHandle[T any](id uint64) *JoinHandle[T] {
	cell := newJoinCell[T](id)
	var zero T
	cell.complete(zero, &api.JoinError{Kind: api.JoinCancelled, TaskID: id})
	return &JoinHandle[T]{cell: cell}
}
