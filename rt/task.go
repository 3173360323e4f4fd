// File: rt/task.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Task header, type-erased future core and the poll state machine.

package rt

import (
	"runtime/debug"
	"sync/atomic"

	"github.com/momentics/hioload-rt/api"
)

// harness erases the future's output type.
type harness interface {
	// poll polls the future once and reports completion.
	poll(cx *Context) bool
	// cancel drops the future, if still held, and resolves the join
	// handle with err.
	cancel(err error)
}

type task struct {
	id  uint64
	idx uint32
	gen uint32

	state     atomic.Uint32
	cancelled atomic.Bool

	h harness
}

func (t *task) loadState() api.TaskState { return api.TaskState(t.state.Load()) }

func (t *task) cas(from, to api.TaskState) bool {
	return t.state.CompareAndSwap(uint32(from), uint32(to))
}

func (t *task) store(s api.TaskState) { t.state.Store(uint32(s)) }

func (t *task) abort(s *scheduler) {
	if t.loadState().Terminal() {
		return
	}
	t.cancelled.Store(true)
	s.wake(t, nil)
}

type core[T any] struct {
	fut  Future[T]
	cell *joinCell[T]
}

func (c *core[T]) poll(cx *Context) bool {
	v, ok := c.fut.Poll(cx)
	if !ok {
		return false
	}
	c.fut = nil
	c.cell.complete(v, nil)
	return true
}

func (c *core[T]) cancel(err error) {
	fut := c.fut
	c.fut = nil
	defer func() {
		var zero T
		c.cell.complete(zero, err)
	}()
	if fut != nil {
		Drop(fut)
	}
}

// pollOnce runs one poll, converting a panic into a JoinError.
func pollOnce(t *task, cx *Context) (done bool, perr *api.JoinError) {
	defer func() {
		if r := recover(); r != nil {
			perr = &api.JoinError{
				Kind:   api.JoinPanicked,
				TaskID: t.id,
				Value:  r,
				Stack:  debug.Stack(),
			}
		}
	}()
	return t.h.poll(cx), nil
}

// cancelTask drops the future and resolves the handle with err. Panics
// raised by drop glue are logged and swallowed.
func (s *scheduler) cancelTask(t *task, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn().Uint64("task", t.id).Interface("panic", r).Msg("panic while dropping task future")
		}
	}()
	t.h.cancel(err)
}

// run polls t once on w. Only the goroutine that moves t from Scheduled to
// Running may poll it.
func (w *worker) run(t *task) {
	s := w.s
	if !t.cas(api.TaskScheduled, api.TaskRunning) {
		return
	}
	if t.cancelled.Load() || s.isShutdown() {
		s.finishCancelled(t)
		return
	}

	w.cx.waker = Waker{s: s, idx: t.idx, gen: t.gen}
	w.polls.Add(1)
	done, perr := pollOnce(t, &w.cx)
	w.cx.waker = nil

	switch {
	case perr != nil:
		t.store(api.TaskCompleted)
		s.log.Warn().Uint64("task", t.id).Interface("panic", perr.Value).Msg("task panicked")
		s.cancelTask(t, perr)
		s.tasks.release(t)
		s.panicked.Add(1)
	case done:
		t.store(api.TaskCompleted)
		s.tasks.release(t)
		s.completed.Add(1)
	case s.isShutdown():
		s.finishCancelled(t)
	case t.cas(api.TaskRunning, api.TaskIdle):
	default:
		// Woken while running: back of the local queue, never re-polled
		// ahead of its peers.
		t.store(api.TaskScheduled)
		w.pushBack(t)
	}
}

// finishCancelled is called by the goroutine that owns t's transition to a
// terminal state.
func (s *scheduler) finishCancelled(t *task) {
	t.store(api.TaskCancelled)
	s.cancelTask(t, &api.JoinError{Kind: api.JoinCancelled, TaskID: t.id})
	s.tasks.release(t)
	s.cancelledN.Add(1)
}
