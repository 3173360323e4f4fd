// File: rt/spawn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rt

import (
	"runtime/debug"
	"sync/atomic"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/internal/concurrency"
)

// Spawn starts fut as a new task. Spawned from a running task's Context it
// is queued on that worker and runs next; otherwise it goes through the
// shared injector. After shutdown the returned handle is already
// cancelled and fut is dropped.
func Spawn[T any](sp Spawner, fut Future[T]) *JoinHandle[T] {
	s := sp.spawnHandle().s
	var local *worker
	if cx, ok := sp.(*Context); ok {
		local = cx.worker
	}
	id := s.nextID.Add(1)

	s.spawnMu.RLock()
	if s.closed {
		s.spawnMu.RUnlock()
		Drop(fut)
		return cancelledHandle[T](id)
	}
	cell := newJoinCell[T](id)
	t := &task{id: id, h: &core[T]{fut: fut, cell: cell}}
	if err := s.tasks.insert(t); err != nil {
		s.spawnMu.RUnlock()
		s.log.Error().Err(err).Uint64("task", id).Msg("spawn failed")
		Drop(fut)
		return cancelledHandle[T](id)
	}
	t.store(api.TaskScheduled)
	s.spawned.Add(1)
	s.spawnMu.RUnlock()

	s.schedule(t, local)
	return &JoinHandle[T]{cell: cell, ab: taskAborter{t: t, s: s}}
}

type blockingTask[T any] struct {
	id      uint64
	fn      func() T
	cell    *joinCell[T]
	started atomic.Bool
}

func (b *blockingTask[T]) abort() {
	if b.started.CompareAndSwap(false, true) {
		var zero T
		b.cell.complete(zero, &api.JoinError{Kind: api.JoinCancelled, TaskID: b.id})
	}
}

func (b *blockingTask[T]) run() {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	var (
		v   T
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &api.JoinError{Kind: api.JoinPanicked, TaskID: b.id, Value: r, Stack: debug.Stack()}
			}
		}()
		v = b.fn()
	}()
	b.cell.complete(v, err)
}

// SpawnBlocking runs fn on the blocking pool, away from the workers.
// Aborting the handle only has an effect before fn starts.
func SpawnBlocking[T any](sp Spawner, fn func() T) *JoinHandle[T] {
	s := sp.spawnHandle().s
	id := s.nextID.Add(1)
	b := &blockingTask[T]{id: id, fn: fn, cell: newJoinCell[T](id)}
	h := &JoinHandle[T]{cell: b.cell, ab: b}

	if s.isShutdown() {
		b.abort()
		return h
	}
	if err := s.blocking.Submit(concurrency.BlockingJob{Run: b.run, Cancel: b.abort}); err != nil {
		b.abort()
		return h
	}
	s.spawned.Add(1)
	return h
}
