// File: rt/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker loop: local queue, injector, stealing, reactor maintenance and
// parking.

package rt

import (
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-rt/affinity"
	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/internal/concurrency"
)

// maxLIFOPolls bounds consecutive polls from the LIFO slot so a pair of
// tasks waking each other cannot starve the local queue.
const maxLIFOPolls = 3

// pinner binds pinned workers to their CPU.
var pinner api.Affinity = affinity.ThreadPinner{}

type worker struct {
	s     *scheduler
	index int

	local   *concurrency.LocalQueue[task]
	lifo    *task
	lifoRun int
	tick    uint32
	rng     *rand.Rand
	unpark  chan struct{}

	cx       Context
	sink     func(api.Waker)
	overflow func([]*task)

	polls  atomic.Uint64
	steals atomic.Uint64
	parks  atomic.Uint64
}

func newWorker(s *scheduler, index int) *worker {
	w := &worker{
		s:      s,
		index:  index,
		local:  concurrency.NewLocalQueue[task](),
		rng:    rand.New(rand.NewPCG(uint64(index)+1, uint64(time.Now().UnixNano()))),
		unpark: make(chan struct{}, 1),
	}
	w.cx = Context{handle: s.handle, worker: w}
	w.sink = w.wakeFromDriver
	w.overflow = w.spill
	return w
}

func (w *worker) loop() {
	s := w.s
	defer s.wg.Done()

	if s.cfg.pin {
		cpu := affinity.CPUFor(w.index)
		if err := pinner.Pin(cpu); err != nil {
			s.log.Warn().Err(err).Int("worker", w.index).Int("cpu", cpu).Msg("pin failed")
		} else {
			defer func() {
				if err := pinner.Unpin(); err != nil {
					s.log.Debug().Err(err).Int("worker", w.index).Msg("unpin failed")
				}
			}()
		}
	}

	for !s.isShutdown() {
		w.tick++
		if w.tick%s.cfg.eventInterval == 0 {
			w.maintain()
		}
		if t := w.next(); t != nil {
			w.run(t)
			continue
		}
		if t := w.steal(); t != nil {
			w.run(t)
			continue
		}
		w.park()
	}
	w.lifo = nil
}

func (w *worker) next() *task {
	s := w.s
	if w.tick%s.cfg.globalInterval == 0 {
		if t := s.injector.Pop(); t != nil {
			return t
		}
	}
	if t := w.lifo; t != nil {
		w.lifo = nil
		if w.lifoRun < maxLIFOPolls {
			w.lifoRun++
			return t
		}
		w.local.Push(t, w.overflow)
	}
	w.lifoRun = 0
	if t := w.local.Pop(); t != nil {
		return t
	}
	return s.injector.PopInto(w.local, concurrency.LocalQueueCapacity/2)
}

// steal takes half of a random peer's queue, falling back to the injector.
func (w *worker) steal() *task {
	peers := w.s.workers
	if n := len(peers); n > 1 {
		start := w.rng.IntN(n)
		for i := range n {
			v := peers[(start+i)%n]
			if v == w {
				continue
			}
			if t := v.local.StealInto(w.local); t != nil {
				w.steals.Add(uint64(1 + w.local.Len()))
				return t
			}
		}
	}
	return w.s.injector.PopInto(w.local, concurrency.LocalQueueCapacity/2)
}

// pushLIFO makes t the next task this worker runs. Called on the worker's
// own goroutine.
func (w *worker) pushLIFO(t *task) {
	if prev := w.lifo; prev != nil {
		w.local.Push(prev, w.overflow)
		w.s.notifyOne()
	}
	w.lifo = t
}

// pushBack queues t behind everything already runnable on w.
func (w *worker) pushBack(t *task) {
	w.local.Push(t, w.overflow)
	if w.local.HasStealable() {
		w.s.notifyOne()
	}
}

func (w *worker) spill(batch []*task) {
	if w.s.injector.PushBatch(batch) {
		w.s.notifyOne()
	}
}

func (w *worker) unparkNow() {
	select {
	case w.unpark <- struct{}{}:
	default:
	}
}

// wakeFromDriver routes wakers released by the reactor or the timer wheel
// onto this worker's queue.
func (w *worker) wakeFromDriver(wk api.Waker) {
	if tw, ok := wk.(Waker); ok && tw.s == w.s {
		if t := w.s.tasks.get(tw.idx, tw.gen); t != nil {
			w.s.wake(t, w)
		}
		return
	}
	wk.Wake()
}

// processEvents dispatches collected I/O events and expired timers.
// Caller holds driverMu.
func (w *worker) processEvents() int {
	s := w.s
	n := s.driver.PollCompletions(w.sink)
	if s.timers != nil {
		n += s.timers.advance(time.Now(), w.sink)
	}
	return n
}

// maintain lets a busy worker make I/O and timer progress.
func (w *worker) maintain() {
	s := w.s
	if !s.driverMu.TryLock() {
		return
	}
	if _, err := s.driver.Wait(0); err != nil && !errors.Is(err, api.ErrDriverClosed) {
		s.log.Debug().Err(err).Msg("reactor poll failed")
	}
	w.processEvents()
	s.driverMu.Unlock()
}

func (w *worker) park() {
	w.parks.Add(1)
	if w.s.driverMu.TryLock() {
		w.parkOnDriver()
		w.s.driverMu.Unlock()
		return
	}
	w.parkOnChannel()
}

func (w *worker) parkOnDriver() {
	s := w.s
	s.driverParked.Store(true)
	s.numIdle.Add(1)

	if !s.hasWork() && !s.isShutdown() {
		timeout := time.Duration(-1)
		if s.timers != nil {
			timeout = s.timers.beginPark(time.Now())
		}
		if _, err := s.driver.Wait(timeout); err != nil && !errors.Is(err, api.ErrDriverClosed) {
			s.log.Debug().Err(err).Msg("reactor wait failed")
		}
		if s.timers != nil {
			s.timers.endPark()
		}
	}

	s.numIdle.Add(-1)
	s.driverParked.Store(false)

	w.processEvents()
	if w.local.HasStealable() {
		s.notifyOne()
	}
}

func (w *worker) parkOnChannel() {
	s := w.s
	s.addSleeper(w)
	if s.hasWork() || s.isShutdown() {
		s.removeSleeper(w)
		return
	}
	select {
	case <-w.unpark:
	case <-s.shutdownCh:
	}
	s.removeSleeper(w)
}
