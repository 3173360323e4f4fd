// File: rt/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scheduler: workers, shared injector, idle bookkeeping and shutdown.

package rt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/internal/concurrency"
	"github.com/momentics/hioload-rt/reactor"
)

type schedConfig struct {
	workers        int
	eventInterval  uint32
	globalInterval uint32
	pin            bool
	ioEnabled      bool
}

type scheduler struct {
	cfg    schedConfig
	log    zerolog.Logger
	handle *Handle

	workers  []*worker
	injector *concurrency.Injector[task]
	tasks    arena
	nextID   atomic.Uint64

	driver   *reactor.Driver
	timers   *TimeDriver
	blocking *concurrency.BlockingPool
	// driverMu is held by the worker currently waiting on or draining the
	// reactor and the timer wheel.
	driverMu sync.Mutex

	idleMu       sync.Mutex
	sleepers     []*worker
	numIdle      atomic.Int32
	driverParked atomic.Bool

	spawnMu    sync.RWMutex
	closed     bool
	down       atomic.Bool
	shutdownCh chan struct{}
	doneCh     chan struct{}
	wg         sync.WaitGroup

	spawned    atomic.Uint64
	completed  atomic.Uint64
	cancelledN atomic.Uint64
	panicked   atomic.Uint64
}

func newScheduler(cfg schedConfig, drv *reactor.Driver, log zerolog.Logger) *scheduler {
	s := &scheduler{
		cfg:        cfg,
		log:        log,
		injector:   concurrency.NewInjector[task](),
		driver:     drv,
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	s.handle = &Handle{s: s}
	s.workers = make([]*worker, cfg.workers)
	for i := range s.workers {
		s.workers[i] = newWorker(s, i)
	}
	return s
}

func (s *scheduler) start() {
	s.wg.Add(len(s.workers))
	for _, w := range s.workers {
		go w.loop()
	}
}

func (s *scheduler) isShutdown() bool { return s.down.Load() }

// schedule queues a task that just became Scheduled.
func (s *scheduler) schedule(t *task, local *worker) {
	if local != nil && local.s == s {
		local.pushLIFO(t)
		return
	}
	if !s.injector.Push(t) {
		// Closed: the shutdown sweep resolves it.
		return
	}
	s.notifyOne()
}

// hasWork reports whether a parking worker would find something to run.
func (s *scheduler) hasWork() bool {
	if !s.injector.IsEmpty() {
		return true
	}
	for _, w := range s.workers {
		if w.local.HasStealable() {
			return true
		}
	}
	return false
}

// notifyOne wakes one idle worker, preferring those parked on their own
// channel over the reactor owner.
func (s *scheduler) notifyOne() {
	if s.numIdle.Load() == 0 {
		return
	}
	s.idleMu.Lock()
	if n := len(s.sleepers); n > 0 {
		w := s.sleepers[n-1]
		s.sleepers[n-1] = nil
		s.sleepers = s.sleepers[:n-1]
		s.idleMu.Unlock()
		w.unparkNow()
		return
	}
	s.idleMu.Unlock()
	if s.driverParked.Load() {
		_ = s.driver.Unpark()
	}
}

func (s *scheduler) addSleeper(w *worker) {
	s.idleMu.Lock()
	s.sleepers = append(s.sleepers, w)
	s.numIdle.Add(1)
	s.idleMu.Unlock()
}

func (s *scheduler) removeSleeper(w *worker) {
	s.idleMu.Lock()
	for i, sw := range s.sleepers {
		if sw == w {
			last := len(s.sleepers) - 1
			s.sleepers[i] = s.sleepers[last]
			s.sleepers[last] = nil
			s.sleepers = s.sleepers[:last]
			break
		}
	}
	s.numIdle.Add(-1)
	s.idleMu.Unlock()
}

// shutdown stops the workers, cancels every live task and releases the
// blocking pool, timers and reactor. Later calls wait for the first.
func (s *scheduler) shutdown(ctx context.Context) error {
	s.spawnMu.Lock()
	if s.closed {
		s.spawnMu.Unlock()
		select {
		case <-s.doneCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.closed = true
	s.down.Store(true)
	close(s.shutdownCh)
	s.spawnMu.Unlock()
	defer close(s.doneCh)

	start := time.Now()
	s.injector.Close()
	_ = s.driver.Unpark()

	workersDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workersDone)
	}()

	var err error
	select {
	case <-workersDone:
	case <-ctx.Done():
		err = ctx.Err()
		s.log.Warn().Msg("workers still polling at shutdown deadline")
	}

	cancelled := s.sweep()
	if berr := s.blocking.Shutdown(ctx); berr != nil && err == nil {
		err = berr
	}
	timers := 0
	if s.timers != nil {
		timers = s.timers.close()
	}
	leaked, cerr := s.driver.Close()
	if cerr != nil && !errors.Is(cerr, api.ErrDriverClosed) && err == nil {
		err = cerr
	}

	s.log.Debug().
		Int("cancelled", cancelled).
		Int("timers", timers).
		Int("registrations", leaked).
		Dur("took", time.Since(start)).
		Msg("runtime shut down")
	return err
}

// sweep cancels every task not currently being polled. Tasks still
// running on a straggling worker are cancelled by that worker.
func (s *scheduler) sweep() int {
	n := 0
	for _, t := range s.tasks.snapshot() {
		if t.cas(api.TaskIdle, api.TaskCancelled) || t.cas(api.TaskScheduled, api.TaskCancelled) {
			s.cancelTask(t, &api.JoinError{Kind: api.JoinCancelled, TaskID: t.id})
			s.tasks.release(t)
			s.cancelledN.Add(1)
			n++
		}
	}
	return n
}

func (s *scheduler) stats() api.RuntimeStats {
	st := api.RuntimeStats{
		Workers:       len(s.workers),
		Spawned:       s.spawned.Load(),
		Completed:     s.completed.Load(),
		Cancelled:     s.cancelledN.Load(),
		Panicked:      s.panicked.Load(),
		LiveTasks:     int64(s.tasks.len()),
		InjectorDepth: s.injector.Len(),
		Registrations: s.driver.Registrations(),
		Backend:       s.driver.Kind().String(),
	}
	for _, w := range s.workers {
		st.Stolen += w.steals.Load()
		st.Polls += w.polls.Load()
		st.Parks += w.parks.Load()
	}
	if s.timers != nil {
		st.Timers = s.timers.Len()
	}
	if s.blocking != nil {
		st.BlockingThreads = s.blocking.Threads()
	}
	return st
}
