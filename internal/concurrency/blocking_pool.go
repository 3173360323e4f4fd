// File: internal/concurrency/blocking_pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// BlockingPool runs synchronous closures on a dynamically sized set of
// goroutines kept apart from the scheduler workers.

package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/momentics/hioload-rt/api"
)

const (
	DefaultMaxBlockingThreads = 512
	DefaultBlockingKeepAlive  = 10 * time.Second
)

// BlockingJob is one unit of blocking work. Cancel is called instead of
// Run when the pool shuts down before the job started.
type BlockingJob struct {
	Run    func()
	Cancel func()
}

// BlockingPool spawns a thread per job up to a cap; threads idle longer
// than the keep-alive exit.
type BlockingPool struct {
	sem       *semaphore.Weighted
	max       int
	keepAlive time.Duration
	log       zerolog.Logger

	mu       sync.Mutex
	queue    deque.Deque[BlockingJob]
	idle     int
	notify   chan struct{}
	shutdown bool

	threads atomic.Int64
	wg      sync.WaitGroup
}

// NewBlockingPool creates a pool. Non-positive arguments select defaults.
func NewBlockingPool(maxThreads int, keepAlive time.Duration, log zerolog.Logger) *BlockingPool {
	if maxThreads <= 0 {
		maxThreads = DefaultMaxBlockingThreads
	}
	if keepAlive <= 0 {
		keepAlive = DefaultBlockingKeepAlive
	}
	return &BlockingPool{
		sem:       semaphore.NewWeighted(int64(maxThreads)),
		max:       maxThreads,
		keepAlive: keepAlive,
		log:       log.With().Str("component", "blocking").Logger(),
		notify:    make(chan struct{}, maxThreads),
	}
}

// Submit queues job. An idle thread picks it up, otherwise a new thread is
// started if the cap allows; failing both it waits for a busy thread.
func (p *BlockingPool) Submit(job BlockingJob) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return api.ErrRuntimeShutdown
	}
	p.queue.PushBack(job)
	switch {
	case p.idle > 0:
		p.idle--
		p.notify <- struct{}{}
	case p.sem.TryAcquire(1):
		p.threads.Add(1)
		p.wg.Add(1)
		go p.run()
	default:
		p.log.Debug().Int("queued", p.queue.Len()).Msg("blocking pool saturated")
	}
	p.mu.Unlock()
	return nil
}

// Threads returns the number of live pool threads.
func (p *BlockingPool) Threads() int { return int(p.threads.Load()) }

// Queued returns the number of jobs not yet started.
func (p *BlockingPool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

func (p *BlockingPool) run() {
	defer func() {
		p.threads.Add(-1)
		p.sem.Release(1)
		p.wg.Done()
	}()
	timer := time.NewTimer(p.keepAlive)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.queue.Len() > 0 {
			job := p.queue.PopFront()
			p.mu.Unlock()
			job.Run()
			continue
		}
		if p.shutdown {
			p.mu.Unlock()
			return
		}
		p.idle++
		p.mu.Unlock()

		timer.Reset(p.keepAlive)
		select {
		case <-p.notify:
			continue
		case <-timer.C:
		}

		p.mu.Lock()
		select {
		case <-p.notify:
			// Claimed while the timer fired.
			p.mu.Unlock()
			continue
		default:
		}
		p.idle--
		p.mu.Unlock()
		return
	}
}

// Shutdown cancels queued jobs, lets idle threads exit and waits for
// running jobs until ctx is done.
func (p *BlockingPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil
	}
	p.shutdown = true
	pending := make([]BlockingJob, 0, p.queue.Len())
	for p.queue.Len() > 0 {
		pending = append(pending, p.queue.PopFront())
	}
	for ; p.idle > 0; p.idle-- {
		p.notify <- struct{}{}
	}
	p.mu.Unlock()

	for _, job := range pending {
		if job.Cancel != nil {
			job.Cancel()
		}
	}
	if len(pending) > 0 {
		p.log.Debug().Int("jobs", len(pending)).Msg("cancelled queued blocking jobs")
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.log.Warn().Int("threads", p.Threads()).Msg("blocking threads still running after shutdown deadline")
		return ctx.Err()
	}
}
