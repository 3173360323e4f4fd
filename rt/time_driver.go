// File: rt/time_driver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TimeDriver shares the timer wheel between futures and the worker that
// owns the reactor.

package rt

import (
	"math"
	"sync"
	"time"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/timer"
)

// TimeDriver is the goroutine-safe face of a timer.Wheel. The worker
// parked on the reactor sleeps until the earliest deadline and is woken
// early when an earlier timer is registered.
type TimeDriver struct {
	mu        sync.Mutex
	wheel     *timer.Wheel
	parkUntil int64
	unpark    func() error
	closed    bool
	scratch   []api.Waker
}

func newTimeDriver(tick time.Duration, unpark func() error) *TimeDriver {
	return &TimeDriver{
		wheel:  timer.NewWheel(time.Now(), tick),
		unpark: unpark,
	}
}

// Register arms a timer for deadline. It returns nil once the driver has
// been shut down.
func (td *TimeDriver) Register(deadline time.Time, w api.Waker) *timer.Entry {
	td.mu.Lock()
	if td.closed {
		td.mu.Unlock()
		return nil
	}
	e := td.wheel.Insert(deadline, w)
	earlier := td.parkUntil != 0 && deadline.UnixNano() < td.parkUntil
	td.mu.Unlock()
	if earlier {
		_ = td.unpark()
	}
	return e
}

// Reset cancels e, if armed, and registers a new deadline.
func (td *TimeDriver) Reset(e *timer.Entry, deadline time.Time, w api.Waker) *timer.Entry {
	if e != nil {
		td.Cancel(e)
	}
	return td.Register(deadline, w)
}

// SetWaker replaces the waker of an armed entry.
func (td *TimeDriver) SetWaker(e *timer.Entry, w api.Waker) {
	td.mu.Lock()
	e.SetWaker(w)
	td.mu.Unlock()
}

// Cancel disarms e. It reports false if e already fired or was cancelled.
func (td *TimeDriver) Cancel(e *timer.Entry) bool {
	if e == nil {
		return false
	}
	td.mu.Lock()
	defer td.mu.Unlock()
	return td.wheel.Cancel(e)
}

// Fired reports whether e's deadline has been delivered.
func (td *TimeDriver) Fired(e *timer.Entry) bool {
	return e != nil && e.Fired()
}

// Len returns the number of armed timers.
func (td *TimeDriver) Len() int {
	td.mu.Lock()
	defer td.mu.Unlock()
	return td.wheel.Len()
}

// NextDeadline returns the instant the wheel next needs attention.
func (td *TimeDriver) NextDeadline() (time.Time, bool) {
	td.mu.Lock()
	defer td.mu.Unlock()
	return td.wheel.NextDeadline()
}

// advance fires due timers and hands their wakers to sink outside the
// lock. Called only by the reactor owner.
func (td *TimeDriver) advance(now time.Time, sink func(api.Waker)) int {
	td.mu.Lock()
	if td.closed {
		td.mu.Unlock()
		return 0
	}
	fired := td.scratch[:0]
	td.wheel.Advance(now, func(w api.Waker) {
		if w != nil {
			fired = append(fired, w)
		}
	})
	td.scratch = fired[:0]
	td.mu.Unlock()

	for i, w := range fired {
		sink(w)
		fired[i] = nil
	}
	return len(fired)
}

// beginPark publishes how long the reactor owner will sleep and returns
// that timeout; negative means no timer is armed.
func (td *TimeDriver) beginPark(now time.Time) time.Duration {
	td.mu.Lock()
	defer td.mu.Unlock()
	next, ok := td.wheel.NextDeadline()
	if !ok || td.closed {
		td.parkUntil = math.MaxInt64
		return -1
	}
	td.parkUntil = next.UnixNano()
	if d := next.Sub(now); d > 0 {
		return d
	}
	return 0
}

func (td *TimeDriver) endPark() {
	td.mu.Lock()
	td.parkUntil = 0
	td.mu.Unlock()
}

// close stops the driver and returns how many timers were still armed.
func (td *TimeDriver) close() int {
	td.mu.Lock()
	defer td.mu.Unlock()
	td.closed = true
	return td.wheel.Len()
}
