// File: clock/interval.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package clock

import (
	"time"

	"github.com/momentics/hioload-rt/rt"
)

// MissedTickBehavior decides how an Interval catches up after ticks were
// missed because it was not polled in time.
type MissedTickBehavior int

const (
	// Burst fires the missed ticks back to back, keeping the original
	// schedule.
	Burst MissedTickBehavior = iota
	// Delay restarts the schedule one period after the late tick.
	Delay
	// Skip drops missed ticks and fires on the next multiple of the period.
	Skip
)

// Interval yields ticks every period. The first tick completes
// immediately.
type Interval struct {
	period   time.Duration
	next     time.Time
	sleep    *Sleeper
	behavior MissedTickBehavior
}

// NewInterval starts an interval now. It panics if period is not positive.
func NewInterval(period time.Duration) *Interval {
	return NewIntervalAt(time.Now(), period)
}

// NewIntervalAt starts an interval whose first tick is at start.
func NewIntervalAt(start time.Time, period time.Duration) *Interval {
	if period <= 0 {
		panic("clock: non-positive interval period")
	}
	return &Interval{period: period, next: start, sleep: SleepUntil(start)}
}

// SetMissedTickBehavior changes the catch-up policy.
func (iv *Interval) SetMissedTickBehavior(b MissedTickBehavior) { iv.behavior = b }

// Period returns the interval's period.
func (iv *Interval) Period() time.Duration { return iv.period }

// Tick returns a future for the next tick, resolving to the instant the
// tick was scheduled for.
func (iv *Interval) Tick() rt.Future[time.Time] { return tickFuture{iv} }

// Reset restarts the schedule one period from now.
func (iv *Interval) Reset() {
	iv.next = time.Now().Add(iv.period)
	iv.sleep.Reset(iv.next)
}

// Drop cancels the pending tick timer.
func (iv *Interval) Drop() { iv.sleep.Drop() }

func (iv *Interval) poll(cx *rt.Context) (time.Time, bool) {
	if _, ok := iv.sleep.Poll(cx); !ok {
		return time.Time{}, false
	}
	scheduled := iv.next
	now := time.Now()
	switch next := scheduled.Add(iv.period); {
	case !next.Before(now) || iv.behavior == Burst:
		iv.next = next
	case iv.behavior == Delay:
		iv.next = now.Add(iv.period)
	default:
		missed := now.Sub(scheduled) / iv.period
		iv.next = scheduled.Add((missed + 1) * iv.period)
	}
	iv.sleep.Reset(iv.next)
	return scheduled, true
}

type tickFuture struct{ iv *Interval }

func (f tickFuture) Poll(cx *rt.Context) (time.Time, bool) { return f.iv.poll(cx) }

// Drop leaves the interval armed; the next Tick reuses its timer.
func (f tickFuture) Drop() {}
