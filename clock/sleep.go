// File: clock/sleep.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package clock

import (
	"time"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/rt"
	"github.com/momentics/hioload-rt/timer"
)

// Sleeper completes once its deadline has passed. It never completes early;
// with the default 1ms tick it completes at most about a tick late.
// Dropping it before completion cancels the timer.
type Sleeper struct {
	deadline time.Time
	td       *rt.TimeDriver
	entry    *timer.Entry
	done     bool
}

var (
	_ rt.Future[struct{}] = (*Sleeper)(nil)
	_ rt.Dropper          = (*Sleeper)(nil)
)

// Sleep returns a future that completes after d.
func Sleep(d time.Duration) *Sleeper {
	return &Sleeper{deadline: time.Now().Add(d)}
}

// SleepUntil returns a future that completes at t.
func SleepUntil(t time.Time) *Sleeper {
	return &Sleeper{deadline: t}
}

// Deadline returns the instant the sleep completes at.
func (s *Sleeper) Deadline() time.Time { return s.deadline }

// IsElapsed reports whether the sleep has completed.
func (s *Sleeper) IsElapsed() bool { return s.done }

// Poll implements rt.Future. It panics with api.ErrTimeDisabled on a
// runtime built without timers.
func (s *Sleeper) Poll(cx *rt.Context) (struct{}, bool) {
	if s.done {
		return struct{}{}, true
	}
	if !time.Now().Before(s.deadline) {
		s.finish()
		return struct{}{}, true
	}
	if s.td == nil {
		s.td = cx.Handle().Timers()
		if s.td == nil {
			panic(api.ErrTimeDisabled)
		}
	}
	switch {
	case s.entry == nil, s.entry.Fired():
		// Armed for the first time, or fired against a clock that has
		// not caught up with the deadline yet.
		s.entry = s.td.Register(s.deadline, cx.Waker())
	default:
		s.td.SetWaker(s.entry, cx.Waker())
	}
	return struct{}{}, false
}

// Reset moves the deadline, re-arming a sleep that already completed.
func (s *Sleeper) Reset(deadline time.Time) {
	s.Drop()
	s.deadline = deadline
	s.done = false
}

// Drop implements rt.Dropper.
func (s *Sleeper) Drop() {
	if s.entry != nil {
		s.td.Cancel(s.entry)
		s.entry = nil
	}
}

func (s *Sleeper) finish() {
	s.done = true
	s.Drop()
}
