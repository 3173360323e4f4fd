// File: rt/waker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rt

import "github.com/momentics/hioload-rt/api"

// Waker reschedules a task. It names the task by arena slot and
// generation, so a waker that outlives its task is a harmless no-op.
type Waker struct {
	s   *scheduler
	idx uint32
	gen uint32
}

var _ api.Waker = Waker{}

// Wake schedules the task if it is idle. Calling it any number of times
// before the task next runs has the effect of calling it once.
func (w Waker) Wake() {
	if w.s == nil {
		return
	}
	if t := w.s.tasks.get(w.idx, w.gen); t != nil {
		w.s.wake(t, nil)
	}
}

// wake applies the wake transition. local, when non-nil, is the worker
// running on the calling goroutine.
func (s *scheduler) wake(t *task, local *worker) {
	for {
		switch t.loadState() {
		case api.TaskIdle:
			if t.cas(api.TaskIdle, api.TaskScheduled) {
				s.schedule(t, local)
				return
			}
		case api.TaskRunning:
			if t.cas(api.TaskRunning, api.TaskWoken) {
				return
			}
		default:
			return
		}
	}
}

// chanWaker wakes a goroutine blocked on ch.
type chanWaker struct {
	ch chan struct{}
}

func newChanWaker() chanWaker { return chanWaker{ch: make(chan struct{}, 1)} }

func (c chanWaker) Wake() {
	select {
	case c.ch <- struct{}{}:
	default:
	}
}
