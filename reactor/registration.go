// File: reactor/registration.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-fd readiness state shared between the driver and waiting tasks.

package reactor

import (
	"errors"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/momentics/hioload-rt/api"
)

const readinessMask = 0xffff

// ReadyEvent is a readiness observation together with the tick it was
// taken at, so that clearing never erases a newer notification.
type ReadyEvent struct {
	Ready api.Readiness
	tick  uint64
}

// Registration is one fd watched by a Driver.
type Registration struct {
	d        *Driver
	fd       int
	token    uint64
	interest api.Interest

	// state packs tick<<16 | readiness.
	state atomic.Uint64

	mu     sync.Mutex
	reader api.Waker
	writer api.Waker

	deregistered atomic.Bool
	closed       atomic.Bool
}

func (r *Registration) Fd() int                { return r.fd }
func (r *Registration) Interest() api.Interest { return r.interest }

// Readiness returns the currently recorded readiness bits.
func (r *Registration) Readiness() api.Readiness {
	return api.Readiness(r.state.Load() & readinessMask)
}

// Deregister is shorthand for r's driver Deregister.
func (r *Registration) Deregister() error { return r.d.Deregister(r) }

// PollReady reports readiness for dir. When none is recorded it stores w
// to be woken by the next matching event and returns ok=false.
func (r *Registration) PollReady(w api.Waker, dir api.Interest) (ev ReadyEvent, ok bool, err error) {
	if ev, ok := r.observe(dir); ok {
		return ev, true, nil
	}
	if r.closed.Load() {
		return ReadyEvent{}, false, api.ErrDriverClosed
	}

	r.mu.Lock()
	if dir.IsReadable() {
		r.reader = w
	}
	if dir.IsWritable() {
		r.writer = w
	}
	r.mu.Unlock()

	// An event may have landed between observe and publishing w.
	if ev, ok := r.observe(dir); ok {
		return ev, true, nil
	}
	if r.closed.Load() {
		return ReadyEvent{}, false, api.ErrDriverClosed
	}
	return ReadyEvent{}, false, nil
}

func (r *Registration) observe(dir api.Interest) (ReadyEvent, bool) {
	cur := r.state.Load()
	ready := api.Readiness(cur & readinessMask).ForInterest(dir)
	if ready == 0 {
		return ReadyEvent{}, false
	}
	return ReadyEvent{Ready: ready, tick: cur >> 16}, true
}

// ClearReadiness forgets ev unless a newer event arrived since it was
// observed. Backends with one-shot notifications are re-armed.
func (r *Registration) ClearReadiness(ev ReadyEvent) {
	for {
		cur := r.state.Load()
		if cur>>16 != ev.tick {
			return
		}
		next := cur &^ uint64(ev.Ready)
		if r.state.CompareAndSwap(cur, next) {
			break
		}
	}
	var dir api.Interest
	if ev.Ready.IsReadable() {
		dir |= api.InterestRead
	}
	if ev.Ready.IsWritable() {
		dir |= api.InterestWrite
	}
	if ev.Ready.IsError() {
		dir |= r.interest
	}
	r.d.rearm(r, dir)
}

// PollIO runs op once dir is ready. EINTR is retried and EAGAIN clears the
// readiness and waits again, so neither ever reaches the caller. Any other
// failure is returned once as *api.IOError.
func (r *Registration) PollIO(w api.Waker, dir api.Interest, name string, op func() (int, error)) (int, bool, error) {
	for {
		ev, ok, err := r.PollReady(w, dir)
		if err != nil {
			return 0, true, api.NewIOError(name, r.fd, err)
		}
		if !ok {
			return 0, false, nil
		}
		n, err := op()
		switch {
		case err == nil:
			return n, true, nil
		case errors.Is(err, syscall.EINTR):
			continue
		case api.IsTransient(err):
			r.ClearReadiness(ev)
			continue
		default:
			return n, true, api.NewIOError(name, r.fd, err)
		}
	}
}

// setReadiness records ready, bumps the tick and delivers the wakers it
// released.
func (r *Registration) setReadiness(ready api.Readiness, sink func(api.Waker)) int {
	for {
		cur := r.state.Load()
		next := ((cur>>16)+1)<<16 | (cur&readinessMask | uint64(ready))
		if r.state.CompareAndSwap(cur, next) {
			break
		}
	}

	var wakers [2]api.Waker
	r.mu.Lock()
	if ready.IsReadable() || ready.IsError() {
		wakers[0], r.reader = r.reader, nil
	}
	if ready.IsWritable() || ready.IsError() {
		wakers[1], r.writer = r.writer, nil
	}
	r.mu.Unlock()

	n := 0
	for _, w := range wakers {
		if w != nil {
			sink(w)
			n++
		}
	}
	return n
}

// shutdown marks r closed and wakes its waiters so they observe
// api.ErrDriverClosed.
func (r *Registration) shutdown() {
	r.closed.Store(true)
	r.mu.Lock()
	rd, wr := r.reader, r.writer
	r.reader, r.writer = nil, nil
	r.mu.Unlock()
	if rd != nil {
		rd.Wake()
	}
	if wr != nil {
		wr.Wake()
	}
}
