// File: reactor/driver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Driver: registration table, wait/dispatch cycle and backend selection.

package reactor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-rt/api"
)

const (
	defaultEntries       = 256
	defaultEventCapacity = 1024
)

// Config selects and sizes the backend.
type Config struct {
	// EnableIO false yields a park-only driver that still supports timed
	// waits and Unpark but rejects registrations.
	EnableIO bool
	// DisableIOUring skips io_uring even where the kernel supports it.
	DisableIOUring bool
	// Backend forces a backend kind; KindNone selects automatically.
	Backend Kind
	// Entries is the io_uring submission queue size.
	Entries uint32
	// EventCapacity bounds the events collected by one Wait.
	EventCapacity int
	Logger        zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.Entries == 0 {
		c.Entries = defaultEntries
	}
	if c.EventCapacity <= 0 {
		c.EventCapacity = defaultEventCapacity
	}
	return c
}

// Driver multiplexes readiness for many registrations. Wait and
// PollCompletions must be called by one goroutine at a time; everything
// else is safe for concurrent use.
type Driver struct {
	be  backend
	re  rearmer
	log zerolog.Logger

	mu    sync.RWMutex
	regs  map[uint64]*Registration
	next  atomic.Uint64
	count atomic.Int64

	waitMu  sync.Mutex
	pending []event
	scratch []dispatch

	closed atomic.Bool
}

type dispatch struct {
	reg   *Registration
	ready api.Readiness
}

// New opens the best available backend. Failure to open any backend is
// reported as api.ErrNoBackend.
func New(cfg Config) (*Driver, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger.With().Str("component", "reactor").Logger()

	var (
		be  backend
		err error
	)
	if cfg.EnableIO {
		be, err = openBackend(cfg, log)
		if err != nil {
			return nil, api.NewError(api.ErrCodeBackend, "reactor: open backend").
				WithCause(fmt.Errorf("%w: %v", api.ErrNoBackend, err))
		}
	} else {
		be = newParkBackend()
	}

	d := &Driver{
		be:      be,
		log:     log,
		regs:    make(map[uint64]*Registration),
		pending: make([]event, 0, cfg.EventCapacity),
	}
	d.re, _ = be.(rearmer)
	log.Debug().Str("backend", be.kind().String()).Msg("driver ready")
	return d, nil
}

// Kind reports the active backend.
func (d *Driver) Kind() Kind { return d.be.kind() }

// Registrations returns the number of live registrations.
func (d *Driver) Registrations() int { return int(d.count.Load()) }

// Register starts watching fd. The fd must be in non-blocking mode.
func (d *Driver) Register(fd int, interest api.Interest) (*Registration, error) {
	if d.closed.Load() {
		return nil, api.ErrDriverClosed
	}
	if d.be.kind() == KindPark {
		return nil, api.ErrIODisabled
	}
	if interest&api.InterestReadWrite == 0 {
		return nil, api.ErrInvalidArgument
	}
	r := &Registration{d: d, fd: fd, token: d.next.Add(1), interest: interest}

	d.mu.Lock()
	d.regs[r.token] = r
	d.mu.Unlock()

	if err := d.be.add(fd, r.token, interest); err != nil {
		d.mu.Lock()
		delete(d.regs, r.token)
		d.mu.Unlock()
		return nil, api.NewIOError("register", fd, err)
	}
	d.count.Add(1)
	return r, nil
}

// Deregister stops watching r and wakes any task parked on it; later polls
// fail with api.ErrDriverClosed. Deregistering twice is a no-op.
func (d *Driver) Deregister(r *Registration) error {
	if r == nil || !r.deregistered.CompareAndSwap(false, true) {
		return nil
	}
	d.mu.Lock()
	delete(d.regs, r.token)
	d.mu.Unlock()
	d.count.Add(-1)
	r.shutdown()

	if d.closed.Load() {
		return nil
	}
	err := d.be.del(r.fd, r.token, r.interest)
	if err != nil && !errors.Is(err, syscall.ENOENT) && !errors.Is(err, syscall.EBADF) {
		return api.NewIOError("deregister", r.fd, err)
	}
	return nil
}

// Wait blocks until the backend reports events, Unpark is called, or
// timeout elapses. A negative timeout waits forever; zero polls.
func (d *Driver) Wait(timeout time.Duration) (int, error) {
	d.waitMu.Lock()
	defer d.waitMu.Unlock()
	if d.closed.Load() {
		return 0, api.ErrDriverClosed
	}
	before := len(d.pending)
	evs, err := d.be.wait(timeout, d.pending)
	d.pending = evs
	if err != nil {
		return len(evs) - before, api.NewIOError("wait", -1, err)
	}
	return len(evs) - before, nil
}

// PollCompletions applies collected events to their registrations and
// hands every waker that became runnable to sink. It returns the number of
// wakers delivered.
func (d *Driver) PollCompletions(sink func(api.Waker)) int {
	d.waitMu.Lock()
	if len(d.pending) == 0 {
		d.waitMu.Unlock()
		return 0
	}
	work := d.scratch[:0]
	d.mu.RLock()
	for _, ev := range d.pending {
		if r, ok := d.regs[ev.token]; ok {
			work = append(work, dispatch{reg: r, ready: ev.ready})
		}
	}
	d.mu.RUnlock()
	d.pending = d.pending[:0]
	d.scratch = work[:0]
	d.waitMu.Unlock()

	n := 0
	for i := range work {
		n += work[i].reg.setReadiness(work[i].ready, sink)
		work[i].reg = nil
	}
	return n
}

// Unpark interrupts a blocked Wait, or makes the next one return at once.
func (d *Driver) Unpark() error {
	if d.closed.Load() {
		return nil
	}
	return d.be.wake()
}

// Close wakes every remaining registration with api.ErrDriverClosed and
// releases the backend. It returns the number of registrations that were
// still live.
func (d *Driver) Close() (int, error) {
	if !d.closed.CompareAndSwap(false, true) {
		return 0, nil
	}
	d.mu.Lock()
	leaked := make([]*Registration, 0, len(d.regs))
	for tok, r := range d.regs {
		leaked = append(leaked, r)
		delete(d.regs, tok)
	}
	d.mu.Unlock()

	for _, r := range leaked {
		if r.deregistered.CompareAndSwap(false, true) {
			d.count.Add(-1)
		}
		r.shutdown()
	}
	if len(leaked) > 0 {
		d.log.Warn().Int("registrations", len(leaked)).Msg("driver closed with live registrations")
	}

	// Let a concurrent Wait finish before the backend goes away.
	_ = d.be.wake()
	d.waitMu.Lock()
	defer d.waitMu.Unlock()
	return len(leaked), d.be.close()
}

func (d *Driver) rearm(r *Registration, dir api.Interest) {
	if d.re == nil || r.deregistered.Load() || d.closed.Load() {
		return
	}
	for _, one := range []api.Interest{api.InterestRead, api.InterestWrite} {
		if dir&one == 0 || r.interest&one == 0 {
			continue
		}
		if err := d.re.rearm(r.fd, r.token, one); err != nil {
			d.log.Debug().Err(err).Int("fd", r.fd).Msg("rearm failed")
		}
	}
}
