//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// File: reactor/kqueue_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// kqueue backend: EVFILT_READ / EVFILT_WRITE with EV_CLEAR, and a pipe for
// wakeups.

package reactor

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-rt/api"
)

type kqueueBackend struct {
	kq     int
	wakeR  int
	wakeW  int
	raw    []unix.Kevent_t
	mu     sync.Mutex
	tokens map[int]uint64
}

func newKqueueBackend(capacity int) (*kqueueBackend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue: %w", err)
	}
	unix.CloseOnExec(kq)

	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("pipe: %w", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			unix.Close(kq)
			return nil, fmt.Errorf("pipe nonblock: %w", err)
		}
	}
	b := &kqueueBackend{
		kq:     kq,
		wakeR:  p[0],
		wakeW:  p[1],
		raw:    make([]unix.Kevent_t, capacity),
		tokens: make(map[int]uint64),
	}
	var ch [1]unix.Kevent_t
	unix.SetKevent(&ch[0], b.wakeR, unix.EVFILT_READ, unix.EV_ADD|unix.EV_CLEAR)
	if _, err := unix.Kevent(kq, ch[:], nil, nil); err != nil {
		b.close()
		return nil, fmt.Errorf("kevent wakeup: %w", err)
	}
	return b, nil
}

func (b *kqueueBackend) kind() Kind { return KindKqueue }

func (b *kqueueBackend) changes(fd int, interest api.Interest, flags int) []unix.Kevent_t {
	out := make([]unix.Kevent_t, 0, 2)
	if interest.IsReadable() {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, fd, unix.EVFILT_READ, flags)
		out = append(out, ev)
	}
	if interest.IsWritable() {
		var ev unix.Kevent_t
		unix.SetKevent(&ev, fd, unix.EVFILT_WRITE, flags)
		out = append(out, ev)
	}
	return out
}

func (b *kqueueBackend) add(fd int, token uint64, interest api.Interest) error {
	b.mu.Lock()
	b.tokens[fd] = token
	b.mu.Unlock()
	if _, err := unix.Kevent(b.kq, b.changes(fd, interest, unix.EV_ADD|unix.EV_CLEAR), nil, nil); err != nil {
		b.mu.Lock()
		delete(b.tokens, fd)
		b.mu.Unlock()
		return err
	}
	return nil
}

func (b *kqueueBackend) del(fd int, token uint64, interest api.Interest) error {
	b.mu.Lock()
	if b.tokens[fd] == token {
		delete(b.tokens, fd)
	}
	b.mu.Unlock()
	_, err := unix.Kevent(b.kq, b.changes(fd, interest, unix.EV_DELETE), nil, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (b *kqueueBackend) wait(timeout time.Duration, out []event) ([]event, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}
	n, err := unix.Kevent(b.kq, nil, b.raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return out, nil
		}
		return out, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range n {
		ev := &b.raw[i]
		fd := int(ev.Ident)
		if fd == b.wakeR {
			b.drain()
			continue
		}
		tok, ok := b.tokens[fd]
		if !ok {
			continue
		}
		var r api.Readiness
		switch ev.Filter {
		case unix.EVFILT_READ:
			r = api.ReadyRead
			if ev.Flags&unix.EV_EOF != 0 {
				r |= api.ReadyReadClosed
			}
		case unix.EVFILT_WRITE:
			r = api.ReadyWrite
			if ev.Flags&unix.EV_EOF != 0 {
				r |= api.ReadyWriteClosed
			}
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			r |= api.ReadyError
		}
		out = append(out, event{token: tok, ready: r})
	}
	return out, nil
}

func (b *kqueueBackend) drain() {
	var buf [64]byte
	for {
		if _, err := unix.Read(b.wakeR, buf[:]); err != nil {
			return
		}
	}
}

func (b *kqueueBackend) wake() error {
	if _, err := unix.Write(b.wakeW, []byte{0}); err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

func (b *kqueueBackend) close() error {
	unix.Close(b.wakeR)
	unix.Close(b.wakeW)
	return unix.Close(b.kq)
}
