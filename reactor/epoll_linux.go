//go:build linux

// File: reactor/epoll_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Edge-triggered epoll backend with an eventfd for wakeups.

package reactor

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-rt/api"
)

// wakeToken marks the eventfd; registration tokens start at 1.
const wakeToken = 0

type epollBackend struct {
	epfd   int
	wakeFd int
	raw    []unix.EpollEvent
}

func newEpollBackend(capacity int) (*epollBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET}
	setEpollToken(&ev, wakeToken)
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wfd, &ev); err != nil {
		unix.Close(wfd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl wakeup: %w", err)
	}
	return &epollBackend{epfd: epfd, wakeFd: wfd, raw: make([]unix.EpollEvent, capacity)}, nil
}

func (b *epollBackend) kind() Kind { return KindEpoll }

func (b *epollBackend) add(fd int, token uint64, interest api.Interest) error {
	ev := unix.EpollEvent{Events: unix.EPOLLET | unix.EPOLLRDHUP}
	if interest.IsReadable() {
		ev.Events |= unix.EPOLLIN
	}
	if interest.IsWritable() {
		ev.Events |= unix.EPOLLOUT
	}
	setEpollToken(&ev, token)
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (b *epollBackend) del(fd int, _ uint64, _ api.Interest) error {
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (b *epollBackend) wait(timeout time.Duration, out []event) ([]event, error) {
	n, err := unix.EpollWait(b.epfd, b.raw, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return out, nil
		}
		return out, err
	}
	for i := range n {
		ev := &b.raw[i]
		tok := epollToken(ev)
		if tok == wakeToken {
			drainEventfd(b.wakeFd)
			continue
		}
		out = append(out, event{token: tok, ready: epollReadiness(ev.Events)})
	}
	return out, nil
}

func (b *epollBackend) wake() error { return signalEventfd(b.wakeFd) }

func (b *epollBackend) close() error {
	err1 := unix.Close(b.wakeFd)
	err2 := unix.Close(b.epfd)
	if err1 != nil {
		return err1
	}
	return err2
}

func epollReadiness(events uint32) api.Readiness {
	var r api.Readiness
	if events&unix.EPOLLIN != 0 {
		r |= api.ReadyRead
	}
	if events&unix.EPOLLOUT != 0 {
		r |= api.ReadyWrite
	}
	if events&unix.EPOLLRDHUP != 0 {
		r |= api.ReadyReadClosed
	}
	if events&unix.EPOLLHUP != 0 {
		r |= api.ReadyReadClosed | api.ReadyWriteClosed
	}
	if events&unix.EPOLLERR != 0 {
		r |= api.ReadyError
	}
	return r
}

// The 64-bit epoll data union overlays Fd and Pad.
func setEpollToken(ev *unix.EpollEvent, token uint64) {
	ev.Fd = int32(uint32(token))
	ev.Pad = int32(uint32(token >> 32))
}

func epollToken(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

func signalEventfd(fd int) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(fd, buf[:]); err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

func drainEventfd(fd int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != unix.EINTR {
			return
		}
	}
}
