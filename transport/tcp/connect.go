// File: transport/tcp/connect.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package tcp

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/rt"
)

// Connect resolves to a stream connected to addr. The socket is created on
// the first poll. Dropping the future before it completes closes it.
func Connect(h *rt.Handle, addr string) rt.Future[api.Result[*Stream]] {
	return &connectFuture{h: h, addr: addr}
}

type connectFuture struct {
	h    *rt.Handle
	addr string

	s    *Stream
	done bool
	res  api.Result[*Stream]
}

func (f *connectFuture) Poll(cx *rt.Context) (api.Result[*Stream], bool) {
	if f.done {
		return f.res, true
	}
	if f.s == nil {
		connected, err := f.start()
		if err != nil {
			return f.finish(api.Fail[*Stream](err))
		}
		if connected {
			return f.finish(api.Ok(f.s))
		}
	}

	fd := f.s.fd
	_, ok, err := f.s.reg.PollIO(cx.Waker(), api.InterestWrite, "connect", func() (int, error) {
		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return 0, err
		}
		if soErr != 0 {
			return 0, syscall.Errno(soErr)
		}
		return 0, nil
	})
	if !ok {
		return api.Result[*Stream]{}, false
	}
	if err != nil {
		_ = f.s.Close()
		return f.finish(api.Fail[*Stream](err))
	}
	return f.finish(api.Ok(f.s))
}

func (f *connectFuture) start() (bool, error) {
	d := f.h.Driver()
	if d == nil {
		return false, api.ErrIODisabled
	}
	ta, err := resolve(f.addr)
	if err != nil {
		return false, err
	}
	family, sa := toSockaddr(ta)
	fd, err := newSocket(family)
	if err != nil {
		return false, err
	}
	s, err := newStream(d, fd)
	if err != nil {
		return false, err
	}
	s.peer = ta
	f.s = s

	err = unix.Connect(fd, sa)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, syscall.EINPROGRESS), errors.Is(err, syscall.EINTR):
		return false, nil
	default:
		_ = s.Close()
		return false, api.NewIOError("connect", fd, err)
	}
}

func (f *connectFuture) finish(res api.Result[*Stream]) (api.Result[*Stream], bool) {
	if res.Err == nil {
		res.Value.loadLocal()
	}
	f.done = true
	f.res = res
	f.s = nil
	return res, true
}

// Drop closes a connection attempt that never completed.
func (f *connectFuture) Drop() {
	if !f.done && f.s != nil {
		_ = f.s.Close()
		f.s = nil
	}
}
