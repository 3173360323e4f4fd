// File: transport/tcp/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package tcp

import (
	"errors"
	"net"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/reactor"
	"github.com/momentics/hioload-rt/rt"
)

// Listener accepts TCP connections on a bound address.
type Listener struct {
	d    *reactor.Driver
	reg  *reactor.Registration
	fd   int
	addr *net.TCPAddr
	log  zerolog.Logger

	closed atomic.Bool
}

// Bind opens a listening socket on addr ("host:port"; port 0 picks an
// ephemeral one) and registers it with h's reactor. It fails with
// api.ErrIODisabled when the runtime was built without I/O.
func Bind(h *rt.Handle, addr string) (*Listener, error) {
	d := h.Driver()
	if d == nil {
		return nil, api.ErrIODisabled
	}
	ta, err := resolve(addr)
	if err != nil {
		return nil, err
	}
	family, sa := toSockaddr(ta)
	fd, err := newSocket(family)
	if err != nil {
		return nil, err
	}
	fail := func(op string, err error) (*Listener, error) {
		_ = unix.Close(fd)
		return nil, api.NewIOError(op, fd, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return fail("listen", err)
	}
	local, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	reg, err := d.Register(fd, api.InterestRead)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	l := &Listener{
		d:    d,
		reg:  reg,
		fd:   fd,
		addr: fromSockaddr(local),
		log:  h.Logger().With().Str("transport", "tcp").Logger(),
	}
	l.log.Debug().Stringer("addr", l.addr).Int("fd", fd).Msg("listener bound")
	return l, nil
}

// LocalAddr returns the bound address, with the resolved port.
func (l *Listener) LocalAddr() *net.TCPAddr { return l.addr }

// Accept resolves to the next inbound connection. A closed listener
// yields net.ErrClosed.
func (l *Listener) Accept() rt.Future[api.Result[*Stream]] {
	return &acceptFuture{l: l}
}

// Close deregisters and closes the listening socket. Closing twice is a
// no-op.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := l.reg.Deregister()
	if cerr := unix.Close(l.fd); err == nil {
		err = api.NewIOError("close", l.fd, cerr)
	}
	l.log.Debug().Stringer("addr", l.addr).Msg("listener closed")
	return err
}

type acceptFuture struct {
	l *Listener
}

func (f *acceptFuture) Poll(cx *rt.Context) (api.Result[*Stream], bool) {
	l := f.l
	if l.closed.Load() {
		return api.Fail[*Stream](net.ErrClosed), true
	}
	var (
		nfd  int
		peer unix.Sockaddr
	)
	_, ok, err := l.reg.PollIO(cx.Waker(), api.InterestRead, "accept", func() (int, error) {
		for {
			fd, sa, err := accept(l.fd)
			// The peer gave up before we got to it.
			if errors.Is(err, syscall.ECONNABORTED) {
				continue
			}
			nfd, peer = fd, sa
			return fd, err
		}
	})
	if !ok {
		return api.Result[*Stream]{}, false
	}
	if err != nil {
		return api.Fail[*Stream](err), true
	}
	s, err := newStream(l.d, nfd)
	if err != nil {
		return api.Fail[*Stream](err), true
	}
	s.peer = fromSockaddr(peer)
	s.loadLocal()
	return api.Ok(s), true
}
