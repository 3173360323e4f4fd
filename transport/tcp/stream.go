// File: transport/tcp/stream.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package tcp

import (
	"errors"
	"io"
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/reactor"
	"github.com/momentics/hioload-rt/rt"
)

// Stream is a connected TCP socket.
type Stream struct {
	d     *reactor.Driver
	reg   *reactor.Registration
	fd    int
	local *net.TCPAddr
	peer  *net.TCPAddr

	closed atomic.Bool
}

// newStream takes ownership of fd and registers it for both directions.
func newStream(d *reactor.Driver, fd int) (*Stream, error) {
	reg, err := d.Register(fd, api.InterestReadWrite)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &Stream{d: d, reg: reg, fd: fd}, nil
}

func (s *Stream) loadLocal() {
	if sa, err := unix.Getsockname(s.fd); err == nil {
		s.local = fromSockaddr(sa)
	}
}

// LocalAddr returns the local end of the connection.
func (s *Stream) LocalAddr() *net.TCPAddr { return s.local }

// PeerAddr returns the remote end of the connection.
func (s *Stream) PeerAddr() *net.TCPAddr { return s.peer }

// Read resolves once at least one byte was read into buf. End of stream
// is reported as io.EOF with a zero count.
func (s *Stream) Read(buf []byte) rt.Future[api.Result[int]] {
	return &readFuture{s: s, buf: buf}
}

// ReadFull reads exactly len(buf) bytes. Like io.ReadFull it reports
// io.EOF when nothing was read and io.ErrUnexpectedEOF on a short read.
func (s *Stream) ReadFull(buf []byte) rt.Future[api.Result[int]] {
	return &readFullFuture{s: s, buf: buf}
}

// Write resolves once some prefix of buf was written and returns its
// length.
func (s *Stream) Write(buf []byte) rt.Future[api.Result[int]] {
	return &writeFuture{s: s, buf: buf}
}

// WriteAll keeps writing until all of buf is sent or an error occurs.
func (s *Stream) WriteAll(buf []byte) rt.Future[api.Result[int]] {
	return &writeAllFuture{s: s, buf: buf}
}

// ShutdownWrite half-closes the connection; the peer reads EOF.
func (s *Stream) ShutdownWrite() error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	return api.NewIOError("shutdown", s.fd, unix.Shutdown(s.fd, unix.SHUT_WR))
}

// SetNoDelay toggles Nagle's algorithm.
func (s *Stream) SetNoDelay(on bool) error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	v := 0
	if on {
		v = 1
	}
	return api.NewIOError("setsockopt", s.fd, unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v))
}

// Close deregisters and closes the socket. Closing twice is a no-op.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.reg.Deregister()
	if cerr := unix.Close(s.fd); err == nil {
		err = api.NewIOError("close", s.fd, cerr)
	}
	return err
}

func (s *Stream) pollRead(cx *rt.Context, buf []byte) (api.Result[int], bool) {
	if s.closed.Load() {
		return api.Fail[int](net.ErrClosed), true
	}
	if len(buf) == 0 {
		return api.Ok(0), true
	}
	n, ok, err := s.reg.PollIO(cx.Waker(), api.InterestRead, "read", func() (int, error) {
		return unix.Read(s.fd, buf)
	})
	switch {
	case !ok:
		return api.Result[int]{}, false
	case err != nil:
		return api.Fail[int](err), true
	case n == 0:
		return api.Fail[int](io.EOF), true
	}
	return api.Ok(n), true
}

func (s *Stream) pollWrite(cx *rt.Context, buf []byte) (api.Result[int], bool) {
	if s.closed.Load() {
		return api.Fail[int](net.ErrClosed), true
	}
	if len(buf) == 0 {
		return api.Ok(0), true
	}
	n, ok, err := s.reg.PollIO(cx.Waker(), api.InterestWrite, "write", func() (int, error) {
		return unix.Write(s.fd, buf)
	})
	if !ok {
		return api.Result[int]{}, false
	}
	if err != nil {
		return api.Fail[int](err), true
	}
	return api.Ok(n), true
}

type readFuture struct {
	s   *Stream
	buf []byte
}

func (f *readFuture) Poll(cx *rt.Context) (api.Result[int], bool) {
	return f.s.pollRead(cx, f.buf)
}

type readFullFuture struct {
	s   *Stream
	buf []byte
	n   int
}

func (f *readFullFuture) Poll(cx *rt.Context) (api.Result[int], bool) {
	for f.n < len(f.buf) {
		res, ok := f.s.pollRead(cx, f.buf[f.n:])
		if !ok {
			return api.Result[int]{}, false
		}
		if errors.Is(res.Err, io.EOF) && f.n > 0 {
			return api.Result[int]{Value: f.n, Err: io.ErrUnexpectedEOF}, true
		}
		if res.Err != nil {
			return api.Result[int]{Value: f.n, Err: res.Err}, true
		}
		f.n += res.Value
	}
	return api.Ok(f.n), true
}

type writeFuture struct {
	s   *Stream
	buf []byte
}

func (f *writeFuture) Poll(cx *rt.Context) (api.Result[int], bool) {
	return f.s.pollWrite(cx, f.buf)
}

type writeAllFuture struct {
	s   *Stream
	buf []byte
	n   int
}

func (f *writeAllFuture) Poll(cx *rt.Context) (api.Result[int], bool) {
	for f.n < len(f.buf) {
		res, ok := f.s.pollWrite(cx, f.buf[f.n:])
		if !ok {
			return api.Result[int]{}, false
		}
		if res.Err != nil {
			return api.Result[int]{Value: f.n, Err: res.Err}, true
		}
		if res.Value == 0 {
			return api.Result[int]{Value: f.n, Err: io.ErrShortWrite}, true
		}
		f.n += res.Value
	}
	return api.Ok(f.n), true
}
