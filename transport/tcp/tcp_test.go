// File: transport/tcp/tcp_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build linux || darwin || freebsd

package tcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/rt"
)

func newRuntime(t *testing.T, enableIO bool) *rt.Runtime {
	t.Helper()
	b := rt.NewBuilder().WorkerThreads(4).Logger(zerolog.Nop())
	if enableIO {
		b.EnableAll()
	} else {
		b.EnableIO(false)
	}
	r, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.ShutdownTimeout(5 * time.Second) })
	return r
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// acceptLoop spawns an echo task per inbound connection.
type acceptLoop struct {
	l      *Listener
	acc    rt.Future[api.Result[*Stream]]
	served atomic.Int32
}

func (a *acceptLoop) Poll(cx *rt.Context) (error, bool) {
	for {
		if a.acc == nil {
			a.acc = a.l.Accept()
		}
		res, ok := a.acc.Poll(cx)
		if !ok {
			return nil, false
		}
		a.acc = nil
		if res.Err != nil {
			return res.Err, true
		}
		s := res.Value
		a.served.Add(1)
		rt.Spawn(cx, rt.Map(Copy(s, s), func(r api.Result[int64]) error {
			_ = s.Close()
			return r.Err
		}))
	}
}

// pingPong connects, sends "ping" and reads the echo back.
type pingPong struct {
	h    *rt.Handle
	addr string

	conn rt.Future[api.Result[*Stream]]
	s    *Stream
	wr   rt.Future[api.Result[int]]
	rd   rt.Future[api.Result[int]]
	buf  [4]byte
}

func (p *pingPong) Poll(cx *rt.Context) (api.Result[string], bool) {
	if p.s == nil {
		if p.conn == nil {
			p.conn = Connect(p.h, p.addr)
		}
		res, ok := p.conn.Poll(cx)
		if !ok {
			return api.Result[string]{}, false
		}
		if res.Err != nil {
			return api.Fail[string](res.Err), true
		}
		p.s = res.Value
		p.wr = p.s.WriteAll([]byte("ping"))
	}
	if p.wr != nil {
		res, ok := p.wr.Poll(cx)
		if !ok {
			return api.Result[string]{}, false
		}
		p.wr = nil
		if res.Err != nil {
			_ = p.s.Close()
			return api.Fail[string](res.Err), true
		}
		p.rd = p.s.ReadFull(p.buf[:])
	}
	res, ok := p.rd.Poll(cx)
	if !ok {
		return api.Result[string]{}, false
	}
	_ = p.s.Close()
	if res.Err != nil {
		return api.Fail[string](res.Err), true
	}
	return api.Ok(string(p.buf[:])), true
}

func TestEchoHundredClients(t *testing.T) {
	r := newRuntime(t, true)
	h := r.Handle()
	ctx := testContext(t)

	l, err := Bind(h, "127.0.0.1:0")
	require.NoError(t, err)
	loop := &acceptLoop{l: l}
	server := rt.Spawn[error](r, loop)
	addr := l.LocalAddr().String()

	const clients = 100
	g, gctx := errgroup.WithContext(ctx)
	for i := range clients {
		jh := rt.Spawn[api.Result[string]](r, &pingPong{h: h, addr: addr})
		g.Go(func() error {
			res, err := jh.Wait(gctx)
			if err != nil {
				return err
			}
			if res.Err != nil {
				return fmt.Errorf("client %d: %w", i, res.Err)
			}
			if res.Value != "ping" {
				return fmt.Errorf("client %d: got %q", i, res.Value)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(clients), loop.served.Load())

	// Only the listener stays registered once every handler saw EOF.
	require.Eventually(t, func() bool { return h.Driver().Registrations() == 1 },
		5*time.Second, 5*time.Millisecond)

	server.Abort()
	_, err = server.Wait(ctx)
	assert.ErrorIs(t, err, api.ErrCancelled)
	require.NoError(t, l.Close())
	assert.Equal(t, 0, h.Driver().Registrations())
	require.NoError(t, r.ShutdownTimeout(5*time.Second))
}

func TestLargePayloadRoundTrip(t *testing.T) {
	r := newRuntime(t, true)
	h := r.Handle()
	ctx := testContext(t)

	l, err := Bind(h, "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	server := rt.Spawn[error](r, &acceptLoop{l: l})
	defer server.Abort()

	payload := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)
	res := rt.BlockOn(r, Connect(h, l.LocalAddr().String()))
	require.NoError(t, res.Err)
	s := res.Value
	defer s.Close()

	writer := rt.Spawn(r, rt.Map(s.WriteAll(payload), func(w api.Result[int]) error {
		if w.Err != nil {
			return w.Err
		}
		return s.ShutdownWrite()
	}))

	got := make([]byte, len(payload))
	rd := rt.BlockOn(r, s.ReadFull(got))
	require.NoError(t, rd.Err)
	assert.Equal(t, len(payload), rd.Value)
	assert.True(t, bytes.Equal(payload, got))

	werr, err := writer.Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, werr)

	eof := rt.BlockOn(r, s.Read(make([]byte, 16)))
	assert.ErrorIs(t, eof.Err, io.EOF)
}

func TestStreamAddrsAndHalfClose(t *testing.T) {
	r := newRuntime(t, true)
	h := r.Handle()

	l, err := Bind(h, "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	assert.NotZero(t, l.LocalAddr().Port)

	cres := rt.BlockOn(r, Connect(h, l.LocalAddr().String()))
	require.NoError(t, cres.Err)
	client := cres.Value
	ares := rt.BlockOn(r, l.Accept())
	require.NoError(t, ares.Err)
	peer := ares.Value

	assert.Equal(t, l.LocalAddr().Port, client.PeerAddr().Port)
	assert.Equal(t, client.LocalAddr().Port, peer.PeerAddr().Port)
	assert.True(t, peer.PeerAddr().IP.IsLoopback())
	require.NoError(t, client.SetNoDelay(true))

	w := rt.BlockOn(r, client.WriteAll([]byte("hello")))
	require.NoError(t, w.Err)
	assert.Equal(t, 5, w.Value)
	require.NoError(t, client.ShutdownWrite())

	buf := make([]byte, 5)
	rd := rt.BlockOn(r, peer.ReadFull(buf))
	require.NoError(t, rd.Err)
	assert.Equal(t, "hello", string(buf))
	rd = rt.BlockOn(r, peer.Read(buf))
	assert.ErrorIs(t, rd.Err, io.EOF)
	assert.Zero(t, rd.Value)

	short := rt.BlockOn(r, peer.ReadFull(make([]byte, 1)))
	assert.ErrorIs(t, short.Err, io.EOF)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	require.NoError(t, peer.Close())
	rd = rt.BlockOn(r, peer.Read(buf))
	assert.ErrorIs(t, rd.Err, net.ErrClosed)
	assert.Equal(t, 1, h.Driver().Registrations())
}

// counted records how often fut has been polled.
func counted[T any](fut rt.Future[T], polls *atomic.Int32) rt.Future[T] {
	return rt.FutureFunc[T](func(cx *rt.Context) (T, bool) {
		polls.Add(1)
		return fut.Poll(cx)
	})
}

func TestCloseWakesPendingAccept(t *testing.T) {
	r := newRuntime(t, true)
	h := r.Handle()

	l, err := Bind(h, "127.0.0.1:0")
	require.NoError(t, err)

	var polls atomic.Int32
	jh := rt.Spawn(r, counted(l.Accept(), &polls))
	require.Eventually(t, func() bool { return polls.Load() > 0 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, l.Close())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := jh.Wait(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, net.ErrClosed)
	assert.Nil(t, res.Value)
	assert.Equal(t, 0, h.Driver().Registrations())
}

func TestCloseWakesPendingRead(t *testing.T) {
	r := newRuntime(t, true)
	h := r.Handle()

	l, err := Bind(h, "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	cres := rt.BlockOn(r, Connect(h, l.LocalAddr().String()))
	require.NoError(t, cres.Err)
	client := cres.Value
	defer client.Close()
	ares := rt.BlockOn(r, l.Accept())
	require.NoError(t, ares.Err)
	peer := ares.Value

	var polls atomic.Int32
	jh := rt.Spawn(r, counted(peer.Read(make([]byte, 16)), &polls))
	require.Eventually(t, func() bool { return polls.Load() > 0 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, peer.Close())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := jh.Wait(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, net.ErrClosed)
	assert.Zero(t, res.Value)
}

func TestConnectRefused(t *testing.T) {
	r := newRuntime(t, true)
	h := r.Handle()

	l, err := Bind(h, "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.LocalAddr().String()
	require.NoError(t, l.Close())

	res := rt.BlockOn(r, Connect(h, addr))
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, syscall.ECONNREFUSED)
	var ioe *api.IOError
	assert.True(t, errors.As(res.Err, &ioe))
	assert.Equal(t, 0, h.Driver().Registrations())

	acc := rt.BlockOn(r, l.Accept())
	assert.ErrorIs(t, acc.Err, net.ErrClosed)
}

func TestDroppedConnectReleasesSocket(t *testing.T) {
	r := newRuntime(t, true)
	h := r.Handle()

	l, err := Bind(h, "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	fut := Connect(h, l.LocalAddr().String())
	cx := rt.NewContext(h, api.WakerFunc(func() {}))
	if res, ok := fut.Poll(cx); ok {
		require.NoError(t, res.Err)
		require.NoError(t, res.Value.Close())
	} else {
		assert.Equal(t, 2, h.Driver().Registrations())
	}
	rt.Drop(fut)
	assert.Equal(t, 1, h.Driver().Registrations())
}

func TestIODisabled(t *testing.T) {
	r := newRuntime(t, false)
	h := r.Handle()

	_, err := Bind(h, "127.0.0.1:0")
	assert.ErrorIs(t, err, api.ErrIODisabled)

	res := rt.BlockOn(r, Connect(h, "127.0.0.1:1"))
	assert.ErrorIs(t, res.Err, api.ErrIODisabled)
}

func TestBindBadAddress(t *testing.T) {
	r := newRuntime(t, true)
	_, err := Bind(r.Handle(), "not-an-address")
	require.Error(t, err)
	var apiErr *api.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, api.ErrCodeInvalidArgument, apiErr.Code)
}
