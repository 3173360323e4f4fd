//go:build linux || darwin || freebsd

// File: reactor/driver_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-rt/api"
)

type countingWaker struct{ n atomic.Int32 }

func (c *countingWaker) Wake() { c.n.Add(1) }

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	for _, fd := range fds {
		require.NoError(t, unix.SetNonblock(fd, true))
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func openDriver(t *testing.T, kind Kind) *Driver {
	t.Helper()
	d, err := New(Config{EnableIO: true, Backend: kind, Logger: zerolog.Nop()})
	if err != nil && kind == KindIOUring {
		t.Skipf("io_uring not available: %v", err)
	}
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

// pump waits and dispatches until cond holds or the deadline passes.
func pump(t *testing.T, d *Driver, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "condition not reached")
		_, err := d.Wait(50 * time.Millisecond)
		require.NoError(t, err)
		d.PollCompletions(func(w api.Waker) { w.Wake() })
	}
}

func readOp(fd int, buf []byte) func() (int, error) {
	return func() (int, error) { return unix.Read(fd, buf) }
}

func TestDriverReadinessCycle(t *testing.T) {
	for _, kind := range testBackends() {
		t.Run(kind.String(), func(t *testing.T) {
			d := openDriver(t, kind)
			require.Equal(t, kind, d.Kind())
			a, b := socketPair(t)

			reg, err := d.Register(a, api.InterestReadWrite)
			require.NoError(t, err)
			assert.Equal(t, 1, d.Registrations())

			w := &countingWaker{}
			buf := make([]byte, 16)

			// Nothing to read yet: the waker is parked on the registration.
			pump(t, d, func() bool {
				_, ready, err := reg.PollIO(w, api.InterestRead, "read", readOp(a, buf))
				require.NoError(t, err)
				return !ready
			})

			before := w.n.Load()
			_, err = unix.Write(b, []byte("ping"))
			require.NoError(t, err)
			pump(t, d, func() bool { return w.n.Load() > before })

			n, ready, err := reg.PollIO(w, api.InterestRead, "read", readOp(a, buf))
			require.NoError(t, err)
			require.True(t, ready)
			assert.Equal(t, "ping", string(buf[:n]))

			// Drained: EAGAIN is swallowed and the task waits again.
			_, ready, err = reg.PollIO(w, api.InterestRead, "read", readOp(a, buf))
			require.NoError(t, err)
			require.False(t, ready)

			before = w.n.Load()
			_, err = unix.Write(b, []byte("pong"))
			require.NoError(t, err)
			pump(t, d, func() bool { return w.n.Load() > before })

			n, ready, err = reg.PollIO(w, api.InterestRead, "read", readOp(a, buf))
			require.NoError(t, err)
			require.True(t, ready)
			assert.Equal(t, "pong", string(buf[:n]))

			require.NoError(t, d.Deregister(reg))
			require.NoError(t, d.Deregister(reg))
			assert.Equal(t, 0, d.Registrations())
		})
	}
}

func TestDriverWritableAndHangup(t *testing.T) {
	for _, kind := range testBackends() {
		t.Run(kind.String(), func(t *testing.T) {
			d := openDriver(t, kind)
			a, b := socketPair(t)
			reg, err := d.Register(a, api.InterestReadWrite)
			require.NoError(t, err)
			defer reg.Deregister()

			w := &countingWaker{}
			pump(t, d, func() bool {
				_, ok, err := reg.PollReady(w, api.InterestWrite)
				require.NoError(t, err)
				return ok
			})

			unix.Close(b)
			pump(t, d, func() bool {
				ev, ok, err := reg.PollReady(w, api.InterestRead)
				require.NoError(t, err)
				return ok && ev.Ready.IsReadable()
			})
			buf := make([]byte, 4)
			n, ready, err := reg.PollIO(w, api.InterestRead, "read", readOp(a, buf))
			require.True(t, ready)
			require.NoError(t, err)
			assert.Equal(t, 0, n, "peer closed reads as EOF")
		})
	}
}

func TestDriverFatalErrorIsTyped(t *testing.T) {
	d := openDriver(t, testBackends()[0])
	a, _ := socketPair(t)
	reg, err := d.Register(a, api.InterestRead)
	require.NoError(t, err)
	defer reg.Deregister()

	reg.setReadiness(api.ReadyRead, func(api.Waker) {})
	_, ready, err := reg.PollIO(&countingWaker{}, api.InterestRead, "read", func() (int, error) {
		return 0, unix.ECONNRESET
	})
	require.True(t, ready)
	var ioErr *api.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "read", ioErr.Op)
	assert.Equal(t, a, ioErr.Fd)
	assert.True(t, errors.Is(err, unix.ECONNRESET))
}

func TestDriverUnparkInterruptsWait(t *testing.T) {
	for _, kind := range testBackends() {
		t.Run(kind.String(), func(t *testing.T) {
			d := openDriver(t, kind)
			done := make(chan struct{})
			go func() {
				defer close(done)
				d.Wait(-1)
			}()
			time.Sleep(20 * time.Millisecond)
			require.NoError(t, d.Unpark())
			select {
			case <-done:
			case <-time.After(3 * time.Second):
				t.Fatal("Wait did not return after Unpark")
			}
		})
	}
}

func TestDriverCloseReleasesWaiters(t *testing.T) {
	d, err := New(Config{EnableIO: true, Backend: testBackends()[0], Logger: zerolog.Nop()})
	require.NoError(t, err)
	a, _ := socketPair(t)
	reg, err := d.Register(a, api.InterestRead)
	require.NoError(t, err)

	w := &countingWaker{}
	_, ok, err := reg.PollReady(w, api.InterestRead)
	require.NoError(t, err)
	require.False(t, ok)

	leaked, err := d.Close()
	require.NoError(t, err)
	assert.Equal(t, 1, leaked)
	assert.Equal(t, int32(1), w.n.Load())
	assert.Equal(t, 0, d.Registrations())

	_, _, err = reg.PollReady(w, api.InterestRead)
	assert.ErrorIs(t, err, api.ErrDriverClosed)
	_, err = d.Register(a, api.InterestRead)
	assert.ErrorIs(t, err, api.ErrDriverClosed)
}

func TestDeregisterWakesParkedTask(t *testing.T) {
	for _, kind := range testBackends() {
		t.Run(kind.String(), func(t *testing.T) {
			d := openDriver(t, kind)
			a, _ := socketPair(t)
			reg, err := d.Register(a, api.InterestRead)
			require.NoError(t, err)

			w := &countingWaker{}
			buf := make([]byte, 8)
			pump(t, d, func() bool {
				_, ready, err := reg.PollIO(w, api.InterestRead, "read", readOp(a, buf))
				require.NoError(t, err)
				return !ready
			})
			before := w.n.Load()

			require.NoError(t, d.Deregister(reg))
			assert.Equal(t, before+1, w.n.Load())
			assert.Equal(t, 0, d.Registrations())

			_, ready, err := reg.PollIO(w, api.InterestRead, "read", readOp(a, buf))
			assert.True(t, ready)
			assert.ErrorIs(t, err, api.ErrDriverClosed)

			require.NoError(t, d.Deregister(reg))
			assert.Equal(t, before+1, w.n.Load())
		})
	}
}

func TestParkDriver(t *testing.T) {
	d, err := New(Config{EnableIO: false, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, KindPark, d.Kind())

	_, err = d.Register(0, api.InterestRead)
	assert.ErrorIs(t, err, api.ErrIODisabled)

	start := time.Now()
	_, err = d.Wait(30 * time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	require.NoError(t, d.Unpark())
	start = time.Now()
	_, err = d.Wait(time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestParseKind(t *testing.T) {
	for name, want := range map[string]Kind{
		"":         KindNone,
		"auto":     KindNone,
		"io_uring": KindIOUring,
		"EPOLL":    KindEpoll,
		"kqueue":   KindKqueue,
	} {
		got, err := ParseKind(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseKind("iocp")
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}
