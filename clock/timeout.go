// File: clock/timeout.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package clock

import (
	"errors"
	"time"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/rt"
)

// ErrElapsed is returned by Timeout when the deadline passes first.
var ErrElapsed = errors.New("clock: deadline elapsed")

type timeoutFuture[T any] struct {
	fut   rt.Future[T]
	sleep *Sleeper
	done  bool
}

// Timeout races fut against a deadline d from now. On expiry fut is
// dropped and the result carries ErrElapsed.
func Timeout[T any](d time.Duration, fut rt.Future[T]) rt.Future[api.Result[T]] {
	return &timeoutFuture[T]{fut: fut, sleep: Sleep(d)}
}

// TimeoutAt is Timeout with an absolute deadline.
func TimeoutAt[T any](deadline time.Time, fut rt.Future[T]) rt.Future[api.Result[T]] {
	return &timeoutFuture[T]{fut: fut, sleep: SleepUntil(deadline)}
}

func (f *timeoutFuture[T]) Poll(cx *rt.Context) (api.Result[T], bool) {
	if v, ok := f.fut.Poll(cx); ok {
		f.sleep.Drop()
		f.done = true
		return api.Ok(v), true
	}
	if _, ok := f.sleep.Poll(cx); ok {
		rt.Drop(f.fut)
		f.done = true
		return api.Fail[T](ErrElapsed), true
	}
	return api.Result[T]{}, false
}

func (f *timeoutFuture[T]) Drop() {
	if f.done {
		return
	}
	f.done = true
	f.sleep.Drop()
	rt.Drop(f.fut)
}
