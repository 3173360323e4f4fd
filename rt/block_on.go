// File: rt/block_on.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rt

import "github.com/momentics/hioload-rt/api"

// BlockOn polls fut on the calling goroutine, sleeping between wakes,
// until it completes. Workers keep running spawned tasks meanwhile.
// It panics with api.ErrRuntimeShutdown if the runtime shuts down first;
// TryBlockOn reports that as an error instead.
//
// BlockOn must not be called from inside a Poll.
func BlockOn[T any](sp Spawner, fut Future[T]) T {
	v, err := TryBlockOn(sp, fut)
	if err != nil {
		panic(err)
	}
	return v
}

// TryBlockOn is BlockOn returning api.ErrRuntimeShutdown instead of
// panicking. The future is dropped in that case.
func TryBlockOn[T any](sp Spawner, fut Future[T]) (T, error) {
	h := sp.spawnHandle()
	wk := newChanWaker()
	cx := &Context{waker: wk, handle: h}
	stop := h.s.shutdownCh

	for {
		if v, ok := fut.Poll(cx); ok {
			return v, nil
		}
		select {
		case <-wk.ch:
		case <-stop:
			if v, ok := fut.Poll(cx); ok {
				return v, nil
			}
			Drop(fut)
			var zero T
			return zero, api.ErrRuntimeShutdown
		}
	}
}
