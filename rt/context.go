// File: rt/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rt

import "github.com/momentics/hioload-rt/api"

// Spawner is anything tasks can be spawned onto: *Runtime, *Handle or
// the *Context of a running future.
type Spawner interface {
	spawnHandle() *Handle
}

// Context is passed to Future.Poll.
type Context struct {
	waker  api.Waker
	handle *Handle
	// worker is set when the poll runs on a scheduler worker.
	worker *worker
}

// NewContext builds a context for polling a future by hand, for example
// from a test or a foreign event loop.
func NewContext(h *Handle, w api.Waker) *Context {
	return &Context{waker: w, handle: h}
}

// Waker returns the waker of the task being polled.
func (cx *Context) Waker() api.Waker { return cx.waker }

// Handle returns the runtime the task runs on.
func (cx *Context) Handle() *Handle { return cx.handle }

func (cx *Context) spawnHandle() *Handle { return cx.handle }

// WithWaker returns a copy of cx that hands out w instead. Combinators use
// it to learn which child was woken.
func (cx *Context) WithWaker(w api.Waker) *Context {
	c := *cx
	c.waker = w
	return &c
}
