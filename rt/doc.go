// File: rt/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package rt is the task runtime: poll-based futures, a work-stealing
// scheduler driven by the reactor and timer wheel, join handles, select
// and blocking offload.
//
// A Runtime is built with NewBuilder and passed around explicitly:
//
//	r, err := rt.NewBuilder().WorkerThreads(4).Build()
//	if err != nil { ... }
//	defer r.ShutdownTimeout(time.Second)
//	h := rt.Spawn(r, rt.Ready(42))
//	res := rt.BlockOn(r, h)
//
// A Future's Poll must not block. A *Context is only valid for the
// duration of the Poll call it was passed to.
package rt
