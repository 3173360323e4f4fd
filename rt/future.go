// File: rt/future.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Future contract and small combinators.

package rt

import "github.com/momentics/hioload-rt/api"

// Future is a value that becomes available later. Poll returns ok=true
// exactly once with the output; when it returns ok=false the future has
// arranged for cx.Waker() to be woken when progress is possible.
// A future must not be polled again after it returned ok=true.
type Future[T any] interface {
	Poll(cx *Context) (T, bool)
}

// Result is the output of fallible futures.
type Result[T any] = api.Result[T]

// FutureFunc adapts a poll function to Future.
type FutureFunc[T any] func(cx *Context) (T, bool)

func (f FutureFunc[T]) Poll(cx *Context) (T, bool) { return f(cx) }

// Dropper is implemented by futures that hold resources (timer entries,
// registrations, wait-list slots, tasks) which must be released when the
// future is abandoned before completion.
type Dropper interface {
	Drop()
}

// Drop releases v's resources if it implements Dropper.
func Drop(v any) {
	if d, ok := v.(Dropper); ok {
		d.Drop()
	}
}

type readyFuture[T any] struct{ v T }

func (f readyFuture[T]) Poll(*Context) (T, bool) { return f.v, true }

// Ready returns a future that completes immediately with v.
func Ready[T any](v T) Future[T] { return readyFuture[T]{v} }

type pendingFuture[T any] struct{}

func (pendingFuture[T]) Poll(*Context) (T, bool) {
	var zero T
	return zero, false
}

// Pending returns a future that never completes.
func Pending[T any]() Future[T] { return pendingFuture[T]{} }

type mapFuture[T, U any] struct {
	fut Future[T]
	fn  func(T) U
}

func (m *mapFuture[T, U]) Poll(cx *Context) (U, bool) {
	v, ok := m.fut.Poll(cx)
	if !ok {
		var zero U
		return zero, false
	}
	return m.fn(v), true
}

func (m *mapFuture[T, U]) Drop() { Drop(m.fut) }

// Map transforms the output of fut with fn.
func Map[T, U any](fut Future[T], fn func(T) U) Future[U] {
	return &mapFuture[T, U]{fut: fut, fn: fn}
}

type yieldFuture struct{ yielded bool }

func (y *yieldFuture) Poll(cx *Context) (struct{}, bool) {
	if y.yielded {
		return struct{}{}, true
	}
	y.yielded = true
	cx.Waker().Wake()
	return struct{}{}, false
}

// YieldNow returns a future that is pending once, letting other tasks run
// before the caller continues.
func YieldNow() Future[struct{}] { return &yieldFuture{} }

// Then runs fut and feeds its output to next, polling the future next
// returns. Drop releases whichever stage is current.
func Then[T, U any](fut Future[T], next func(T) Future[U]) Future[U] {
	return &thenFuture[T, U]{first: fut, next: next}
}

type thenFuture[T, U any] struct {
	first  Future[T]
	next   func(T) Future[U]
	second Future[U]
}

func (f *thenFuture[T, U]) Poll(cx *Context) (U, bool) {
	if f.second == nil {
		v, ok := f.first.Poll(cx)
		if !ok {
			var zero U
			return zero, false
		}
		f.first = nil
		f.second = f.next(v)
	}
	return f.second.Poll(cx)
}

func (f *thenFuture[T, U]) Drop() {
	if f.second != nil {
		Drop(f.second)
		return
	}
	Drop(f.first)
}
