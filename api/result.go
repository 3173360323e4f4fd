// File: api/result.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Generic result, error propagation and cancellation.

package api

// Result wraps any payload or error. It is the output type of every
// fallible future in the runtime.
type Result[T any] struct {
	Value T
	Err   error
}

// Ok builds a successful result.
func Ok[T any](v T) Result[T] { return Result[T]{Value: v} }

// Fail builds a failed result.
func Fail[T any](err error) Result[T] { return Result[T]{Err: err} }

// Unwrap splits the result into Go's usual pair.
func (r Result[T]) Unwrap() (T, error) { return r.Value, r.Err }

// IsOk reports whether the result carries no error.
func (r Result[T]) IsOk() bool { return r.Err == nil }
