// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error types and error handling utilities for the hioload-rt runtime.

package api

import (
	"errors"
	"fmt"
	"syscall"
)

// Common errors used across the runtime.
var (
	ErrRuntimeShutdown = errors.New("runtime is shut down")
	ErrNoBackend       = errors.New("no usable I/O backend")
	ErrIODisabled      = errors.New("I/O driver is disabled")
	ErrTimeDisabled    = errors.New("time driver is disabled")
	ErrDriverClosed    = errors.New("I/O driver is closed")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotSupported    = errors.New("operation not supported")

	// ErrCancelled and ErrPanicked match *JoinError values through errors.Is.
	ErrCancelled = errors.New("task cancelled")
	ErrPanicked  = errors.New("task panicked")
)

// ErrorCode represents specific error conditions in the runtime.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeNotSupported
	ErrCodeBackend
	ErrCodeShutdown
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// IOError is a fatal I/O failure delivered once to the task awaiting the
// operation. Transient conditions (EAGAIN, EINTR) never produce one.
type IOError struct {
	Op  string
	Fd  int
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s fd=%d: %v", e.Op, e.Fd, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// NewIOError wraps err for op on fd. nil stays nil.
func NewIOError(op string, fd int, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Fd: fd, Err: err}
}

// IsTransient reports whether err is a retryable OS condition.
func IsTransient(err error) bool {
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EWOULDBLOCK) ||
		errors.Is(err, syscall.EINTR)
}

// JoinErrorKind distinguishes why a task produced no value.
type JoinErrorKind int

const (
	JoinCancelled JoinErrorKind = iota
	JoinPanicked
)

func (k JoinErrorKind) String() string {
	switch k {
	case JoinCancelled:
		return "cancelled"
	case JoinPanicked:
		return "panicked"
	default:
		return "unknown"
	}
}

// JoinError is returned through a JoinHandle when its task did not complete
// normally.
type JoinError struct {
	Kind   JoinErrorKind
	TaskID uint64
	// Value is the recovered panic value for JoinPanicked.
	Value any
	Stack []byte
}

func (e *JoinError) Error() string {
	if e.Kind == JoinPanicked {
		return fmt.Sprintf("task %d panicked: %v", e.TaskID, e.Value)
	}
	return fmt.Sprintf("task %d cancelled", e.TaskID)
}

// Is matches ErrCancelled or ErrPanicked.
func (e *JoinError) Is(target error) bool {
	switch target {
	case ErrCancelled:
		return e.Kind == JoinCancelled
	case ErrPanicked:
		return e.Kind == JoinPanicked
	}
	return false
}

// Unwrap exposes a panic value that was itself an error.
func (e *JoinError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func (e *JoinError) IsCancelled() bool { return e.Kind == JoinCancelled }
func (e *JoinError) IsPanicked() bool  { return e.Kind == JoinPanicked }
