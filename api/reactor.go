// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared vocabulary between the I/O driver and the futures that wait on it:
// interest sets, readiness bits and the waker contract.

package api

import "strings"

// Waker re-schedules a suspended task. Wake may be called any number of
// times from any goroutine; repeated calls while the task is already queued
// are no-ops.
type Waker interface {
	Wake()
}

// WakerFunc adapts a plain function to Waker.
type WakerFunc func()

func (f WakerFunc) Wake() { f() }

// Interest selects which directions a registration waits for.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite

	InterestReadWrite = InterestRead | InterestWrite
)

func (i Interest) IsReadable() bool { return i&InterestRead != 0 }
func (i Interest) IsWritable() bool { return i&InterestWrite != 0 }

func (i Interest) String() string {
	switch i {
	case InterestRead:
		return "read"
	case InterestWrite:
		return "write"
	case InterestReadWrite:
		return "read|write"
	default:
		return "none"
	}
}

// Readiness is the set of conditions the OS reported for a registration.
type Readiness uint16

const (
	ReadyRead Readiness = 1 << iota
	ReadyWrite
	ReadyReadClosed
	ReadyWriteClosed
	ReadyError
)

// ForInterest masks r down to the bits relevant for i. Closed and error
// bits are relevant to every direction.
func (r Readiness) ForInterest(i Interest) Readiness {
	var m Readiness = ReadyError
	if i.IsReadable() {
		m |= ReadyRead | ReadyReadClosed
	}
	if i.IsWritable() {
		m |= ReadyWrite | ReadyWriteClosed
	}
	return r & m
}

func (r Readiness) IsReadable() bool    { return r&(ReadyRead|ReadyReadClosed) != 0 }
func (r Readiness) IsWritable() bool    { return r&(ReadyWrite|ReadyWriteClosed) != 0 }
func (r Readiness) IsReadClosed() bool  { return r&ReadyReadClosed != 0 }
func (r Readiness) IsWriteClosed() bool { return r&ReadyWriteClosed != 0 }
func (r Readiness) IsError() bool       { return r&ReadyError != 0 }

func (r Readiness) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	for _, p := range []struct {
		bit  Readiness
		name string
	}{
		{ReadyRead, "read"},
		{ReadyWrite, "write"},
		{ReadyReadClosed, "read-closed"},
		{ReadyWriteClosed, "write-closed"},
		{ReadyError, "error"},
	} {
		if r&p.bit != 0 {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "|")
}
