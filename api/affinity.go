// File: api/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// CPU affinity for worker threads.

package api

// Affinity controls execution on particular CPUs.
type Affinity interface {
	// Pin locks the calling goroutine to its OS thread and binds it to cpuID.
	Pin(cpuID int) error
	// Unpin clears the binding and unlocks the thread.
	Unpin() error
}
