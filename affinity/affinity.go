// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files (affinity_linux.go, affinity_stub.go) guarded by build tags.

package affinity

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-rt/api"
)

// SetAffinity pins the calling OS thread to a given logical CPU. The caller
// must hold runtime.LockOSThread for the pin to mean anything.
// On unsupported platforms returns api.ErrNotSupported.
func SetAffinity(cpuID int) error {
	if cpuID < 0 || cpuID >= runtime.NumCPU() {
		return fmt.Errorf("affinity: cpu %d: %w", cpuID, api.ErrInvalidArgument)
	}
	return setAffinityPlatform(cpuID)
}

// ClearAffinity allows the calling OS thread to run on every CPU again.
func ClearAffinity() error {
	return clearAffinityPlatform()
}

// ThreadPinner implements api.Affinity for the calling goroutine. Pin locks
// the goroutine to its OS thread before binding it; a failed Pin leaves the
// goroutine unlocked. Unpin must run on the goroutine that pinned.
type ThreadPinner struct{}

var _ api.Affinity = ThreadPinner{}

func (ThreadPinner) Pin(cpuID int) error {
	runtime.LockOSThread()
	if err := SetAffinity(cpuID); err != nil {
		runtime.UnlockOSThread()
		return err
	}
	return nil
}

func (ThreadPinner) Unpin() error {
	defer runtime.UnlockOSThread()
	return ClearAffinity()
}

// CPUFor maps a worker index onto the available CPUs round-robin.
func CPUFor(worker int) int {
	n := runtime.NumCPU()
	if n <= 0 {
		return 0
	}
	return worker % n
}
