//go:build !linux
// +build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub implementation for platforms without thread affinity support.

package affinity

import "github.com/momentics/hioload-rt/api"

func setAffinityPlatform(cpuID int) error { return api.ErrNotSupported }

func clearAffinityPlatform() error { return nil }

// Current is not available on this platform.
func Current() ([]int, error) { return nil, api.ErrNotSupported }
