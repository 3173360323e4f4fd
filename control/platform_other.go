//go:build !linux
// +build !linux

// File: control/platform_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import "runtime"

// RegisterPlatformProbes sets generic platform debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.os", func() any {
		return runtime.GOOS + "/" + runtime.GOARCH
	})
}
