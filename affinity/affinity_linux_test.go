//go:build linux

// File: affinity/affinity_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package affinity

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rt/api"
)

func TestSetAffinityPinsThread(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	before, err := Current()
	require.NoError(t, err)
	require.NotEmpty(t, before)
	cpu := before[0]

	if err := SetAffinity(cpu); err != nil {
		t.Skipf("sched_setaffinity unavailable: %v", err)
	}
	now, err := Current()
	require.NoError(t, err)
	assert.Equal(t, []int{cpu}, now)

	require.NoError(t, ClearAffinity())
	after, err := Current()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(after), len(now))
}

func TestThreadPinnerPinAndUnpin(t *testing.T) {
	before, err := Current()
	require.NoError(t, err)
	require.NotEmpty(t, before)
	cpu := before[0]

	var p ThreadPinner
	if err := p.Pin(cpu); err != nil {
		t.Skipf("sched_setaffinity unavailable: %v", err)
	}
	now, err := Current()
	require.NoError(t, err)
	assert.Equal(t, []int{cpu}, now)

	require.NoError(t, p.Unpin())
	after, err := Current()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(after), len(now))
}

func TestThreadPinnerRejectsBadCPU(t *testing.T) {
	var p ThreadPinner
	assert.ErrorIs(t, p.Pin(-1), api.ErrInvalidArgument)
}

func TestSetAffinityRejectsBadCPU(t *testing.T) {
	assert.ErrorIs(t, SetAffinity(-1), api.ErrInvalidArgument)
	assert.ErrorIs(t, SetAffinity(runtime.NumCPU()), api.ErrInvalidArgument)
}

func TestCPUForWraps(t *testing.T) {
	n := runtime.NumCPU()
	assert.Equal(t, 0, CPUFor(0))
	assert.Equal(t, 1%n, CPUFor(n+1))
}
