// File: reactor/backends_linux_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackends() []Kind { return []Kind{KindEpoll, KindIOUring} }

func TestParseKernelRelease(t *testing.T) {
	for release, want := range map[string][2]int{
		"5.15.0-91-generic": {5, 15},
		"6.1.55":            {6, 1},
		"4.19.0+":           {4, 19},
		"6.18.44-fc-v139":   {6, 18},
		"5.4.0-1103-aws":    {5, 4},
	} {
		major, minor, err := parseKernelRelease(release)
		require.NoError(t, err, release)
		assert.Equal(t, want, [2]int{major, minor}, release)
	}
	_, _, err := parseKernelRelease("garbage")
	assert.Error(t, err)
}

func TestVersionAtLeast(t *testing.T) {
	assert.True(t, versionAtLeast(5, 1, 5, 1))
	assert.True(t, versionAtLeast(6, 0, 5, 13))
	assert.False(t, versionAtLeast(5, 12, 5, 13))
	assert.False(t, versionAtLeast(4, 20, 5, 1))
}

func TestAutoSelectionNeverFails(t *testing.T) {
	d := openDriver(t, KindNone)
	assert.Contains(t, []Kind{KindEpoll, KindIOUring}, d.Kind())

	d2, err := New(Config{EnableIO: true, DisableIOUring: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer d2.Close()
	assert.Equal(t, KindEpoll, d2.Kind())
}
