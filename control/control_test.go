// File: control/control_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rt/api"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rt.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Runtime.EnableIO)
	assert.Equal(t, time.Millisecond, cfg.Timer.Tick.Duration)
	assert.Equal(t, 10*time.Second, cfg.Blocking.KeepAlive.Duration)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	t.Setenv(EnvDisableIOUring, "")
	path := writeConfig(t, `
[runtime]
worker_threads = 3
enable_time = false

[timer]
tick = "5ms"

[reactor]
backend = "epoll"

[blocking]
keep_alive = "250ms"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Runtime.WorkerThreads)
	assert.False(t, cfg.Runtime.EnableTime)
	assert.True(t, cfg.Runtime.EnableIO, "untouched keys keep defaults")
	assert.Equal(t, 5*time.Millisecond, cfg.Timer.Tick.Duration)
	assert.Equal(t, "epoll", cfg.Reactor.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Blocking.KeepAlive.Duration)
	assert.Equal(t, 512, cfg.Blocking.MaxThreads)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "[runtime]\nworkers = 4\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	var apiErr *api.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "runtime.workers", apiErr.Context["keys"])
}

func TestLoadConfigBadDuration(t *testing.T) {
	path := writeConfig(t, "[timer]\ntick = \"soon\"\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"runtime.worker_threads": func(c *Config) { c.Runtime.WorkerThreads = -1 },
		"timer.tick":             func(c *Config) { c.Timer.Tick.Duration = 0 },
		"reactor.entries":        func(c *Config) { c.Reactor.Entries = 100 },
		"reactor.backend":        func(c *Config) { c.Reactor.Backend = "iocp" },
		"blocking.max_threads":   func(c *Config) { c.Blocking.MaxThreads = 0 },
	}
	for field, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		err := cfg.Validate()
		require.Error(t, err, field)
		var apiErr *api.Error
		require.True(t, errors.As(err, &apiErr), field)
		assert.Equal(t, api.ErrCodeInvalidArgument, apiErr.Code)
		assert.Equal(t, field, apiErr.Context["field"])
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{EnvDisableIOUring: "1"}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.True(t, cfg.Reactor.DisableIOUring)

	env[EnvDisableIOUring] = "maybe"
	assert.ErrorIs(t, cfg.ApplyEnv(lookup), api.ErrInvalidArgument)
}

func TestMetricsPublish(t *testing.T) {
	mr := NewMetricsRegistry()
	assert.True(t, mr.Updated().IsZero())
	mr.Publish(api.RuntimeStats{Workers: 4, Spawned: 10, Backend: "epoll"})
	v, ok := mr.Get("runtime.tasks.spawned")
	require.True(t, ok)
	assert.Equal(t, uint64(10), v)
	snap := mr.GetSnapshot()
	assert.Equal(t, "epoll", snap["runtime.backend"])
	assert.False(t, mr.Updated().IsZero())
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	dp.RegisterProbe("answer", func() any { return 42 })
	assert.Contains(t, dp.Names(), "platform.cpus")
	state := dp.DumpState()
	assert.Equal(t, 42, state["answer"])
	dp.UnregisterProbe("answer")
	assert.NotContains(t, dp.DumpState(), "answer")
}
