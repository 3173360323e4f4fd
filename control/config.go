// File: control/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime configuration: defaults, TOML loading, validation and
// environment overrides.

package control

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/momentics/hioload-rt/api"
)

// EnvDisableIOUring forces the epoll fallback when set to a true value.
const EnvDisableIOUring = "HIOLOAD_RT_DISABLE_IO_URING"

// Duration is a time.Duration that decodes from strings like "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("control: duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the file form of the runtime settings.
type Config struct {
	Runtime  RuntimeConfig  `toml:"runtime"`
	Timer    TimerConfig    `toml:"timer"`
	Reactor  ReactorConfig  `toml:"reactor"`
	Blocking BlockingConfig `toml:"blocking"`
	Log      LogConfig      `toml:"log"`
}

type RuntimeConfig struct {
	// WorkerThreads of 0 means GOMAXPROCS.
	WorkerThreads       int  `toml:"worker_threads"`
	EnableIO            bool `toml:"enable_io"`
	EnableTime          bool `toml:"enable_time"`
	PinWorkers          bool `toml:"pin_workers"`
	AutoMaxProcs        bool `toml:"auto_maxprocs"`
	EventInterval       int  `toml:"event_interval"`
	GlobalQueueInterval int  `toml:"global_queue_interval"`
}

type TimerConfig struct {
	Tick Duration `toml:"tick"`
}

type ReactorConfig struct {
	// Backend is one of auto, io_uring, epoll, kqueue.
	Backend        string `toml:"backend"`
	DisableIOUring bool   `toml:"disable_io_uring"`
	Entries        uint32 `toml:"entries"`
	EventCapacity  int    `toml:"event_capacity"`
}

type BlockingConfig struct {
	MaxThreads int      `toml:"max_threads"`
	KeepAlive  Duration `toml:"keep_alive"`
}

type LogConfig struct {
	// Level is a zerolog level name.
	Level string `toml:"level"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Runtime: RuntimeConfig{
			EnableIO:            true,
			EnableTime:          true,
			EventInterval:       61,
			GlobalQueueInterval: 61,
		},
		Timer:    TimerConfig{Tick: Duration{time.Millisecond}},
		Reactor:  ReactorConfig{Backend: "auto", Entries: 256, EventCapacity: 1024},
		Blocking: BlockingConfig{MaxThreads: 512, KeepAlive: Duration{10 * time.Second}},
		Log:      LogConfig{Level: "warn"},
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig, applies the
// environment and validates the result. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("control: load %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, api.NewError(api.ErrCodeInvalidArgument, "unknown config keys").
			WithContext("file", path).
			WithContext("keys", strings.Join(keys, ",")).
			WithCause(api.ErrInvalidArgument)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides looked up through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDisableIOUring); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("control: %s=%q: %w", EnvDisableIOUring, v, api.ErrInvalidArgument)
		}
		c.Reactor.DisableIOUring = b
	}
	return nil
}

// Validate reports the first invalid setting as *api.Error.
func (c *Config) Validate() error {
	bad := func(field string, v any) error {
		return api.NewError(api.ErrCodeInvalidArgument, "invalid config value").
			WithContext("field", field).
			WithContext("value", v).
			WithCause(api.ErrInvalidArgument)
	}
	switch {
	case c.Runtime.WorkerThreads < 0:
		return bad("runtime.worker_threads", c.Runtime.WorkerThreads)
	case c.Runtime.EventInterval <= 0:
		return bad("runtime.event_interval", c.Runtime.EventInterval)
	case c.Runtime.GlobalQueueInterval <= 0:
		return bad("runtime.global_queue_interval", c.Runtime.GlobalQueueInterval)
	case c.Timer.Tick.Duration <= 0:
		return bad("timer.tick", c.Timer.Tick.Duration)
	case c.Reactor.EventCapacity <= 0:
		return bad("reactor.event_capacity", c.Reactor.EventCapacity)
	case c.Reactor.Entries != 0 && c.Reactor.Entries&(c.Reactor.Entries-1) != 0:
		return bad("reactor.entries", c.Reactor.Entries)
	case c.Blocking.MaxThreads <= 0:
		return bad("blocking.max_threads", c.Blocking.MaxThreads)
	case c.Blocking.KeepAlive.Duration <= 0:
		return bad("blocking.keep_alive", c.Blocking.KeepAlive.Duration)
	}
	switch strings.ToLower(c.Reactor.Backend) {
	case "", "auto", "io_uring", "epoll", "kqueue":
	default:
		return bad("reactor.backend", c.Reactor.Backend)
	}
	return nil
}
