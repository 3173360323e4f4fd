// File: rt/builder.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rt

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/momentics/hioload-rt/control"
	"github.com/momentics/hioload-rt/internal/concurrency"
	"github.com/momentics/hioload-rt/reactor"
)

// Builder configures a Runtime. Setters override whatever Config supplied.
type Builder struct {
	cfg     control.Config
	log     *zerolog.Logger
	backend *reactor.Kind
}

// NewBuilder starts from control.DefaultConfig with environment overrides
// applied.
func NewBuilder() *Builder {
	cfg := control.DefaultConfig()
	_ = cfg.ApplyEnv(os.LookupEnv)
	return &Builder{cfg: cfg}
}

// Config replaces every setting with cfg.
func (b *Builder) Config(cfg control.Config) *Builder {
	b.cfg = cfg
	return b
}

// WorkerThreads sets the number of workers; 0 means GOMAXPROCS.
func (b *Builder) WorkerThreads(n int) *Builder {
	b.cfg.Runtime.WorkerThreads = n
	return b
}

func (b *Builder) EnableIO(on bool) *Builder {
	b.cfg.Runtime.EnableIO = on
	return b
}

func (b *Builder) EnableTime(on bool) *Builder {
	b.cfg.Runtime.EnableTime = on
	return b
}

// EnableAll turns on both I/O and timers.
func (b *Builder) EnableAll() *Builder {
	return b.EnableIO(true).EnableTime(true)
}

func (b *Builder) TimerTick(d time.Duration) *Builder {
	b.cfg.Timer.Tick = control.Duration{Duration: d}
	return b
}

func (b *Builder) MaxBlockingThreads(n int) *Builder {
	b.cfg.Blocking.MaxThreads = n
	return b
}

func (b *Builder) BlockingKeepAlive(d time.Duration) *Builder {
	b.cfg.Blocking.KeepAlive = control.Duration{Duration: d}
	return b
}

func (b *Builder) DisableIOUring(off bool) *Builder {
	b.cfg.Reactor.DisableIOUring = off
	return b
}

// Backend forces a reactor backend.
func (b *Builder) Backend(k reactor.Kind) *Builder {
	b.backend = &k
	return b
}

// PinWorkers locks each worker to an OS thread pinned to one CPU.
func (b *Builder) PinWorkers(on bool) *Builder {
	b.cfg.Runtime.PinWorkers = on
	return b
}

// AutoMaxProcs adjusts GOMAXPROCS to the container CPU quota before the
// default worker count is taken from it.
func (b *Builder) AutoMaxProcs() *Builder {
	b.cfg.Runtime.AutoMaxProcs = true
	return b
}

func (b *Builder) EventInterval(n int) *Builder {
	b.cfg.Runtime.EventInterval = n
	return b
}

func (b *Builder) GlobalQueueInterval(n int) *Builder {
	b.cfg.Runtime.GlobalQueueInterval = n
	return b
}

// Logger replaces the default stderr logger.
func (b *Builder) Logger(l zerolog.Logger) *Builder {
	b.log = &l
	return b
}

// Build validates the configuration, opens the reactor and starts the
// workers. Failing to open any I/O backend is the only runtime error
// reported here besides invalid settings.
func (b *Builder) Build() (*Runtime, error) {
	cfg := b.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var base zerolog.Logger
	if b.log != nil {
		base = *b.log
	} else {
		level, err := zerolog.ParseLevel(cfg.Log.Level)
		if err != nil || cfg.Log.Level == "" {
			level = zerolog.WarnLevel
		}
		base = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	log := base.With().Str("component", "rt").Logger()

	if cfg.Runtime.AutoMaxProcs {
		printf := func(format string, args ...any) { log.Debug().Msgf(format, args...) }
		if _, err := maxprocs.Set(maxprocs.Logger(printf)); err != nil {
			log.Warn().Err(err).Msg("automaxprocs failed")
		}
	}
	workers := cfg.Runtime.WorkerThreads
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	kind, err := reactor.ParseKind(cfg.Reactor.Backend)
	if err != nil {
		return nil, err
	}
	if b.backend != nil {
		kind = *b.backend
	}
	drv, err := reactor.New(reactor.Config{
		EnableIO:       cfg.Runtime.EnableIO,
		DisableIOUring: cfg.Reactor.DisableIOUring,
		Backend:        kind,
		Entries:        cfg.Reactor.Entries,
		EventCapacity:  cfg.Reactor.EventCapacity,
		Logger:         base,
	})
	if err != nil {
		log.Error().Err(err).Msg("no usable reactor backend")
		return nil, err
	}

	s := newScheduler(schedConfig{
		workers:        workers,
		eventInterval:  uint32(cfg.Runtime.EventInterval),
		globalInterval: uint32(cfg.Runtime.GlobalQueueInterval),
		pin:            cfg.Runtime.PinWorkers,
		ioEnabled:      cfg.Runtime.EnableIO,
	}, drv, log)
	if cfg.Runtime.EnableTime {
		s.timers = newTimeDriver(cfg.Timer.Tick.Duration, drv.Unpark)
	}
	s.blocking = concurrency.NewBlockingPool(cfg.Blocking.MaxThreads, cfg.Blocking.KeepAlive.Duration, base)

	r := &Runtime{
		s:       s,
		metrics: control.NewMetricsRegistry(),
		probes:  control.NewDebugProbes(),
	}
	r.registerProbes()
	s.start()

	log.Debug().
		Int("workers", workers).
		Str("backend", drv.Kind().String()).
		Bool("time", cfg.Runtime.EnableTime).
		Msg("runtime started")
	return r, nil
}
