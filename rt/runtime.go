// File: rt/runtime.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rt

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-rt/api"
	"github.com/momentics/hioload-rt/control"
	"github.com/momentics/hioload-rt/reactor"
)

// Handle is a cheap reference to a runtime, used by futures to reach the
// reactor and the timers.
type Handle struct {
	s *scheduler
}

func (h *Handle) spawnHandle() *Handle { return h }

// Driver returns the reactor, or nil when I/O is disabled.
func (h *Handle) Driver() *reactor.Driver {
	if !h.s.cfg.ioEnabled {
		return nil
	}
	return h.s.driver
}

// Timers returns the time driver, or nil when time is disabled.
func (h *Handle) Timers() *TimeDriver { return h.s.timers }

// Logger returns the runtime's logger.
func (h *Handle) Logger() *zerolog.Logger { return &h.s.log }

// IsShutdown reports whether shutdown has begun.
func (h *Handle) IsShutdown() bool { return h.s.isShutdown() }

// ShuttingDown is closed when shutdown begins.
func (h *Handle) ShuttingDown() <-chan struct{} { return h.s.shutdownCh }

// Runtime owns the workers, the reactor, the timers and the blocking pool.
type Runtime struct {
	s       *scheduler
	metrics *control.MetricsRegistry
	probes  *control.DebugProbes
}

var _ api.GracefulShutdown = (*Runtime)(nil)

func (r *Runtime) spawnHandle() *Handle { return r.s.handle }

// Handle returns a handle to r.
func (r *Runtime) Handle() *Handle { return r.s.handle }

// Shutdown stops the workers, cancels every live task, cancels queued
// blocking jobs, clears timers and closes the reactor. It returns ctx's
// error if workers or blocking jobs were still running at the deadline.
// Calling it again waits for the first call.
func (r *Runtime) Shutdown(ctx context.Context) error {
	return r.s.shutdown(ctx)
}

// ShutdownTimeout is Shutdown with a deadline d from now.
func (r *Runtime) ShutdownTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return r.s.shutdown(ctx)
}

// Metrics returns current counters and publishes them to the registry.
func (r *Runtime) Metrics() api.RuntimeStats {
	st := r.s.stats()
	r.metrics.Publish(st)
	return st
}

// MetricsRegistry returns the registry Metrics publishes to.
func (r *Runtime) MetricsRegistry() *control.MetricsRegistry { return r.metrics }

// DebugProbes returns the probe registry used by DumpState.
func (r *Runtime) DebugProbes() *control.DebugProbes { return r.probes }

// DumpState runs every registered debug probe.
func (r *Runtime) DumpState() map[string]any { return r.probes.DumpState() }

func (r *Runtime) registerProbes() {
	s := r.s
	r.probes.RegisterProbe("driver", func() any {
		return map[string]any{
			"backend":       s.driver.Kind().String(),
			"registrations": s.driver.Registrations(),
			"io":            s.cfg.ioEnabled,
		}
	})
	r.probes.RegisterProbe("timers", func() any {
		if s.timers == nil {
			return map[string]any{"enabled": false}
		}
		out := map[string]any{"enabled": true, "armed": s.timers.Len()}
		if next, ok := s.timers.NextDeadline(); ok {
			out["next"] = next
		}
		return out
	})
	r.probes.RegisterProbe("scheduler", func() any {
		queues := make([]int, len(s.workers))
		for i, w := range s.workers {
			queues[i] = w.local.Len()
		}
		return map[string]any{
			"workers":  len(s.workers),
			"idle":     int(s.numIdle.Load()),
			"injector": s.injector.Len(),
			"local":    queues,
			"live":     s.tasks.len(),
			"shutdown": s.isShutdown(),
		}
	})
	control.RegisterPlatformProbes(r.probes)
}
