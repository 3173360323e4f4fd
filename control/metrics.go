// File: control/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime metrics collector for system-level monitoring.
// Exposes counters in a thread-safe map with dynamic registration.

package control

import (
	"sync"
	"time"

	"github.com/momentics/hioload-rt/api"
)

// MetricsRegistry holds mutable and read-only metrics.
type MetricsRegistry struct {
	mu      sync.RWMutex
	metrics map[string]any
	updated time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		metrics: make(map[string]any),
	}
}

// Set sets or updates a metric key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.metrics[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Get returns one metric.
func (mr *MetricsRegistry) Get(key string) (any, bool) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	v, ok := mr.metrics[key]
	return v, ok
}

// Publish stores every field of stats under the "runtime." prefix in one
// update.
func (mr *MetricsRegistry) Publish(stats api.RuntimeStats) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	m := mr.metrics
	m["runtime.backend"] = stats.Backend
	m["runtime.workers"] = stats.Workers
	m["runtime.tasks.spawned"] = stats.Spawned
	m["runtime.tasks.completed"] = stats.Completed
	m["runtime.tasks.cancelled"] = stats.Cancelled
	m["runtime.tasks.panicked"] = stats.Panicked
	m["runtime.tasks.live"] = stats.LiveTasks
	m["runtime.steals"] = stats.Stolen
	m["runtime.polls"] = stats.Polls
	m["runtime.parks"] = stats.Parks
	m["runtime.injector.depth"] = stats.InjectorDepth
	m["runtime.reactor.registrations"] = stats.Registrations
	m["runtime.timers"] = stats.Timers
	m["runtime.blocking.threads"] = stats.BlockingThreads
	mr.updated = time.Now()
}

// Updated returns the time of the last write.
func (mr *MetricsRegistry) Updated() time.Time {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.updated
}

// GetSnapshot returns the latest metrics.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.metrics))
	for k, v := range mr.metrics {
		out[k] = v
	}
	return out
}
