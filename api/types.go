// File: api/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared API-level type declarations and constants.

package api

// TaskState enumerates the scheduling state of a spawned task.
type TaskState uint32

const (
	TaskIdle TaskState = iota
	TaskScheduled
	TaskRunning
	TaskWoken
	TaskCompleted
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskIdle:
		return "idle"
	case TaskScheduled:
		return "scheduled"
	case TaskRunning:
		return "running"
	case TaskWoken:
		return "woken"
	case TaskCompleted:
		return "completed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// RuntimeStats is a point-in-time view of scheduler counters.
type RuntimeStats struct {
	Workers         int
	Spawned         uint64
	Completed       uint64
	Cancelled       uint64
	Panicked        uint64
	Stolen          uint64
	Polls           uint64
	Parks           uint64
	LiveTasks       int64
	InjectorDepth   int
	Registrations   int
	Timers          int
	BlockingThreads int
	Backend         string
}
