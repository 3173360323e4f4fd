// File: clock/instant.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package clock

import "time"

// Instant is a monotonic point in time.
type Instant struct {
	t time.Time
}

// Now returns the current instant.
func Now() Instant { return Instant{t: time.Now()} }

// Elapsed returns the time passed since i.
func (i Instant) Elapsed() time.Duration { return time.Since(i.t) }

// Since returns i - earlier, or 0 when earlier is after i.
func (i Instant) Since(earlier Instant) time.Duration {
	if d := i.t.Sub(earlier.t); d > 0 {
		return d
	}
	return 0
}

// Add returns i shifted by d.
func (i Instant) Add(d time.Duration) Instant { return Instant{t: i.t.Add(d)} }

func (i Instant) Before(o Instant) bool { return i.t.Before(o.t) }
func (i Instant) After(o Instant) bool  { return i.t.After(o.t) }

// Time returns the wall-clock form, keeping the monotonic reading.
func (i Instant) Time() time.Time { return i.t }
