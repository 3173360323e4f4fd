// File: clock/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package clock provides timer futures backed by the runtime's timer
// wheel: Sleep, Timeout and Interval. They must be polled by a runtime
// built with time enabled.
package clock
