// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral backend contract and backend kinds.

package reactor

import (
	"fmt"
	"strings"
	"time"

	"github.com/momentics/hioload-rt/api"
)

// Kind identifies the active backend.
type Kind int

const (
	KindNone Kind = iota
	KindIOUring
	KindEpoll
	KindKqueue
	KindPark
)

func (k Kind) String() string {
	switch k {
	case KindIOUring:
		return "io_uring"
	case KindEpoll:
		return "epoll"
	case KindKqueue:
		return "kqueue"
	case KindPark:
		return "park"
	default:
		return "none"
	}
}

// ParseKind maps a backend name ("auto", "io_uring", "epoll", "kqueue")
// to a Kind. "auto" and "" yield KindNone.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto", "none":
		return KindNone, nil
	case "io_uring", "iouring", "uring":
		return KindIOUring, nil
	case "epoll":
		return KindEpoll, nil
	case "kqueue":
		return KindKqueue, nil
	default:
		return KindNone, fmt.Errorf("reactor: unknown backend %q: %w", name, api.ErrInvalidArgument)
	}
}

// event is one readiness report for a registration token.
type event struct {
	token uint64
	ready api.Readiness
}

// backend is implemented once per OS mechanism.
type backend interface {
	kind() Kind
	// add starts watching fd for interest, reporting events under token.
	add(fd int, token uint64, interest api.Interest) error
	// del stops watching fd. Late events for token may still arrive and are
	// dropped by the driver.
	del(fd int, token uint64, interest api.Interest) error
	// wait blocks for at most timeout (negative: forever) and appends
	// events to out. Interrupted waits return zero events and no error.
	wait(timeout time.Duration, out []event) ([]event, error)
	// wake makes a concurrent or subsequent wait return promptly.
	wake() error
	close() error
}

// rearmer is implemented by backends whose notifications are one-shot.
// The driver calls rearm after a task observed EAGAIN for dir.
type rearmer interface {
	rearm(fd int, token uint64, dir api.Interest) error
}

// timeoutMillis converts a wait timeout to the millisecond form taken by
// epoll_wait, rounding up so a wait never ends before its deadline.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
