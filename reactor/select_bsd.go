//go:build darwin || freebsd || netbsd || openbsd || dragonfly

// File: reactor/select_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"fmt"

	"github.com/rs/zerolog"
)

func openBackend(cfg Config, _ zerolog.Logger) (backend, error) {
	switch cfg.Backend {
	case KindNone, KindKqueue:
		return newKqueueBackend(cfg.EventCapacity)
	default:
		return nil, fmt.Errorf("backend %s is not available on this platform", cfg.Backend)
	}
}
