//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

// File: reactor/select_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub for platforms without a supported multiplexer. Runtimes built with
// EnableIO(false) still work through the park backend.

package reactor

import (
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-rt/api"
)

func openBackend(Config, zerolog.Logger) (backend, error) {
	return nil, api.ErrNotSupported
}
