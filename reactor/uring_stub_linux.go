//go:build linux && !(amd64 || arm64 || riscv64 || loong64 || ppc64le || mips64le)

// File: reactor/uring_stub_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-rt/api"
)

// The SQE layout used by the io_uring backend assumes a little-endian
// 64-bit kernel ABI.
func newUringBackend(uint32, bool, zerolog.Logger) (backend, error) {
	return nil, api.ErrNotSupported
}
