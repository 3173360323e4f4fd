//go:build linux

// File: reactor/select_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux backend selection: io_uring when the kernel is new enough and the
// runtime probes pass, epoll otherwise.

package reactor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

func openBackend(cfg Config, log zerolog.Logger) (backend, error) {
	switch cfg.Backend {
	case KindEpoll:
		return newEpollBackend(cfg.EventCapacity)
	case KindIOUring:
		return openUring(cfg, log)
	case KindNone:
	default:
		return nil, fmt.Errorf("backend %s is not available on linux", cfg.Backend)
	}

	if !cfg.DisableIOUring {
		be, err := openUring(cfg, log)
		if err == nil {
			return be, nil
		}
		log.Warn().Err(err).Msg("io_uring unavailable, falling back to epoll")
	}
	return newEpollBackend(cfg.EventCapacity)
}

func openUring(cfg Config, log zerolog.Logger) (backend, error) {
	major, minor, err := KernelVersion()
	if err != nil {
		return nil, err
	}
	if !versionAtLeast(major, minor, 5, 1) {
		return nil, fmt.Errorf("kernel %d.%d predates io_uring", major, minor)
	}
	be, err := newUringBackend(cfg.Entries, versionAtLeast(major, minor, 5, 13), log)
	if err != nil {
		return nil, err
	}
	return be, nil
}

// KernelVersion returns the running kernel's major and minor version.
func KernelVersion() (major, minor int, err error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return 0, 0, fmt.Errorf("uname: %w", err)
	}
	return parseKernelRelease(unix.ByteSliceToString(uts.Release[:]))
}

func parseKernelRelease(release string) (major, minor int, err error) {
	parts := strings.SplitN(release, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unrecognised kernel release %q", release)
	}
	if major, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("unrecognised kernel release %q", release)
	}
	digits := parts[1]
	if i := strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		digits = digits[:i]
	}
	if minor, err = strconv.Atoi(digits); err != nil {
		return 0, 0, fmt.Errorf("unrecognised kernel release %q", release)
	}
	return major, minor, nil
}

func versionAtLeast(major, minor, wantMajor, wantMinor int) bool {
	return major > wantMajor || (major == wantMajor && minor >= wantMinor)
}
