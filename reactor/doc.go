// File: reactor/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package reactor turns OS readiness and completion notifications into task
// wakeups. A Driver owns exactly one backend chosen at start-up: io_uring or
// epoll on Linux, kqueue on the BSD family, or a park-only backend when I/O
// is disabled. Every backend honours the same register / wait /
// poll-completions contract, so callers never observe which one is active.
//
// All backends are readiness-based, io_uring included: it submits
// IORING_OP_POLL_ADD rather than accept, recv, send or connect SQEs, and
// the operation itself runs as a non-blocking syscall in the task once
// the fd is reported ready.
package reactor
