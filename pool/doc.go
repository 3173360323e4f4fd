// File: pool/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package pool recycles I/O buffers by power-of-two size class so that
// per-connection loops such as tcp.Copy do not allocate on every session.
package pool
