// File: transport/tcp/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package tcp provides non-blocking TCP listeners and streams driven by the
// runtime's reactor. Every blocking operation is a future: Accept, Connect,
// Read and Write park the polling task on the socket's registration instead
// of a goroutine or OS thread. EAGAIN and EINTR never reach callers; other
// socket failures arrive once as *api.IOError.
//
// A Listener or Stream must be closed by its owner. Closing one while
// another task still polls an operation on it is not supported.
package tcp
