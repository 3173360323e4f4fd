// File: api/shutdown.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "context"

// GracefulShutdown is implemented by components that release resources on
// stop. Shutdown blocks until done or ctx expires.
type GracefulShutdown interface {
	Shutdown(ctx context.Context) error
}
