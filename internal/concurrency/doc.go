// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Queueing primitives for the runtime scheduler: the per-worker
// work-stealing LocalQueue, the shared Injector, the BlockingPool for
// synchronous work and a padded RingBuffer.
package concurrency
