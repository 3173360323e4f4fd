// File: internal/concurrency/blocking_pool_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rt/api"
)

func TestBlockingPoolRunsJobs(t *testing.T) {
	p := NewBlockingPool(4, time.Second, zerolog.Nop())
	var ran atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		require.NoError(t, p.Submit(BlockingJob{Run: func() {
			defer wg.Done()
			ran.Add(1)
		}}))
	}
	wg.Wait()
	assert.Equal(t, int32(50), ran.Load())
	assert.LessOrEqual(t, p.Threads(), 4)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, 0, p.Threads())
}

func TestBlockingPoolThreadsExpire(t *testing.T) {
	p := NewBlockingPool(8, 20*time.Millisecond, zerolog.Nop())
	done := make(chan struct{})
	require.NoError(t, p.Submit(BlockingJob{Run: func() { close(done) }}))
	<-done
	require.Eventually(t, func() bool { return p.Threads() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestBlockingPoolShutdownCancelsQueued(t *testing.T) {
	p := NewBlockingPool(1, time.Second, zerolog.Nop())
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(BlockingJob{Run: func() {
		close(started)
		<-release
	}}))
	<-started

	var cancelled, ran atomic.Int32
	for range 3 {
		require.NoError(t, p.Submit(BlockingJob{
			Run:    func() { ran.Add(1) },
			Cancel: func() { cancelled.Add(1) },
		}))
	}
	assert.Equal(t, 3, p.Queued())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
	assert.Equal(t, int32(3), cancelled.Load())

	close(release)
	require.Eventually(t, func() bool { return p.Threads() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
	assert.ErrorIs(t, p.Submit(BlockingJob{Run: func() {}}), api.ErrRuntimeShutdown)
}
