// File: internal/concurrency/local_queue_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct{ id int }

func noOverflow(t *testing.T) func([]*item) {
	return func([]*item) { t.Fatal("unexpected overflow") }
}

func TestLocalQueueFIFO(t *testing.T) {
	q := NewLocalQueue[item]()
	for i := range 10 {
		q.Push(&item{i}, noOverflow(t))
	}
	assert.Equal(t, 10, q.Len())
	for i := range 10 {
		it := q.Pop()
		require.NotNil(t, it)
		assert.Equal(t, i, it.id)
	}
	assert.Nil(t, q.Pop())
	assert.True(t, q.IsEmpty())
}

func TestLocalQueueOverflowMovesHalf(t *testing.T) {
	q := NewLocalQueue[item]()
	for i := range LocalQueueCapacity {
		q.Push(&item{i}, noOverflow(t))
	}
	var spilled []*item
	q.Push(&item{LocalQueueCapacity}, func(b []*item) { spilled = append(spilled, b...) })

	require.Len(t, spilled, LocalQueueCapacity/2+1)
	for i := 0; i < LocalQueueCapacity/2; i++ {
		assert.Equal(t, i, spilled[i].id)
	}
	assert.Equal(t, LocalQueueCapacity, spilled[len(spilled)-1].id)
	assert.Equal(t, LocalQueueCapacity/2, q.Len())
	assert.Equal(t, LocalQueueCapacity/2, q.Pop().id)
}

func TestLocalQueueStealHalf(t *testing.T) {
	src := NewLocalQueue[item]()
	dst := NewLocalQueue[item]()
	for i := range 20 {
		src.Push(&item{i}, noOverflow(t))
	}
	got := src.StealInto(dst)
	require.NotNil(t, got)
	assert.Equal(t, 9, got.id)
	assert.Equal(t, 10, src.Len())
	assert.Equal(t, 9, dst.Len())
	assert.Equal(t, 0, dst.Pop().id)
	assert.Equal(t, 10, src.Pop().id)

	empty := NewLocalQueue[item]()
	assert.Nil(t, empty.StealInto(dst))
}

func TestLocalQueueConcurrentStealNoLossNoDup(t *testing.T) {
	const total = 200_000
	owner := NewLocalQueue[item]()
	inj := NewInjector[item]()
	seen := make([]atomic.Int32, total)

	var stop atomic.Bool
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mine := NewLocalQueue[item]()
			for !stop.Load() || !owner.IsEmpty() {
				if it := owner.StealInto(mine); it != nil {
					seen[it.id].Add(1)
				}
				mine.Drain(func(it *item) { seen[it.id].Add(1) })
			}
		}()
	}

	for i := range total {
		owner.Push(&item{i}, func(b []*item) { inj.PushBatch(b) })
		if i%3 == 0 {
			if it := owner.Pop(); it != nil {
				seen[it.id].Add(1)
			}
		}
	}
	owner.Drain(func(it *item) { seen[it.id].Add(1) })
	stop.Store(true)
	wg.Wait()
	for it := inj.Pop(); it != nil; it = inj.Pop() {
		seen[it.id].Add(1)
	}

	for i := range total {
		require.Equal(t, int32(1), seen[i].Load(), "item %d", i)
	}
}
