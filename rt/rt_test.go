// File: rt/rt_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-rt/affinity"
	"github.com/momentics/hioload-rt/api"
)

func newTestRuntime(t *testing.T, workers int) *Runtime {
	t.Helper()
	r, err := NewBuilder().
		WorkerThreads(workers).
		EnableIO(false).
		Logger(zerolog.Nop()).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.ShutdownTimeout(5 * time.Second) })
	return r
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// dropProbe never completes and records being dropped.
type dropProbe struct {
	polls   atomic.Int32
	dropped atomic.Bool
}

func (d *dropProbe) Poll(*Context) (int, bool) {
	d.polls.Add(1)
	return 0, false
}

func (d *dropProbe) Drop() { d.dropped.Store(true) }

func TestSpawnOk(t *testing.T) {
	r := newTestRuntime(t, 2)
	res := BlockOn(r, Spawn(r, Ready(42)))
	require.NoError(t, res.Err)
	assert.Equal(t, 42, res.Value)
}

func TestSpawnPanickedKeepsWorkerAlive(t *testing.T) {
	r := newTestRuntime(t, 1)
	h := Spawn(r, FutureFunc[int](func(*Context) (int, bool) { panic("boom") }))
	_, err := h.Wait(waitCtx(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrPanicked)
	var je *api.JoinError
	require.True(t, errors.As(err, &je))
	assert.True(t, je.IsPanicked())
	assert.Equal(t, "boom", je.Value)
	assert.NotEmpty(t, je.Stack)
	assert.Equal(t, h.ID(), je.TaskID)

	v, err := Spawn(r, Ready("still running")).Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "still running", v)
	require.Eventually(t, func() bool { return r.Metrics().Panicked == 1 }, time.Second, time.Millisecond)
}

func TestAbortDropsFuture(t *testing.T) {
	r := newTestRuntime(t, 2)
	probe := &dropProbe{}
	h := Spawn[int](r, probe)
	require.Eventually(t, func() bool { return probe.polls.Load() > 0 }, time.Second, time.Millisecond)

	h.Abort()
	_, err := h.Wait(waitCtx(t))
	assert.ErrorIs(t, err, api.ErrCancelled)
	assert.True(t, probe.dropped.Load())
	assert.Equal(t, int32(1), probe.polls.Load(), "cancelled future polled again")
	assert.True(t, h.IsFinished())
}

func TestAbortAfterCompletionIsNoop(t *testing.T) {
	r := newTestRuntime(t, 1)
	h := Spawn(r, Ready(7))
	v, err := h.Wait(waitCtx(t))
	require.NoError(t, err)
	require.Equal(t, 7, v)

	ab, ok := h.ab.(taskAborter)
	require.True(t, ok)
	require.Eventually(t, func() bool { return ab.t.loadState().Terminal() }, time.Second, time.Millisecond)
	ab.abort()
	assert.False(t, ab.t.cancelled.Load())
	assert.Equal(t, api.TaskCompleted, ab.t.loadState())
	assert.Zero(t, r.Metrics().Cancelled)
}

type recordingPinner struct {
	mu     sync.Mutex
	cpus   []int
	unpins int
}

func (p *recordingPinner) Pin(cpu int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cpus = append(p.cpus, cpu)
	return nil
}

func (p *recordingPinner) Unpin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unpins++
	return nil
}

func TestPinWorkersGoesThroughPinner(t *testing.T) {
	rec := &recordingPinner{}
	prev := pinner
	pinner = rec
	t.Cleanup(func() { pinner = prev })

	r, err := NewBuilder().WorkerThreads(2).EnableIO(false).PinWorkers(true).Logger(zerolog.Nop()).Build()
	require.NoError(t, err)
	v, err := Spawn(r, Ready(1)).Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, r.ShutdownTimeout(5*time.Second))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.ElementsMatch(t, []int{affinity.CPUFor(0), affinity.CPUFor(1)}, rec.cpus)
	assert.Equal(t, 2, rec.unpins)
}

func TestWorkStealingSpreadsLoad(t *testing.T) {
	r := newTestRuntime(t, 4)
	var mu sync.Mutex
	seen := map[int]int{}

	child := func() Future[struct{}] {
		return FutureFunc[struct{}](func(cx *Context) (struct{}, bool) {
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			seen[cx.worker.index]++
			mu.Unlock()
			return struct{}{}, true
		})
	}
	root := Spawn(r, FutureFunc[[]*JoinHandle[struct{}]](func(cx *Context) ([]*JoinHandle[struct{}], bool) {
		hs := make([]*JoinHandle[struct{}], 64)
		for i := range hs {
			hs[i] = Spawn(cx, child())
		}
		return hs, true
	}))
	hs, err := root.Wait(waitCtx(t))
	require.NoError(t, err)
	for _, h := range hs {
		_, err := h.Wait(waitCtx(t))
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	total := 0
	for _, n := range seen {
		total += n
	}
	assert.Equal(t, 64, total)
	assert.Greater(t, len(seen), 1, "all children ran on one worker")
	assert.Positive(t, r.Metrics().Stolen)
}

func TestSelfWakingTaskDoesNotStarveInjector(t *testing.T) {
	r := newTestRuntime(t, 1)
	var stop atomic.Bool
	spinner := Spawn(r, FutureFunc[int](func(cx *Context) (int, bool) {
		if stop.Load() {
			return 1, true
		}
		cx.Waker().Wake()
		return 0, false
	}))
	setter := Spawn(r, FutureFunc[int](func(*Context) (int, bool) {
		stop.Store(true)
		return 2, true
	}))

	v, err := setter.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	v, err = spinner.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestWakeIsIdempotentAndStaleWakerIsNoop(t *testing.T) {
	r := newTestRuntime(t, 2)
	wakers := make(chan api.Waker, 1)
	var polls atomic.Int32
	h := Spawn(r, FutureFunc[int](func(cx *Context) (int, bool) {
		if polls.Add(1) == 1 {
			wakers <- cx.Waker()
			return 0, false
		}
		return 7, true
	}))
	wk := <-wakers
	for range 10 {
		wk.Wake()
	}
	v, err := h.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(2), polls.Load())

	// The freed slot is reused with a new generation.
	probe := &dropProbe{}
	h2 := Spawn[int](r, probe)
	require.Eventually(t, func() bool { return probe.polls.Load() == 1 }, time.Second, time.Millisecond)
	old := wk.(Waker)
	if t2 := h2.ab.(taskAborter).t; t2.idx == old.idx {
		assert.NotEqual(t, old.gen, t2.gen)
	}
	wk.Wake()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), probe.polls.Load(), "stale waker polled a new task")
	h2.Abort()
}

func TestBlockOnParksBetweenWakes(t *testing.T) {
	r := newTestRuntime(t, 1)
	var fired atomic.Bool
	started := false
	v := BlockOn(r, FutureFunc[string](func(cx *Context) (string, bool) {
		if fired.Load() {
			return "woken", true
		}
		if !started {
			started = true
			w := cx.Waker()
			time.AfterFunc(10*time.Millisecond, func() {
				fired.Store(true)
				w.Wake()
			})
		}
		return "", false
	}))
	assert.Equal(t, "woken", v)
}

func TestSpawnBlocking(t *testing.T) {
	r := newTestRuntime(t, 1)
	h := SpawnBlocking(r, func() int {
		time.Sleep(5 * time.Millisecond)
		return 9
	})
	res := BlockOn(r, h)
	require.NoError(t, res.Err)
	assert.Equal(t, 9, res.Value)

	_, err := SpawnBlocking(r, func() int { panic("sync boom") }).Wait(waitCtx(t))
	assert.ErrorIs(t, err, api.ErrPanicked)
}

func TestSpawnFromTaskAndYield(t *testing.T) {
	r := newTestRuntime(t, 2)
	var child *JoinHandle[int]
	h := Spawn(r, Then(YieldNow(), func(struct{}) Future[Result[int]] {
		return FutureFunc[Result[int]](func(cx *Context) (Result[int], bool) {
			if child == nil {
				child = Spawn(cx, Map(Ready(20), func(v int) int { return v + 1 }))
			}
			return child.Poll(cx)
		})
	}))
	res, err := h.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 21, res.Value)
}

func TestSelectTakesFirstAndDropsLosers(t *testing.T) {
	r := newTestRuntime(t, 1)
	loser := &dropProbe{}
	fut := Select(
		Case[int, string](loser, func(int) string { return "loser" }),
		Case(Ready(5), func(v int) string { return "winner" }),
	)
	assert.Equal(t, "winner", BlockOn(r, fut))
	assert.True(t, loser.dropped.Load())

	// a finished select keeps returning its result without repolling
	polls := loser.polls.Load()
	v, ok := fut.Poll(NewContext(r.Handle(), api.WakerFunc(func() {})))
	assert.True(t, ok)
	assert.Equal(t, "winner", v)
	assert.Equal(t, polls, loser.polls.Load())
}

func TestSelectDropReleasesAllBranches(t *testing.T) {
	a, b := &dropProbe{}, &dropProbe{}
	fut := Select(
		Case[int, int](a, func(v int) int { return v }),
		Case[int, int](b, func(v int) int { return v }),
	)
	_, ok := fut.Poll(NewContext(nil, api.WakerFunc(func() {})))
	require.False(t, ok)
	Drop(fut)
	assert.True(t, a.dropped.Load())
	assert.True(t, b.dropped.Load())
}

func TestShutdownCancelsLiveTasks(t *testing.T) {
	r, err := NewBuilder().WorkerThreads(2).EnableIO(false).Logger(zerolog.Nop()).Build()
	require.NoError(t, err)

	probes := make([]*dropProbe, 20)
	handles := make([]*JoinHandle[int], 20)
	for i := range probes {
		probes[i] = &dropProbe{}
		handles[i] = Spawn[int](r, probes[i])
	}
	require.NoError(t, r.ShutdownTimeout(5*time.Second))

	for i, h := range handles {
		_, err := h.Wait(waitCtx(t))
		assert.ErrorIs(t, err, api.ErrCancelled, "task %d", i)
		assert.True(t, probes[i].dropped.Load(), "task %d not dropped", i)
	}
	assert.Equal(t, int64(0), r.Metrics().LiveTasks)

	late := &dropProbe{}
	_, err = Spawn[int](r, late).Wait(waitCtx(t))
	assert.ErrorIs(t, err, api.ErrCancelled)
	assert.True(t, late.dropped.Load())

	_, err = SpawnBlocking(r, func() int { return 1 }).Wait(waitCtx(t))
	assert.ErrorIs(t, err, api.ErrCancelled)

	require.NoError(t, r.ShutdownTimeout(time.Second), "second shutdown")

	_, err = TryBlockOn[int](r, &dropProbe{})
	assert.ErrorIs(t, err, api.ErrRuntimeShutdown)
}

func TestBuilderRejectsInvalidSettings(t *testing.T) {
	_, err := NewBuilder().WorkerThreads(-1).Logger(zerolog.Nop()).Build()
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = NewBuilder().EventInterval(0).Logger(zerolog.Nop()).Build()
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestMetricsAndDumpState(t *testing.T) {
	r := newTestRuntime(t, 3)
	for range 10 {
		BlockOn(r, Spawn(r, Ready(1)))
	}
	st := r.Metrics()
	assert.Equal(t, 3, st.Workers)
	assert.Equal(t, uint64(10), st.Spawned)
	assert.Equal(t, "park", st.Backend)
	require.Eventually(t, func() bool { return r.Metrics().Completed == 10 }, time.Second, time.Millisecond)

	v, ok := r.MetricsRegistry().Get("runtime.workers")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	state := r.DumpState()
	assert.Contains(t, state, "driver")
	assert.Contains(t, state, "timers")
	assert.Contains(t, state, "scheduler")
}
