// File: rt/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Paged task table addressed by (index, generation).

package rt

import (
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"

	"github.com/momentics/hioload-rt/api"
)

const (
	pageBits = 12
	pageSize = 1 << pageBits
	pageMask = pageSize - 1
	maxPages = 1 << 12
)

type arenaPage struct {
	slots [pageSize]atomic.Pointer[task]
	// gens is guarded by arena.mu.
	gens [pageSize]uint32
}

// arena maps slot indexes to live tasks. Lookups are lock-free; insert and
// release serialize on mu.
type arena struct {
	pages [maxPages]atomic.Pointer[arenaPage]

	mu   sync.Mutex
	free deque.Deque[uint32]
	next uint32

	live atomic.Int64
}

// insert assigns t a slot and generation and publishes it.
func (a *arena) insert(t *task) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if a.free.Len() > 0 {
		idx = a.free.PopFront()
	} else {
		if a.next >= maxPages*pageSize {
			return api.NewError(api.ErrCodeResourceExhausted, "task arena full").
				WithContext("slots", a.next)
		}
		idx = a.next
		a.next++
	}
	p := a.pages[idx>>pageBits].Load()
	if p == nil {
		p = new(arenaPage)
		a.pages[idx>>pageBits].Store(p)
	}
	p.gens[idx&pageMask]++
	t.idx = idx
	t.gen = p.gens[idx&pageMask]
	p.slots[idx&pageMask].Store(t)
	a.live.Add(1)
	return nil
}

// get returns the task in idx if its generation still matches.
func (a *arena) get(idx, gen uint32) *task {
	if idx>>pageBits >= maxPages {
		return nil
	}
	p := a.pages[idx>>pageBits].Load()
	if p == nil {
		return nil
	}
	t := p.slots[idx&pageMask].Load()
	if t == nil || t.gen != gen {
		return nil
	}
	return t
}

// release frees t's slot. Wakers holding the old generation become no-ops.
func (a *arena) release(t *task) {
	p := a.pages[t.idx>>pageBits].Load()
	if p == nil || !p.slots[t.idx&pageMask].CompareAndSwap(t, nil) {
		return
	}
	a.mu.Lock()
	a.free.PushBack(t.idx)
	a.mu.Unlock()
	a.live.Add(-1)
}

// snapshot returns every live task.
func (a *arena) snapshot() []*task {
	a.mu.Lock()
	n := a.next
	a.mu.Unlock()

	out := make([]*task, 0, a.live.Load())
	for idx := uint32(0); idx < n; idx++ {
		p := a.pages[idx>>pageBits].Load()
		if p == nil {
			idx |= pageMask
			continue
		}
		if t := p.slots[idx&pageMask].Load(); t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (a *arena) len() int { return int(a.live.Load()) }
