// File: timer/wheel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Hierarchical timing wheel. Four levels of 64 slots each; level n slots
// span 64^n ticks. Deadlines are rounded up to the next tick, so an entry
// never fires before its deadline and at most one tick after it.

package timer

import (
	"container/list"
	"math/bits"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-rt/api"
)

const (
	slotBits  = 6
	numSlots  = 1 << slotBits
	slotMask  = numSlots - 1
	numLevels = 4

	// wheelSpan is the number of ticks the levels can represent relative to
	// the current position. Further deadlines wait in the overflow list.
	wheelSpan = uint64(1) << (slotBits * numLevels)

	// DefaultTick is the wheel granularity used by the runtime.
	DefaultTick = time.Millisecond
)

const (
	whereNone = iota
	whereLevel
	wherePending
	whereOverflow
)

// Entry is a single registered deadline.
type Entry struct {
	deadline time.Time
	when     uint64
	waker    api.Waker

	where int
	level int
	slot  int
	elem  *list.Element

	fired atomic.Bool
}

// Deadline returns the requested deadline.
func (e *Entry) Deadline() time.Time { return e.deadline }

// Fired reports whether the entry expired. Safe from any goroutine.
func (e *Entry) Fired() bool { return e.fired.Load() }

// SetWaker replaces the waker invoked on expiry. Callers must hold the
// lock guarding the owning wheel.
func (e *Entry) SetWaker(w api.Waker) { e.waker = w }

// Active reports whether the entry is still waiting in a wheel.
func (e *Entry) Active() bool { return e.where != whereNone }

type level struct {
	slots    [numSlots]list.List
	occupied uint64
}

type expiration struct {
	level    int
	slot     int
	deadline uint64
}

// Wheel is not safe for concurrent use.
type Wheel struct {
	start   time.Time
	tick    time.Duration
	elapsed uint64

	levels   [numLevels]level
	pending  list.List
	overflow list.List
	count    int
}

// NewWheel creates a wheel whose tick 0 is start.
func NewWheel(start time.Time, tick time.Duration) *Wheel {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Wheel{start: start, tick: tick}
}

// Tick returns the wheel granularity.
func (w *Wheel) Tick() time.Duration { return w.tick }

// Len returns the number of active entries.
func (w *Wheel) Len() int { return w.count }

// Elapsed returns the instant the wheel has advanced to.
func (w *Wheel) Elapsed() time.Time { return w.instant(w.elapsed) }

// Insert registers waker to fire at deadline. A deadline that is already
// due fires on the next Advance.
func (w *Wheel) Insert(deadline time.Time, waker api.Waker) *Entry {
	e := &Entry{deadline: deadline, waker: waker, when: w.deadlineTick(deadline)}
	w.count++
	w.place(e)
	return e
}

// Cancel removes e. It returns false if e already fired or was cancelled.
func (w *Wheel) Cancel(e *Entry) bool {
	if e == nil || !e.Active() {
		return false
	}
	w.unlink(e)
	w.count--
	return true
}

// Advance moves the wheel to now and hands the wakers of every expired
// entry to sink. It returns the number of entries fired.
func (w *Wheel) Advance(now time.Time, sink func(api.Waker)) int {
	target := w.nowTick(now)
	fired := w.drain(&w.pending, sink)

	for {
		exp, ok := w.nextExpiration()
		if !ok || exp.deadline > target {
			break
		}
		fired += w.process(exp, sink)
	}
	if target > w.elapsed {
		w.elapsed = target
	}
	fired += w.migrateOverflow(sink)
	return fired
}

// NextDeadline returns the earliest instant at which Advance has work to
// do. For entries on coarse levels that is the instant they cascade, which
// may precede their own deadline.
func (w *Wheel) NextDeadline() (time.Time, bool) {
	if w.count == 0 {
		return time.Time{}, false
	}
	if w.pending.Len() > 0 {
		return w.instant(w.elapsed), true
	}
	best, ok := uint64(0), false
	if exp, found := w.nextExpiration(); found {
		best, ok = exp.deadline, true
	}
	for el := w.overflow.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		at := e.when &^ (wheelSpan - 1)
		if at < w.elapsed {
			at = w.elapsed
		}
		if !ok || at < best {
			best, ok = at, true
		}
	}
	if !ok {
		return time.Time{}, false
	}
	return w.instant(best), true
}

func (w *Wheel) place(e *Entry) {
	switch {
	case e.when <= w.elapsed:
		e.where = wherePending
		e.elem = w.pending.PushBack(e)
	case (e.when^w.elapsed)|slotMask >= wheelSpan:
		e.where = whereOverflow
		e.elem = w.overflow.PushBack(e)
	default:
		lvl := levelFor(w.elapsed, e.when)
		slot := int((e.when >> (uint(lvl) * slotBits)) & slotMask)
		l := &w.levels[lvl]
		e.where, e.level, e.slot = whereLevel, lvl, slot
		e.elem = l.slots[slot].PushBack(e)
		l.occupied |= 1 << uint(slot)
	}
}

func (w *Wheel) unlink(e *Entry) {
	switch e.where {
	case wherePending:
		w.pending.Remove(e.elem)
	case whereOverflow:
		w.overflow.Remove(e.elem)
	case whereLevel:
		l := &w.levels[e.level]
		s := &l.slots[e.slot]
		s.Remove(e.elem)
		if s.Len() == 0 {
			l.occupied &^= 1 << uint(e.slot)
		}
	}
	e.where = whereNone
	e.elem = nil
}

func (w *Wheel) fire(e *Entry, sink func(api.Waker)) {
	e.where = whereNone
	e.elem = nil
	w.count--
	e.fired.Store(true)
	if e.waker != nil && sink != nil {
		sink(e.waker)
	}
}

func (w *Wheel) drain(l *list.List, sink func(api.Waker)) int {
	n := 0
	for el := l.Front(); el != nil; el = l.Front() {
		l.Remove(el)
		w.fire(el.Value.(*Entry), sink)
		n++
	}
	return n
}

// process empties one slot: due entries fire, the rest cascade to a finer
// level relative to the slot's start.
func (w *Wheel) process(exp expiration, sink func(api.Waker)) int {
	l := &w.levels[exp.level]
	s := &l.slots[exp.slot]
	l.occupied &^= 1 << uint(exp.slot)
	if exp.deadline > w.elapsed {
		w.elapsed = exp.deadline
	}

	n := 0
	for el := s.Front(); el != nil; el = s.Front() {
		s.Remove(el)
		e := el.Value.(*Entry)
		if e.when <= w.elapsed {
			w.fire(e, sink)
			n++
			continue
		}
		w.place(e)
	}
	return n
}

func (w *Wheel) migrateOverflow(sink func(api.Waker)) int {
	n := 0
	var next *list.Element
	for el := w.overflow.Front(); el != nil; el = next {
		next = el.Next()
		e := el.Value.(*Entry)
		if e.when > w.elapsed && (e.when^w.elapsed)|slotMask >= wheelSpan {
			continue
		}
		w.overflow.Remove(el)
		if e.when <= w.elapsed {
			w.fire(e, sink)
			n++
			continue
		}
		w.place(e)
	}
	return n
}

func (w *Wheel) nextExpiration() (expiration, bool) {
	for i := range w.levels {
		if exp, ok := w.levels[i].nextExpiration(i, w.elapsed); ok {
			return exp, true
		}
	}
	return expiration{}, false
}

func (l *level) nextExpiration(lvl int, now uint64) (expiration, bool) {
	if l.occupied == 0 {
		return expiration{}, false
	}
	slotRange := uint64(1) << (uint(lvl) * slotBits)
	levelRange := slotRange * numSlots

	nowSlot := int((now / slotRange) & slotMask)
	rotated := bits.RotateLeft64(l.occupied, -nowSlot)
	slot := (bits.TrailingZeros64(rotated) + nowSlot) & slotMask

	levelStart := now &^ (levelRange - 1)
	deadline := levelStart + uint64(slot)*slotRange
	if deadline <= now && slot != nowSlot {
		deadline += levelRange
	}
	return expiration{level: lvl, slot: slot, deadline: deadline}, true
}

func levelFor(elapsed, when uint64) int {
	masked := (elapsed ^ when) | slotMask
	if masked >= wheelSpan {
		masked = wheelSpan - 1
	}
	significant := 63 - bits.LeadingZeros64(masked)
	return significant / slotBits
}

func (w *Wheel) deadlineTick(deadline time.Time) uint64 {
	d := deadline.Sub(w.start)
	if d <= 0 {
		return 0
	}
	return uint64((d + w.tick - 1) / w.tick)
}

func (w *Wheel) nowTick(now time.Time) uint64 {
	d := now.Sub(w.start)
	if d <= 0 {
		return 0
	}
	return uint64(d / w.tick)
}

func (w *Wheel) instant(t uint64) time.Time {
	return w.start.Add(time.Duration(t) * w.tick)
}
