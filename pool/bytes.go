// File: pool/bytes.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"math/bits"
	"sync/atomic"
)

const (
	minClassShift = 9  // 512 B
	maxClassShift = 20 // 1 MiB
	numClasses    = maxClassShift - minClassShift + 1
)

// BytePool recycles byte slices in power-of-two size classes. Requests
// above the largest class are allocated and never retained.
type BytePool struct {
	classes [numClasses]ObjectPool[*[]byte]

	gets   atomic.Uint64
	misses atomic.Uint64
	puts   atomic.Uint64
}

// Stats counts pool traffic.
type Stats struct {
	Gets   uint64
	Misses uint64
	Puts   uint64
}

// Default is shared by the transport packages.
var Default = NewBytePool()

// NewBytePool creates an empty pool.
func NewBytePool() *BytePool {
	p := &BytePool{}
	for i := range p.classes {
		size := 1 << (minClassShift + i)
		p.classes[i] = NewSyncPool(func() *[]byte {
			p.misses.Add(1)
			b := make([]byte, size)
			return &b
		})
	}
	return p
}

func classFor(n int) int {
	if n <= 1<<minClassShift {
		return 0
	}
	return bits.Len(uint(n-1)) - minClassShift
}

// Get returns a slice of length n. Its capacity is the size class.
func (p *BytePool) Get(n int) *[]byte {
	p.gets.Add(1)
	c := classFor(n)
	if c >= numClasses {
		p.misses.Add(1)
		b := make([]byte, n)
		return &b
	}
	b := p.classes[c].Get()
	*b = (*b)[:n]
	return b
}

// Put returns b for reuse. Slices whose capacity is not an exact class
// size are dropped.
func (p *BytePool) Put(b *[]byte) {
	if b == nil {
		return
	}
	size := cap(*b)
	c := classFor(size)
	if c >= numClasses || 1<<(minClassShift+c) != size {
		return
	}
	p.puts.Add(1)
	*b = (*b)[:size]
	p.classes[c].Put(b)
}

// Stats returns a snapshot of the counters.
func (p *BytePool) Stats() Stats {
	return Stats{Gets: p.gets.Load(), Misses: p.misses.Load(), Puts: p.puts.Load()}
}
