package engine

import (
	"sync/atomic"

	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"
)

// Accountant is the engine's linear memory allocator. wazero asks it for the
// backing buffer of every memory instance, so it sees every allocation,
// reallocation and free and can enforce a global budget on growth.
type Accountant struct {
	budget   uint64
	live     atomic.Uint64
	peak     atomic.Uint64
	memories atomic.Int64
	total    atomic.Uint64
	rejected atomic.Uint64
}

// Stats is a snapshot of the accountant's counters.
type Stats struct {
	LiveBytes       uint64
	PeakBytes       uint64
	TotalAllocated  uint64
	RejectedGrowths uint64
	LiveMemories    int64
	Budget          uint64
}

var _ experimental.MemoryAllocator = (*Accountant)(nil)

// NewAccountant creates an allocator. A zero budget is unlimited.
func NewAccountant(budget uint64) *Accountant {
	return &Accountant{budget: budget}
}

// Allocate implements experimental.MemoryAllocator.
//
// A memory allocated with capacity equal to max is fixed: its backing array
// is reserved up front and never moves, which is what shared memories need.
// Other memories are copied into a larger array when they grow. The engine
// does not enable the threads feature, so wazero rejects shared memories
// before they reach the allocator.
func (a *Accountant) Allocate(capacity, max uint64) experimental.LinearMemory {
	a.memories.Add(1)
	m := &linearMemory{acc: a, max: max, fixed: capacity > 0 && capacity == max}
	if capacity > 0 {
		a.reserve(capacity, true)
		m.buf = make([]byte, 0, capacity)
	}
	return m
}

// Stats returns a snapshot of the counters.
func (a *Accountant) Stats() Stats {
	return Stats{
		LiveBytes:       a.live.Load(),
		PeakBytes:       a.peak.Load(),
		TotalAllocated:  a.total.Load(),
		RejectedGrowths: a.rejected.Load(),
		LiveMemories:    a.memories.Load(),
		Budget:          a.budget,
	}
}

// reserve accounts n more bytes. Unless force is set, a reservation that
// would exceed the budget is refused.
func (a *Accountant) reserve(n uint64, force bool) bool {
	for {
		cur := a.live.Load()
		next := cur + n
		if !force && a.budget > 0 && next > a.budget {
			a.rejected.Add(1)
			Logger().Warn("memory growth refused",
				zap.Uint64("requested", n),
				zap.Uint64("live", cur),
				zap.Uint64("budget", a.budget))
			return false
		}
		if a.live.CompareAndSwap(cur, next) {
			a.total.Add(n)
			for {
				p := a.peak.Load()
				if next <= p || a.peak.CompareAndSwap(p, next) {
					break
				}
			}
			return true
		}
	}
}

func (a *Accountant) release(n uint64) {
	a.live.Add(^(n - 1))
}

type linearMemory struct {
	acc   *Accountant
	buf   []byte
	max   uint64
	fixed bool
}

// Reallocate implements experimental.LinearMemory.
func (m *linearMemory) Reallocate(size uint64) []byte {
	if size > m.max {
		return nil
	}
	if c := uint64(cap(m.buf)); size > c {
		if m.fixed {
			return nil
		}
		// Initial sizing happens with an empty buffer and is not subject to
		// the budget; only growth of a live memory can be refused.
		if !m.acc.reserve(size-c, len(m.buf) == 0 && c == 0) {
			return nil
		}
		grown := make([]byte, size)
		copy(grown, m.buf)
		m.buf = grown
	} else {
		m.buf = m.buf[:size]
	}
	return m.buf
}

// Free implements experimental.LinearMemory.
func (m *linearMemory) Free() {
	if m.buf == nil && m.acc == nil {
		return
	}
	if c := uint64(cap(m.buf)); c > 0 {
		m.acc.release(c)
	}
	m.acc.memories.Add(-1)
	m.buf = nil
	m.acc = nil
}
