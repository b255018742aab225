package cache

import (
	"github.com/sarchlab/micros/emu"
)

// MemoryBacking is the last level of the hierarchy: target memory reached
// with a fixed latency.
type MemoryBacking struct {
	memory  *emu.Memory
	latency uint64

	reads  uint64
	writes uint64
}

// NewMemoryBacking creates a memory level over memory.
func NewMemoryBacking(memory *emu.Memory, latency uint64) *MemoryBacking {
	return &MemoryBacking{memory: memory, latency: latency}
}

// Access returns the memory latency. Addresses outside target memory still
// cost a memory access; the fault is reported by the MMU, not the timing
// model.
func (m *MemoryBacking) Access(addr uint64, size int, store bool) AccessResult {
	if store {
		m.writes++
	} else {
		m.reads++
	}
	return AccessResult{Hit: m.memory.InRange(addr, uint64(size)), Latency: m.latency}
}

// Accesses returns the number of reads and writes that reached memory.
func (m *MemoryBacking) Accesses() (reads, writes uint64) {
	return m.reads, m.writes
}
