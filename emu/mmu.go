package emu

// PageSize is the target page size.
const PageSize uint64 = 1 << 12

// MMU translates and performs the memory accesses of one hart. Address
// translation is bare: virtual addresses equal physical addresses and the
// VM status bit is not interpreted.
type MMU struct {
	mem *Memory

	reservation    uint64
	hasReservation bool
}

// NewMMU creates an MMU over mem.
func NewMMU(mem *Memory) *MMU {
	return &MMU{mem: mem}
}

// Memory returns the memory the MMU accesses.
func (m *MMU) Memory() *Memory {
	return m.mem
}

// Translate maps a virtual address to a physical one, checking alignment and
// bounds for an access of the given size.
func (m *MMU) Translate(vaddr uint64, size int, store, fetch bool) (uint64, *Trap) {
	if vaddr%uint64(size) != 0 {
		switch {
		case fetch:
			return 0, newMemTrap(CauseMisalignedFetch, vaddr)
		case store:
			return 0, newMemTrap(CauseMisalignedStore, vaddr)
		default:
			return 0, newMemTrap(CauseMisalignedLoad, vaddr)
		}
	}

	if !m.mem.InRange(vaddr, uint64(size)) {
		switch {
		case fetch:
			return 0, newMemTrap(CauseFaultFetch, vaddr)
		case store:
			return 0, newMemTrap(CauseFaultStore, vaddr)
		default:
			return 0, newMemTrap(CauseFaultLoad, vaddr)
		}
	}

	return vaddr, nil
}

// Fetch reads the instruction word at pc.
func (m *MMU) Fetch(pc uint64) (uint32, *Trap) {
	paddr, trap := m.Translate(pc, 4, false, true)
	if trap != nil {
		return 0, trap
	}
	return uint32(m.mem.Read(paddr, 4)), nil
}

// Load reads size bytes at vaddr, zero-extended.
func (m *MMU) Load(vaddr uint64, size int) (uint64, *Trap) {
	paddr, trap := m.Translate(vaddr, size, false, false)
	if trap != nil {
		return 0, trap
	}
	return m.mem.Read(paddr, size), nil
}

// Store writes the low size bytes of value at vaddr.
func (m *MMU) Store(vaddr uint64, size int, value uint64) *Trap {
	paddr, trap := m.Translate(vaddr, size, true, false)
	if trap != nil {
		return trap
	}
	m.mem.Write(paddr, size, value)
	return nil
}

// AcquireLoadReservation records a reservation on vaddr.
func (m *MMU) AcquireLoadReservation(vaddr uint64) {
	m.reservation = vaddr
	m.hasReservation = true
}

// CheckLoadReservation reports whether vaddr is still reserved.
func (m *MMU) CheckLoadReservation(vaddr uint64) bool {
	return m.hasReservation && m.reservation == vaddr
}

// YieldLoadReservation drops any outstanding reservation.
func (m *MMU) YieldLoadReservation() {
	m.hasReservation = false
}

// HasLoadReservation reports whether a reservation is outstanding.
func (m *MMU) HasLoadReservation() bool {
	return m.hasReservation
}
