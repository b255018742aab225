package emu

import "fmt"

// Synchronous trap causes.
const (
	CauseMisalignedFetch       uint64 = 0
	CauseFaultFetch            uint64 = 1
	CauseIllegalInstruction    uint64 = 2
	CausePrivilegedInstruction uint64 = 3
	CauseFPDisabled            uint64 = 4
	CauseSyscall               uint64 = 6
	CauseBreakpoint            uint64 = 7
	CauseMisalignedLoad        uint64 = 8
	CauseMisalignedStore       uint64 = 9
	CauseFaultLoad             uint64 = 10
	CauseFaultStore            uint64 = 11
	CauseAccelDisabled         uint64 = 12

	// CauseInterrupt is set in the cause of every asynchronous trap.
	CauseInterrupt uint64 = 1 << 63
)

var causeNames = map[uint64]string{
	CauseMisalignedFetch:       "misaligned_fetch",
	CauseFaultFetch:            "fault_fetch",
	CauseIllegalInstruction:    "illegal_instruction",
	CausePrivilegedInstruction: "privileged_instruction",
	CauseFPDisabled:            "fp_disabled",
	CauseSyscall:               "syscall",
	CauseBreakpoint:            "breakpoint",
	CauseMisalignedLoad:        "misaligned_load",
	CauseMisalignedStore:       "misaligned_store",
	CauseFaultLoad:             "fault_load",
	CauseFaultStore:            "fault_store",
	CauseAccelDisabled:         "accelerator_disabled",
}

// Trap is an architectural trap raised by fetch, execute or the interrupt
// check. Traps are ordinary values: the stepping loop consumes them and
// redirects to the exception vector.
type Trap struct {
	Cause uint64

	// BadVAddr is recorded into the bad-address register when HasBadVAddr
	// is set.
	BadVAddr    uint64
	HasBadVAddr bool
}

func newMemTrap(cause, addr uint64) *Trap {
	return &Trap{Cause: cause, BadVAddr: addr, HasBadVAddr: true}
}

func illegal() *Trap {
	return &Trap{Cause: CauseIllegalInstruction}
}

func privileged() *Trap {
	return &Trap{Cause: CausePrivilegedInstruction}
}

// InterruptTrap builds the trap taken for interrupt line irq.
func InterruptTrap(irq int) *Trap {
	return &Trap{Cause: CauseInterrupt | uint64(irq)}
}

// IsInterrupt reports whether the trap is asynchronous.
func (t *Trap) IsInterrupt() bool {
	return t.Cause&CauseInterrupt != 0
}

// ApplySideEffects writes trap-specific registers into s.
func (t *Trap) ApplySideEffects(s *ArchState) {
	if t.HasBadVAddr {
		s.BadVAddr = t.BadVAddr
	}
}

func (t *Trap) String() string {
	if t.IsInterrupt() {
		return fmt.Sprintf("interrupt #%d", t.Cause&^CauseInterrupt)
	}
	name, ok := causeNames[t.Cause]
	if !ok {
		name = fmt.Sprintf("trap #%d", t.Cause)
	}
	if t.HasBadVAddr {
		return fmt.Sprintf("%s (badvaddr 0x%x)", name, t.BadVAddr)
	}
	return name
}

// TakeTrap enters the exception handler for trap raised at epc. It moves
// S into PS and EI into PEI, sets S, clears EI, drops any load reservation,
// records cause and EPC and returns the exception vector, which is also
// written to the PC.
func (h *Hart) TakeTrap(trap *Trap, epc uint64) uint64 {
	s := &h.state

	sr := s.SR &^ (SRPS | SRPEI | SREI)
	if s.SR&SRS != 0 {
		sr |= SRPS
	}
	if s.SR&SREI != 0 {
		sr |= SRPEI
	}
	s.SR = sr | SRS

	h.mmu.YieldLoadReservation()

	s.Cause = trap.Cause
	s.EPC = epc
	trap.ApplySideEffects(s)

	s.PC = s.EVec
	return s.EVec
}
