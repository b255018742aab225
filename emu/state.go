// Package emu provides the functional RV64 reference model: architectural
// state, flat target memory, the memory-management unit and a hart that
// fetches and executes one instruction at a time.
package emu

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Status register bits.
const (
	SRS       uint32 = 0x00000001 // supervisor mode
	SRPS      uint32 = 0x00000002 // previous supervisor mode
	SREI      uint32 = 0x00000004 // interrupts enabled
	SRPEI     uint32 = 0x00000008 // previous interrupt enable
	SREF      uint32 = 0x00000010 // floating point enabled
	SRU64     uint32 = 0x00000020 // 64-bit user mode
	SRS64     uint32 = 0x00000040 // 64-bit supervisor mode
	SRVM      uint32 = 0x00000080 // virtual memory on
	SRIM      uint32 = 0x00ff0000 // interrupt mask
	SRIP      uint32 = 0xff000000 // pending interrupts
	SRIMShift        = 16
	SRIPShift        = 24

	srWritable = SRS | SRPS | SREI | SRPEI | SREF | SRU64 | SRS64 | SRVM | SRIM | SRIP
)

// Interrupt lines.
const (
	IRQCop   = 2
	IRQIPI   = 5
	IRQHost  = 6
	IRQTimer = 7
)

// ResetVector is the PC every hart starts from.
const ResetVector uint64 = 0x2000

// NumArchRegs is the number of register ids addressable through ReadReg:
// 32 integer registers followed by 32 floating-point registers.
const NumArchRegs = 64

// ArchState is the architectural state of one hart. The layout is fixed-size
// so the structure can be written and read raw with encoding/binary.
type ArchState struct {
	PC  uint64
	XPR [32]uint64
	FPR [32]uint64

	EPC      uint64
	BadVAddr uint64
	EVec     uint64
	PTBR     uint64
	PCRK0    uint64
	PCRK1    uint64
	Cause    uint64
	ToHost   uint64
	FromHost uint64
	Count    uint64

	SR      uint32
	Compare uint32
	FFlags  uint32
	FRM     uint32
}

// Reset puts the state into its power-on configuration: supervisor mode,
// 64-bit, interrupts disabled, PC at the reset vector.
func (s *ArchState) Reset() {
	*s = ArchState{}
	s.SR = SRS | SRS64 | SRU64
	s.PC = ResetVector
}

// WriteX writes an integer register. Writes to x0 are dropped.
func (s *ArchState) WriteX(reg uint8, value uint64) {
	if reg == 0 {
		return
	}
	s.XPR[reg&0x1f] = value
}

// ReadReg reads a register by unified id: 0-31 are integer registers and
// 32-63 are floating-point registers. Other ids read as zero.
func (s *ArchState) ReadReg(id uint64) uint64 {
	switch {
	case id < 32:
		return s.XPR[id]
	case id < NumArchRegs:
		return s.FPR[id-32]
	}
	return 0
}

var xprNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// RegName returns the ABI name of a unified register id.
func RegName(id uint64) string {
	switch {
	case id < 32:
		return xprNames[id]
	case id < NumArchRegs:
		return fmt.Sprintf("f%d", id-32)
	}
	return fmt.Sprintf("r%d", id)
}

// RegID resolves an ABI name ("a0"), a numbered name ("x10", "f3") or a
// plain number to a unified register id.
func RegID(name string) (uint64, bool) {
	for i, n := range xprNames {
		if n == name {
			return uint64(i), true
		}
	}
	if name == "fp" {
		return 8, true
	}

	base, num, limit := uint64(0), name, uint64(NumArchRegs)
	switch {
	case strings.HasPrefix(name, "x"):
		num, limit = name[1:], 32
	case strings.HasPrefix(name, "f"):
		base, num, limit = 32, name[1:], 32
	}

	n, err := strconv.ParseUint(num, 10, 8)
	if err != nil || n >= limit {
		return 0, false
	}
	return base + n, true
}

// Dump writes a human-readable rendering of the state.
func (s *ArchState) Dump(w io.Writer) {
	fmt.Fprintf(w, "pc: 0x%016x sr: 0x%08x\n", s.PC, s.SR)
	for i := 0; i < 32; i += 4 {
		fmt.Fprintf(w, "%-4s 0x%016x %-4s 0x%016x %-4s 0x%016x %-4s 0x%016x\n",
			xprNames[i], s.XPR[i], xprNames[i+1], s.XPR[i+1],
			xprNames[i+2], s.XPR[i+2], xprNames[i+3], s.XPR[i+3])
	}
	fmt.Fprintf(w, "epc: 0x%016x cause: 0x%016x badvaddr: 0x%016x\n",
		s.EPC, s.Cause, s.BadVAddr)
	fmt.Fprintf(w, "evec: 0x%016x ptbr: 0x%016x count: %d compare: %d\n",
		s.EVec, s.PTBR, s.Count, s.Compare)
	fmt.Fprintf(w, "tohost: 0x%016x fromhost: 0x%016x\n", s.ToHost, s.FromHost)
}
