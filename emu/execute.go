package emu

import (
	"math"
	"math/bits"

	"github.com/sarchlab/micros/insts"
)

// Execute performs inst, located at pc, against the hart's state. On success
// the register file, memory and PC are updated and the commit describes the
// effect. On a trap nothing is modified and the trap is returned for the
// stepping loop to take.
func (h *Hart) Execute(inst *insts.Instruction, pc uint64) (Commit, *Trap) {
	s := &h.state
	c := Commit{PC: pc, NextPC: pc + 4, Inst: inst}

	rs1 := s.XPR[inst.Rs1]
	rs2 := s.XPR[inst.Rs2]
	imm := uint64(inst.Imm)

	var (
		rd      uint64
		writeRd bool
		writeFd bool
		trap    *Trap
	)

	switch inst.Op {
	case insts.OpLUI:
		rd, writeRd = imm, true
	case insts.OpAUIPC:
		rd, writeRd = pc+imm, true
	case insts.OpJAL:
		rd, writeRd = pc+4, true
		c.NextPC = pc + imm
	case insts.OpJALR:
		rd, writeRd = pc+4, true
		c.NextPC = (rs1 + imm) &^ 1
	case insts.OpBEQ, insts.OpBNE, insts.OpBLT, insts.OpBGE, insts.OpBLTU, insts.OpBGEU:
		if branchTaken(inst.Op, rs1, rs2) {
			c.NextPC = pc + imm
		}

	case insts.OpLB, insts.OpLH, insts.OpLW, insts.OpLD,
		insts.OpLBU, insts.OpLHU, insts.OpLWU:
		rd, trap = h.load(inst.Op, rs1+imm, &c)
		writeRd = true
	case insts.OpSB, insts.OpSH, insts.OpSW, insts.OpSD:
		trap = h.store(storeSize(inst.Op), rs1+imm, rs2, &c)

	case insts.OpFLW, insts.OpFLD:
		if s.SR&SREF == 0 {
			return c, &Trap{Cause: CauseFPDisabled}
		}
		size := 8
		if inst.Op == insts.OpFLW {
			size = 4
		}
		var v uint64
		v, trap = h.mmu.Load(rs1+imm, size)
		if size == 4 {
			v |= 0xffffffff00000000
		}
		rd, writeFd = v, true
		c.HasMem, c.Addr, c.Data = true, rs1+imm, v
	case insts.OpFSW, insts.OpFSD:
		if s.SR&SREF == 0 {
			return c, &Trap{Cause: CauseFPDisabled}
		}
		size := 8
		if inst.Op == insts.OpFSW {
			size = 4
		}
		trap = h.store(size, rs1+imm, s.FPR[inst.Rs2], &c)

	case insts.OpFADDD:
		if s.SR&SREF == 0 {
			return c, &Trap{Cause: CauseFPDisabled}
		}
		sum := math.Float64frombits(s.FPR[inst.Rs1]) + math.Float64frombits(s.FPR[inst.Rs2])
		rd, writeFd = math.Float64bits(sum), true
	case insts.OpFMVXD:
		if s.SR&SREF == 0 {
			return c, &Trap{Cause: CauseFPDisabled}
		}
		rd, writeRd = s.FPR[inst.Rs1], true
	case insts.OpFMVDX:
		if s.SR&SREF == 0 {
			return c, &Trap{Cause: CauseFPDisabled}
		}
		rd, writeFd = rs1, true

	case insts.OpLRW, insts.OpLRD, insts.OpSCW, insts.OpSCD,
		insts.OpAMOSWAPW, insts.OpAMOSWAPD, insts.OpAMOADDW, insts.OpAMOADDD:
		rd, trap = h.atomic(inst.Op, rs1, rs2, &c)
		writeRd = true

	case insts.OpFENCE, insts.OpFENCEI:
	case insts.OpSCALL:
		return c, &Trap{Cause: CauseSyscall}
	case insts.OpSBREAK:
		return c, &Trap{Cause: CauseBreakpoint}
	case insts.OpERET:
		if s.SR&SRS == 0 {
			return c, privileged()
		}
		h.eret()
		c.NextPC = s.EPC
		c.Serialize = true

	case insts.OpCSRRW, insts.OpCSRRS, insts.OpCSRRC,
		insts.OpCSRRWI, insts.OpCSRRSI, insts.OpCSRRCI:
		rd, trap = h.csr(inst, rs1, &c)
		writeRd = true

	case insts.OpCustom0:
		if h.accel == nil {
			return c, illegal()
		}
		v, err := h.accel.Execute(inst, rs1, rs2)
		if err != nil {
			return c, illegal()
		}
		rd, writeRd = v, true

	case insts.OpUnknown:
		return c, illegal()

	default:
		var ok bool
		rd, ok = alu(inst.Op, rs1, aluOperand(inst, rs2))
		if !ok {
			return c, illegal()
		}
		writeRd = true
	}

	if trap != nil {
		return c, trap
	}

	switch {
	case writeRd && inst.Rd != 0:
		s.WriteX(inst.Rd, rd)
		c.HasDest, c.DestID, c.DestValue = true, uint64(inst.Rd), rd
	case writeFd:
		s.FPR[inst.Rd] = rd
		c.HasDest, c.DestID, c.DestValue = true, 32+uint64(inst.Rd), rd
	}

	s.PC = c.NextPC
	return c, nil
}

func (h *Hart) eret() {
	sr := h.state.SR &^ (SRS | SREI)
	if sr&SRPS != 0 {
		sr |= SRS
	}
	if sr&SRPEI != 0 {
		sr |= SREI
	}
	h.state.SR = sr
}

func (h *Hart) csr(inst *insts.Instruction, rs1 uint64, c *Commit) (uint64, *Trap) {
	if isSupervisorCSR(inst.CSR) && h.state.SR&SRS == 0 {
		return 0, privileged()
	}

	old, trap := h.GetPCR(inst.CSR)
	if trap != nil {
		return 0, trap
	}

	src := rs1
	if !inst.HasRs1 {
		src = uint64(inst.Imm)
	}

	next := old
	write := true
	switch inst.Op {
	case insts.OpCSRRW, insts.OpCSRRWI:
		next = src
	case insts.OpCSRRS, insts.OpCSRRSI:
		next = old | src
		write = inst.Rs1 != 0
	case insts.OpCSRRC, insts.OpCSRRCI:
		next = old &^ src
		write = inst.Rs1 != 0
	}

	if write {
		serialize, trap := h.SetPCR(inst.CSR, next)
		if trap != nil {
			return 0, trap
		}
		c.Serialize = serialize
	}

	c.HasCSR, c.CSRAddr, c.CSROld, c.CSRNew = true, inst.CSR, old, next
	return old, nil
}

func (h *Hart) load(op insts.Op, addr uint64, c *Commit) (uint64, *Trap) {
	size := 8
	switch op {
	case insts.OpLB, insts.OpLBU:
		size = 1
	case insts.OpLH, insts.OpLHU:
		size = 2
	case insts.OpLW, insts.OpLWU:
		size = 4
	}

	v, trap := h.mmu.Load(addr, size)
	if trap != nil {
		return 0, trap
	}

	switch op {
	case insts.OpLB:
		v = uint64(int64(int8(v)))
	case insts.OpLH:
		v = uint64(int64(int16(v)))
	case insts.OpLW:
		v = uint64(int64(int32(v)))
	}

	c.HasMem, c.Addr, c.Data = true, addr, v
	return v, nil
}

func (h *Hart) store(size int, addr, value uint64, c *Commit) *Trap {
	if trap := h.mmu.Store(addr, size, value); trap != nil {
		return trap
	}
	c.HasMem, c.Addr, c.Data = true, addr, value
	return nil
}

func storeSize(op insts.Op) int {
	switch op {
	case insts.OpSB:
		return 1
	case insts.OpSH:
		return 2
	case insts.OpSW:
		return 4
	}
	return 8
}

func (h *Hart) atomic(op insts.Op, addr, src uint64, c *Commit) (uint64, *Trap) {
	size := 8
	switch op {
	case insts.OpLRW, insts.OpSCW, insts.OpAMOSWAPW, insts.OpAMOADDW:
		size = 4
	}
	sext := func(v uint64) uint64 {
		if size == 4 {
			return uint64(int64(int32(v)))
		}
		return v
	}

	switch op {
	case insts.OpLRW, insts.OpLRD:
		v, trap := h.mmu.Load(addr, size)
		if trap != nil {
			return 0, trap
		}
		h.mmu.AcquireLoadReservation(addr)
		c.HasMem, c.Addr, c.Data = true, addr, v
		return sext(v), nil

	case insts.OpSCW, insts.OpSCD:
		if !h.mmu.CheckLoadReservation(addr) {
			h.mmu.YieldLoadReservation()
			return 1, nil
		}
		h.mmu.YieldLoadReservation()
		if trap := h.store(size, addr, src, c); trap != nil {
			return 0, trap
		}
		return 0, nil
	}

	old, trap := h.mmu.Load(addr, size)
	if trap != nil {
		return 0, trap
	}
	next := src
	if op == insts.OpAMOADDW || op == insts.OpAMOADDD {
		next = old + src
	}
	if trap := h.store(size, addr, next, c); trap != nil {
		return 0, trap
	}
	return sext(old), nil
}

func branchTaken(op insts.Op, a, b uint64) bool {
	switch op {
	case insts.OpBEQ:
		return a == b
	case insts.OpBNE:
		return a != b
	case insts.OpBLT:
		return int64(a) < int64(b)
	case insts.OpBGE:
		return int64(a) >= int64(b)
	case insts.OpBLTU:
		return a < b
	case insts.OpBGEU:
		return a >= b
	}
	return false
}

func aluOperand(inst *insts.Instruction, rs2 uint64) uint64 {
	if inst.Format == insts.FormatI {
		return uint64(inst.Imm)
	}
	return rs2
}

func sext32(v uint64) uint64 {
	return uint64(int64(int32(v)))
}

// alu computes register-register and register-immediate integer operations.
func alu(op insts.Op, a, b uint64) (uint64, bool) {
	switch op {
	case insts.OpADD, insts.OpADDI:
		return a + b, true
	case insts.OpSUB:
		return a - b, true
	case insts.OpSLL, insts.OpSLLI:
		return a << (b & 0x3f), true
	case insts.OpSLT, insts.OpSLTI:
		return boolToU64(int64(a) < int64(b)), true
	case insts.OpSLTU, insts.OpSLTIU:
		return boolToU64(a < b), true
	case insts.OpXOR, insts.OpXORI:
		return a ^ b, true
	case insts.OpSRL, insts.OpSRLI:
		return a >> (b & 0x3f), true
	case insts.OpSRA, insts.OpSRAI:
		return uint64(int64(a) >> (b & 0x3f)), true
	case insts.OpOR, insts.OpORI:
		return a | b, true
	case insts.OpAND, insts.OpANDI:
		return a & b, true

	case insts.OpADDW, insts.OpADDIW:
		return sext32(a + b), true
	case insts.OpSUBW:
		return sext32(a - b), true
	case insts.OpSLLW, insts.OpSLLIW:
		return sext32(uint64(uint32(a) << (b & 0x1f))), true
	case insts.OpSRLW, insts.OpSRLIW:
		return sext32(uint64(uint32(a) >> (b & 0x1f))), true
	case insts.OpSRAW, insts.OpSRAIW:
		return uint64(int64(int32(a) >> (b & 0x1f))), true
	}

	return mulDiv(op, a, b)
}

func mulDiv(op insts.Op, a, b uint64) (uint64, bool) {
	switch op {
	case insts.OpMUL:
		return a * b, true
	case insts.OpMULH:
		hi, _ := bits.Mul64(a, b)
		if int64(a) < 0 {
			hi -= b
		}
		if int64(b) < 0 {
			hi -= a
		}
		return hi, true
	case insts.OpMULHSU:
		hi, _ := bits.Mul64(a, b)
		if int64(a) < 0 {
			hi -= b
		}
		return hi, true
	case insts.OpMULHU:
		hi, _ := bits.Mul64(a, b)
		return hi, true
	case insts.OpDIV:
		return uint64(divSigned(int64(a), int64(b))), true
	case insts.OpDIVU:
		if b == 0 {
			return math.MaxUint64, true
		}
		return a / b, true
	case insts.OpREM:
		return uint64(remSigned(int64(a), int64(b))), true
	case insts.OpREMU:
		if b == 0 {
			return a, true
		}
		return a % b, true

	case insts.OpMULW:
		return sext32(a * b), true
	case insts.OpDIVW:
		return uint64(int64(int32(divSigned(int64(int32(a)), int64(int32(b)))))), true
	case insts.OpDIVUW:
		if uint32(b) == 0 {
			return math.MaxUint64, true
		}
		return sext32(uint64(uint32(a) / uint32(b))), true
	case insts.OpREMW:
		return uint64(int64(int32(remSigned(int64(int32(a)), int64(int32(b)))))), true
	case insts.OpREMUW:
		if uint32(b) == 0 {
			return sext32(a), true
		}
		return sext32(uint64(uint32(a) % uint32(b))), true
	}

	return 0, false
}

func divSigned(a, b int64) int64 {
	switch {
	case b == 0:
		return -1
	case a == math.MinInt64 && b == -1:
		return a
	}
	return a / b
}

func remSigned(a, b int64) int64 {
	switch {
	case b == 0:
		return a
	case a == math.MinInt64 && b == -1:
		return 0
	}
	return a % b
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
