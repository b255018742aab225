package emu

// CSR addresses.
const (
	CSRFFlags   uint16 = 0x001
	CSRFRM      uint16 = 0x002
	CSRFCSR     uint16 = 0x003
	CSRSup0     uint16 = 0x500
	CSRSup1     uint16 = 0x501
	CSREPC      uint16 = 0x502
	CSRBadVAddr uint16 = 0x503
	CSRPTBR     uint16 = 0x504
	CSRASID     uint16 = 0x505
	CSRCount    uint16 = 0x506
	CSRCompare  uint16 = 0x507
	CSREVec     uint16 = 0x508
	CSRCause    uint16 = 0x509
	CSRStatus   uint16 = 0x50a
	CSRHartID   uint16 = 0x50b
	CSRImpl     uint16 = 0x50c
	CSRFatc     uint16 = 0x50d
	CSRSendIPI  uint16 = 0x50e
	CSRClearIPI uint16 = 0x50f
	CSRToHost   uint16 = 0x51e
	CSRFromHost uint16 = 0x51f
	CSRCountH   uint16 = 0x586
	CSRCycle    uint16 = 0xc00
	CSRTime     uint16 = 0xc01
	CSRInstret  uint16 = 0xc02
	CSRUarch0   uint16 = 0xcc0
	CSRUarch15  uint16 = 0xccf
)

const (
	fflagsMask = 0x1f
	frmMask    = 0x7
)

func isSupervisorCSR(csr uint16) bool {
	return csr&0xf00 == 0x500
}

// SetPCR writes a CSR with all of its side effects. It returns an
// illegal-instruction trap for unknown addresses. Writes to COUNT and
// COMPARE report serialize=true because they change the timer schedule.
func (h *Hart) SetPCR(csr uint16, val uint64) (serialize bool, trap *Trap) {
	s := &h.state

	switch csr {
	case CSRFFlags:
		s.FFlags = uint32(val) & fflagsMask
	case CSRFRM:
		s.FRM = uint32(val) & frmMask
	case CSRFCSR:
		s.FFlags = uint32(val) & fflagsMask
		s.FRM = uint32(val>>5) & frmMask
	case CSRStatus:
		s.SR = (uint32(val) &^ SRIP) | (s.SR & SRIP)
		s.SR &= srWritable
	case CSREPC:
		s.EPC = val
	case CSRBadVAddr:
		s.BadVAddr = val
	case CSREVec:
		s.EVec = val &^ 3
	case CSRCount, CSRCycle, CSRTime, CSRInstret:
		s.Count = val
		return true, nil
	case CSRCountH:
		s.Count = val<<32 | uint64(uint32(s.Count))
		return true, nil
	case CSRCompare:
		h.SetInterrupt(IRQTimer, false)
		s.Compare = uint32(val)
		return true, nil
	case CSRCause:
		s.Cause = val
	case CSRPTBR:
		s.PTBR = val &^ (PageSize - 1)
	case CSRSendIPI:
		if h.ipi != nil {
			h.ipi(val)
		}
	case CSRClearIPI:
		h.SetInterrupt(IRQIPI, val&1 != 0)
	case CSRSup0:
		s.PCRK0 = val
	case CSRSup1:
		s.PCRK1 = val
	case CSRToHost:
		if s.ToHost == 0 {
			s.ToHost = val
		}
	case CSRFromHost:
		h.SetInterrupt(IRQHost, val != 0)
		s.FromHost = val
	case CSRASID, CSRFatc:
	default:
		return false, illegal()
	}

	return false, nil
}

// GetPCR reads a CSR. Unknown addresses produce an illegal-instruction trap.
func (h *Hart) GetPCR(csr uint16) (uint64, *Trap) {
	s := &h.state

	if csr >= CSRUarch0 && csr <= CSRUarch15 {
		return 0, nil
	}

	switch csr {
	case CSRFFlags:
		return uint64(s.FFlags), nil
	case CSRFRM:
		return uint64(s.FRM), nil
	case CSRFCSR:
		return uint64(s.FRM)<<5 | uint64(s.FFlags), nil
	case CSRStatus:
		return uint64(s.SR), nil
	case CSREPC:
		return s.EPC, nil
	case CSRBadVAddr:
		return s.BadVAddr, nil
	case CSRCount, CSRCycle, CSRTime, CSRInstret:
		return s.Count, nil
	case CSRCountH:
		return s.Count >> 32, nil
	case CSRCompare:
		return uint64(s.Compare), nil
	case CSREVec:
		return s.EVec, nil
	case CSRCause:
		return s.Cause, nil
	case CSRPTBR:
		return s.PTBR, nil
	case CSRASID, CSRFatc, CSRSendIPI, CSRClearIPI:
		return 0, nil
	case CSRHartID:
		return uint64(h.id), nil
	case CSRImpl:
		return 1, nil
	case CSRSup0:
		return s.PCRK0, nil
	case CSRSup1:
		return s.PCRK1, nil
	case CSRToHost:
		return s.ToHost, nil
	case CSRFromHost:
		return s.FromHost, nil
	}

	return 0, illegal()
}

// SetInterrupt raises or clears the pending bit of interrupt line which.
func (h *Hart) SetInterrupt(which int, on bool) {
	mask := uint32(1) << (uint(which) + SRIPShift)
	if on {
		h.state.SR |= mask
	} else {
		h.state.SR &^= mask
	}
}

// TakeInterrupt returns the trap for the lowest pending, unmasked interrupt
// when interrupts are enabled, or nil.
func (h *Hart) TakeInterrupt() *Trap {
	sr := h.state.SR
	pending := (sr & SRIP) >> SRIPShift
	pending &= (sr & SRIM) >> SRIMShift
	if pending == 0 || sr&SREI == 0 {
		return nil
	}

	for i := 0; i < 8; i++ {
		if pending>>uint(i)&1 != 0 {
			return InterruptTrap(i)
		}
	}
	return nil
}
