package pipeline

import (
	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/insts"
)

// scoreboard records, per architectural register, the cycle its pending
// value becomes available. Values are forwarded, so a consumer may issue in
// the cycle its producer completes.
type scoreboard struct {
	ready [emu.NumArchRegs]uint64
}

func regID(reg uint8, float bool) int {
	if float {
		return 32 + int(reg)
	}
	return int(reg)
}

// readyAt returns the first cycle all sources of inst are available.
func (s *scoreboard) readyAt(inst *insts.Instruction) uint64 {
	var at uint64

	if inst.HasRs1 {
		at = max(at, s.ready[regID(inst.Rs1, inst.Rs1Float)])
	}
	if inst.HasRs2 {
		at = max(at, s.ready[regID(inst.Rs2, inst.Rs2Float)])
	}

	return at
}

// produce marks the destination of c as pending until cycle.
func (s *scoreboard) produce(c *emu.Commit, cycle uint64) {
	if !c.HasDest || c.DestID >= emu.NumArchRegs {
		return
	}
	s.ready[c.DestID] = cycle
}

func (s *scoreboard) reset() {
	s.ready = [emu.NumArchRegs]uint64{}
}
