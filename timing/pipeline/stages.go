package pipeline

import (
	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/insts"
	"github.com/sarchlab/micros/timing/payload"
)

// fetch reads up to FetchWidth instructions along the predicted path. A
// predicted-taken control instruction ends the fetch group.
func (p *Pipeline) fetch() {
	if p.draining || p.fetchBlocked {
		return
	}
	if p.cycle < p.fetchAfter {
		p.stats.FetchStalls++
		return
	}

	for n := 0; n < p.config.FetchWidth; n++ {
		if len(p.inflight)-p.issued >= p.config.FetchQueueSize || !p.store.CanPush() {
			return
		}

		pc := p.fetchPC
		if p.icache != nil {
			r := p.icache.Access(pc, 4, false)
			if !r.Hit {
				p.fetchAfter = p.cycle + r.Latency
				p.stats.FetchStalls++
				return
			}
		}

		inst, trap := p.hart.Fetch(pc)

		idx := p.store.Push()
		e := p.store.Entry(idx)
		e.PC = pc
		e.Seq = p.seq
		p.seq++
		p.traps[idx/2] = nil
		p.inflight = append(p.inflight, idx)
		p.stats.Fetched++

		if trap != nil {
			e.FetchException = true
			e.FetchCause = trap.Cause
			p.traps[idx/2] = trap
			p.fetchBlocked = true
			return
		}

		p.decode(e, inst)
		e.NextPC = p.predictor.PredictNext(inst, pc)
		if inst.Split {
			p.store.Split(idx)
		}

		p.fetchPC = e.NextPC
		if e.NextPC != pc+4 {
			return
		}
	}
}

func (p *Pipeline) decode(e *payload.Payload, inst *insts.Instruction) {
	e.Inst = *inst
	e.FU = inst.FU
	e.GoodInstruction = inst.Op != insts.OpUnknown
	e.Split = inst.Split
	e.SplitStore = inst.Split && inst.IsStore()
	e.CSRAddr = inst.CSR

	e.A = operand(inst.HasRs1, inst.Rs1, inst.Rs1Float)
	e.B = operand(inst.HasRs2, inst.Rs2, inst.Rs2Float)
	e.C = operand(inst.HasRd, inst.Rd, inst.RdFloat)

	if inst.IsLoad() || inst.IsStore() {
		e.Size, e.Signed = memAccess(inst.Op)
	}
}

func operand(valid bool, reg uint8, float bool) payload.Operand {
	id := uint32(regID(reg, float))
	return payload.Operand{
		Valid:   valid,
		Int:     !float,
		LogReg:  uint32(reg),
		PhysReg: id,
	}
}

// memAccess returns the access size and signedness of a memory operation.
func memAccess(op insts.Op) (int, bool) {
	switch op {
	case insts.OpLB:
		return 1, true
	case insts.OpLBU, insts.OpSB:
		return 1, false
	case insts.OpLH:
		return 2, true
	case insts.OpLHU, insts.OpSH:
		return 2, false
	case insts.OpLW, insts.OpLRW, insts.OpSCW, insts.OpAMOSWAPW, insts.OpAMOADDW:
		return 4, true
	case insts.OpLWU, insts.OpSW, insts.OpFLW, insts.OpFSW:
		return 4, false
	}
	return 8, false
}

// issue executes up to IssueWidth queued instructions in program order.
func (p *Pipeline) issue() {
	if p.draining || p.issueBlocked {
		return
	}

	p.lanes.newCycle()

	width := min(p.config.IssueWidth, p.config.DispatchWidth)
	for n := 0; n < width && p.issued < len(p.inflight); n++ {
		idx := p.inflight[p.issued]
		e := p.store.Entry(idx)

		if e.FetchException {
			e.ReadyCycle = p.cycle
			p.issued++
			p.issueBlocked = true
			return
		}

		inst := &e.Inst
		if !p.canIssue(inst) {
			return
		}

		if p.scoreboard.readyAt(inst) > p.cycle {
			p.stats.DataHazards++
			return
		}

		lane, ok := p.lanes.take(inst.FU)
		if !ok {
			p.stats.StructuralStalls++
			return
		}
		e.LaneID = lane

		state := p.hart.State()
		e.AValue = state.ReadReg(uint64(e.A.PhysReg))
		e.BValue = state.ReadReg(uint64(e.B.PhysReg))

		c, trap := p.hart.Execute(inst, e.PC)
		p.issued++
		p.account(inst, 1)

		if trap != nil {
			p.traps[idx/2] = trap
			e.ReadyCycle = p.cycle + 1
			p.issueBlocked = true
			p.fetchBlocked = true
			p.squash(p.issued)
			return
		}

		p.complete(e, &c)
		p.commits[idx/2] = c

		if inst.IsControl() {
			p.predictor.Resolve(inst, e.PC, c.NextPC)
		}

		if c.NextPC != e.NextPC || inst.IsSystem() {
			p.redirect(c.NextPC, !inst.IsSystem())
			return
		}
	}
}

// canIssue checks the structural limits for inst.
func (p *Pipeline) canIssue(inst *insts.Instruction) bool {
	full := false
	switch {
	case inst.IsSystem() && p.issued > 0:
		// System instructions issue alone once everything older retired.
		full = true
	case p.issued >= p.config.ActiveListSize:
		full = true
	case inst.IsLoad() && p.loads >= p.config.LQSize:
		full = true
	case inst.IsStore() && p.stores >= p.config.SQSize:
		full = true
	case inst.IsControl() && p.branches >= p.config.NumCheckpoints:
		full = true
	}

	if full {
		p.stats.StructuralStalls++
	}
	return !full
}

func (p *Pipeline) account(inst *insts.Instruction, delta int) {
	if inst.IsLoad() {
		p.loads += delta
	}
	if inst.IsStore() {
		p.stores += delta
	}
	if inst.IsControl() {
		p.branches += delta
	}
}

// complete records the execution results of e and schedules its completion.
func (p *Pipeline) complete(e *payload.Payload, c *emu.Commit) {
	lat := p.latencyTable.GetLatency(&e.Inst)
	if c.HasMem && p.dcache != nil {
		lat += p.dcache.Access(c.Addr, e.Size, e.Inst.IsStore()).Latency
	}

	e.Latency = lat
	e.ReadyCycle = p.cycle + lat
	e.CNextPC = c.NextPC
	e.CValue = c.DestValue
	e.Addr = c.Addr
	e.CSROld, e.CSRNew = c.CSROld, c.CSRNew

	p.scoreboard.produce(c, e.ReadyCycle)
}

// redirect discards everything younger than the instruction that just
// issued and restarts fetch at pc.
func (p *Pipeline) redirect(pc uint64, mispredict bool) {
	p.squash(p.issued)
	p.fetchPC = pc
	p.fetchBlocked = false

	if mispredict {
		p.stats.Mispredictions++
		p.fetchAfter = p.cycle + p.latencyTable.MispredictPenalty()
	}
}

// retire commits up to RetireWidth completed instructions in order.
func (p *Pipeline) retire(maxRetire int) CycleResult {
	var res CycleResult

	for res.Retired < p.config.RetireWidth && res.Retired < maxRetire && p.issued > 0 {
		idx := p.inflight[0]
		e := p.store.Entry(idx)

		if e.ReadyCycle > p.cycle {
			break
		}

		if trap := p.traps[idx/2]; trap != nil {
			res.Trap = trap
			res.TrapPC = e.PC
			return res
		}

		c := &p.commits[idx/2]
		p.stats.Instructions++
		res.Retired++

		if p.checker != nil {
			if e.Split {
				p.checker.CheckInstruction(p.cycle, p.stats.Instructions, e.PC, 0, 0, true, p.hart.State())
			}
			p.checker.CheckInstruction(p.cycle, p.stats.Instructions, e.PC,
				c.DestID, c.DestValue, false, p.hart.State())
		}
		if p.onRetire != nil {
			p.onRetire(c)
		}

		p.account(&e.Inst, -1)
		p.store.Pop()
		p.inflight = p.inflight[1:]
		p.issued--

		if c.Serialize {
			res.Serialize = true
			break
		}
	}

	return res
}
