package core

import (
	"fmt"
	"math"

	"github.com/sarchlab/micros/emu"
)

// NextTimer returns the number of instructions until count reaches
// compare, modulo 2^32.
func (c *Core) NextTimer() uint32 {
	s := c.hart.State()
	return s.Compare - uint32(s.Count)
}

// TickTimer advances count by delta and raises the timer interrupt when
// compare lies in (count, count+delta] on the 32-bit circle.
func (c *Core) TickTimer(delta uint64) {
	if delta == 0 {
		return
	}

	s := c.hart.State()
	d := s.Compare - uint32(s.Count)
	s.Count += delta

	if delta > math.MaxUint32 || (d != 0 && uint64(d) <= delta) {
		c.hart.SetInterrupt(emu.IRQTimer, true)
	}
}

// Step retires at most n instructions and returns how many retired. The
// batch is cut at the next timer event so the timer interrupt is raised on
// the instruction that reaches compare. Pending interrupts are taken first.
func (c *Core) Step(n uint64) uint64 {
	if n == 0 {
		return 0
	}

	var done uint64
	if c.hart.TakeInterrupt() != nil {
		done += c.Quiesce()
		if trap := c.hart.TakeInterrupt(); trap != nil {
			c.TakeTrap(trap, c.hart.State().PC)
		}
	}

	n = min(n, uint64(c.NextTimer()|1))

	switch {
	case c.debug:
		done += c.Quiesce()
		done += c.stepFunctional(n, true)
		if c.pipe != nil {
			c.pipe.Flush()
		}
	case c.pipe != nil:
		done += c.stepPipelined(n)
	default:
		done += c.stepFunctional(n, false)
	}

	if done == 0 {
		c.stats.IdleBatches++
	}

	return done
}

// Skip retires at most n instructions functionally, bypassing the pipeline
// and the debug trace. It is used to fast-forward to a region of interest.
func (c *Core) Skip(n uint64) uint64 {
	if n == 0 {
		return 0
	}

	done := c.Quiesce()
	if trap := c.hart.TakeInterrupt(); trap != nil {
		c.TakeTrap(trap, c.hart.State().PC)
	}

	n = min(n, uint64(c.NextTimer()|1))
	done += c.stepFunctional(n, false)
	if c.pipe != nil {
		c.pipe.Flush()
	}

	return done
}

func (c *Core) stepFunctional(n uint64, debug bool) uint64 {
	var done uint64

	for done < n {
		s := c.hart.State()
		pc := s.PC

		commit, trap := c.hart.Step()
		if trap != nil {
			if debug {
				fmt.Fprintf(c.out, "core %3d: exception %s, epc 0x%016x\n", c.id, trap, pc)
			}
			c.TakeTrap(trap, pc)
			break
		}

		done++
		c.stats.Cycles++
		if debug {
			fmt.Fprintf(c.out, "core %3d: 0x%016x (0x%08x) %s\n", c.id, pc, commit.Inst.Raw, commit.Inst.Op)
			c.TickTimer(1)
		}

		c.check(&commit)
		c.retired(&commit)

		if commit.Serialize {
			c.serialized()
			break
		}
	}

	if !debug {
		c.TickTimer(done)
	}

	return done
}

func (c *Core) stepPipelined(n uint64) uint64 {
	var done uint64

	for done < n {
		res := c.pipe.Cycle(int(min(n-done, math.MaxInt32)))
		done += uint64(res.Retired)
		c.stats.Cycles++

		if c.stats.Cycles%c.progressInterval == 0 {
			c.progress()
		}

		if res.Trap != nil {
			c.TakeTrap(res.Trap, res.TrapPC)
			break
		}
		if res.Serialize {
			c.serialized()
			break
		}
		if done == 0 {
			break
		}
	}

	c.TickTimer(done)
	return done
}

func (c *Core) serialized() {
	c.stats.Serializations++
	c.log.V(1).Info("serializing instruction ends batch", "core", c.id, "pc", c.hart.State().PC)
}

func (c *Core) progress() {
	ipc := 0.0
	if c.stats.Cycles > 0 {
		ipc = float64(c.stats.Instructions) / float64(c.stats.Cycles)
	}
	fmt.Fprintf(c.out, "core %d: (cycle = %d) num_insn = %d\tidle = %d\tIPC = %.2f\n",
		c.id, c.stats.Cycles, c.stats.Instructions, c.stats.IdleBatches, ipc)
}

// check compares a functionally stepped commit. The pipeline checks its own
// retirements.
func (c *Core) check(commit *emu.Commit) {
	if !c.checking || c.checker == nil {
		return
	}
	c.checker.CheckInstruction(c.stats.Cycles, c.stats.Instructions+1, commit.PC,
		commit.DestID, commit.DestValue, false, c.hart.State())
}

func (c *Core) retired(commit *emu.Commit) {
	c.stats.Instructions++
	if c.observe != nil {
		c.observe(c.id, commit)
	}
}

// Quiesce lets every issued instruction retire and empties the pipeline, so
// the hart's state equals the retired state. It returns the number of
// instructions retired on the way.
func (c *Core) Quiesce() uint64 {
	if c.pipe == nil || c.pipe.Empty() {
		return 0
	}

	c.pipe.Drain()

	var done uint64
	for !c.pipe.Empty() {
		res := c.pipe.Cycle(math.MaxInt32)
		done += uint64(res.Retired)
		c.stats.Cycles++
		if res.Trap != nil {
			c.TakeTrap(res.Trap, res.TrapPC)
			break
		}
	}
	c.pipe.Flush()

	c.TickTimer(done)
	return done
}

// TakeTrap enters the exception handler for trap raised at epc and returns
// the exception vector. The pipeline restarts at the vector. Synchronous
// traps are checked against the reference, which records them as commits.
func (c *Core) TakeTrap(trap *emu.Trap, epc uint64) uint64 {
	if trap.IsInterrupt() {
		c.stats.Interrupts++
	} else {
		c.stats.Traps++
	}

	c.log.V(1).Info("exception", "core", c.id, "cause", trap.String(), "epc", epc)

	vec := c.hart.TakeTrap(trap, epc)
	if c.pipe != nil {
		c.pipe.Flush()
	}

	if !trap.IsInterrupt() && c.checking && c.checker != nil {
		c.checker.CheckInstruction(c.stats.Cycles, c.stats.Instructions, epc, 0, 0, false, c.hart.State())
	}

	return vec
}
