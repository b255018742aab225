package oracle

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"

	"github.com/sarchlab/micros/emu"
)

// Checker compares the commits of a timing core with the reference records.
// A mismatch is reported and counted but never stops the simulation.
type Checker struct {
	buf *Buffer
	ref Reference
	out io.Writer
	log logr.Logger

	archPC     uint64
	checked    uint64
	mismatches uint64
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithOutput sets where mismatch diagnostics are written. It defaults to
// stderr.
func WithOutput(w io.Writer) CheckerOption {
	return func(c *Checker) {
		c.out = w
	}
}

// WithLogger sets the trace logger.
func WithLogger(log logr.Logger) CheckerOption {
	return func(c *Checker) {
		c.log = log
	}
}

// NewChecker creates a checker that expects the first commit at startPC. The
// buffer is filled from ref before returning.
func NewChecker(buf *Buffer, ref Reference, startPC uint64, opts ...CheckerOption) *Checker {
	c := &Checker{
		buf:    buf,
		ref:    ref,
		out:    os.Stderr,
		log:    logr.Discard(),
		archPC: startPC,
	}
	for _, opt := range opts {
		opt(c)
	}

	buf.RunAhead(ref)

	return c
}

// Buffer returns the record buffer.
func (c *Checker) Buffer() *Buffer { return c.buf }

// Mismatches returns the number of failed checks.
func (c *Checker) Mismatches() uint64 { return c.mismatches }

// Checked returns the number of compared commits.
func (c *Checker) Checked() uint64 { return c.checked }

// ArchPC returns the PC the next compared commit is expected at.
func (c *Checker) ArchPC() uint64 { return c.archPC }

// CheckInstruction compares one commit of the timing core. When fission is
// set the commit is one piece of a split instruction and is not compared.
// state is the timing core's state after the commit.
func (c *Checker) CheckInstruction(
	cycle, commit, pc uint64,
	destID, destValue uint64,
	fission bool,
	state *emu.ArchState,
) bool {
	c.log.Info("checking instruction", "cycle", cycle, "commit", commit, "pc", pc)

	if fission {
		return true
	}

	c.checked++

	rec, err := c.next()
	if err != nil {
		fmt.Fprintf(c.out, "*ER NO RECORD!!\n CYCLE: %d  V_PC=0x%016x  ARCH_PC=0x%016x: %v\n",
			cycle, pc, c.archPC, err)
		c.mismatches++
		return false
	}
	c.archPC = rec.NextPC

	passed := c.compare(cycle, pc, destID, destValue, rec)
	if !passed {
		c.buf.Dump(rec, c.out)
	}

	if state != nil {
		diffs := emu.CompareControlState(state, &rec.State)
		for _, d := range diffs {
			fmt.Fprintf(c.out, "*ER STATE MISMATCH!!\n CYCLE: %d  V_PC=0x%016x  %s\n",
				cycle, pc, d)
		}
		if len(diffs) > 0 {
			if passed {
				c.mismatches++
			}
			passed = false
		}
	}

	return passed
}

func (c *Checker) next() (Record, error) {
	seq, err := c.buf.First(c.archPC)
	if errors.Is(err, ErrNoRecord) && c.buf.RunAhead(c.ref) > 0 {
		seq, err = c.buf.First(c.archPC)
	}
	if err != nil {
		return Record{}, err
	}

	rec, err := c.buf.Pop(seq)
	if err != nil {
		return Record{}, err
	}

	if c.buf.CanPush() {
		if r, ok := c.ref.Advance(); ok {
			if _, err := c.buf.Push(r); err != nil {
				return Record{}, err
			}
		}
	}

	return rec, nil
}

func (c *Checker) compare(cycle, pc, destID, destValue uint64, rec Record) bool {
	switch {
	case pc != rec.PC:
		fmt.Fprintf(c.out, "*ER PC MISMATCH!!\n CYCLE: %d  V_PC=0x%016x  FS_PC=0x%016x\n",
			cycle, pc, rec.PC)
	case !rec.HasDest:
		return true
	case destID != rec.DestID:
		fmt.Fprintf(c.out, "*ER RDST MISMATCH!!\n CYCLE: %d  V_PC=0x%016x V_RDST=%2d V_RDST_VALUE=0x%016x"+
			"  FS_PC=0x%016x FS_RDST=%2d FS_RDST_VALUE=0x%016x\n",
			cycle, pc, destID, destValue, rec.PC, rec.DestID, rec.DestValue)
	case destValue != rec.DestValue:
		fmt.Fprintf(c.out, "*ER RDST_VALUE MISMATCH!!\n CYCLE: %d  V_PC=0x%016x V_RDST=%2d V_RDST_VALUE=0x%016x"+
			"  FS_PC=0x%016x FS_RDST=%2d FS_RDST_VALUE=0x%016x FS_ADDR=0x%016x FS_LD_DATA=0x%016x\n",
			cycle, pc, destID, destValue, rec.PC, rec.DestID, rec.DestValue, rec.Addr, rec.Data)
	default:
		return true
	}

	c.mismatches++
	return false
}
