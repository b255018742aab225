package payload

import (
	"fmt"
	"io"
)

// Dump renders the full state of slot index.
func (s *Store) Dump(index int, w io.Writer) {
	p := &s.slots[index]

	fmt.Fprintf(w, "PAYLOAD[%d] live=%v head=%d tail=%d len=%d\n",
		index, s.IsLive(index&^1), s.head, s.tail, s.length)
	fmt.Fprintf(w, "  seq=%d pc=0x%x next_pc=0x%x inst=0x%08x (%s) fu=%s lane=%d\n",
		p.Seq, p.PC, p.NextPC, p.Inst.Raw, p.Inst.Op, p.FU, p.LaneID)
	fmt.Fprintf(w, "  good=%v fetch_exc=%v cause=%d db_index=%d split=%v upper=%v split_store=%v\n",
		p.GoodInstruction, p.FetchException, p.FetchCause, p.DBIndex,
		p.Split, p.Upper, p.SplitStore)

	for _, op := range []struct {
		name string
		o    Operand
		v    uint64
	}{
		{"A", p.A, p.AValue},
		{"B", p.B, p.BValue},
		{"C", p.C, p.CValue},
		{"D", p.D, p.DValue},
	} {
		if !op.o.Valid {
			continue
		}
		kind := "f"
		if op.o.Int {
			kind = "x"
		}
		fmt.Fprintf(w, "  %s: %s%d -> p%d = 0x%x\n",
			op.name, kind, op.o.LogReg, op.o.PhysReg, op.v)
	}

	fmt.Fprintf(w, "  al=%d lq=%d/%v sq=%d/%v addr=0x%x c_next_pc=0x%x ready=%d\n",
		p.ALIndex, p.LQIndex, p.LQPhase, p.SQIndex, p.SQPhase,
		p.Addr, p.CNextPC, p.ReadyCycle)
	if p.CSRAddr != 0 {
		fmt.Fprintf(w, "  csr=0x%x old=0x%x new=0x%x\n", p.CSRAddr, p.CSROld, p.CSRNew)
	}
}
