package emu

import "fmt"

// StateDiff is one architectural field that differs between two states.
type StateDiff struct {
	Field string
	Live  uint64
	Ref   uint64
}

func (d StateDiff) String() string {
	return fmt.Sprintf("%s: 0x%x != 0x%x", d.Field, d.Live, d.Ref)
}

// CompareControlState compares the privileged control state of live against
// ref and returns every differing field. Register files are not compared;
// their values are checked one commit at a time. Pending-interrupt bits and
// the host mailbox are excluded because each simulator's host channel
// services them on its own schedule.
func CompareControlState(live, ref *ArchState) []StateDiff {
	fields := []struct {
		name      string
		live, ref uint64
	}{
		{"sr", uint64(live.SR &^ SRIP), uint64(ref.SR &^ SRIP)},
		{"epc", live.EPC, ref.EPC},
		{"cause", live.Cause, ref.Cause},
		{"badvaddr", live.BadVAddr, ref.BadVAddr},
		{"evec", live.EVec, ref.EVec},
		{"ptbr", live.PTBR, ref.PTBR},
		{"compare", uint64(live.Compare), uint64(ref.Compare)},
		{"k0", live.PCRK0, ref.PCRK0},
		{"k1", live.PCRK1, ref.PCRK1},
	}

	var diffs []StateDiff
	for _, f := range fields {
		if f.live != f.ref {
			diffs = append(diffs, StateDiff{Field: f.name, Live: f.live, Ref: f.ref})
		}
	}
	return diffs
}
