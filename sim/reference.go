package sim

import (
	"fmt"
	"io"

	"github.com/sarchlab/micros/config"
	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/htif"
	"github.com/sarchlab/micros/oracle"
	"github.com/sarchlab/micros/timing/core"
)

// Reference is a functional copy of one hart that runs ahead of the timing
// core and produces the records the checker compares against. It owns a
// private copy of target memory and a host that never writes host files, so
// running ahead has no visible effect.
//
// The reference ticks its host once per quantum of its own commits, the
// same cadence the engine gives a single core. Interrupts are not modelled
// in lockstep: a run that takes timer or IPI interrupts will drift.
type Reference struct {
	core    *core.Core
	host    *htif.Host
	quantum uint64

	commit  emu.Commit
	retired uint64
}

// NewReference builds a reference that continues from the current state of
// live.
func NewReference(live *emu.Hart, cfg config.Config, opts ...emu.HartOption) (*Reference, error) {
	src := live.MMU().Memory()
	mem, err := emu.NewMemory(src.Size(), emu.WithWarningWriter(io.Discard))
	if err != nil {
		return nil, fmt.Errorf("reference memory: %w", err)
	}
	if mem.Size() != src.Size() {
		return nil, fmt.Errorf("reference memory: got %d bytes, need %d", mem.Size(), src.Size())
	}
	copy(mem.Bytes(), src.Bytes())

	hart := emu.NewHart(live.ID(), mem, opts...)
	*hart.State() = *live.State()

	cfg.Mode = config.ModeFunctional
	cfg.Debug = false
	cfg.ProgressInterval = 0

	r := &Reference{
		host:    htif.NewHost(mem, htif.WithStdio(nil, io.Discard, io.Discard), htif.WithDiscardedWrites()),
		quantum: cfg.Quantum,
	}
	r.host.Attach(hart)
	r.core = core.New(live.ID(), hart, cfg, core.WithCommitObserver(r.observe))

	return r, nil
}

func (r *Reference) observe(_ int, c *emu.Commit) {
	r.commit = *c
}

// Hart returns the reference hart.
func (r *Reference) Hart() *emu.Hart {
	return r.core.Hart()
}

// Advance commits one reference instruction. A trap is reported as a record
// at the trapping PC. It returns false once the reference target has exited.
func (r *Reference) Advance() (oracle.Record, bool) {
	if r.host.Done() {
		return oracle.Record{}, false
	}

	state := r.core.Hart().State()
	if r.core.Step(1) == 0 {
		trap := &emu.Trap{Cause: state.Cause}
		return oracle.NewRecord(emu.Commit{PC: state.EPC}, trap, state), true
	}

	rec := oracle.NewRecord(r.commit, nil, state)

	r.retired++
	if r.quantum > 0 && r.retired%r.quantum == 0 {
		r.host.Tick()
	}

	return rec, true
}

// Close releases the files the reference host opened.
func (r *Reference) Close() {
	r.host.Files().CloseAll()
}

// EnableChecker starts lockstep checking of every core against a fresh
// reference built from the current state.
func (s *Simulator) EnableChecker() error {
	s.runLock.Lock()
	defer s.runLock.Unlock()

	return s.enableChecker()
}

func (s *Simulator) enableChecker() error {
	for _, r := range s.refs {
		r.Close()
	}
	s.refs = s.refs[:0]

	for _, c := range s.cores {
		c.Quiesce()

		var opts []emu.HartOption
		if s.accel != nil {
			opts = append(opts, emu.WithAccelerator(s.accel()))
		}

		ref, err := NewReference(c.Hart(), s.cfg, opts...)
		if err != nil {
			return err
		}
		s.refs = append(s.refs, ref)

		buf := oracle.NewBuffer(s.cfg.PipeQueueSize)
		for _, h := range s.hooks {
			buf.AcceptHook(h)
		}

		checker := oracle.NewChecker(
			buf,
			ref,
			c.Hart().State().PC,
			oracle.WithOutput(s.out),
			oracle.WithLogger(s.log.WithName("checker").V(1)),
		)
		c.SetChecker(checker)
	}

	return nil
}

// Checkers returns the lockstep checker of every core, or nil when checking
// was never enabled.
func (s *Simulator) Checkers() []*oracle.Checker {
	if len(s.refs) == 0 {
		return nil
	}

	out := make([]*oracle.Checker, 0, len(s.cores))
	for _, c := range s.cores {
		if ch, ok := c.Checker().(*oracle.Checker); ok {
			out = append(out, ch)
		}
	}
	return out
}
