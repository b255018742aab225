package stats

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/timing/cache"
	"github.com/sarchlab/micros/timing/core"
)

// Table names written by the collector.
const (
	TableCores     = "core_stats"
	TablePhases    = "phase"
	TableHistogram = "pc_histogram"
	TableHooks     = "hook_counts"
)

// CoreRow is the final counter row of one core.
type CoreRow struct {
	Core           int
	Cycles         uint64
	Instructions   uint64
	CPI            float64
	Traps          uint64
	Interrupts     uint64
	Serializations uint64
	IdleBatches    uint64
	Fetched        uint64
	Squashed       uint64
	Mispredictions uint64
	BranchAccuracy float64
	ICacheMisses   uint64
	DCacheMisses   uint64
	L2Misses       uint64
	Checked        uint64
	Mismatches     uint64
}

// PhaseRow is the progress of one core over one phase.
type PhaseRow struct {
	Phase        uint64
	Core         int
	Commit       uint64
	Cycles       uint64
	Instructions uint64
	IPC          float64
}

// HistogramRow counts the commits of one PC.
type HistogramRow struct {
	PC    uint64
	Count uint64
}

// HookRow counts the invocations of one hook position.
type HookRow struct {
	Domain string
	Pos    string
	Count  uint64
}

// checkCounter is implemented by the lockstep checker.
type checkCounter interface {
	Checked() uint64
	Mismatches() uint64
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithRecorder writes the collected tables into r at close.
func WithRecorder(r *Recorder) CollectorOption {
	return func(c *Collector) {
		c.rec = r
	}
}

// WithSummaryOutput sets where the closing summary is printed.
func WithSummaryOutput(w io.Writer) CollectorOption {
	return func(c *Collector) {
		c.out = w
	}
}

// WithHistogram enables the PC histogram.
func WithHistogram(on bool) CollectorOption {
	return func(c *Collector) {
		c.histogram = on
	}
}

// WithPhaseInterval records a phase row per core every n commits. Zero
// disables phases.
func WithPhaseInterval(n uint64) CollectorOption {
	return func(c *Collector) {
		c.phaseInterval = n
	}
}

type snapshot struct {
	cycles       uint64
	instructions uint64
}

// Collector gathers per-core counters, phase rows, the PC histogram and
// hook counts over a run.
type Collector struct {
	out           io.Writer
	rec           *Recorder
	histogram     bool
	phaseInterval uint64

	cores   []*core.Core
	hooks   *HookCounter
	commits uint64
	pcs     map[uint64]uint64
	phases  []PhaseRow
	last    []snapshot

	closeOnce sync.Once
	closeErr  error
}

// NewCollector creates a collector.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		out:   os.Stderr,
		hooks: NewHookCounter(),
		pcs:   make(map[uint64]uint64),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Hooks returns the hook counter to register on hookable components.
func (c *Collector) Hooks() *HookCounter { return c.hooks }

// Attach sets the cores whose counters are collected.
func (c *Collector) Attach(cores []*core.Core) {
	c.cores = cores
	c.last = make([]snapshot, len(cores))
}

// OnCommit observes one retired instruction of any core.
func (c *Collector) OnCommit(_ int, commit *emu.Commit) {
	c.commits++

	if c.histogram {
		c.pcs[commit.PC]++
	}

	if c.phaseInterval > 0 && c.commits%c.phaseInterval == 0 {
		c.recordPhase()
	}
}

func (c *Collector) recordPhase() {
	phase := c.commits / c.phaseInterval

	for i, k := range c.cores {
		st := k.Stats()
		dc := st.Cycles - c.last[i].cycles
		di := st.Instructions - c.last[i].instructions

		row := PhaseRow{
			Phase:        phase,
			Core:         k.ID(),
			Commit:       c.commits,
			Cycles:       dc,
			Instructions: di,
		}
		if dc > 0 {
			row.IPC = float64(di) / float64(dc)
		}

		c.phases = append(c.phases, row)
		c.last[i] = snapshot{cycles: st.Cycles, instructions: st.Instructions}
	}
}

// Commits returns the number of commits observed.
func (c *Collector) Commits() uint64 { return c.commits }

// Phases returns the phase rows recorded so far.
func (c *Collector) Phases() []PhaseRow { return c.phases }

// Histogram returns the PC histogram sorted by PC.
func (c *Collector) Histogram() []HistogramRow {
	rows := make([]HistogramRow, 0, len(c.pcs))
	for pc, n := range c.pcs {
		rows = append(rows, HistogramRow{PC: pc, Count: n})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].PC < rows[j].PC })

	return rows
}

func cacheMisses(k *cache.Cache) uint64 {
	if k == nil {
		return 0
	}
	return k.Stats().Misses
}

// CoreRows returns the current counters of every attached core.
func (c *Collector) CoreRows() []CoreRow {
	rows := make([]CoreRow, 0, len(c.cores))

	for _, k := range c.cores {
		st := k.Stats()
		row := CoreRow{
			Core:           k.ID(),
			Cycles:         st.Cycles,
			Instructions:   st.Instructions,
			Traps:          st.Traps,
			Interrupts:     st.Interrupts,
			Serializations: st.Serializations,
			IdleBatches:    st.IdleBatches,
		}
		if st.Instructions > 0 {
			row.CPI = float64(st.Cycles) / float64(st.Instructions)
		}

		if p := k.Pipeline(); p != nil {
			ps := p.Stats()
			row.Fetched = ps.Fetched
			row.Squashed = ps.Squashed
			row.Mispredictions = ps.Mispredictions
			row.BranchAccuracy = p.PredictorStats().Accuracy()
		}

		icache, dcache, l2 := k.Caches()
		row.ICacheMisses = cacheMisses(icache)
		row.DCacheMisses = cacheMisses(dcache)
		row.L2Misses = cacheMisses(l2)

		if ch, ok := k.Checker().(checkCounter); ok {
			row.Checked = ch.Checked()
			row.Mismatches = ch.Mismatches()
		}

		rows = append(rows, row)
	}

	return rows
}

// Summarize prints the counters and, when enabled, the PC histogram.
func (c *Collector) Summarize(w io.Writer) {
	for _, row := range c.CoreRows() {
		fmt.Fprintf(w, "core %3d: %d instructions, %d cycles, CPI %.3f\n",
			row.Core, row.Instructions, row.Cycles, row.CPI)
		fmt.Fprintf(w, "core %3d: %d traps, %d interrupts, %d serializations\n",
			row.Core, row.Traps, row.Interrupts, row.Serializations)
		if row.Fetched > 0 {
			fmt.Fprintf(w, "core %3d: %d fetched, %d squashed, %d mispredictions, branch accuracy %.2f%%\n",
				row.Core, row.Fetched, row.Squashed, row.Mispredictions, row.BranchAccuracy)
			fmt.Fprintf(w, "core %3d: misses L1I %d, L1D %d, L2 %d\n",
				row.Core, row.ICacheMisses, row.DCacheMisses, row.L2Misses)
		}
		if row.Checked > 0 {
			fmt.Fprintf(w, "core %3d: %d checked, %d mismatches\n",
				row.Core, row.Checked, row.Mismatches)
		}
	}

	if c.histogram {
		fmt.Fprintf(w, "PC Histogram size:%d\n", len(c.pcs))
		for _, row := range c.Histogram() {
			fmt.Fprintf(w, "%x %d\n", row.PC, row.Count)
		}
	}
}

func (c *Collector) record() error {
	tables := []struct {
		name   string
		sample any
	}{
		{TableCores, CoreRow{}},
		{TablePhases, PhaseRow{}},
		{TableHistogram, HistogramRow{}},
		{TableHooks, HookRow{}},
	}
	for _, t := range tables {
		if err := c.rec.CreateTable(t.name, t.sample); err != nil {
			return err
		}
	}

	var errs []error
	for _, row := range c.CoreRows() {
		errs = append(errs, c.rec.Insert(TableCores, row))
	}
	for _, row := range c.phases {
		errs = append(errs, c.rec.Insert(TablePhases, row))
	}
	for _, row := range c.Histogram() {
		errs = append(errs, c.rec.Insert(TableHistogram, row))
	}
	for _, k := range c.hooks.Keys() {
		errs = append(errs, c.rec.Insert(TableHooks, HookRow{
			Domain: k.Domain,
			Pos:    k.Pos,
			Count:  c.hooks.Count(k.Domain, k.Pos),
		}))
	}

	return errors.Join(errs...)
}

// Close prints the summary and writes the tables to the recorder. Only the
// first call has any effect.
func (c *Collector) Close() error {
	c.closeOnce.Do(func() {
		c.Summarize(c.out)

		if c.rec == nil {
			return
		}

		c.closeErr = errors.Join(c.record(), c.rec.Close())
	})

	return c.closeErr
}
