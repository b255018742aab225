// Package pipeline provides the timing model of a core: an in-order,
// width-configurable pipeline that fetches along the predicted path, issues
// through the lane matrix and retires in program order. Instructions execute
// functionally on the hart when they issue; the model adds the timing.
package pipeline

import (
	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/insts"
	"github.com/sarchlab/micros/timing/cache"
	"github.com/sarchlab/micros/timing/latency"
	"github.com/sarchlab/micros/timing/payload"
)

// Config holds the sizes and widths of the pipeline.
type Config struct {
	FetchWidth    int
	DispatchWidth int
	IssueWidth    int
	RetireWidth   int

	FetchQueueSize int
	ActiveListSize int
	LQSize         int
	SQSize         int
	// NumCheckpoints bounds the number of unresolved control instructions
	// in flight.
	NumCheckpoints int

	// PayloadEntries is the capacity of the payload store.
	PayloadEntries int

	LaneMatrix [insts.NumFUTypes]uint32

	Predictor BranchPredictorConfig
}

// DefaultConfig returns the stock eight-wide configuration.
func DefaultConfig() Config {
	return Config{
		FetchWidth:     8,
		DispatchWidth:  8,
		IssueWidth:     8,
		RetireWidth:    8,
		FetchQueueSize: 32,
		ActiveListSize: 256,
		LQSize:         32,
		SQSize:         32,
		NumCheckpoints: 32,
		PayloadEntries: 1024,
		LaneMatrix:     [insts.NumFUTypes]uint32{0x02, 0x11, 0x0e, 0x02, 0x11, 0x06, 0x02},
		Predictor:      DefaultBranchPredictorConfig(),
	}
}

// Checker is notified of every retired instruction.
type Checker interface {
	CheckInstruction(cycle, commit, pc, destID, destValue uint64, fission bool, state *emu.ArchState) bool
}

// CycleResult is the outcome of one cycle.
type CycleResult struct {
	// Retired is the number of instructions retired this cycle.
	Retired int
	// Trap is set when the oldest instruction raised a trap. It has not
	// retired; the caller takes the trap and flushes the pipeline.
	Trap   *emu.Trap
	TrapPC uint64
	// Serialize is set when a retired instruction changed state that the
	// caller caches, such as the timer registers.
	Serialize bool
}

// Statistics holds pipeline performance statistics.
type Statistics struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64
	// Instructions is the number of instructions retired.
	Instructions uint64
	// Fetched is the number of instructions fetched, including squashed ones.
	Fetched uint64
	// Squashed is the number of fetched instructions discarded.
	Squashed uint64
	// FetchStalls is the number of cycles fetch waited on the I-cache or a
	// misprediction penalty.
	FetchStalls uint64
	// DataHazards is the number of cycles issue waited on an operand.
	DataHazards uint64
	// StructuralStalls is the number of cycles issue waited on a lane or a
	// queue.
	StructuralStalls uint64
	// Flushes is the number of full pipeline flushes.
	Flushes uint64
	// Mispredictions is the number of fetch redirects at issue.
	Mispredictions uint64
}

// CPI returns the cycles per instruction.
func (s Statistics) CPI() float64 {
	if s.Instructions == 0 {
		return 0
	}
	return float64(s.Cycles) / float64(s.Instructions)
}

// Option is a functional option for configuring the Pipeline.
type Option func(*Pipeline)

// WithLatencyTable sets the latency table for instruction timing.
func WithLatencyTable(table *latency.Table) Option {
	return func(p *Pipeline) {
		p.latencyTable = table
	}
}

// WithICache makes fetch pay the latency of the given cache level.
func WithICache(l cache.Level) Option {
	return func(p *Pipeline) {
		p.icache = l
	}
}

// WithDCache makes memory instructions pay the latency of the given cache
// level.
func WithDCache(l cache.Level) Option {
	return func(p *Pipeline) {
		p.dcache = l
	}
}

// WithChecker compares every retired instruction against a reference.
func WithChecker(c Checker) Option {
	return func(p *Pipeline) {
		p.checker = c
	}
}

// WithRetireHook calls f for every retired instruction.
func WithRetireHook(f func(c *emu.Commit)) Option {
	return func(p *Pipeline) {
		p.onRetire = f
	}
}

// WithPayloadStore replaces the payload store. Its capacity overrides
// Config.PayloadEntries.
func WithPayloadStore(s *payload.Store) Option {
	return func(p *Pipeline) {
		p.store = s
	}
}

// Pipeline models the timing of one core.
type Pipeline struct {
	hart   *emu.Hart
	config Config

	store    *payload.Store
	commits  []emu.Commit
	traps    []*emu.Trap
	inflight []int // slot indices in program order
	issued   int   // leading entries of inflight that have issued

	loads, stores, branches int

	latencyTable *latency.Table
	icache       cache.Level
	dcache       cache.Level
	predictor    *BranchPredictor
	lanes        laneAllocator
	scoreboard   scoreboard

	checker  Checker
	onRetire func(c *emu.Commit)

	cycle      uint64
	seq        uint64
	fetchPC    uint64
	fetchAfter uint64

	// fetchBlocked is set once a faulting fetch is queued; issueBlocked
	// once a trapping instruction has issued. Both clear on Flush.
	fetchBlocked bool
	issueBlocked bool
	draining     bool

	stats Statistics
}

// New creates a pipeline driving hart. Fetch starts at the hart's PC.
func New(hart *emu.Hart, config Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		hart:   hart,
		config: config,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.store == nil {
		p.store = payload.NewStore(config.PayloadEntries)
	}
	if p.latencyTable == nil {
		p.latencyTable = latency.NewTable()
	}

	p.commits = make([]emu.Commit, p.store.Capacity())
	p.traps = make([]*emu.Trap, p.store.Capacity())
	p.inflight = make([]int, 0, p.store.Capacity())
	p.predictor = NewBranchPredictor(config.Predictor)
	p.lanes = newLaneAllocator(config.LaneMatrix, config.IssueWidth)

	p.reset()

	return p
}

// Cycle advances the pipeline by one cycle, retiring at most maxRetire
// instructions. Stages are evaluated back to front.
func (p *Pipeline) Cycle(maxRetire int) CycleResult {
	p.cycle++
	p.stats.Cycles++

	res := p.retire(maxRetire)
	if res.Trap != nil {
		return res
	}

	p.issue()
	p.fetch()

	return res
}

// Flush discards every in-flight instruction and restarts fetch at the
// hart's PC. Call it after the hart's PC changed outside the pipeline.
func (p *Pipeline) Flush() {
	p.stats.Squashed += uint64(len(p.inflight) - p.issued)
	p.stats.Flushes++
	p.reset()
}

func (p *Pipeline) reset() {
	p.store.Clear()
	p.inflight = p.inflight[:0]
	p.issued = 0
	p.loads, p.stores, p.branches = 0, 0, 0
	p.scoreboard.reset()
	p.fetchPC = p.hart.State().PC
	p.fetchAfter = 0
	p.fetchBlocked = false
	p.issueBlocked = false
	p.draining = false
}

// Drain stops fetch and issue and discards the instructions that have not
// issued. Issued instructions keep retiring. Drain lets the caller reach a
// point where the hart's state equals the retired state.
func (p *Pipeline) Drain() {
	p.squash(p.issued)
	p.draining = true
}

// Empty reports whether no instruction is in flight.
func (p *Pipeline) Empty() bool {
	return len(p.inflight) == 0
}

// InFlight returns the number of issued instructions that have not retired.
func (p *Pipeline) InFlight() int {
	return p.issued
}

// Now returns the current cycle.
func (p *Pipeline) Now() uint64 {
	return p.cycle
}

// FetchPC returns the address fetch reads next.
func (p *Pipeline) FetchPC() uint64 {
	return p.fetchPC
}

// Store returns the payload store.
func (p *Pipeline) Store() *payload.Store {
	return p.store
}

// Stats returns the pipeline statistics.
func (p *Pipeline) Stats() Statistics {
	return p.stats
}

// PredictorStats returns the branch predictor statistics.
func (p *Pipeline) PredictorStats() BranchPredictorStats {
	return p.predictor.Stats()
}

// squash rolls back the in-flight entries from position k on.
func (p *Pipeline) squash(k int) {
	if k >= len(p.inflight) {
		return
	}

	if err := p.store.Rollback(p.inflight[k]); err != nil {
		panic(err)
	}

	p.stats.Squashed += uint64(len(p.inflight) - k)
	p.inflight = p.inflight[:k]
}
