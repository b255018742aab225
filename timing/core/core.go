// Package core provides the processor core driver. It steps one hart in
// bounded batches, either functionally or through the pipeline timing model,
// and owns the timer and the trap entry sequence.
package core

import (
	"io"
	"math"
	"os"

	"github.com/go-logr/logr"

	"github.com/sarchlab/micros/config"
	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/timing/cache"
	"github.com/sarchlab/micros/timing/latency"
	"github.com/sarchlab/micros/timing/pipeline"
)

// Stats holds performance statistics for the core.
type Stats struct {
	// Cycles is the number of cycles simulated. In functional mode every
	// instruction takes one cycle.
	Cycles uint64
	// Instructions is the number of instructions retired.
	Instructions uint64
	// IdleBatches is the number of batches that retired nothing.
	IdleBatches uint64
	// Traps is the number of synchronous traps taken.
	Traps uint64
	// Interrupts is the number of interrupts taken.
	Interrupts uint64
	// Serializations is the number of batches cut short by a serializing
	// instruction.
	Serializations uint64
}

// CommitObserver is told about every retired instruction.
type CommitObserver func(core int, c *emu.Commit)

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the trace logger.
func WithLogger(log logr.Logger) Option {
	return func(c *Core) {
		c.log = log
	}
}

// WithOutput sets where debug traces and progress lines are written.
func WithOutput(w io.Writer) Option {
	return func(c *Core) {
		c.out = w
	}
}

// WithChecker attaches a lockstep checker. It is consulted only while
// checking is enabled.
func WithChecker(checker pipeline.Checker) Option {
	return func(c *Core) {
		c.checker = checker
		c.checking = checker != nil
	}
}

// WithCommitObserver registers f for every retired instruction.
func WithCommitObserver(f CommitObserver) Option {
	return func(c *Core) {
		c.observe = f
	}
}

// WithPipelineOptions passes extra options to the pipeline.
func WithPipelineOptions(opts ...pipeline.Option) Option {
	return func(c *Core) {
		c.pipeOpts = append(c.pipeOpts, opts...)
	}
}

// Core drives one hart.
type Core struct {
	id   int
	hart *emu.Hart
	pipe *pipeline.Pipeline

	pipeOpts []pipeline.Option
	icache   *cache.Cache
	dcache   *cache.Cache
	l2       *cache.Cache

	debug    bool
	checker  pipeline.Checker
	checking bool
	observe  CommitObserver

	log              logr.Logger
	out              io.Writer
	progressInterval uint64

	stats Stats
}

// New creates the driver for hart. In pipelined mode it builds the cache
// hierarchy and the pipeline from cfg.
func New(id int, hart *emu.Hart, cfg config.Config, opts ...Option) *Core {
	c := &Core{
		id:               id,
		hart:             hart,
		debug:            cfg.Debug,
		log:              logr.Discard(),
		out:              os.Stderr,
		progressInterval: cfg.ProgressInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.progressInterval == 0 {
		c.progressInterval = math.MaxUint64
	}

	if cfg.Mode == config.ModePipelined {
		c.buildPipeline(cfg)
	}

	return c
}

func cacheConfig(name string, g config.CacheGeometry) cache.Config {
	return cache.Config{
		Name:        name,
		Sets:        g.Sets,
		Ways:        g.Ways,
		BlockSize:   g.BlockSize(),
		HitLatency:  g.HitLatency,
		MissLatency: g.MissLatency,
	}
}

// PipelineConfig converts the core section of cfg into a pipeline
// configuration.
func PipelineConfig(cfg config.Config) pipeline.Config {
	cc := cfg.Core
	return pipeline.Config{
		FetchWidth:     cc.FetchWidth,
		DispatchWidth:  cc.DispatchWidth,
		IssueWidth:     cc.IssueWidth,
		RetireWidth:    cc.RetireWidth,
		FetchQueueSize: cc.FetchQueueSize,
		ActiveListSize: cc.ActiveListSize,
		LQSize:         cc.LQSize,
		SQSize:         cc.SQSize,
		NumCheckpoints: cc.NumCheckpoints,
		PayloadEntries: cfg.PayloadEntries,
		LaneMatrix:     cc.LaneMatrix,
		Predictor: pipeline.BranchPredictorConfig{
			BHTSize: uint32(cc.BPTableSize),
			BTBSize: uint32(cc.BTBSize),
			RASSize: uint32(cc.RASSize),
		},
	}
}

func (c *Core) buildPipeline(cfg config.Config) {
	mem := c.hart.MMU().Memory()
	cc := cfg.Core

	var next cache.Level
	if cc.L2Present {
		c.l2 = cache.New(cacheConfig("L2", cc.L2), cache.NewMemoryBacking(mem, cc.L2.MissLatency))
		next = c.l2
	}

	lower := func(g config.CacheGeometry) cache.Level {
		if next != nil {
			return next
		}
		return cache.NewMemoryBacking(mem, g.MissLatency)
	}

	c.icache = cache.New(cacheConfig("L1I", cc.ICache), lower(cc.ICache))
	c.dcache = cache.New(cacheConfig("L1D", cc.DCache), lower(cc.DCache))

	timing := cc.Latency
	if timing == nil {
		timing = latency.DefaultTimingConfig()
	}

	opts := []pipeline.Option{
		pipeline.WithLatencyTable(latency.NewTableWithConfig(timing)),
		pipeline.WithICache(c.icache),
		pipeline.WithDCache(c.dcache),
		pipeline.WithChecker(checkerGate{c}),
		pipeline.WithRetireHook(c.retired),
	}
	opts = append(opts, c.pipeOpts...)

	c.pipe = pipeline.New(c.hart, PipelineConfig(cfg), opts...)
}

// checkerGate forwards to the core's checker while checking is enabled.
type checkerGate struct{ c *Core }

func (g checkerGate) CheckInstruction(
	cycle, commit, pc, destID, destValue uint64, fission bool, state *emu.ArchState,
) bool {
	if !g.c.checking || g.c.checker == nil {
		return true
	}
	return g.c.checker.CheckInstruction(cycle, commit, pc, destID, destValue, fission, state)
}

// ID returns the core id.
func (c *Core) ID() int { return c.id }

// Hart returns the hart the core drives.
func (c *Core) Hart() *emu.Hart { return c.hart }

// Pipeline returns the timing model, or nil in functional mode.
func (c *Core) Pipeline() *pipeline.Pipeline { return c.pipe }

// Caches returns the L1 instruction, L1 data and L2 caches. They are nil in
// functional mode; L2 is nil when absent.
func (c *Core) Caches() (icache, dcache, l2 *cache.Cache) {
	return c.icache, c.dcache, c.l2
}

// Stats returns the core statistics.
func (c *Core) Stats() Stats { return c.stats }

// Debug reports whether the core single-steps with a trace.
func (c *Core) Debug() bool { return c.debug }

// SetDebug switches single-step tracing.
func (c *Core) SetDebug(on bool) { c.debug = on }

// Checking reports whether retired instructions are checked.
func (c *Core) Checking() bool { return c.checking }

// SetChecking switches lockstep checking. It has no effect without a checker.
func (c *Core) SetChecking(on bool) { c.checking = on && c.checker != nil }

// Checker returns the lockstep checker, or nil.
func (c *Core) Checker() pipeline.Checker { return c.checker }

// SetChecker replaces the lockstep checker and enables checking when it is
// not nil.
func (c *Core) SetChecker(checker pipeline.Checker) {
	c.checker = checker
	c.checking = checker != nil
}

// Redirect discards in-flight work and restarts fetch at the hart's PC. It
// is called after the hart's state was replaced from outside.
func (c *Core) Redirect() {
	if c.pipe != nil {
		c.pipe.Flush()
	}
}

// YieldLoadReservation drops the hart's load reservation.
func (c *Core) YieldLoadReservation() {
	c.hart.MMU().YieldLoadReservation()
}

// SendIPI raises the inter-processor interrupt line.
func (c *Core) SendIPI() {
	c.hart.DeliverIPI()
}
