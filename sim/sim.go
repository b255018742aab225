// Package sim provides the simulation engine. It owns the target memory, the
// processor cores and the host channel, and steps the cores in round-robin
// quanta.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	akitasim "github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/micros/checkpoint"
	"github.com/sarchlab/micros/config"
	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/extension"
	"github.com/sarchlab/micros/htif"
	"github.com/sarchlab/micros/loader"
	"github.com/sarchlab/micros/simlog"
	"github.com/sarchlab/micros/timing/core"
)

// ErrDeadlock is returned when no core retires an instruction for the
// configured number of consecutive quanta.
var ErrDeadlock = errors.New("simulation deadlock: no instruction retired")

// Option configures a Simulator.
type Option func(*Simulator)

// WithOutput sets where diagnostics, traces and progress lines go.
func WithOutput(w io.Writer) Option {
	return func(s *Simulator) {
		s.out = w
	}
}

// WithLogGate sets the gate of the trace logger.
func WithLogGate(g *simlog.Gate) Option {
	return func(s *Simulator) {
		s.gate = g
	}
}

// WithLogger replaces the gated trace logger.
func WithLogger(log logr.Logger) Option {
	return func(s *Simulator) {
		s.log = log
		s.logSet = true
	}
}

// WithChannel replaces the host channel. The default is an htif.Host with
// every hart attached.
func WithChannel(ch htif.Channel) Option {
	return func(s *Simulator) {
		s.channel = ch
	}
}

// WithHostOptions passes options to the default host channel.
func WithHostOptions(opts ...htif.Option) Option {
	return func(s *Simulator) {
		s.hostOpts = append(s.hostOpts, opts...)
	}
}

// WithMemoryOptions passes options to the target memory allocation.
func WithMemoryOptions(opts ...emu.MemoryOption) Option {
	return func(s *Simulator) {
		s.memOpts = append(s.memOpts, opts...)
	}
}

// WithCommitObserver registers f for every retired instruction of every
// core.
func WithCommitObserver(f core.CommitObserver) Option {
	return func(s *Simulator) {
		s.observers = append(s.observers, f)
	}
}

// WithHook registers h on the payload store of every pipelined core and on
// every oracle buffer.
func WithHook(h akitasim.Hook) Option {
	return func(s *Simulator) {
		s.hooks = append(s.hooks, h)
	}
}

// WithCloser registers f to run once when the simulator closes.
func WithCloser(f func() error) Option {
	return func(s *Simulator) {
		s.closers = append(s.closers, f)
	}
}

// Simulator is the top-level simulation engine.
type Simulator struct {
	cfg     config.Config
	mem     *emu.Memory
	cores   []*core.Core
	host    *htif.Host
	channel htif.Channel
	lib     *extension.Library
	accel   extension.Factory

	out       io.Writer
	log       logr.Logger
	logSet    bool
	gate      *simlog.Gate
	hostOpts  []htif.Option
	memOpts   []emu.MemoryOption
	observers []core.CommitObserver
	hooks     []akitasim.Hook
	closers   []func() error

	current     int
	currentStep uint64
	idleCalls   uint64
	idleQuanta  uint64
	commits     uint64

	checkpointBase string
	compression    checkpoint.Compression

	refs []*Reference

	runLock     sync.Mutex
	closeOnce   sync.Once
	closeErr    error
	interrupted atomic.Bool
}

// New builds a simulator for cfg: it allocates target memory, creates one
// hart and core driver per configured core and attaches them to the host
// channel.
func New(cfg config.Config, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	compression, err := checkpoint.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	s := &Simulator{
		cfg:         cfg,
		out:         os.Stderr,
		compression: compression,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.gate == nil {
		s.gate = simlog.NewGate(cfg.LoggingOnAt)
	}
	if !s.logSet {
		s.log = simlog.New(s.out, s.gate)
	}

	memOpts := append([]emu.MemoryOption{emu.WithWarningWriter(s.out)}, s.memOpts...)
	s.mem, err = emu.NewMemory(cfg.MemorySize(), memOpts...)
	if err != nil {
		return nil, err
	}

	if err := s.loadExtension(); err != nil {
		return nil, err
	}

	for i := 0; i < cfg.NumCores; i++ {
		hart := emu.NewHart(i, s.mem, s.hartOptions()...)
		c := core.New(i, hart, cfg,
			core.WithLogger(s.log.WithValues("core", i)),
			core.WithOutput(s.out),
			core.WithCommitObserver(s.retired),
		)
		s.cores = append(s.cores, c)

		if p := c.Pipeline(); p != nil {
			for _, h := range s.hooks {
				p.Store().AcceptHook(h)
			}
		}
	}

	if s.channel == nil {
		hostOpts := append([]htif.Option{htif.WithLogger(s.log.WithName("htif"))}, s.hostOpts...)
		s.host = htif.NewHost(s.mem, hostOpts...)
		for _, c := range s.cores {
			s.host.Attach(c.Hart())
		}
		s.channel = s.host
	}

	return s, nil
}

func (s *Simulator) loadExtension() error {
	if s.cfg.ExtLib != "" {
		lib, err := extension.LoadLibrary(s.cfg.ExtLib)
		if err != nil {
			return err
		}
		s.lib = lib
	}

	if s.cfg.Extension == "" {
		return nil
	}

	f, err := extension.Find(s.cfg.Extension)
	if err != nil {
		return err
	}
	s.accel = f

	return nil
}

func (s *Simulator) hartOptions() []emu.HartOption {
	opts := []emu.HartOption{emu.WithIPISender(s.SendIPI)}
	if s.accel != nil {
		opts = append(opts, emu.WithAccelerator(s.accel()))
	}
	return opts
}

func (s *Simulator) retired(id int, c *emu.Commit) {
	s.commits++
	s.gate.Observe(s.commits)
	for _, f := range s.observers {
		f(id, c)
	}
}

// Config returns the configuration the simulator was built with.
func (s *Simulator) Config() config.Config { return s.cfg }

// Memory returns the target memory.
func (s *Simulator) Memory() *emu.Memory { return s.mem }

// Cores returns the core drivers in id order.
func (s *Simulator) Cores() []*core.Core { return s.cores }

// Host returns the default host channel, or nil when it was replaced.
func (s *Simulator) Host() *htif.Host { return s.host }

// Channel returns the host channel.
func (s *Simulator) Channel() htif.Channel { return s.channel }

// LogGate returns the gate of the trace logger.
func (s *Simulator) LogGate() *simlog.Gate { return s.gate }

// Logger returns the gated trace logger.
func (s *Simulator) Logger() logr.Logger { return s.log }

// Commits returns the number of instructions retired by all cores.
func (s *Simulator) Commits() uint64 { return s.commits }

// LoadProgram loads the ELF program at path, places the target arguments and
// starts every hart at the entry point.
func (s *Simulator) LoadProgram(path string, args []string) error {
	prog, err := loader.Load(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	if err := prog.LoadInto(s.mem); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	sp, err := loader.WriteArgs(s.mem, append([]string{path}, args...))
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	for _, c := range s.cores {
		st := c.Hart().State()
		st.PC = prog.EntryPoint
		st.XPR[2] = sp
		c.Redirect()
	}

	return nil
}

// Run steps the simulation until the target stops or ctx is canceled. With a
// debugger, one command is read per iteration while debug mode is on and
// after an Interrupt.
func (s *Simulator) Run(ctx context.Context, dbg *Debugger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if dbg != nil && (s.cfg.Debug || s.Interrupted()) {
			quit, err := dbg.Interact()
			if err != nil {
				fmt.Fprintln(s.out, err)
			}
			if quit || s.stopped() {
				return nil
			}
			continue
		}

		running, err := s.Step(s.cfg.Quantum)
		if err != nil || !running {
			return err
		}
	}
}

// Step advances the simulation by at most n retired instructions. It
// returns false once the host channel reports the target done or the stop
// amount of commits is reached.
func (s *Simulator) Step(n uint64) (bool, error) {
	s.runLock.Lock()
	defer s.runLock.Unlock()

	return s.run(n, false)
}

// RunFast skips n instructions functionally. Debug tracing and lockstep
// checking are off while skipping; a checked run resumes checking against a
// reference rebuilt from the state reached.
func (s *Simulator) RunFast(n uint64) (bool, error) {
	s.runLock.Lock()
	defer s.runLock.Unlock()

	debug := make([]bool, len(s.cores))
	checking := make([]bool, len(s.cores))
	for i, c := range s.cores {
		debug[i], checking[i] = c.Debug(), c.Checking()
		c.SetDebug(false)
		c.SetChecking(false)
	}

	running, err := s.run(n, true)

	for i, c := range s.cores {
		c.SetDebug(debug[i])
		c.SetChecking(checking[i])
	}
	if len(s.refs) > 0 {
		if rerr := s.enableChecker(); rerr != nil && err == nil {
			err = rerr
		}
	}

	return running, err
}

func (s *Simulator) run(n uint64, skip bool) (bool, error) {
	if s.stopped() {
		return false, nil
	}

	var done uint64
	for done < n {
		c := s.cores[s.current]
		budget := min(n-done, s.cfg.Quantum-s.currentStep)
		if s.cfg.StopAmount > 0 {
			budget = min(budget, s.cfg.StopAmount-s.commits)
		}

		var retired uint64
		if skip {
			retired = c.Skip(budget)
		} else {
			retired = c.Step(budget)
		}

		done += retired
		s.currentStep += retired
		if retired > 0 {
			s.idleCalls = 0
		} else {
			s.idleCalls++
		}

		if s.stopAmountReached() {
			return false, nil
		}

		if s.currentStep < s.cfg.Quantum && s.idleCalls < s.cfg.Quantum {
			continue
		}

		if s.currentStep == 0 {
			s.idleQuanta++
		} else {
			s.idleQuanta = 0
		}
		s.currentStep, s.idleCalls = 0, 0

		if skip || s.cfg.Mode == config.ModeFunctional {
			c.YieldLoadReservation()
		}
		s.current = (s.current + 1) % len(s.cores)

		if !s.channel.Tick() {
			return false, nil
		}

		if s.cfg.DeadlockQuanta > 0 && s.idleQuanta >= uint64(s.cfg.DeadlockQuanta) {
			return false, fmt.Errorf("%w for %d quanta at commit %d",
				ErrDeadlock, s.idleQuanta, s.commits)
		}
	}

	return true, nil
}

func (s *Simulator) stopAmountReached() bool {
	return s.cfg.StopAmount > 0 && s.commits >= s.cfg.StopAmount
}

func (s *Simulator) stopped() bool {
	return s.channel.Done() || s.stopAmountReached()
}

// StepTillPC single-steps core id with tracing on and checking off until
// its PC equals pc or the target stops. The channel is ticked after every
// step.
func (s *Simulator) StepTillPC(pc uint64, id int) (bool, error) {
	if id < 0 || id >= len(s.cores) {
		return false, fmt.Errorf("no core %d", id)
	}

	s.runLock.Lock()
	defer s.runLock.Unlock()

	c := s.cores[id]
	debug, checking := c.Debug(), c.Checking()
	c.SetDebug(true)
	c.SetChecking(false)
	defer func() {
		c.SetDebug(debug)
		c.SetChecking(checking)
	}()

	for c.Hart().State().PC != pc {
		if s.stopped() {
			return false, nil
		}

		c.Step(1)

		if !s.channel.Tick() {
			return false, nil
		}
	}

	return true, nil
}

// SendIPI raises the inter-processor interrupt on core id. Ids without a
// core are ignored.
func (s *Simulator) SendIPI(id uint64) {
	if id < uint64(len(s.cores)) {
		s.cores[id].SendIPI()
	}
}

// GetSCR reads a system control register: 0 is the core count, 1 the
// target memory size in MiB. Other registers read 0.
func (s *Simulator) GetSCR(i int) uint64 {
	switch i {
	case 0:
		return uint64(len(s.cores))
	case 1:
		return s.mem.Size() >> 20
	}
	return 0
}

// Interrupt records an external interrupt request such as Ctrl-C.
func (s *Simulator) Interrupt() {
	s.interrupted.Store(true)
}

// Interrupted reports and clears a pending interrupt request.
func (s *Simulator) Interrupted() bool {
	return s.interrupted.Swap(false)
}

// Pause stops the engine between steps until Continue is called.
func (s *Simulator) Pause() {
	s.runLock.Lock()
}

// Continue resumes an engine stopped by Pause.
func (s *Simulator) Continue() {
	s.runLock.Unlock()
}

// Inspect runs f while the engine is between steps.
func (s *Simulator) Inspect(f func()) {
	s.runLock.Lock()
	defer s.runLock.Unlock()
	f()
}

// ExitCode returns the code the target exited with.
func (s *Simulator) ExitCode() int {
	return s.channel.ExitCode()
}

// Close releases host files and extension libraries and runs the registered
// closers. Only the first call has any effect. Close waits for the running
// step to finish, so it is safe to call from a signal handler.
func (s *Simulator) Close() error {
	s.closeOnce.Do(func() {
		s.runLock.Lock()
		defer s.runLock.Unlock()

		var errs []error
		for _, f := range s.closers {
			if err := f(); err != nil {
				errs = append(errs, err)
			}
		}

		if s.host != nil {
			s.host.Files().CloseAll()
		}
		for _, r := range s.refs {
			r.Close()
		}
		if s.lib != nil {
			s.lib.Close()
		}

		s.closeErr = errors.Join(errs...)
	})

	return s.closeErr
}
