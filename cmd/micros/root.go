package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/micros/config"
	"github.com/sarchlab/micros/monitoring"
	"github.com/sarchlab/micros/sim"
	"github.com/sarchlab/micros/stats"
)

const usage = "micros [host options] <target program> [target options]"

var errUsage = errors.New("usage: " + usage)

// command is the micros root command together with the options it parsed
// and the exit code of the target.
type command struct {
	root *cobra.Command
	in   io.Reader
	out  io.Writer

	cfg   config.Config
	flags *config.Flags

	signals  chan os.Signal
	exitCode int
}

func newCommand(in io.Reader, out io.Writer) *command {
	c := &command{
		in:      in,
		out:     out,
		cfg:     config.Default(),
		signals: make(chan os.Signal, 2),
	}

	c.root = &cobra.Command{
		Use:   usage,
		Short: "micros simulates a RISC-V program on a configurable out-of-order core.",
		Long: `micros runs a RISC-V target program on a cycle-level core model. ` +
			`Host options come before the target program; everything after it ` +
			`is passed to the target.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          c.run,
	}
	c.root.SetOut(out)
	c.root.SetErr(out)

	fs := c.root.Flags()
	fs.SetInterspersed(false)
	c.flags = config.BindFlags(fs, &c.cfg)

	return c
}

func (c *command) run(cmd *cobra.Command, args []string) error {
	if err := c.flags.Apply(&c.cfg); err != nil {
		return err
	}

	if len(args) == 0 && c.cfg.RestoreCheckpoint == "" {
		return errUsage
	}

	fmt.Fprintln(c.out, c.cfg.Core.LaneMatrix)

	opts, err := c.statsOptions()
	if err != nil {
		return err
	}

	s, err := sim.New(c.cfg, append([]sim.Option{sim.WithOutput(c.out)}, opts.sim...)...)
	if err != nil {
		if opts.rec != nil {
			_ = opts.rec.Close()
		}
		return err
	}
	atexit.Register(func() { _ = s.Close() })
	opts.collector.Attach(s.Cores())

	if err := c.load(s, args); err != nil {
		_ = s.Close()
		return err
	}

	mon, stop, err := c.startMonitoring(s)
	if err != nil {
		_ = s.Close()
		return err
	}

	err = c.simulate(cmd.Context(), s, mon)
	stop()
	if cerr := s.Close(); err == nil {
		err = cerr
	}

	return err
}

type statsOptions struct {
	sim       []sim.Option
	collector *stats.Collector
	rec       *stats.Recorder
}

func (c *command) statsOptions() (statsOptions, error) {
	collOpts := []stats.CollectorOption{
		stats.WithSummaryOutput(c.out),
		stats.WithHistogram(c.cfg.Histogram),
		stats.WithPhaseInterval(c.cfg.PhaseInterval),
	}

	var rec *stats.Recorder
	if c.cfg.StatsDB != "" {
		var err error
		rec, err = stats.NewRecorder(c.cfg.StatsDB)
		if err != nil {
			return statsOptions{}, err
		}
		collOpts = append(collOpts, stats.WithRecorder(rec))
	}

	coll := stats.NewCollector(collOpts...)

	return statsOptions{
		collector: coll,
		rec:       rec,
		sim: []sim.Option{
			sim.WithCommitObserver(coll.OnCommit),
			sim.WithHook(coll.Hooks()),
			sim.WithCloser(coll.Close),
		},
	}, nil
}

func (c *command) load(s *sim.Simulator, args []string) error {
	var err error
	if c.cfg.RestoreCheckpoint != "" {
		err = s.RestoreCheckpoint(c.cfg.RestoreCheckpoint)
	} else {
		err = s.LoadProgram(args[0], args[1:])
	}
	if err != nil {
		return err
	}

	if c.cfg.Checker {
		return s.EnableChecker()
	}

	return nil
}

func (c *command) startMonitoring(s *sim.Simulator) (*monitoring.Monitor, func(), error) {
	var stops []func()
	stop := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if c.cfg.StatsView {
		stops = append(stops, monitoring.LaunchStatsView(c.cfg.StatsViewAddr, c.out))
	}

	if !c.cfg.Monitor {
		return nil, stop, nil
	}

	mon := monitoring.NewMonitor(s).WithPortNumber(c.cfg.MonitorPort)
	if _, err := mon.StartServer(); err != nil {
		stop()
		return nil, nil, err
	}
	stops = append(stops, func() { _ = mon.Close() })

	if c.cfg.MonitorOpen {
		if err := mon.OpenBrowser(); err != nil {
			fmt.Fprintf(c.out, "cannot open browser: %v\n", err)
		}
	}

	return mon, stop, nil
}

func (c *command) simulate(ctx context.Context, s *sim.Simulator, mon *monitoring.Monitor) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var dbg *sim.Debugger
	if c.cfg.Debug {
		dbg = sim.NewDebugger(s, c.in, c.out)
	}

	done := make(chan struct{})
	defer close(done)
	signal.Notify(c.signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(c.signals)
	go c.handleSignals(done, s, mon, dbg != nil, cancel)

	fmt.Fprintf(c.out, "Fast skipping MICROS for %d instructions\n", c.cfg.SkipAmount)
	var running bool
	err := withProgress(mon, "fast skip", c.cfg.SkipAmount, func() (err error) {
		running, err = s.RunFast(c.cfg.SkipAmount)
		return err
	})
	if err != nil {
		return err
	}

	if !running {
		fmt.Fprintln(c.out, "Simulation finished during initialization")
	} else {
		if c.cfg.LoggingOnAt == 0 {
			s.LogGate().Enable()
		}

		fmt.Fprintln(c.out, "Starting MICROS")
		err = withProgress(mon, "simulation", c.cfg.StopAmount, func() error {
			return s.Run(ctx, dbg)
		})
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(c.out, "Simulation interrupted")
			err = nil
		}
	}

	c.exitCode = s.ExitCode()
	fmt.Fprintf(c.out, "Stopping MICROS: HTIF Exit Code %d\n", c.exitCode)

	return err
}

// withProgress runs f under a monitor progress bar of total commits. The bar
// is removed when f returns.
func withProgress(mon *monitoring.Monitor, name string, total uint64, f func() error) error {
	if mon != nil && total > 0 {
		bar := mon.CreateProgressBar(name, total)
		defer mon.CompleteProgressBar(bar)
	}

	return f()
}

// handleSignals turns the first signal into an interrupt of the running
// simulation. In debug mode every signal drops into the debugger; otherwise a
// second signal exits at once, after releasing an engine paused by the
// monitor so the statistics can still be flushed.
func (c *command) handleSignals(
	done <-chan struct{},
	s *sim.Simulator,
	mon *monitoring.Monitor,
	debug bool,
	cancel context.CancelFunc,
) {
	received := 0
	for {
		select {
		case <-done:
			return
		case sig := <-c.signals:
			received++

			switch {
			case debug:
				s.Interrupt()
			case received == 1:
				fmt.Fprintf(c.out, "Received %v, stopping\n", sig)
				cancel()
			default:
				fmt.Fprintf(c.out, "Received %v again, exiting\n", sig)
				if mon != nil {
					_ = mon.Close()
				}
				atexit.Exit(1)
			}
		}
	}
}
