// Package dpi exposes the simulator to an external hardware-simulation
// driver. The driver owns the event loop and calls one Bridge method at a
// time; the bridge never steps the engine on its own after initialization.
package dpi

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"

	"github.com/sarchlab/micros/config"
	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/sim"
)

// Bridge is the synchronous call boundary used by an external driver. Only
// core 0 is visible through it. Before a successful InitializeSim there is no
// target: registers read 0, memory and CSR accesses trap and HTIFTick reports
// the target stopped.
type Bridge struct {
	out  io.Writer
	opts []sim.Option

	sim  *sim.Simulator
	hart *emu.Hart
	log  logr.Logger
}

// NewBridge creates a bridge that prints its banners to out and builds the
// engine with opts.
func NewBridge(out io.Writer, opts ...sim.Option) *Bridge {
	if out == nil {
		out = os.Stderr
	}

	return &Bridge{out: out, opts: opts}
}

func noTarget(cause, addr uint64) *emu.Trap {
	return &emu.Trap{Cause: cause, BadVAddr: addr, HasBadVAddr: true}
}

func hex(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

// InitializeSim parses a command line whose first element is the program
// name, builds the engine, loads the target or restores a checkpoint and
// skips the configured number of instructions.
func (b *Bridge) InitializeSim(args []string) error {
	if len(args) == 0 {
		return errors.New("no arguments")
	}

	cfg := config.Default()
	fs := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(b.out)
	flags := config.BindFlags(fs, &cfg)

	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if err := flags.Apply(&cfg); err != nil {
		return err
	}

	target := fs.Args()
	if len(target) == 0 && cfg.RestoreCheckpoint == "" {
		return errors.New("usage: micros [host options] <target program> [target options]")
	}

	opts := append([]sim.Option{sim.WithOutput(b.out)}, b.opts...)
	s, err := sim.New(cfg, opts...)
	if err != nil {
		return err
	}

	if cfg.RestoreCheckpoint != "" {
		err = s.RestoreCheckpoint(cfg.RestoreCheckpoint)
	} else {
		err = s.LoadProgram(target[0], target[1:])
	}
	if err != nil {
		_ = s.Close()
		return err
	}

	if cfg.Checker {
		if err := s.EnableChecker(); err != nil {
			_ = s.Close()
			return err
		}
	}

	b.sim = s
	b.hart = s.Cores()[0].Hart()
	b.log = s.Logger().WithName("dpi").V(1)

	fmt.Fprintf(b.out, "Fast skipping MICROS for %d instructions\n", cfg.SkipAmount)
	running, err := s.RunFast(cfg.SkipAmount)
	if err != nil {
		return err
	}
	if !running {
		fmt.Fprintln(b.out, "Simulation finished during initialization")
		fmt.Fprintf(b.out, "Stopping MICROS: HTIF Exit Code %d\n", s.ExitCode())
	}

	if cfg.LoggingOnAt == 0 {
		s.LogGate().Enable()
	}

	fmt.Fprintln(b.out, "Starting MICROS")

	return nil
}

// Simulator returns the engine behind the bridge.
func (b *Bridge) Simulator() *sim.Simulator { return b.sim }

// LoggingOn reports whether verbose logging is on.
func (b *Bridge) LoggingOn() bool { return b.hart != nil && b.sim.LogGate().On() }

// GetArchRegValue reads a register in the unified numbering: x0-x31 are 0-31
// and f0-f31 are 32-63.
func (b *Bridge) GetArchRegValue(id uint64) uint64 {
	if b.hart == nil {
		return 0
	}

	v := b.hart.State().ReadReg(id)
	b.log.Info("architecture reg value", "reg", id, "value", hex(v))
	return v
}

// GetArchPC returns the architectural PC.
func (b *Bridge) GetArchPC() uint64 {
	if b.hart == nil {
		return 0
	}

	pc := b.hart.State().PC
	b.log.Info("architecture pc", "pc", hex(pc))
	return pc
}

// GetInstruction fetches the instruction word at pc.
func (b *Bridge) GetInstruction(pc uint64) (uint32, *emu.Trap) {
	if b.hart == nil {
		return 0, noTarget(emu.CauseFaultFetch, pc)
	}

	word, trap := b.hart.MMU().Fetch(pc)
	if trap != nil {
		b.log.Info("instruction fetch exception", "vaddr", hex(pc), "cause", trap)
	}
	return word, trap
}

func (b *Bridge) load(cycle, addr uint64, size int) (uint64, *emu.Trap) {
	if b.hart == nil {
		return 0, noTarget(emu.CauseFaultLoad, addr)
	}

	data, trap := b.hart.MMU().Load(addr, size)
	if trap != nil {
		b.log.Info("load exception", "cycle", cycle, "vaddr", hex(addr), "cause", trap)
		return 0, trap
	}

	b.log.Info("load", "cycle", cycle, "addr", hex(addr), "size", size, "data", hex(data))
	return data, nil
}

func (b *Bridge) store(cycle, addr uint64, size int, data uint64) *emu.Trap {
	if b.hart == nil {
		return noTarget(emu.CauseFaultStore, addr)
	}

	b.log.Info("store", "cycle", cycle, "addr", hex(addr), "size", size, "data", hex(data))

	trap := b.hart.MMU().Store(addr, size, data)
	if trap != nil {
		b.log.Info("store exception", "cycle", cycle, "vaddr", hex(addr), "cause", trap)
	}
	return trap
}

// LoadByte reads one byte, zero-extended.
func (b *Bridge) LoadByte(cycle, addr uint64) (uint64, *emu.Trap) { return b.load(cycle, addr, 1) }

// LoadHalf reads two bytes, zero-extended.
func (b *Bridge) LoadHalf(cycle, addr uint64) (uint64, *emu.Trap) { return b.load(cycle, addr, 2) }

// LoadWord reads four bytes, zero-extended.
func (b *Bridge) LoadWord(cycle, addr uint64) (uint64, *emu.Trap) { return b.load(cycle, addr, 4) }

// LoadDouble reads eight bytes.
func (b *Bridge) LoadDouble(cycle, addr uint64) (uint64, *emu.Trap) { return b.load(cycle, addr, 8) }

// StoreByte writes the low byte of data.
func (b *Bridge) StoreByte(cycle, addr, data uint64) *emu.Trap { return b.store(cycle, addr, 1, data) }

// StoreHalf writes the low two bytes of data.
func (b *Bridge) StoreHalf(cycle, addr, data uint64) *emu.Trap { return b.store(cycle, addr, 2, data) }

// StoreWord writes the low four bytes of data.
func (b *Bridge) StoreWord(cycle, addr, data uint64) *emu.Trap { return b.store(cycle, addr, 4, data) }

// StoreDouble writes data.
func (b *Bridge) StoreDouble(cycle, addr, data uint64) *emu.Trap { return b.store(cycle, addr, 8, data) }

// VirtToPhys translates an access of size bytes.
func (b *Bridge) VirtToPhys(addr uint64, size int, store, fetch bool) (uint64, *emu.Trap) {
	if b.hart == nil {
		cause := emu.CauseFaultLoad
		switch {
		case fetch:
			cause = emu.CauseFaultFetch
		case store:
			cause = emu.CauseFaultStore
		}
		return 0, noTarget(cause, addr)
	}

	b.log.Info("translate", "vaddr", hex(addr), "bytes", size)

	paddr, trap := b.hart.MMU().Translate(addr, size, store, fetch)
	if trap != nil {
		b.log.Info("memory access exception", "vaddr", hex(addr), "cause", trap)
	}
	return paddr, trap
}

// CheckInstruction compares one commit of the driver against the reference.
// It always passes when checking is off.
func (b *Bridge) CheckInstruction(
	cycle, commit, pc, destID, destValue uint64, fission bool,
) bool {
	if b.hart == nil {
		return true
	}

	checkers := b.sim.Checkers()
	if len(checkers) == 0 {
		return true
	}

	return checkers[0].CheckInstruction(cycle, commit, pc, destID, destValue, fission, b.hart.State())
}

// HTIFTick services the host channel once. It returns the target's exit
// code and false once the target has stopped.
func (b *Bridge) HTIFTick() (code int, running bool) {
	if b.hart == nil {
		return 0, false
	}

	running = b.sim.Channel().Tick()
	code = b.sim.ExitCode()

	if !running {
		fmt.Fprintln(b.out, "Simulation finished during HTIF tick")
		fmt.Fprintf(b.out, "Stopping MICROS: HTIF Exit Code %d\n", code)
	}

	return code, running
}

// GetPcr reads a CSR.
func (b *Bridge) GetPcr(csr uint16) (uint64, *emu.Trap) {
	if b.hart == nil {
		return 0, &emu.Trap{Cause: emu.CauseIllegalInstruction}
	}

	b.log.Info("read csr", "csr", hex(uint64(csr)))
	return b.hart.GetPCR(csr)
}

// SetPcr writes a CSR with its side effects. Writing COUNT past the verbose
// logging threshold turns logging on.
func (b *Bridge) SetPcr(csr uint16, val uint64) *emu.Trap {
	if b.hart == nil {
		return &emu.Trap{Cause: emu.CauseIllegalInstruction}
	}

	b.log.Info("write csr", "csr", hex(uint64(csr)), "value", hex(val))

	_, trap := b.hart.SetPCR(csr, val)
	if trap == nil && csr == emu.CSRCount {
		b.sim.LogGate().Observe(val)
	}
	return trap
}

// SetInterrupt raises or clears interrupt line which.
func (b *Bridge) SetInterrupt(which int, on bool) {
	if b.hart == nil {
		return
	}

	b.hart.SetInterrupt(which, on)
}

// Close releases the engine.
func (b *Bridge) Close() error {
	if b.sim == nil {
		return nil
	}
	return b.sim.Close()
}
