package sim

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/bradleyjkemp/memviz"
	"golang.org/x/term"

	"github.com/sarchlab/micros/emu"
)

const prompt = ": "

const debuggerHelp = `Interactive commands:
  <enter>             step one instruction with a trace
  r [n]               run n instructions (or until Ctrl-C) with a trace
  rs [n]              run n instructions (or until Ctrl-C) silently
  pc <core>           print the PC of a core
  reg <core> <reg>    print a register (a0, x10, f2 or a number)
  until pc <core> <addr>
                      step until the core reaches addr
  mem <addr>          print the doubleword at addr
  viz <core> <file>   write the core state as a graphviz graph
  q                   quit
`

// Debugger is the interactive command loop.
type Debugger struct {
	sim *Simulator
	out io.Writer

	lines   *bufio.Scanner
	term    *term.Terminal
	ttyFD   int
	hasTerm bool
}

// NewDebugger creates a debugger reading commands from in. When in is a
// terminal the line is edited in raw mode with history.
func NewDebugger(s *Simulator, in io.Reader, out io.Writer) *Debugger {
	d := &Debugger{sim: s, out: out}

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		d.ttyFD = int(f.Fd())
		d.hasTerm = true
		d.term = term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{f, out}, prompt)
		return d
	}

	d.lines = bufio.NewScanner(in)
	return d
}

func (d *Debugger) readLine() (string, error) {
	if !d.hasTerm {
		fmt.Fprint(d.out, prompt)
		if !d.lines.Scan() {
			if err := d.lines.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return d.lines.Text(), nil
	}

	old, err := term.MakeRaw(d.ttyFD)
	if err != nil {
		return "", err
	}
	defer func() { _ = term.Restore(d.ttyFD, old) }()

	return d.term.ReadLine()
}

// Interact reads and executes one command. It returns quit=true when the
// user asked to leave or the input ended.
func (d *Debugger) Interact() (quit bool, err error) {
	line, err := d.readLine()
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return true, err
	}

	return d.Execute(line)
}

// Execute runs one command line.
func (d *Debugger) Execute(line string) (quit bool, err error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, d.run(true, 1)
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "q", "quit":
		return true, nil
	case "r", "run":
		n, err := optionalCount(args)
		if err != nil {
			return false, err
		}
		return false, d.run(true, n)
	case "rs":
		n, err := optionalCount(args)
		if err != nil {
			return false, err
		}
		return false, d.run(false, n)
	case "pc":
		return false, d.printPC(args)
	case "reg":
		return false, d.printReg(args)
	case "until":
		return false, d.until(args)
	case "mem":
		return false, d.printMem(args)
	case "viz":
		return false, d.viz(args)
	case "h", "help":
		fmt.Fprint(d.out, debuggerHelp)
		return false, nil
	}

	fmt.Fprintf(d.out, "unknown command %q\n", cmd)
	fmt.Fprint(d.out, debuggerHelp)
	return false, nil
}

func optionalCount(args []string) (uint64, error) {
	if len(args) == 0 {
		return math.MaxUint64, nil
	}
	n, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad instruction count %q: %w", args[0], err)
	}
	return n, nil
}

func parseAddr(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return v, nil
}

func (d *Debugger) hart(arg string) (*emu.Hart, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id < 0 || id >= len(d.sim.cores) {
		return nil, fmt.Errorf("no core %q", arg)
	}
	return d.sim.cores[id].Hart(), nil
}

// run steps n instructions one at a time until Ctrl-C or the target stops.
func (d *Debugger) run(noisy bool, n uint64) error {
	for _, c := range d.sim.cores {
		c.SetDebug(noisy)
	}

	for i := uint64(0); i < n; i++ {
		if d.sim.Interrupted() {
			return nil
		}
		running, err := d.sim.Step(1)
		if err != nil || !running {
			return err
		}
	}

	return nil
}

func (d *Debugger) printPC(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: pc <core>")
	}
	h, err := d.hart(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(d.out, "0x%016x\n", h.State().PC)
	return nil
}

func (d *Debugger) printReg(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: reg <core> <reg>")
	}
	h, err := d.hart(args[0])
	if err != nil {
		return err
	}
	id, ok := emu.RegID(args[1])
	if !ok {
		return fmt.Errorf("unknown register %q", args[1])
	}

	fmt.Fprintf(d.out, "0x%016x\n", h.State().ReadReg(id))
	return nil
}

func (d *Debugger) until(args []string) error {
	if len(args) != 3 || args[0] != "pc" {
		return errors.New("usage: until pc <core> <addr>")
	}
	id, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("no core %q", args[1])
	}
	addr, err := parseAddr(args[2])
	if err != nil {
		return err
	}

	_, err = d.sim.StepTillPC(addr, id)
	return err
}

func (d *Debugger) printMem(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: mem <addr>")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	if addr%8 != 0 || !d.sim.mem.InRange(addr, 8) {
		return fmt.Errorf("address 0x%x is not an aligned target address", addr)
	}

	fmt.Fprintf(d.out, "0x%016x\n", d.sim.mem.Read64(addr))
	return nil
}

func (d *Debugger) viz(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: viz <core> <file>")
	}
	h, err := d.hart(args[0])
	if err != nil {
		return err
	}

	f, err := os.Create(args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	memviz.Map(f, h.State())
	return nil
}
