// Package htif implements the host side of the host-target interface. A
// target posts a request by writing the TOHOST register; the host services
// it on its next tick, clears TOHOST, and acknowledges through FROMHOST.
package htif

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"

	"github.com/sarchlab/micros/checkpoint"
	"github.com/sarchlab/micros/emu"
)

// Magic starts the host checkpoint section.
const Magic uint64 = 0x53595343414c4c53

// Channel is the host-target control channel the engine drives.
type Channel interface {
	// Tick services pending requests and reports whether the target is
	// still running.
	Tick() bool

	// Done reports whether the target has requested exit.
	Done() bool

	// ExitCode returns the code the target exited with.
	ExitCode() int

	// Save writes the host checkpoint section.
	Save(w io.Writer) error

	// Restore reads the host checkpoint section.
	Restore(r io.Reader) error
}

// Target is a hart the host exchanges requests with.
type Target interface {
	State() *emu.ArchState
	SetInterrupt(which int, on bool)
}

// Host services exit and proxied system calls for a set of harts sharing
// one memory.
type Host struct {
	targets []Target
	mem     *emu.Memory
	fds     *FDTable
	log     logr.Logger

	discard bool

	done     bool
	exitCode int
}

// Option configures a Host.
type Option func(*Host)

// WithStdio sets the streams target descriptors 0, 1 and 2 map to.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(h *Host) {
		h.fds = NewFDTable(stdin, stdout, stderr)
	}
}

// WithDiscardedWrites keeps the host from writing any host file. Files
// opened for writing accept and drop data. A host mirroring another one
// uses it so target output is produced once.
func WithDiscardedWrites() Option {
	return func(h *Host) {
		h.discard = true
	}
}

// WithLogger sets the trace logger.
func WithLogger(log logr.Logger) Option {
	return func(h *Host) {
		h.log = log
	}
}

// NewHost creates a host over mem.
func NewHost(mem *emu.Memory, opts ...Option) *Host {
	h := &Host{
		mem: mem,
		log: logr.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.fds == nil {
		h.fds = NewFDTable(os.Stdin, os.Stdout, os.Stderr)
	}
	h.fds.discard = h.discard
	return h
}

// Attach adds a target. Targets are serviced in attach order.
func (h *Host) Attach(t Target) {
	h.targets = append(h.targets, t)
}

// Files returns the target file descriptor table.
func (h *Host) Files() *FDTable {
	return h.fds
}

// Done reports whether a target has requested exit.
func (h *Host) Done() bool {
	return h.done
}

// ExitCode returns the exit code of the target.
func (h *Host) ExitCode() int {
	return h.exitCode
}

// Stop forces the target to be treated as exited.
func (h *Host) Stop() {
	h.done = true
}

// Tick services every pending request.
func (h *Host) Tick() bool {
	if h.done {
		return false
	}

	for _, t := range h.targets {
		s := t.State()
		req := s.ToHost
		if req == 0 {
			continue
		}
		s.ToHost = 0

		if req&1 != 0 {
			h.done = true
			h.exitCode = int(req >> 1)
			h.log.Info("target exit", "code", h.exitCode)
			return false
		}

		h.syscall(req)
		if h.done {
			return false
		}

		s.FromHost = 1
		t.SetInterrupt(emu.IRQHost, true)
	}

	return true
}

// Save writes the open host files so a restored run can keep using them.
func (h *Host) Save(w io.Writer) error {
	files, err := h.fds.snapshot()
	if err != nil {
		return fmt.Errorf("syscall section: %w", err)
	}

	if err := checkpoint.WriteMagic(w, Magic); err != nil {
		return fmt.Errorf("syscall section: %w", err)
	}

	header := []uint64{uint64(len(files)), h.fds.nextFD}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("syscall section: %w", err)
	}

	for _, f := range files {
		rec := []uint64{f.FD, uint64(f.Flags), uint64(f.Offset), uint64(len(f.Path))}
		if err := binary.Write(w, binary.LittleEndian, rec); err != nil {
			return fmt.Errorf("syscall section: %w", err)
		}
		if _, err := io.WriteString(w, f.Path); err != nil {
			return fmt.Errorf("syscall section: %w", err)
		}
	}

	return nil
}

// Restore reopens the files recorded by Save.
func (h *Host) Restore(r io.Reader) error {
	if err := checkpoint.ExpectMagic(r, Magic); err != nil {
		return fmt.Errorf("syscall section: %w", err)
	}

	var header [2]uint64
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("syscall section: %w", err)
	}

	files := make([]openFile, 0, header[0])
	for i := uint64(0); i < header[0]; i++ {
		var rec [4]uint64
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return fmt.Errorf("syscall section: %w", err)
		}

		path := make([]byte, rec[3])
		if _, err := io.ReadFull(r, path); err != nil {
			return fmt.Errorf("syscall section: %w", err)
		}

		files = append(files, openFile{
			FD:     rec[0],
			Flags:  int(rec[1]),
			Offset: int64(rec[2]),
			Path:   string(path),
		})
	}

	if err := h.fds.restore(files, header[1]); err != nil {
		return fmt.Errorf("syscall section: %w", err)
	}

	h.done = false
	h.exitCode = 0

	return nil
}
