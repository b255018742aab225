package sim

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/sarchlab/micros/checkpoint"
)

// ErrNoCheckpoint is returned by CreateCheckpoint before InitCheckpoint.
var ErrNoCheckpoint = errors.New("checkpointing not initialized")

func (s *Simulator) checkpointPath(base string) string {
	if filepath.IsAbs(base) || s.cfg.CheckpointDir == "" {
		return base
	}
	return filepath.Join(s.cfg.CheckpointDir, base)
}

// InitCheckpoint enables checkpointing under base. Relative names are
// placed in the configured checkpoint directory.
func (s *Simulator) InitCheckpoint(base string) {
	s.checkpointBase = s.checkpointPath(base)
}

// CheckpointBase returns the base name checkpoints are written to, or "".
func (s *Simulator) CheckpointBase() string {
	return s.checkpointBase
}

// CreateCheckpoint drains every core and writes the host, memory and
// processor sections.
func (s *Simulator) CreateCheckpoint() error {
	if s.checkpointBase == "" {
		return ErrNoCheckpoint
	}

	s.runLock.Lock()
	defer s.runLock.Unlock()

	for _, c := range s.cores {
		c.Quiesce()
	}

	base := s.checkpointBase
	if err := checkpoint.SaveFile(base+checkpoint.SyscallSuffix, s.compression, s.channel.Save); err != nil {
		return err
	}

	err := checkpoint.SaveFile(base+checkpoint.MemorySuffix, s.compression, func(w io.Writer) error {
		return checkpoint.WriteMemory(w, s.mem)
	})
	if err != nil {
		return err
	}

	err = checkpoint.SaveFile(base+checkpoint.ProcSuffix, s.compression, func(w io.Writer) error {
		for _, c := range s.cores {
			if err := checkpoint.WriteProc(w, c.Hart().State()); err != nil {
				return fmt.Errorf("core %d: %w", c.ID(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "Created checkpoint %s.* at commit %d\n", base, s.commits)

	return nil
}

// RestoreCheckpoint restores the host, memory and processor sections
// written under base, in that order, and restarts every core from the
// restored state.
func (s *Simulator) RestoreCheckpoint(base string) error {
	s.runLock.Lock()
	defer s.runLock.Unlock()

	base = s.checkpointPath(base)

	if err := checkpoint.LoadFile(base+checkpoint.SyscallSuffix, s.channel.Restore); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Done restoring HTIF checkpoint from %s\n", base)

	err := checkpoint.LoadFile(base+checkpoint.MemorySuffix, func(r io.Reader) error {
		return checkpoint.ReadMemory(r, s.mem)
	})
	if err != nil {
		return err
	}

	err = checkpoint.LoadFile(base+checkpoint.ProcSuffix, func(r io.Reader) error {
		for _, c := range s.cores {
			if err := checkpoint.ReadProc(r, c.Hart().State()); err != nil {
				return fmt.Errorf("core %d: %w", c.ID(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, c := range s.cores {
		c.YieldLoadReservation()
		c.Redirect()
	}
	s.currentStep, s.idleCalls, s.idleQuanta = 0, 0, 0

	fmt.Fprintf(s.out, "Done restoring mem/reg checkpoint from %s\n", base)

	if len(s.refs) > 0 {
		return s.enableChecker()
	}

	return nil
}
