// Package checkpoint encodes and decodes simulator checkpoints. A checkpoint
// is a set of files sharing a base name; each holds one section that starts
// with a 64-bit magic number. All values are little-endian.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sarchlab/micros/emu"
)

// Section magic numbers.
const (
	MemoryMagic uint64 = 0xbaadbeefdeadbeef
	ProcMagic   uint64 = 0xdeadbeefbaadbeef
)

// ErrChecksumMismatch is returned when a section does not start with the
// expected magic or does not match the live configuration.
var ErrChecksumMismatch = errors.New("checkpoint checksum mismatch")

// File name suffixes appended to the checkpoint base name.
const (
	SyscallSuffix = ".syscall"
	MemorySuffix  = ".memory"
	ProcSuffix    = ".proc"
)

// WriteMagic writes a section magic.
func WriteMagic(w io.Writer, magic uint64) error {
	return binary.Write(w, binary.LittleEndian, magic)
}

// ExpectMagic reads a section magic and checks it against want.
func ExpectMagic(r io.Reader, want uint64) error {
	var got uint64
	if err := binary.Read(r, binary.LittleEndian, &got); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}

	if got != want {
		return fmt.Errorf("magic 0x%016x, want 0x%016x: %w",
			got, want, ErrChecksumMismatch)
	}

	return nil
}

// WriteMemory writes the memory section: magic, size, raw bytes.
func WriteMemory(w io.Writer, mem *emu.Memory) error {
	if err := WriteMagic(w, MemoryMagic); err != nil {
		return fmt.Errorf("memory section: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, mem.Size()); err != nil {
		return fmt.Errorf("memory section: %w", err)
	}

	if _, err := w.Write(mem.Bytes()); err != nil {
		return fmt.Errorf("memory section: %w", err)
	}

	return nil
}

// ReadMemory restores the memory section into mem. The recorded size must
// equal the size of mem.
func ReadMemory(r io.Reader, mem *emu.Memory) error {
	if err := ExpectMagic(r, MemoryMagic); err != nil {
		return fmt.Errorf("memory section: %w", err)
	}

	var size uint64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return fmt.Errorf("memory section: read size: %w", err)
	}

	if size != mem.Size() {
		return fmt.Errorf("memory section: recorded size %d, live size %d: %w",
			size, mem.Size(), ErrChecksumMismatch)
	}

	if _, err := io.ReadFull(r, mem.Bytes()); err != nil {
		return fmt.Errorf("memory section: %w", err)
	}

	return nil
}

// WriteProc writes the processor section: magic, then the fixed-size
// architectural state.
func WriteProc(w io.Writer, s *emu.ArchState) error {
	if err := WriteMagic(w, ProcMagic); err != nil {
		return fmt.Errorf("proc section: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, s); err != nil {
		return fmt.Errorf("proc section: %w", err)
	}

	return nil
}

// ReadProc restores the processor section into s. On error s is left
// unchanged.
func ReadProc(r io.Reader, s *emu.ArchState) error {
	if err := ExpectMagic(r, ProcMagic); err != nil {
		return fmt.Errorf("proc section: %w", err)
	}

	var restored emu.ArchState
	if err := binary.Read(r, binary.LittleEndian, &restored); err != nil {
		return fmt.Errorf("proc section: %w", err)
	}

	*s = restored

	return nil
}
