// Package loader provides ELF binary loading for RV64 target programs.
package loader

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sarchlab/micros/emu"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// StackReserve is the space kept free above the initial stack pointer for
// the argument block.
const StackReserve = 64 * 1024

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the address where this segment is loaded. Translation is
	// bare, so it is also the physical address.
	VirtAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program represents a loaded ELF program ready for execution.
type Program struct {
	// EntryPoint is the address where execution should begin.
	EntryPoint uint64
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
}

// Load parses an RV64 ELF binary.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("not a 64-bit ELF file")
	}

	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("not a RISC-V ELF file (machine type: %v)", f.Machine)
	}

	prog := &Program{EntryPoint: f.Entry}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: phdr.Vaddr,
			Data:     data,
			MemSize:  phdr.Memsz,
			Flags:    flags,
		})
	}

	return prog, nil
}

// LoadInto copies every segment into mem and zero-fills the BSS tail.
func (p *Program) LoadInto(mem *emu.Memory) error {
	for _, seg := range p.Segments {
		if !mem.InRange(seg.VirtAddr, seg.MemSize) {
			return fmt.Errorf("segment at 0x%x (%d bytes) does not fit in %d bytes of target memory",
				seg.VirtAddr, seg.MemSize, mem.Size())
		}

		if err := mem.WriteBytes(seg.VirtAddr, seg.Data); err != nil {
			return fmt.Errorf("segment at 0x%x: %w", seg.VirtAddr, err)
		}

		if seg.MemSize > uint64(len(seg.Data)) {
			zero := make([]byte, seg.MemSize-uint64(len(seg.Data)))
			if err := mem.WriteBytes(seg.VirtAddr+uint64(len(seg.Data)), zero); err != nil {
				return fmt.Errorf("segment at 0x%x: %w", seg.VirtAddr, err)
			}
		}
	}

	return nil
}

// WriteArgs places the target's argument block at the top of mem and returns
// the stack pointer that addresses it. The block is argc followed by argc
// argv pointers and a null pointer; the strings follow.
func WriteArgs(mem *emu.Memory, args []string) (uint64, error) {
	top := mem.Size() &^ 0xf
	if top < StackReserve {
		return 0, fmt.Errorf("target memory of %d bytes has no room for arguments", mem.Size())
	}
	base := top - StackReserve

	size := uint64(8 * (len(args) + 2))
	for _, a := range args {
		size += uint64(len(a)) + 1
	}
	if size > StackReserve {
		return 0, fmt.Errorf("target arguments need %d bytes, only %d reserved", size, StackReserve)
	}

	block := make([]byte, size)
	binary.LittleEndian.PutUint64(block, uint64(len(args)))

	str := uint64(8 * (len(args) + 2))
	for i, a := range args {
		binary.LittleEndian.PutUint64(block[8*(i+1):], base+str)
		copy(block[str:], a)
		str += uint64(len(a)) + 1
	}

	if err := mem.WriteBytes(base, block); err != nil {
		return 0, fmt.Errorf("argument block: %w", err)
	}

	return base, nil
}
