package emu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shirou/gopsutil/mem"
)

// DefaultMemorySize is used when no target memory size is requested.
const DefaultMemorySize uint64 = 1 << 32

// allocQuantum is the granularity the allocation size is rounded to while
// degrading.
const allocQuantum uint64 = 1 << 20

// ErrOutOfMemory is returned when not even one allocation quantum of target
// memory can be obtained.
var ErrOutOfMemory = errors.New("unable to allocate target memory")

// Memory is the flat physical memory of the target machine. All harts share
// one Memory; mutual exclusion comes from harts being stepped one at a time.
type Memory struct {
	data []byte
}

// MemoryOption configures memory allocation.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	available func() (uint64, error)
	warn      io.Writer
}

// WithAvailableMemory replaces the host free-memory probe.
func WithAvailableMemory(probe func() (uint64, error)) MemoryOption {
	return func(o *memoryOptions) {
		o.available = probe
	}
}

// WithWarningWriter sets where the degraded-size warning goes.
func WithWarningWriter(w io.Writer) MemoryOption {
	return func(o *memoryOptions) {
		o.warn = w
	}
}

func hostAvailableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// NewMemory allocates size bytes of zeroed target memory. A size of 0 selects
// DefaultMemorySize. When the host cannot provide the requested size, the
// request shrinks by a factor of 10/11 (rounded down to 1 MiB) until an
// allocation succeeds, and a warning reports the size actually obtained.
func NewMemory(size uint64, opts ...MemoryOption) (*Memory, error) {
	o := memoryOptions{available: hostAvailableMemory, warn: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	if size == 0 {
		size = DefaultMemorySize
	}
	wanted := size

	if avail, err := o.available(); err == nil {
		for size > avail && size > allocQuantum {
			size = degrade(size)
		}
	}

	data := tryAlloc(size)
	for data == nil {
		if size <= allocQuantum {
			return nil, fmt.Errorf("%w: wanted %d bytes", ErrOutOfMemory, wanted)
		}
		size = degrade(size)
		data = tryAlloc(size)
	}

	if size != wanted {
		fmt.Fprintf(o.warn,
			"warning: only got %d bytes of target mem (wanted %d)\n",
			size, wanted)
	}

	return &Memory{data: data}, nil
}

func degrade(size uint64) uint64 {
	next := size * 10 / 11 / allocQuantum * allocQuantum
	if next < allocQuantum {
		next = allocQuantum
	}
	return next
}

func tryAlloc(size uint64) (data []byte) {
	defer func() {
		if recover() != nil {
			data = nil
		}
	}()
	return make([]byte, size)
}

// Size returns the memory size in bytes.
func (m *Memory) Size() uint64 {
	return uint64(len(m.data))
}

// Bytes exposes the backing buffer for checkpointing.
func (m *Memory) Bytes() []byte {
	return m.data
}

// InRange reports whether [addr, addr+n) lies inside the memory.
func (m *Memory) InRange(addr, n uint64) bool {
	return addr < m.Size() && n <= m.Size()-addr
}

// Read reads a little-endian value of size 1, 2, 4 or 8 bytes. The caller
// must have checked the range.
func (m *Memory) Read(addr uint64, size int) uint64 {
	b := m.data[addr : addr+uint64(size)]
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

// Write writes a little-endian value of size 1, 2, 4 or 8 bytes. The caller
// must have checked the range.
func (m *Memory) Write(addr uint64, size int, value uint64) {
	b := m.data[addr : addr+uint64(size)]
	switch size {
	case 1:
		b[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(value))
	default:
		binary.LittleEndian.PutUint64(b, value)
	}
}

// Read64 reads a doubleword, returning 0 when out of range.
func (m *Memory) Read64(addr uint64) uint64 {
	if !m.InRange(addr, 8) {
		return 0
	}
	return m.Read(addr, 8)
}

// Write64 writes a doubleword, ignoring out-of-range addresses.
func (m *Memory) Write64(addr uint64, value uint64) {
	if m.InRange(addr, 8) {
		m.Write(addr, 8, value)
	}
}

// ReadBytes copies n bytes starting at addr.
func (m *Memory) ReadBytes(addr, n uint64) ([]byte, error) {
	if !m.InRange(addr, n) {
		return nil, fmt.Errorf("read of %d bytes at 0x%x outside target memory", n, addr)
	}
	out := make([]byte, n)
	copy(out, m.data[addr:addr+n])
	return out, nil
}

// WriteBytes copies data into memory starting at addr.
func (m *Memory) WriteBytes(addr uint64, data []byte) error {
	if !m.InRange(addr, uint64(len(data))) {
		return fmt.Errorf("write of %d bytes at 0x%x outside target memory", len(data), addr)
	}
	copy(m.data[addr:], data)
	return nil
}

// LoadProgram writes instruction words starting at addr.
func (m *Memory) LoadProgram(addr uint64, words []uint32) error {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return m.WriteBytes(addr, buf)
}
