// Package payload provides the instruction payload store: a fixed-capacity
// ring of per-instruction metadata. Pipeline stages refer to in-flight
// instructions by integer index only, so the whole in-flight state can be
// copied, dumped and discarded on rollback without dangling references.
package payload

import (
	"errors"
	"fmt"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/micros/insts"
)

// Hook positions invoked by the store. The hook item is the slot index.
var (
	HookPosPush     = &sim.HookPos{Name: "PayloadPush"}
	HookPosPop      = &sim.HookPos{Name: "PayloadPop"}
	HookPosRollback = &sim.HookPos{Name: "PayloadRollback"}
)

// ErrNotLive is returned when an index does not name an in-flight entry.
var ErrNotLive = errors.New("payload index is not live")

// Operand describes one of the four operand slots.
type Operand struct {
	Valid   bool   // the instruction has this operand
	Int     bool   // integer register file, else floating point
	LogReg  uint32 // logical register
	PhysReg uint32 // renamed physical register
}

// Payload is the metadata of one simulated instruction.
type Payload struct {
	// Set by fetch.
	Inst            insts.Instruction
	PC              uint64
	NextPC          uint64
	Seq             uint64
	GoodInstruction bool
	FetchException  bool
	FetchCause      uint64
	DBIndex         uint64

	// Set by decode.
	FU         insts.FUType
	Latency    uint64
	Split      bool
	Upper      bool
	SplitStore bool
	A, B, C, D Operand
	CSRAddr    uint16
	Size       int
	Signed     bool

	// Set by dispatch.
	ALIndex uint32
	LQIndex uint32
	LQPhase bool
	SQIndex uint32
	SQPhase bool
	LaneID  int

	// Set by register read and execute.
	AValue  uint64
	BValue  uint64
	DValue  uint64
	Addr    uint64
	CNextPC uint64
	CValue  uint64

	// CSR values captured at execute so a register write and its CSR side
	// effect commit together.
	CSROld uint64
	CSRNew uint64

	// ReadyCycle is the cycle the entry completes execution.
	ReadyCycle uint64
}

// Store is the circular payload buffer. Each entry owns a fixed even/odd
// slot pair; the even slot holds the instruction and the odd slot holds the
// upper half when the instruction is split.
type Store struct {
	sim.HookableBase

	slots    []Payload
	capacity int

	head   int
	tail   int
	length int
}

// NewStore creates an empty store for capacity entries.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		panic("payload store capacity must be positive")
	}
	return &Store{
		slots:    make([]Payload, 2*capacity),
		capacity: capacity,
	}
}

// Capacity returns the number of entries the store can hold.
func (s *Store) Capacity() int { return s.capacity }

// Len returns the number of in-flight entries.
func (s *Store) Len() int { return s.length }

// Head returns the entry position of the oldest entry.
func (s *Store) Head() int { return s.head }

// Tail returns the entry position the next push will use.
func (s *Store) Tail() int { return s.tail }

// CanPush reports whether a push would succeed.
func (s *Store) CanPush() bool {
	return s.length < s.capacity
}

// Push allocates the next entry and returns its even slot index. Both halves
// of the pair are zeroed. Push panics when the store is full.
func (s *Store) Push() int {
	if !s.CanPush() {
		panic("payload store overflow")
	}

	index := 2 * s.tail
	s.slots[index] = Payload{}
	s.slots[index+1] = Payload{}

	s.tail = (s.tail + 1) % s.capacity
	s.length++

	s.InvokeHook(sim.HookCtx{Domain: s, Pos: HookPosPush, Item: index})

	return index
}

// Pop retires the oldest entry and returns its slot index.
func (s *Store) Pop() int {
	if s.length == 0 {
		panic("payload store underflow")
	}

	index := 2 * s.head
	s.head = (s.head + 1) % s.capacity
	s.length--

	s.InvokeHook(sim.HookCtx{Domain: s, Pos: HookPosPop, Item: index})

	return index
}

// Clear empties the store.
func (s *Store) Clear() {
	s.head, s.tail, s.length = 0, 0, 0
}

// Entry returns the payload in slot index. The pointer must not be kept
// across a Push, Pop or Rollback.
func (s *Store) Entry(index int) *Payload {
	return &s.slots[index]
}

// IsLive reports whether index is the even slot of an in-flight entry.
func (s *Store) IsLive(index int) bool {
	if index < 0 || index >= len(s.slots) || index%2 != 0 {
		return false
	}
	return s.age(index/2) < s.length
}

// age is the distance of entry position p from head.
func (s *Store) age(p int) int {
	return (p - s.head + s.capacity) % s.capacity
}

// Split turns the entry at the even slot index into a split pair: the odd
// slot receives a copy marked as the upper half.
func (s *Store) Split(index int) {
	if index%2 != 0 {
		panic(fmt.Sprintf("payload split on odd slot %d", index))
	}

	s.slots[index].Split = true
	s.slots[index].Upper = false
	s.slots[index+1] = s.slots[index]
	s.slots[index+1].Upper = true
}

// Rollback discards the entry at index and every younger entry.
func (s *Store) Rollback(index int) error {
	if !s.IsLive(index) {
		return fmt.Errorf("rollback to %d: %w", index, ErrNotLive)
	}

	s.length = s.age(index / 2)
	s.tail = index / 2

	s.InvokeHook(sim.HookCtx{Domain: s, Pos: HookPosRollback, Item: index})

	return nil
}
