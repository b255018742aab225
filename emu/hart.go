package emu

import (
	"github.com/sarchlab/micros/insts"
)

// Accelerator executes custom-0 instructions on behalf of a hart.
type Accelerator interface {
	Execute(inst *insts.Instruction, rs1, rs2 uint64) (uint64, error)
}

// Commit describes the architectural effect of one executed instruction.
type Commit struct {
	PC     uint64
	NextPC uint64
	Inst   *insts.Instruction

	// HasDest is set when the instruction wrote a register. DestID uses the
	// unified numbering of ArchState.ReadReg.
	HasDest   bool
	DestID    uint64
	DestValue uint64

	HasMem bool
	Addr   uint64
	Data   uint64

	HasCSR  bool
	CSRAddr uint16
	CSROld  uint64
	CSRNew  uint64

	// Serialize is set when the instruction changed state that younger
	// in-flight instructions may have already observed.
	Serialize bool
}

// Hart is one functional RV64 hardware thread.
type Hart struct {
	id      int
	state   ArchState
	mmu     *MMU
	decoder *insts.Decoder
	accel   Accelerator
	ipi     func(target uint64)
}

// HartOption configures a Hart.
type HartOption func(*Hart)

// WithAccelerator attaches the custom-0 accelerator.
func WithAccelerator(a Accelerator) HartOption {
	return func(h *Hart) {
		h.accel = a
	}
}

// WithIPISender sets the function SEND_IPI writes are delivered to.
func WithIPISender(send func(target uint64)) HartOption {
	return func(h *Hart) {
		h.ipi = send
	}
}

// NewHart creates a hart in its reset state.
func NewHart(id int, mem *Memory, opts ...HartOption) *Hart {
	h := &Hart{
		id:      id,
		mmu:     NewMMU(mem),
		decoder: insts.NewDecoder(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.Reset()
	return h
}

// ID returns the hart id.
func (h *Hart) ID() int {
	return h.id
}

// State returns the live architectural state.
func (h *Hart) State() *ArchState {
	return &h.state
}

// MMU returns the hart's memory-management unit.
func (h *Hart) MMU() *MMU {
	return h.mmu
}

// Reset returns the hart to its power-on state.
func (h *Hart) Reset() {
	h.state.Reset()
	h.mmu.YieldLoadReservation()
}

// Decode decodes a raw instruction word.
func (h *Hart) Decode(word uint32) *insts.Instruction {
	return h.decoder.Decode(word)
}

// Fetch reads and decodes the instruction at pc.
func (h *Hart) Fetch(pc uint64) (*insts.Instruction, *Trap) {
	word, trap := h.mmu.Fetch(pc)
	if trap != nil {
		return nil, trap
	}
	return h.decoder.Decode(word), nil
}

// Step fetches and executes the instruction at the current PC.
func (h *Hart) Step() (Commit, *Trap) {
	pc := h.state.PC
	inst, trap := h.Fetch(pc)
	if trap != nil {
		return Commit{PC: pc}, trap
	}
	return h.Execute(inst, pc)
}

// DeliverIPI raises the inter-processor interrupt line.
func (h *Hart) DeliverIPI() {
	h.SetInterrupt(IRQIPI, true)
}
