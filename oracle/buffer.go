// Package oracle validates the commits of a timing simulation against a
// reference simulation that runs ahead of it. The reference deposits one
// Record per committed instruction into a bounded Buffer, and a Checker
// consumes the records in program order.
package oracle

import (
	"errors"
	"fmt"
	"io"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/micros/emu"
)

// Hook positions invoked by the buffer. The hook item is the Record.
var (
	HookPosRecordPush = &sim.HookPos{Name: "OracleRecordPush"}
	HookPosRecordPop  = &sim.HookPos{Name: "OracleRecordPop"}
)

// Buffer errors.
var (
	ErrBufferFull = errors.New("oracle buffer full")
	ErrOutOfOrder = errors.New("oracle record popped out of order")
	ErrNoRecord   = errors.New("no oracle record")
)

// Record is one instruction committed by the reference.
type Record struct {
	Seq    uint64
	PC     uint64
	NextPC uint64
	Inst   uint32

	HasDest   bool
	DestID    uint64
	DestValue uint64

	Addr uint64
	Data uint64

	Exception bool
	Cause     uint64

	// State is the reference state after the instruction committed.
	State emu.ArchState
}

// NewRecord builds the record of a committed instruction. trap is the trap
// the instruction raised, if any; s is the state after the commit or trap.
func NewRecord(c emu.Commit, trap *emu.Trap, s *emu.ArchState) Record {
	rec := Record{
		PC:     c.PC,
		NextPC: s.PC,
		State:  *s,
	}

	if c.Inst != nil {
		rec.Inst = c.Inst.Raw
	}

	if trap != nil {
		rec.Exception = true
		rec.Cause = trap.Cause
		return rec
	}

	rec.HasDest, rec.DestID, rec.DestValue = c.HasDest, c.DestID, c.DestValue
	if c.HasMem {
		rec.Addr, rec.Data = c.Addr, c.Data
	}

	return rec
}

// Reference produces records in program order.
type Reference interface {
	// Advance commits one instruction and returns its record. It returns
	// false when the reference can make no further progress.
	Advance() (Record, bool)
}

// Buffer is a bounded FIFO of records addressed by absolute sequence number.
// It never overwrites an unread record.
type Buffer struct {
	sim.HookableBase

	records []Record
	head    uint64
	length  uint64
}

// NewBuffer creates an empty buffer that holds up to capacity records.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		panic("oracle buffer capacity must be positive")
	}
	return &Buffer{records: make([]Record, capacity)}
}

// Capacity returns the maximum number of unread records.
func (b *Buffer) Capacity() int { return len(b.records) }

// Len returns the number of unread records.
func (b *Buffer) Len() int { return int(b.length) }

// Head returns the sequence number of the oldest unread record.
func (b *Buffer) Head() uint64 { return b.head }

// CanPush reports whether a record can be pushed.
func (b *Buffer) CanPush() bool {
	return b.length < uint64(len(b.records))
}

func (b *Buffer) slot(seq uint64) *Record {
	return &b.records[seq%uint64(len(b.records))]
}

// Push appends rec and returns the sequence number assigned to it.
func (b *Buffer) Push(rec Record) (uint64, error) {
	if !b.CanPush() {
		return 0, fmt.Errorf("push pc 0x%x: %w", rec.PC, ErrBufferFull)
	}

	seq := b.head + b.length
	rec.Seq = seq
	*b.slot(seq) = rec
	b.length++

	b.InvokeHook(sim.HookCtx{Domain: b, Pos: HookPosRecordPush, Item: rec})

	return seq, nil
}

// First returns the sequence number of the oldest unread record whose PC
// is pc.
func (b *Buffer) First(pc uint64) (uint64, error) {
	for seq := b.head; seq < b.head+b.length; seq++ {
		if b.slot(seq).PC == pc {
			return seq, nil
		}
	}
	return 0, fmt.Errorf("pc 0x%x: %w", pc, ErrNoRecord)
}

// Peek returns the record with sequence number seq without removing it.
func (b *Buffer) Peek(seq uint64) (Record, error) {
	if seq < b.head || seq >= b.head+b.length {
		return Record{}, fmt.Errorf("seq %d: %w", seq, ErrNoRecord)
	}
	return *b.slot(seq), nil
}

// Pop removes and returns the record with sequence number seq, which must be
// the oldest unread record.
func (b *Buffer) Pop(seq uint64) (Record, error) {
	if b.length == 0 {
		return Record{}, fmt.Errorf("pop %d: %w", seq, ErrNoRecord)
	}

	if seq != b.head {
		return Record{}, fmt.Errorf("pop %d, head %d: %w", seq, b.head, ErrOutOfOrder)
	}

	rec := *b.slot(seq)
	b.head++
	b.length--

	b.InvokeHook(sim.HookCtx{Domain: b, Pos: HookPosRecordPop, Item: rec})

	return rec, nil
}

// RunAhead advances ref until the buffer is full or ref stops, and returns
// the number of records pushed.
func (b *Buffer) RunAhead(ref Reference) int {
	n := 0
	for b.CanPush() {
		rec, ok := ref.Advance()
		if !ok {
			break
		}
		if _, err := b.Push(rec); err != nil {
			panic(err)
		}
		n++
	}
	return n
}

// Dump writes a rendering of rec.
func (b *Buffer) Dump(rec Record, w io.Writer) {
	fmt.Fprintf(w, "ORACLE[%d] pc=0x%016x next_pc=0x%016x inst=0x%08x\n",
		rec.Seq, rec.PC, rec.NextPC, rec.Inst)
	if rec.HasDest {
		fmt.Fprintf(w, "  dest=%s value=0x%016x\n", emu.RegName(rec.DestID), rec.DestValue)
	}
	if rec.Exception {
		fmt.Fprintf(w, "  exception cause=%d\n", rec.Cause)
	}
	fmt.Fprintf(w, "  addr=0x%016x data=0x%016x unread=%d\n", rec.Addr, rec.Data, b.length)
}
