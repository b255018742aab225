package oracle_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/oracle"
)

// straightLine is a reference running a program of n instructions, each
// writing its index into a5.
type straightLine struct {
	next, n uint64
}

func (r *straightLine) Advance() (oracle.Record, bool) {
	if r.next >= r.n {
		return oracle.Record{}, false
	}
	i := r.next
	r.next++
	pc := 0x2000 + 4*i
	return oracle.Record{
		PC:        pc,
		NextPC:    pc + 4,
		HasDest:   true,
		DestID:    15,
		DestValue: i,
	}, true
}

func record(pc uint64) oracle.Record {
	return oracle.Record{PC: pc, NextPC: pc + 4}
}

var _ = Describe("Buffer", func() {
	var b *oracle.Buffer

	BeforeEach(func() {
		b = oracle.NewBuffer(4)
	})

	It("should assign increasing sequence numbers", func() {
		s0, err := b.Push(record(0x2000))
		Expect(err).NotTo(HaveOccurred())
		s1, _ := b.Push(record(0x2004))

		Expect(s0).To(Equal(uint64(0)))
		Expect(s1).To(Equal(uint64(1)))
		Expect(b.Len()).To(Equal(2))
	})

	It("should refuse to overwrite unread records", func() {
		for i := uint64(0); i < 4; i++ {
			_, err := b.Push(record(0x2000 + 4*i))
			Expect(err).NotTo(HaveOccurred())
		}

		_, err := b.Push(record(0x3000))

		Expect(err).To(MatchError(oracle.ErrBufferFull))
		rec, err := b.Peek(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.PC).To(Equal(uint64(0x2000)))
		Expect(b.Len()).To(Equal(4))
	})

	It("should find the oldest matching record", func() {
		b.Push(record(0x2000))
		b.Push(record(0x2004))
		b.Push(record(0x2000))

		seq, err := b.First(0x2000)
		Expect(err).NotTo(HaveOccurred())
		Expect(seq).To(Equal(uint64(0)))

		_, err = b.First(0x4000)
		Expect(err).To(MatchError(oracle.ErrNoRecord))
	})

	It("should only pop the head", func() {
		b.Push(record(0x2000))
		b.Push(record(0x2004))

		_, err := b.Pop(1)
		Expect(err).To(MatchError(oracle.ErrOutOfOrder))

		rec, err := b.Pop(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.PC).To(Equal(uint64(0x2000)))
		Expect(b.Head()).To(Equal(uint64(1)))

		_, err = b.Peek(0)
		Expect(err).To(MatchError(oracle.ErrNoRecord))
	})

	It("should wrap around its storage", func() {
		for i := uint64(0); i < 10; i++ {
			seq, err := b.Push(record(0x2000 + 4*i))
			Expect(err).NotTo(HaveOccurred())
			rec, err := b.Pop(seq)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Seq).To(Equal(i))
			Expect(rec.PC).To(Equal(0x2000 + 4*i))
		}
	})

	It("should build records from commits", func() {
		var s emu.ArchState
		s.PC = 0x2008
		c := emu.Commit{
			PC: 0x2004, HasDest: true, DestID: 3, DestValue: 9,
			HasMem: true, Addr: 0x100, Data: 7,
		}

		rec := oracle.NewRecord(c, nil, &s)
		Expect(rec.NextPC).To(Equal(uint64(0x2008)))
		Expect(rec.DestValue).To(Equal(uint64(9)))
		Expect(rec.Addr).To(Equal(uint64(0x100)))

		s.PC = 0x4000
		rec = oracle.NewRecord(c, &emu.Trap{Cause: emu.CauseSyscall}, &s)
		Expect(rec.Exception).To(BeTrue())
		Expect(rec.HasDest).To(BeFalse())
		Expect(rec.NextPC).To(Equal(uint64(0x4000)))
	})

	Context("run-ahead", func() {
		var ctrl *gomock.Controller

		BeforeEach(func() {
			ctrl = gomock.NewController(GinkgoT())
		})

		AfterEach(func() {
			ctrl.Finish()
		})

		It("should stop when the buffer is full", func() {
			ref := NewMockReference(ctrl)
			ref.EXPECT().Advance().Return(record(0x2000), true).Times(4)

			Expect(b.RunAhead(ref)).To(Equal(4))
			Expect(b.CanPush()).To(BeFalse())
		})

		It("should stop when the reference stops", func() {
			ref := NewMockReference(ctrl)
			gomock.InOrder(
				ref.EXPECT().Advance().Return(record(0x2000), true),
				ref.EXPECT().Advance().Return(oracle.Record{}, false),
			)

			Expect(b.RunAhead(ref)).To(Equal(1))
		})
	})
})

var _ = Describe("Checker", func() {
	var (
		out   bytes.Buffer
		state emu.ArchState
	)

	BeforeEach(func() {
		out.Reset()
		state = emu.ArchState{}
	})

	It("should pass a matching commit stream", func() {
		c := oracle.NewChecker(oracle.NewBuffer(4), &straightLine{n: 10}, 0x2000,
			oracle.WithOutput(&out))

		for i := uint64(0); i < 10; i++ {
			ok := c.CheckInstruction(i, i, 0x2000+4*i, 15, i, false, &state)
			Expect(ok).To(BeTrue())
		}

		Expect(c.Mismatches()).To(BeZero())
		Expect(c.Checked()).To(Equal(uint64(10)))
		Expect(c.ArchPC()).To(Equal(uint64(0x2000 + 40)))
		Expect(out.Len()).To(BeZero())
	})

	It("should count a flipped destination value once", func() {
		c := oracle.NewChecker(oracle.NewBuffer(4), &straightLine{n: 10}, 0x2000,
			oracle.WithOutput(&out))

		results := make([]bool, 10)
		for i := uint64(0); i < 10; i++ {
			v := i
			if i == 6 {
				v ^= 1
			}
			results[i] = c.CheckInstruction(i, i, 0x2000+4*i, 15, v, false, &state)
		}

		Expect(results[6]).To(BeFalse())
		Expect(results[5]).To(BeTrue())
		Expect(results[7]).To(BeTrue())
		Expect(c.Mismatches()).To(Equal(uint64(1)))
		Expect(out.String()).To(ContainSubstring("*ER RDST_VALUE MISMATCH!!"))
		Expect(out.String()).To(ContainSubstring("ORACLE[6]"))
	})

	It("should report a wrong destination register", func() {
		c := oracle.NewChecker(oracle.NewBuffer(4), &straightLine{n: 2}, 0x2000,
			oracle.WithOutput(&out))

		Expect(c.CheckInstruction(0, 0, 0x2000, 14, 0, false, &state)).To(BeFalse())
		Expect(out.String()).To(ContainSubstring("*ER RDST MISMATCH!!"))
	})

	It("should report a missing PC", func() {
		c := oracle.NewChecker(oracle.NewBuffer(4), &straightLine{n: 2}, 0x2000,
			oracle.WithOutput(&out))

		Expect(c.CheckInstruction(0, 0, 0x2000, 15, 0, false, &state)).To(BeTrue())
		Expect(c.CheckInstruction(1, 1, 0x2004, 15, 1, false, &state)).To(BeTrue())
		Expect(c.CheckInstruction(2, 2, 0x2008, 15, 2, false, &state)).To(BeFalse())

		Expect(c.Mismatches()).To(Equal(uint64(1)))
		Expect(out.String()).To(ContainSubstring("*ER NO RECORD!!"))
	})

	It("should report a PC that differs from the reference", func() {
		buf := oracle.NewBuffer(4)
		c := oracle.NewChecker(buf, &straightLine{n: 4}, 0x2000, oracle.WithOutput(&out))

		Expect(c.CheckInstruction(0, 0, 0x2100, 15, 0, false, &state)).To(BeFalse())
		Expect(out.String()).To(ContainSubstring("*ER PC MISMATCH!!"))
	})

	It("should skip fission pieces", func() {
		c := oracle.NewChecker(oracle.NewBuffer(4), &straightLine{n: 2}, 0x2000,
			oracle.WithOutput(&out))

		Expect(c.CheckInstruction(0, 0, 0x2000, 0, 0, true, &state)).To(BeTrue())
		Expect(c.CheckInstruction(0, 0, 0x2000, 15, 0, false, &state)).To(BeTrue())
		Expect(c.Checked()).To(Equal(uint64(1)))
	})

	It("should report control state differences", func() {
		c := oracle.NewChecker(oracle.NewBuffer(4), &straightLine{n: 2}, 0x2000,
			oracle.WithOutput(&out))
		state.EPC = 0x1234

		Expect(c.CheckInstruction(0, 0, 0x2000, 15, 0, false, &state)).To(BeFalse())
		Expect(c.Mismatches()).To(Equal(uint64(1)))
		Expect(out.String()).To(ContainSubstring("*ER STATE MISMATCH!!"))
		Expect(out.String()).To(ContainSubstring("epc"))
	})

	It("should keep the buffer topped up", func() {
		buf := oracle.NewBuffer(4)
		c := oracle.NewChecker(buf, &straightLine{n: 100}, 0x2000, oracle.WithOutput(&out))
		Expect(buf.Len()).To(Equal(4))

		c.CheckInstruction(0, 0, 0x2000, 15, 0, false, &state)

		Expect(buf.Len()).To(Equal(4))
		Expect(buf.Head()).To(Equal(uint64(1)))
	})
})
