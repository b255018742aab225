package emu_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/insts"
)

type doubler struct{}

func (doubler) Execute(_ *insts.Instruction, rs1, rs2 uint64) (uint64, error) {
	if rs2 != 0 {
		return 0, errors.New("unsupported")
	}
	return rs1 * 2, nil
}

var _ = Describe("Hart", func() {
	var (
		mem  *emu.Memory
		hart *emu.Hart
	)

	load := func(words ...uint32) {
		Expect(mem.LoadProgram(emu.ResetVector, words)).To(Succeed())
	}

	step := func() emu.Commit {
		c, trap := hart.Step()
		Expect(trap).To(BeNil())
		return c
	}

	BeforeEach(func() {
		var err error
		mem, err = emu.NewMemory(1<<20, emu.WithAvailableMemory(plenty))
		Expect(err).NotTo(HaveOccurred())
		hart = emu.NewHart(0, mem, emu.WithAccelerator(doubler{}))
	})

	It("should reset into supervisor mode at the reset vector", func() {
		Expect(hart.State().PC).To(Equal(emu.ResetVector))
		Expect(hart.State().SR & emu.SRS).NotTo(BeZero())
		Expect(hart.State().SR & emu.SREI).To(BeZero())
	})

	Describe("integer instructions", func() {
		It("should execute addi and record the destination", func() {
			load(insts.ADDI(10, 0, 42))

			c := step()

			Expect(hart.State().XPR[10]).To(Equal(uint64(42)))
			Expect(c.HasDest).To(BeTrue())
			Expect(c.DestID).To(Equal(uint64(10)))
			Expect(c.DestValue).To(Equal(uint64(42)))
			Expect(c.NextPC).To(Equal(emu.ResetVector + 4))
			Expect(hart.State().PC).To(Equal(emu.ResetVector + 4))
		})

		It("should keep x0 hardwired to zero", func() {
			load(insts.ADDI(0, 0, 5))

			c := step()

			Expect(hart.State().XPR[0]).To(BeZero())
			Expect(c.HasDest).To(BeFalse())
		})

		It("should follow RISC-V division corner cases", func() {
			hart.State().XPR[1] = uint64(1) << 63
			hart.State().XPR[2] = math.MaxUint64
			load(insts.DIV(3, 1, 2), insts.DIV(4, 1, 0))

			step()
			step()

			Expect(hart.State().XPR[3]).To(Equal(uint64(1) << 63))
			Expect(hart.State().XPR[4]).To(Equal(uint64(math.MaxUint64)))
		})

		It("should take a backward branch", func() {
			load(insts.ADDI(1, 0, 2), insts.ADDI(1, 1, -1), insts.BNE(1, 0, -4))

			step()
			step()
			c := step()

			Expect(c.NextPC).To(Equal(emu.ResetVector + 4))
			step()
			c = step()
			Expect(c.NextPC).To(Equal(emu.ResetVector + 12))
		})
	})

	Describe("memory instructions", func() {
		It("should store and load doublewords", func() {
			hart.State().XPR[5] = 0x8000
			hart.State().XPR[6] = 0xdeadbeefcafef00d
			load(insts.SD(6, 5, 8), insts.LD(7, 5, 8))

			c := step()
			Expect(c.HasMem).To(BeTrue())
			Expect(c.Addr).To(Equal(uint64(0x8008)))

			step()
			Expect(hart.State().XPR[7]).To(Equal(uint64(0xdeadbeefcafef00d)))
		})

		It("should sign-extend lw", func() {
			mem.Write(0x8000, 4, 0xffffff00)
			hart.State().XPR[5] = 0x8000
			load(insts.LW(7, 5, 0))

			step()

			Expect(hart.State().XPR[7]).To(Equal(uint64(0xffffffffffffff00)))
		})

		It("should trap on out-of-range loads without touching state", func() {
			hart.State().XPR[5] = 1 << 30
			load(insts.LD(7, 5, 0))

			_, trap := hart.Step()

			Expect(trap).NotTo(BeNil())
			Expect(trap.Cause).To(Equal(emu.CauseFaultLoad))
			Expect(trap.HasBadVAddr).To(BeTrue())
			Expect(trap.BadVAddr).To(Equal(uint64(1 << 30)))
			Expect(hart.State().PC).To(Equal(emu.ResetVector))
		})

		It("should trap on misaligned stores", func() {
			hart.State().XPR[5] = 0x8001
			load(insts.SD(6, 5, 0))

			_, trap := hart.Step()

			Expect(trap.Cause).To(Equal(emu.CauseMisalignedStore))
		})

		It("should honour the load reservation in store-conditional", func() {
			hart.State().XPR[5] = 0x8000
			hart.State().XPR[6] = 77
			load(insts.LRD(7, 5), insts.SCD(8, 5, 6), insts.SCD(9, 5, 6))

			step()
			Expect(hart.MMU().HasLoadReservation()).To(BeTrue())
			step()
			Expect(hart.State().XPR[8]).To(BeZero())
			Expect(mem.Read64(0x8000)).To(Equal(uint64(77)))
			step()
			Expect(hart.State().XPR[9]).To(Equal(uint64(1)))
		})
	})

	Describe("floating point", func() {
		It("should trap when the FPU is disabled", func() {
			load(insts.FMVDX(1, 0))

			_, trap := hart.Step()

			Expect(trap.Cause).To(Equal(emu.CauseFPDisabled))
		})

		It("should add doubles once enabled", func() {
			hart.State().SR |= emu.SREF
			hart.State().XPR[1] = math.Float64bits(1.5)
			hart.State().XPR[2] = math.Float64bits(2.25)
			load(insts.FMVDX(1, 1), insts.FMVDX(2, 2),
				insts.FADDD(3, 1, 2), insts.FMVXD(4, 3))

			step()
			step()
			c := step()
			Expect(c.DestID).To(Equal(uint64(32 + 3)))
			step()

			Expect(math.Float64frombits(hart.State().XPR[4])).To(Equal(3.75))
			Expect(hart.State().ReadReg(35)).To(Equal(math.Float64bits(3.75)))
		})
	})

	Describe("system instructions", func() {
		It("should raise a syscall trap", func() {
			load(insts.SCALL())

			_, trap := hart.Step()

			Expect(trap.Cause).To(Equal(emu.CauseSyscall))
			Expect(trap.IsInterrupt()).To(BeFalse())
		})

		It("should read and write CSRs atomically", func() {
			hart.State().XPR[2] = 0x1234
			load(insts.CSRRW(1, emu.CSRSup0, 2))

			c := step()

			Expect(c.HasCSR).To(BeTrue())
			Expect(c.CSROld).To(BeZero())
			Expect(c.CSRNew).To(Equal(uint64(0x1234)))
			Expect(hart.State().PCRK0).To(Equal(uint64(0x1234)))
		})

		It("should refuse supervisor CSRs in user mode", func() {
			hart.State().SR &^= emu.SRS
			load(insts.CSRRW(1, emu.CSRSup0, 2))

			_, trap := hart.Step()

			Expect(trap.Cause).To(Equal(emu.CausePrivilegedInstruction))
		})

		It("should restore privilege on eret", func() {
			s := hart.State()
			s.EPC = 0x3000
			s.SR = emu.SRS | emu.SRPEI
			load(insts.ERET())

			c := step()

			Expect(c.NextPC).To(Equal(uint64(0x3000)))
			Expect(s.SR & emu.SRS).To(BeZero())
			Expect(s.SR & emu.SREI).NotTo(BeZero())
		})

		It("should enter the handler on a trap and keep the shadow bits", func() {
			s := hart.State()
			s.EVec = 0x4000
			s.SR = emu.SRS | emu.SREI | emu.SRS64
			hart.MMU().AcquireLoadReservation(0x100)
			load(insts.LW(1, 0, 0x7ff))

			_, trap := hart.Step()
			vec := hart.TakeTrap(trap, emu.ResetVector)

			Expect(vec).To(Equal(uint64(0x4000)))
			Expect(s.PC).To(Equal(uint64(0x4000)))
			Expect(s.EPC).To(Equal(emu.ResetVector))
			Expect(s.Cause).To(Equal(emu.CauseMisalignedLoad))
			Expect(s.BadVAddr).To(Equal(uint64(0x7ff)))
			Expect(s.SR & emu.SRS).NotTo(BeZero())
			Expect(s.SR & emu.SRPS).NotTo(BeZero())
			Expect(s.SR & emu.SRPEI).NotTo(BeZero())
			Expect(s.SR & emu.SREI).To(BeZero())
			Expect(hart.MMU().HasLoadReservation()).To(BeFalse())
		})

		It("should return to user mode through trap and eret", func() {
			s := hart.State()
			s.EVec = 0x4000
			s.SR = emu.SREI | emu.SRS64
			Expect(mem.LoadProgram(0x4000, []uint32{insts.ERET()})).To(Succeed())

			hart.TakeTrap(emu.InterruptTrap(emu.IRQTimer), 0x2010)
			Expect(s.Cause).To(Equal(emu.CauseInterrupt | emu.IRQTimer))

			step()

			Expect(s.PC).To(Equal(uint64(0x2010)))
			Expect(s.SR & emu.SRS).To(BeZero())
			Expect(s.SR & emu.SREI).NotTo(BeZero())
		})

		It("should dispatch custom-0 to the accelerator", func() {
			hart.State().XPR[2] = 21
			load(insts.Custom0(0, 1, 2, 0))

			step()

			Expect(hart.State().XPR[1]).To(Equal(uint64(42)))
		})

		It("should treat unknown encodings as illegal", func() {
			load(0xffffffff)

			_, trap := hart.Step()

			Expect(trap.Cause).To(Equal(emu.CauseIllegalInstruction))
		})
	})
})
