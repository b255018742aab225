package core_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/micros/config"
	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/insts"
	"github.com/sarchlab/micros/timing/core"
)

func plenty() (uint64, error) { return 1 << 40, nil }

type fakeChecker struct {
	pcs []uint64
}

func (f *fakeChecker) CheckInstruction(
	_, _, pc, _, _ uint64, fission bool, _ *emu.ArchState,
) bool {
	if !fission {
		f.pcs = append(f.pcs, pc)
	}
	return true
}

var _ = Describe("Core", func() {
	var (
		mem  *emu.Memory
		hart *emu.Hart
		cfg  config.Config
	)

	load := func(addr uint64, words ...uint32) {
		Expect(mem.LoadProgram(addr, words)).To(Succeed())
	}

	straightLine := func(n int) {
		words := make([]uint32, n)
		for i := range words {
			words[i] = insts.ADDI(1, 1, 1)
		}
		load(emu.ResetVector, words...)
	}

	BeforeEach(func() {
		var err error
		mem, err = emu.NewMemory(1<<20, emu.WithAvailableMemory(plenty))
		Expect(err).NotTo(HaveOccurred())
		hart = emu.NewHart(0, mem)

		cfg = config.Default()
		cfg.Mode = config.ModeFunctional
		cfg.PayloadEntries = 64
	})

	Describe("timer", func() {
		var c *core.Core

		BeforeEach(func() {
			c = core.New(0, hart, cfg)
		})

		timerPending := func() bool {
			return hart.State().SR&(1<<(emu.IRQTimer+emu.SRIPShift)) != 0
		}

		It("should measure the distance to compare", func() {
			hart.State().Compare = 5
			hart.State().Count = 3
			Expect(c.NextTimer()).To(Equal(uint32(2)))

			hart.State().Compare = 1
			hart.State().Count = 0xffffffff
			Expect(c.NextTimer()).To(Equal(uint32(2)))
		})

		It("should raise the interrupt on the tick that reaches compare", func() {
			hart.State().Compare = 5

			c.TickTimer(4)
			Expect(timerPending()).To(BeFalse())

			c.TickTimer(1)
			Expect(timerPending()).To(BeTrue())
			Expect(hart.State().Count).To(Equal(uint64(5)))
		})

		It("should not fire when compare equals the starting count", func() {
			c.TickTimer(1)
			Expect(timerPending()).To(BeFalse())
		})

		It("should fire across the 32-bit wrap", func() {
			hart.State().Count = 1<<32 | 0xfffffffe
			hart.State().Compare = 1

			c.TickTimer(2)
			Expect(timerPending()).To(BeFalse())

			c.TickTimer(1)
			Expect(timerPending()).To(BeTrue())
			Expect(hart.State().Count).To(Equal(uint64(2)<<32 | 1))
		})

		DescribeTable("crossing compare within one tick",
			func(count uint64, compare uint32, delta uint64, raised bool) {
				hart.State().Count = count
				hart.State().Compare = compare

				c.TickTimer(delta)
				Expect(timerPending()).To(Equal(raised))
				Expect(hart.State().Count).To(Equal(count + delta))
			},
			Entry("one short of compare", uint64(99), uint32(100), uint64(2), true),
			Entry("far below compare", uint64(50), uint32(100), uint64(2), false),
			Entry("landing exactly on a distant compare",
				uint64(0), uint32(0x90000000), uint64(0x90000000), true),
			Entry("passing a compare more than 2^31 away",
				uint64(0), uint32(0x80000001), uint64(0xa0000000), true),
			Entry("wrapping almost the whole circle",
				uint64(10), uint32(5), uint64(0xffffffff), true),
			Entry("stopping one short of a distant compare",
				uint64(0), uint32(0x90000000), uint64(0x8fffffff), false),
			Entry("a full circle from compare", uint64(7), uint32(7), uint64(1)<<32, true),
		)

		It("should cut the batch at the timer event", func() {
			straightLine(64)
			hart.State().Compare = 5

			Expect(c.Step(100)).To(Equal(uint64(5)))
			Expect(timerPending()).To(BeTrue())
		})

		It("should always allow one instruction", func() {
			straightLine(4)
			hart.State().Compare = 0

			Expect(c.Step(100)).To(Equal(uint64(1)))
		})
	})

	Describe("functional mode", func() {
		It("should retire the requested number of instructions", func() {
			straightLine(64)
			hart.State().Compare = 1000
			c := core.New(0, hart, cfg)

			Expect(c.Step(10)).To(Equal(uint64(10)))
			Expect(hart.State().XPR[1]).To(Equal(uint64(10)))
			Expect(c.Stats().Instructions).To(Equal(uint64(10)))
			Expect(hart.State().Count).To(Equal(uint64(10)))
		})

		It("should end the batch on a trap and enter the handler", func() {
			load(emu.ResetVector, insts.ADDI(1, 0, 1), insts.ADDI(2, 0, 2), 0xffffffff)
			hart.State().EVec = 0x3000
			hart.State().Compare = 1000
			c := core.New(0, hart, cfg)

			Expect(c.Step(10)).To(Equal(uint64(2)))
			Expect(hart.State().PC).To(Equal(uint64(0x3000)))
			Expect(hart.State().EPC).To(Equal(emu.ResetVector + 8))
			Expect(hart.State().Cause).To(Equal(emu.CauseIllegalInstruction))
			Expect(c.Stats().Traps).To(Equal(uint64(1)))
		})

		It("should end the batch after a serializing instruction", func() {
			load(emu.ResetVector,
				insts.ADDI(1, 0, 100),
				insts.CSRRW(0, emu.CSRCompare, 1),
				insts.ADDI(2, 0, 1),
			)
			hart.State().Compare = 1000
			c := core.New(0, hart, cfg)

			Expect(c.Step(10)).To(Equal(uint64(2)))
			Expect(c.Stats().Serializations).To(Equal(uint64(1)))
			Expect(hart.State().Compare).To(Equal(uint32(100)))
		})

		It("should take a pending interrupt before the batch", func() {
			load(0x3000, insts.ADDI(5, 0, 1))
			s := hart.State()
			s.EVec = 0x3000
			s.Compare = 1000
			s.SR |= emu.SREI | 1<<(emu.IRQIPI+emu.SRIMShift)
			c := core.New(0, hart, cfg)

			c.SendIPI()
			Expect(c.Step(1)).To(Equal(uint64(1)))

			Expect(s.EPC).To(Equal(emu.ResetVector))
			Expect(s.Cause).To(Equal(emu.CauseInterrupt | emu.IRQIPI))
			Expect(s.XPR[5]).To(Equal(uint64(1)))
			Expect(c.Stats().Interrupts).To(Equal(uint64(1)))
		})

		It("should leave masked interrupts pending", func() {
			straightLine(4)
			hart.State().Compare = 1000
			c := core.New(0, hart, cfg)

			c.SendIPI()
			c.Step(1)

			Expect(c.Stats().Interrupts).To(BeZero())
		})

		It("should yield the load reservation on request", func() {
			c := core.New(0, hart, cfg)
			hart.MMU().AcquireLoadReservation(0x100)

			c.YieldLoadReservation()

			Expect(hart.MMU().HasLoadReservation()).To(BeFalse())
		})
	})

	Describe("checking", func() {
		It("should check every commit and every synchronous trap", func() {
			load(emu.ResetVector, insts.ADDI(1, 0, 1), insts.SCALL())
			hart.State().EVec = 0x3000
			hart.State().Compare = 1000
			checker := &fakeChecker{}
			c := core.New(0, hart, cfg, core.WithChecker(checker))

			c.Step(10)

			Expect(checker.pcs).To(Equal([]uint64{0x2000, 0x2004}))
		})

		It("should stop checking when disabled", func() {
			straightLine(8)
			hart.State().Compare = 1000
			checker := &fakeChecker{}
			c := core.New(0, hart, cfg, core.WithChecker(checker))

			c.SetChecking(false)
			c.Step(4)

			Expect(c.Checking()).To(BeFalse())
			Expect(checker.pcs).To(BeEmpty())
		})

		It("should not enable checking without a checker", func() {
			c := core.New(0, hart, cfg)
			c.SetChecking(true)
			Expect(c.Checking()).To(BeFalse())
		})
	})

	Describe("debug mode", func() {
		It("should trace each instruction", func() {
			straightLine(4)
			hart.State().Compare = 1000
			out := &bytes.Buffer{}
			cfg.Debug = true
			c := core.New(0, hart, cfg, core.WithOutput(out))

			Expect(c.Debug()).To(BeTrue())
			Expect(c.Step(2)).To(Equal(uint64(2)))
			Expect(out.String()).To(ContainSubstring("core   0: 0x0000000000002000"))
			Expect(out.String()).To(ContainSubstring("addi"))
		})
	})

	It("should report every commit to the observer", func() {
		straightLine(8)
		hart.State().Compare = 1000
		var pcs []uint64
		c := core.New(3, hart, cfg, core.WithCommitObserver(func(id int, commit *emu.Commit) {
			Expect(id).To(Equal(3))
			pcs = append(pcs, commit.PC)
		}))

		c.Step(3)

		Expect(pcs).To(Equal([]uint64{0x2000, 0x2004, 0x2008}))
	})

	Describe("pipelined mode", func() {
		BeforeEach(func() {
			cfg.Mode = config.ModePipelined
		})

		run := func(c *core.Core) {
			for i := 0; i < 10000 && c.Stats().Traps == 0; i++ {
				c.Step(1000)
			}
			Expect(c.Stats().Traps).To(Equal(uint64(1)))
		}

		It("should build the cache hierarchy", func() {
			c := core.New(0, hart, cfg)

			icache, dcache, l2 := c.Caches()
			Expect(c.Pipeline()).NotTo(BeNil())
			Expect(icache.Config().Sets).To(Equal(128))
			Expect(dcache.Config().Ways).To(Equal(4))
			Expect(l2).NotTo(BeNil())
		})

		It("should skip the L2 when it is absent", func() {
			cfg.Core.L2Present = false
			c := core.New(0, hart, cfg)

			_, _, l2 := c.Caches()
			Expect(l2).To(BeNil())
		})

		It("should end a batch that retires nothing after one cycle", func() {
			straightLine(8)
			hart.State().Compare = 1000
			c := core.New(0, hart, cfg)

			Expect(c.Step(100)).To(BeZero())
			Expect(c.Stats().Cycles).To(Equal(uint64(1)))
			Expect(c.Stats().IdleBatches).To(Equal(uint64(1)))
		})

		It("should compute the same result as functional mode", func() {
			load(emu.ResetVector,
				insts.ADDI(1, 0, 10),
				insts.ADDI(2, 2, 1),
				insts.ADDI(1, 1, -1),
				insts.BNE(1, 0, -8),
				0xffffffff,
			)
			hart.State().EVec = 0x3000
			hart.State().Compare = 100000
			checker := &fakeChecker{}
			c := core.New(0, hart, cfg, core.WithChecker(checker))

			run(c)

			Expect(hart.State().XPR[2]).To(Equal(uint64(10)))
			Expect(hart.State().PC).To(Equal(uint64(0x3000)))
			Expect(c.Stats().Instructions).To(Equal(uint64(31)))
			Expect(c.Stats().Cycles).To(BeNumerically(">", 31))
			Expect(checker.pcs).To(HaveLen(32))
			Expect(hart.State().Count).To(Equal(uint64(31)))
		})

		It("should print progress lines", func() {
			straightLine(256)
			hart.State().Compare = 100000
			out := &bytes.Buffer{}
			cfg.ProgressInterval = 4
			c := core.New(0, hart, cfg, core.WithOutput(out))

			for i := 0; i < 20; i++ {
				c.Step(1000)
			}

			Expect(out.String()).To(ContainSubstring("(cycle = 4)"))
		})

		It("should drain the pipeline on Quiesce", func() {
			straightLine(2048)
			hart.State().Compare = 100000
			c := core.New(0, hart, cfg)

			for c.Stats().Instructions == 0 {
				c.Step(16)
			}
			Expect(c.Pipeline().Empty()).To(BeFalse())
			c.Quiesce()

			Expect(c.Pipeline().Empty()).To(BeTrue())
			Expect(hart.State().XPR[1]).To(Equal(c.Stats().Instructions))
			Expect(hart.State().PC).To(Equal(emu.ResetVector + 4*c.Stats().Instructions))
		})

		It("should skip functionally past the pipeline", func() {
			straightLine(256)
			hart.State().Compare = 100000
			c := core.New(0, hart, cfg)

			Expect(c.Skip(40)).To(Equal(uint64(40)))
			Expect(hart.State().XPR[1]).To(Equal(uint64(40)))
			Expect(c.Pipeline().Empty()).To(BeTrue())
			Expect(c.Pipeline().FetchPC()).To(Equal(emu.ResetVector + 160))
		})
	})
})
