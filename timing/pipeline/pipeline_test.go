package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/insts"
	"github.com/sarchlab/micros/timing/cache"
	"github.com/sarchlab/micros/timing/pipeline"
)

func plenty() (uint64, error) { return 1 << 40, nil }

type checkCall struct {
	pc, destID, destValue uint64
	fission               bool
}

type recordingChecker struct {
	calls []checkCall
}

func (r *recordingChecker) CheckInstruction(
	_, _, pc, destID, destValue uint64, fission bool, _ *emu.ArchState,
) bool {
	r.calls = append(r.calls, checkCall{pc, destID, destValue, fission})
	return true
}

var _ = Describe("Pipeline", func() {
	var (
		mem    *emu.Memory
		hart   *emu.Hart
		config pipeline.Config
	)

	load := func(words ...uint32) {
		Expect(mem.LoadProgram(emu.ResetVector, words)).To(Succeed())
	}

	// runToTrap cycles until the pipeline reports a trap and returns it with
	// the number of instructions retired before it.
	runToTrap := func(p *pipeline.Pipeline) (pipeline.CycleResult, int) {
		retired := 0
		for i := 0; i < 10000; i++ {
			res := p.Cycle(1 << 30)
			retired += res.Retired
			if res.Trap != nil {
				return res, retired
			}
		}
		Fail("pipeline never trapped")
		return pipeline.CycleResult{}, retired
	}

	BeforeEach(func() {
		var err error
		mem, err = emu.NewMemory(1<<20, emu.WithAvailableMemory(plenty))
		Expect(err).NotTo(HaveOccurred())
		hart = emu.NewHart(0, mem)
		config = pipeline.DefaultConfig()
		config.PayloadEntries = 64
	})

	It("should retire straight-line code in order", func() {
		load(
			insts.ADDI(1, 0, 1),
			insts.ADDI(2, 0, 2),
			insts.ADDI(3, 0, 3),
			insts.ADD(4, 1, 2),
			0xffffffff,
		)
		checker := &recordingChecker{}
		p := pipeline.New(hart, config, pipeline.WithChecker(checker))

		res, retired := runToTrap(p)

		Expect(retired).To(Equal(4))
		Expect(res.Trap.Cause).To(Equal(emu.CauseIllegalInstruction))
		Expect(res.TrapPC).To(Equal(emu.ResetVector + 16))
		Expect(hart.State().XPR[4]).To(Equal(uint64(3)))
		Expect(checker.calls).To(Equal([]checkCall{
			{0x2000, 1, 1, false},
			{0x2004, 2, 2, false},
			{0x2008, 3, 3, false},
			{0x200c, 4, 3, false},
		}))
		Expect(p.Stats().Instructions).To(Equal(uint64(4)))
	})

	It("should never retire more than asked", func() {
		load(insts.ADDI(1, 0, 1), insts.ADDI(2, 0, 2), insts.ADDI(3, 0, 3), insts.ADDI(4, 0, 4))
		p := pipeline.New(hart, config)

		for i := 0; i < 20; i++ {
			Expect(p.Cycle(1).Retired).To(BeNumerically("<=", 1))
		}
	})

	It("should advance the cycle counter once per call", func() {
		p := pipeline.New(hart, config)

		p.Cycle(8)
		p.Cycle(8)
		p.Cycle(0)

		Expect(p.Now()).To(Equal(uint64(3)))
		Expect(p.Stats().Cycles).To(Equal(uint64(3)))
	})

	Describe("hazards", func() {
		It("should stall a consumer until its producer completes", func() {
			hart.State().XPR[1] = 6
			hart.State().XPR[2] = 7
			load(insts.MUL(3, 1, 2), insts.ADD(4, 3, 3), 0xffffffff)
			p := pipeline.New(hart, config)

			runToTrap(p)

			Expect(hart.State().XPR[4]).To(Equal(uint64(84)))
			Expect(p.Stats().DataHazards).NotTo(BeZero())
		})

		It("should not stall independent instructions", func() {
			hart.State().XPR[1] = 6
			hart.State().XPR[2] = 7
			load(insts.MUL(3, 1, 2), insts.ADD(4, 1, 2), 0xffffffff)
			p := pipeline.New(hart, config)

			runToTrap(p)

			Expect(p.Stats().DataHazards).To(BeZero())
		})
	})

	Describe("control flow", func() {
		It("should recover from a mispredicted loop exit", func() {
			load(
				insts.ADDI(1, 0, 10),
				insts.ADDI(2, 2, 1),
				insts.ADDI(1, 1, -1),
				insts.BNE(1, 0, -8),
				insts.ADDI(3, 0, 7),
				0xffffffff,
			)
			p := pipeline.New(hart, config)

			res, retired := runToTrap(p)

			Expect(retired).To(Equal(32))
			Expect(res.TrapPC).To(Equal(emu.ResetVector + 20))
			Expect(hart.State().XPR[2]).To(Equal(uint64(10)))
			Expect(hart.State().XPR[3]).To(Equal(uint64(7)))
			Expect(p.Stats().Mispredictions).NotTo(BeZero())
			Expect(p.Stats().Squashed).NotTo(BeZero())
		})

		It("should report a fetch fault at the faulting address", func() {
			hart.State().XPR[5] = 0x200000
			load(insts.JALR(0, 5, 0))
			p := pipeline.New(hart, config)

			res, retired := runToTrap(p)

			Expect(retired).To(Equal(1))
			Expect(res.Trap.Cause).To(Equal(emu.CauseFaultFetch))
			Expect(res.TrapPC).To(Equal(uint64(0x200000)))
		})
	})

	Describe("serialization", func() {
		It("should end the cycle after a timer write retires", func() {
			load(
				insts.ADDI(1, 0, 100),
				insts.CSRRW(0, emu.CSRCompare, 1),
				insts.ADDI(2, 0, 1),
			)
			p := pipeline.New(hart, config)

			var res pipeline.CycleResult
			retired := 0
			for i := 0; i < 100 && !res.Serialize; i++ {
				res = p.Cycle(8)
				retired += res.Retired
			}

			Expect(res.Serialize).To(BeTrue())
			Expect(retired).To(Equal(2))
			Expect(hart.State().Compare).To(Equal(uint32(100)))
		})
	})

	Describe("flush and drain", func() {
		It("should restart fetch at the hart's PC after a flush", func() {
			load(0xffffffff)
			Expect(mem.LoadProgram(0x3000, []uint32{insts.ADDI(1, 0, 5), 0xffffffff})).To(Succeed())
			p := pipeline.New(hart, config)

			res, _ := runToTrap(p)
			hart.State().EVec = 0x3000
			hart.TakeTrap(res.Trap, res.TrapPC)
			p.Flush()

			Expect(p.FetchPC()).To(Equal(uint64(0x3000)))
			Expect(p.Empty()).To(BeTrue())

			res, retired := runToTrap(p)
			Expect(retired).To(Equal(1))
			Expect(res.TrapPC).To(Equal(uint64(0x3004)))
			Expect(p.Stats().Flushes).To(Equal(uint64(1)))
		})

		It("should retire issued instructions and fetch nothing while draining", func() {
			words := make([]uint32, 64)
			for i := range words {
				words[i] = insts.ADDI(1, 1, 1)
			}
			load(words...)
			p := pipeline.New(hart, config)

			for i := 0; i < 5; i++ {
				p.Cycle(8)
			}
			p.Drain()
			for i := 0; i < 10; i++ {
				p.Cycle(8)
			}

			Expect(p.Empty()).To(BeTrue())
			Expect(p.InFlight()).To(BeZero())
			Expect(hart.State().XPR[1]).To(Equal(p.Stats().Instructions))
			Expect(p.Store().Len()).To(BeZero())
		})
	})

	Describe("caches", func() {
		It("should stall fetch on an instruction cache miss", func() {
			load(insts.ADDI(1, 0, 1), 0xffffffff)
			icache := cache.New(cache.Config{
				Name: "L1I", Sets: 16, Ways: 2, BlockSize: 64,
				HitLatency: 1, MissLatency: 50,
			}, nil)
			p := pipeline.New(hart, config, pipeline.WithICache(icache))

			runToTrap(p)

			Expect(p.Now()).To(BeNumerically(">", 50))
			Expect(p.Stats().FetchStalls).NotTo(BeZero())
			Expect(icache.Stats().Misses).To(Equal(uint64(1)))
		})

		It("should charge data cache latency to loads", func() {
			hart.State().XPR[1] = 0x8000
			load(insts.LD(2, 1, 0), insts.ADDI(3, 2, 1), 0xffffffff)
			dcache := cache.New(cache.Config{
				Name: "L1D", Sets: 16, Ways: 2, BlockSize: 64,
				HitLatency: 1, MissLatency: 40,
			}, nil)
			p := pipeline.New(hart, config, pipeline.WithDCache(dcache))

			runToTrap(p)

			Expect(p.Now()).To(BeNumerically(">", 40))
			Expect(hart.State().XPR[3]).To(Equal(uint64(1)))
		})
	})

	It("should call the retire hook with each commit", func() {
		load(insts.ADDI(1, 0, 9), insts.ADDI(2, 1, 1), 0xffffffff)
		var pcs []uint64
		p := pipeline.New(hart, config, pipeline.WithRetireHook(func(c *emu.Commit) {
			pcs = append(pcs, c.PC)
		}))

		runToTrap(p)

		Expect(pcs).To(Equal([]uint64{0x2000, 0x2004}))
	})
})
