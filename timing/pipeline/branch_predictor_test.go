package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/micros/insts"
	"github.com/sarchlab/micros/timing/pipeline"
)

var _ = Describe("BranchPredictor", func() {
	var (
		bp      *pipeline.BranchPredictor
		decoder *insts.Decoder
	)

	BeforeEach(func() {
		bp = pipeline.NewBranchPredictor(pipeline.BranchPredictorConfig{
			BHTSize: 16,
			BTBSize: 8,
			RASSize: 2,
		})
		decoder = insts.NewDecoder()
	})

	Describe("Prediction", func() {
		It("should initially predict taken (biased)", func() {
			Expect(bp.Predict(0x1000).Taken).To(BeTrue())
		})

		It("should not know target initially", func() {
			Expect(bp.Predict(0x1000).TargetKnown).To(BeFalse())
		})

		It("should learn branch patterns", func() {
			for i := 0; i < 10; i++ {
				bp.Update(0x1000, true, 0x2000)
			}

			pred := bp.Predict(0x1000)
			Expect(pred.Taken).To(BeTrue())
			Expect(pred.TargetKnown).To(BeTrue())
			Expect(pred.Target).To(Equal(uint64(0x2000)))
		})

		It("should learn not-taken pattern", func() {
			for i := 0; i < 10; i++ {
				bp.Update(0x1000, false, 0)
			}

			Expect(bp.Predict(0x1000).Taken).To(BeFalse())
		})
	})

	Describe("2-bit saturating counter", func() {
		It("should require 2 mispredictions to change direction", func() {
			for i := 0; i < 4; i++ {
				bp.Update(0x1000, true, 0x2000)
			}

			bp.Update(0x1000, false, 0)
			Expect(bp.Predict(0x1000).Taken).To(BeTrue())

			bp.Update(0x1000, false, 0)
			Expect(bp.Predict(0x1000).Taken).To(BeFalse())
		})
	})

	Describe("BTB", func() {
		It("should not cache not-taken branches", func() {
			bp.Update(0x1000, false, 0x2000)
			Expect(bp.Predict(0x1000).TargetKnown).To(BeFalse())
		})

		It("should replace conflicting entries", func() {
			// 0x1000 and 0x1020 share a BTB index with 8 entries.
			bp.Update(0x1000, true, 0x2000)
			bp.Update(0x1020, true, 0x3000)

			Expect(bp.Predict(0x1000).TargetKnown).To(BeFalse())
			Expect(bp.Predict(0x1020).Target).To(Equal(uint64(0x3000)))
		})
	})

	Describe("PredictNext", func() {
		It("should follow direct jumps", func() {
			jal := decoder.Decode(insts.JAL(0, 0x40))
			Expect(bp.PredictNext(jal, 0x2000)).To(Equal(uint64(0x2040)))
		})

		It("should predict taken conditional branches to their target", func() {
			bne := decoder.Decode(insts.BNE(1, 0, -8))
			Expect(bp.PredictNext(bne, 0x2010)).To(Equal(uint64(0x2008)))
		})

		It("should fall through once a branch is learned not taken", func() {
			bne := decoder.Decode(insts.BNE(1, 0, -8))
			bp.Resolve(bne, 0x2010, 0x2014)
			bp.Resolve(bne, 0x2010, 0x2014)

			Expect(bp.PredictNext(bne, 0x2010)).To(Equal(uint64(0x2014)))
		})

		It("should predict returns from the return address stack", func() {
			call := decoder.Decode(insts.JAL(1, 0x100))
			ret := decoder.Decode(insts.JALR(0, 1, 0))

			bp.PredictNext(call, 0x2000)

			Expect(bp.PredictNext(ret, 0x2100)).To(Equal(uint64(0x2004)))
			Expect(bp.Stats().RASHits).To(Equal(uint64(1)))
		})

		It("should keep only the newest returns when the stack overflows", func() {
			call := decoder.Decode(insts.JAL(1, 0x100))
			ret := decoder.Decode(insts.JALR(0, 1, 0))

			bp.PredictNext(call, 0x2000)
			bp.PredictNext(call, 0x3000)
			bp.PredictNext(call, 0x4000)

			Expect(bp.PredictNext(ret, 0x5000)).To(Equal(uint64(0x4004)))
			Expect(bp.PredictNext(ret, 0x5000)).To(Equal(uint64(0x3004)))
			Expect(bp.PredictNext(ret, 0x5000)).To(Equal(uint64(0x5004)))
			Expect(bp.Stats().RASMisses).To(Equal(uint64(1)))
		})

		It("should predict indirect jumps from the BTB", func() {
			jr := decoder.Decode(insts.JALR(0, 6, 0))
			Expect(bp.PredictNext(jr, 0x2000)).To(Equal(uint64(0x2004)))

			bp.Resolve(jr, 0x2000, 0x9000)

			Expect(bp.PredictNext(jr, 0x2000)).To(Equal(uint64(0x9000)))
		})

		It("should fall through for other instructions", func() {
			add := decoder.Decode(insts.ADD(1, 2, 3))
			Expect(bp.PredictNext(add, 0x2000)).To(Equal(uint64(0x2004)))
		})
	})

	Describe("Statistics", func() {
		It("should compute accuracy correctly", func() {
			for i := 0; i < 4; i++ {
				bp.Predict(0x1000)
			}
			bp.Update(0x1000, true, 0x2000)
			bp.Update(0x1000, true, 0x2000)
			bp.Update(0x1000, true, 0x2000)
			bp.Update(0x1000, false, 0)

			stats := bp.Stats()
			Expect(stats.Correct).To(Equal(uint64(3)))
			Expect(stats.Mispredictions).To(Equal(uint64(1)))
			Expect(stats.Accuracy()).To(BeNumerically("~", 75.0, 0.01))
			Expect(stats.MispredictionRate()).To(BeNumerically("~", 25.0, 0.01))
		})

		It("should report zero rates without predictions", func() {
			stats := bp.Stats()
			Expect(stats.Accuracy()).To(BeZero())
			Expect(stats.BTBHitRate()).To(BeZero())
		})

		It("should track BTB hits and misses", func() {
			bp.Predict(0x1000)
			bp.Update(0x1000, true, 0x2000)
			bp.Predict(0x1000)

			stats := bp.Stats()
			Expect(stats.BTBHits).To(Equal(uint64(1)))
			Expect(stats.BTBMisses).To(Equal(uint64(1)))
			Expect(stats.BTBHitRate()).To(BeNumerically("~", 50.0, 0.01))
		})
	})

	Describe("Reset", func() {
		It("should clear all state", func() {
			bp.Update(0x1000, false, 0)
			bp.Update(0x1000, false, 0)
			bp.Update(0x1004, true, 0x3000)
			bp.PredictNext(decoder.Decode(insts.JAL(1, 0x100)), 0x2000)

			bp.Reset()

			Expect(bp.Predict(0x1000).Taken).To(BeTrue())
			Expect(bp.Predict(0x1004).TargetKnown).To(BeFalse())
			ret := decoder.Decode(insts.JALR(0, 1, 0))
			Expect(bp.PredictNext(ret, 0x2100)).To(Equal(uint64(0x2104)))
		})
	})

	Describe("Default configuration", func() {
		It("should use the stock table sizes", func() {
			config := pipeline.DefaultBranchPredictorConfig()
			Expect(config.BHTSize).To(Equal(uint32(0x10000)))
			Expect(config.BTBSize).To(Equal(uint32(0x1000)))
			Expect(config.RASSize).To(Equal(uint32(32)))
		})
	})
})
