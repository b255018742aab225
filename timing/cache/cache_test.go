package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/timing/cache"
)

func plenty() (uint64, error) { return 1 << 40, nil }

var _ = Describe("Cache", func() {
	var (
		c       *cache.Cache
		memory  *emu.Memory
		backing *cache.MemoryBacking
	)

	BeforeEach(func() {
		var err error
		memory, err = emu.NewMemory(1<<20, emu.WithAvailableMemory(plenty))
		Expect(err).NotTo(HaveOccurred())
		backing = cache.NewMemoryBacking(memory, 100)
		// 16 sets, 4-way, 64B lines: 4KB
		c = cache.New(cache.Config{
			Name:        "L1D$",
			Sets:        16,
			Ways:        4,
			BlockSize:   64,
			HitLatency:  1,
			MissLatency: 100,
		}, backing)
	})

	Describe("Reads", func() {
		It("should miss on a cold cache", func() {
			result := c.Access(0x1000, 8, false)

			Expect(result.Hit).To(BeFalse())
			Expect(result.Latency).To(Equal(uint64(101)))
			stats := c.Stats()
			Expect(stats.Reads).To(Equal(uint64(1)))
			Expect(stats.Misses).To(Equal(uint64(1)))
		})

		It("should hit on a cached block", func() {
			c.Access(0x1000, 8, false)

			result := c.Access(0x1000, 8, false)

			Expect(result.Hit).To(BeTrue())
			Expect(result.Latency).To(Equal(uint64(1)))
		})

		It("should hit elsewhere in the same line", func() {
			c.Access(0x1000, 4, false)

			Expect(c.Access(0x1038, 8, false).Hit).To(BeTrue())
			Expect(c.Access(0x1040, 8, false).Hit).To(BeFalse())
		})
	})

	Describe("Writes", func() {
		It("should allocate on a write miss", func() {
			result := c.Access(0x2000, 8, true)

			Expect(result.Hit).To(BeFalse())
			Expect(c.Contains(0x2000)).To(BeTrue())
			Expect(c.Stats().Writes).To(Equal(uint64(1)))
		})

		It("should write back a dirty victim", func() {
			// Five blocks mapping to set 0 in a 4-way cache.
			stride := uint64(16 * 64)
			c.Access(0, 8, true)
			for i := uint64(1); i < 5; i++ {
				c.Access(i*stride, 8, false)
			}

			stats := c.Stats()
			Expect(stats.Evictions).To(Equal(uint64(1)))
			Expect(stats.Writebacks).To(Equal(uint64(1)))
			Expect(c.Contains(0)).To(BeFalse())
			_, writes := backing.Accesses()
			Expect(writes).To(Equal(uint64(1)))
		})
	})

	Describe("LRU", func() {
		It("should evict the least recently used block", func() {
			stride := uint64(16 * 64)
			for i := uint64(0); i < 4; i++ {
				c.Access(i*stride, 8, false)
			}
			c.Access(0, 8, false)

			result := c.Access(4*stride, 8, false)

			Expect(result.Evicted).To(BeTrue())
			Expect(result.EvictedAddr).To(Equal(stride))
			Expect(c.Contains(0)).To(BeTrue())
		})
	})

	Describe("Hierarchy", func() {
		It("should add the L2 latency on an L1 miss", func() {
			l2 := cache.New(cache.Config{
				Name: "L2$", Sets: 64, Ways: 8, BlockSize: 64,
				HitLatency: 10, MissLatency: 100,
			}, backing)
			l1 := cache.New(cache.Config{
				Name: "L1D$", Sets: 16, Ways: 4, BlockSize: 64,
				HitLatency: 1, MissLatency: 100,
			}, l2)

			Expect(l1.Access(0x3000, 8, false).Latency).To(Equal(uint64(1 + 10 + 100)))

			l1.Invalidate(0x3000)
			Expect(l1.Access(0x3000, 8, false).Latency).To(Equal(uint64(1 + 10)))
			Expect(l2.Stats().Hits).To(Equal(uint64(1)))
		})

		It("should use the miss latency without a next level", func() {
			alone := cache.New(cache.Config{
				Sets: 16, Ways: 4, BlockSize: 64, HitLatency: 1, MissLatency: 100,
			}, nil)

			Expect(alone.Access(0, 8, false).Latency).To(Equal(uint64(100)))
		})
	})

	Describe("Maintenance", func() {
		It("should flush dirty blocks", func() {
			c.Access(0x1000, 8, true)
			c.Access(0x2000, 8, false)

			c.Flush()

			Expect(c.Contains(0x1000)).To(BeFalse())
			Expect(c.Contains(0x2000)).To(BeFalse())
			Expect(c.Stats().Writebacks).To(Equal(uint64(1)))
		})

		It("should reset", func() {
			c.Access(0x1000, 8, false)

			c.Reset()

			Expect(c.Contains(0x1000)).To(BeFalse())
			Expect(c.Stats()).To(Equal(cache.Statistics{}))
		})

		It("should compute the miss rate", func() {
			c.Access(0x1000, 8, false)
			c.Access(0x1000, 8, false)

			Expect(c.Stats().MissRate()).To(BeNumerically("~", 0.5))
		})
	})

	Describe("Config", func() {
		It("should reject sets that are not a power of two", func() {
			Expect(cache.Config{Sets: 12, Ways: 4, BlockSize: 64}.Validate()).NotTo(Succeed())
			Expect(cache.Config{Sets: 16, Ways: 4, BlockSize: 48}.Validate()).NotTo(Succeed())
			Expect(cache.Config{Sets: 16, Ways: 4, BlockSize: 64}.Validate()).To(Succeed())
			Expect(cache.Config{Sets: 16, Ways: 4, BlockSize: 64}.Size()).To(Equal(4096))
		})
	})
})
