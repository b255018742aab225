package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/micros/config"
)

var _ = Describe("Config", func() {
	Describe("Default", func() {
		It("should carry the stock machine parameters", func() {
			c := config.Default()

			Expect(c.NumCores).To(Equal(1))
			Expect(c.LoggingOnAt).To(Equal(int64(-2)))
			Expect(c.Quantum).To(Equal(uint64(5000)))
			Expect(c.ProgressInterval).To(Equal(uint64(0x400000)))
			Expect(c.PhaseInterval).To(Equal(uint64(10000)))
			Expect(c.Core.ActiveListSize).To(Equal(256))
			Expect(c.Core.FetchQueueSize).To(Equal(32))
			Expect(c.Core.BTBSize).To(Equal(0x1000))
			Expect(c.Core.LaneMatrix).To(Equal(config.DefaultLaneMatrix))
			Expect(c.Core.DCache.Sets).To(Equal(256))
			Expect(c.Core.ICache.Ways).To(Equal(8))
			Expect(c.Core.L2.HitLatency).To(Equal(uint64(10)))
			Expect(c.Core.L2Present).To(BeTrue())
		})

		It("should validate", func() {
			Expect(config.Default().Validate()).To(Succeed())
		})

		It("should default to 4 GiB of target memory", func() {
			c := config.Default()
			Expect(c.MemorySize()).To(Equal(uint64(4) << 30))

			c.MemoryMB = 16
			Expect(c.MemorySize()).To(Equal(uint64(16) << 20))
		})
	})

	Describe("Validate", func() {
		DescribeTable("should reject",
			func(mutate func(*config.Config), want string) {
				c := config.Default()
				mutate(&c)
				err := c.Validate()
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring(want))
			},
			Entry("zero cores", func(c *config.Config) { c.NumCores = 0 }, "num_cores"),
			Entry("zero quantum", func(c *config.Config) { c.Quantum = 0 }, "quantum"),
			Entry("unknown mode", func(c *config.Config) { c.Mode = "warp" }, "unknown mode"),
			Entry("odd btb size", func(c *config.Config) { c.Core.BTBSize = 1000 }, "btb_size"),
			Entry("zero retire width", func(c *config.Config) { c.Core.RetireWidth = 0 }, "retire_width"),
			Entry("unreachable lane", func(c *config.Config) {
				c.Core.IssueWidth = 1
				c.Core.LaneMatrix[0] = 0x2
			}, "BR has no lane"),
			Entry("bad cache sets", func(c *config.Config) { c.Core.DCache.Sets = 100 }, "dcache"),
			Entry("missing latency", func(c *config.Config) { c.Core.Latency = nil }, "latency"),
		)

		It("should report every problem at once", func() {
			c := config.Default()
			c.NumCores = 0
			c.Quantum = 0

			err := c.Validate()
			Expect(err.Error()).To(ContainSubstring("num_cores"))
			Expect(err.Error()).To(ContainSubstring("quantum"))
		})
	})

	Describe("files", func() {
		It("should round trip through JSON", func() {
			path := filepath.Join(GinkgoT().TempDir(), "micros.json")
			c := config.Default()
			c.NumCores = 4
			c.Core.LaneMatrix[2] = 0xff

			Expect(c.SaveFile(path)).To(Succeed())
			got, err := config.LoadFile(path)

			Expect(err).NotTo(HaveOccurred())
			Expect(got.NumCores).To(Equal(4))
			Expect(got.Core.LaneMatrix[2]).To(Equal(uint32(0xff)))
			Expect(got.Core.Latency).To(Equal(c.Core.Latency))
		})

		It("should keep defaults for fields the file omits", func() {
			path := filepath.Join(GinkgoT().TempDir(), "partial.json")
			Expect(os.WriteFile(path, []byte(`{"num_cores": 2}`), 0644)).To(Succeed())

			got, err := config.LoadFile(path)

			Expect(err).NotTo(HaveOccurred())
			Expect(got.NumCores).To(Equal(2))
			Expect(got.Quantum).To(Equal(uint64(5000)))
		})

		It("should fail on a missing file", func() {
			_, err := config.LoadFile(filepath.Join(GinkgoT().TempDir(), "nope.json"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ParseLaneMatrix", func() {
		It("should parse seven hex fields", func() {
			m, err := config.ParseLaneMatrix("02:11:0e:02:11:06:02")

			Expect(err).NotTo(HaveOccurred())
			Expect(m).To(Equal(config.DefaultLaneMatrix))
			Expect(m.String()).To(Equal("Lane Matrix: 0x2 0x11 0xe 0x2 0x11 0x6 0x2"))
		})

		It("should accept 0x prefixes", func() {
			m, err := config.ParseLaneMatrix("0x1:0x1:0x1:0x1:0x1:0x1:0xFF")
			Expect(err).NotTo(HaveOccurred())
			Expect(m[6]).To(Equal(uint32(0xff)))
		})

		It("should reject the wrong number of fields", func() {
			_, err := config.ParseLaneMatrix("1:2:3")
			Expect(err).To(HaveOccurred())
		})

		It("should reject non-hex fields", func() {
			_, err := config.ParseLaneMatrix("1:2:3:4:5:6:zz")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ParseCacheGeometry", func() {
		base := config.CacheGeometry{HitLatency: 3, MissLatency: 50}

		It("should parse S:W:B and keep latencies", func() {
			g, err := config.ParseCacheGeometry("64:2:32", base)

			Expect(err).NotTo(HaveOccurred())
			Expect(g.Sets).To(Equal(64))
			Expect(g.Ways).To(Equal(2))
			Expect(g.LineBits).To(Equal(5))
			Expect(g.BlockSize()).To(Equal(32))
			Expect(g.HitLatency).To(Equal(uint64(3)))
		})

		It("should reject non power-of-two sets", func() {
			_, err := config.ParseCacheGeometry("48:2:32", base)
			Expect(err).To(HaveOccurred())
		})

		It("should reject malformed input", func() {
			_, err := config.ParseCacheGeometry("64:2", base)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ApplyEnv", func() {
		It("should overlay variables from an env file", func() {
			dir := GinkgoT().TempDir()
			env := filepath.Join(dir, ".env")
			Expect(os.WriteFile(env, []byte(
				"MICROS_STATS_DB=run.sqlite3\nMICROS_MONITOR_PORT=8123\nMICROS_CHECKPOINT_DIR=/tmp/cp\n",
			), 0644)).To(Succeed())
			DeferCleanup(func() {
				os.Unsetenv(config.EnvStatsDB)
				os.Unsetenv(config.EnvMonitorPort)
				os.Unsetenv(config.EnvCheckpointDir)
			})

			c := config.Default()
			Expect(config.ApplyEnv(&c, env)).To(Succeed())

			Expect(c.StatsDB).To(Equal("run.sqlite3"))
			Expect(c.MonitorPort).To(Equal(8123))
			Expect(c.CheckpointDir).To(Equal("/tmp/cp"))
		})

		It("should ignore a missing env file", func() {
			c := config.Default()
			Expect(config.ApplyEnv(&c, filepath.Join(GinkgoT().TempDir(), ".env"))).To(Succeed())
			Expect(c.CheckpointDir).To(Equal("."))
		})

		It("should reject a bad port", func() {
			GinkgoT().Setenv(config.EnvMonitorPort, "eighty")

			c := config.Default()
			Expect(config.ApplyEnv(&c, "")).NotTo(Succeed())
		})
	})
})
