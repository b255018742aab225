package monitoring_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/micros/config"
	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/insts"
	"github.com/sarchlab/micros/monitoring"
	"github.com/sarchlab/micros/sim"
)

func plenty() (uint64, error) { return 1 << 40, nil }

var _ = Describe("Monitor", func() {
	var (
		s      *sim.Simulator
		m      *monitoring.Monitor
		server *httptest.Server
	)

	get := func(path string) (int, []byte) {
		rsp, err := http.Get(server.URL + path)
		Expect(err).NotTo(HaveOccurred())
		defer rsp.Body.Close()

		body := &bytes.Buffer{}
		_, err = body.ReadFrom(rsp.Body)
		Expect(err).NotTo(HaveOccurred())

		return rsp.StatusCode, body.Bytes()
	}

	BeforeEach(func() {
		cfg := config.Default()
		cfg.Mode = config.ModeFunctional
		cfg.MemoryMB = 1
		cfg.Quantum = 10

		var err error
		s, err = sim.New(cfg,
			sim.WithOutput(&bytes.Buffer{}),
			sim.WithMemoryOptions(emu.WithAvailableMemory(plenty)),
		)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)

		words := make([]uint32, 256)
		for i := range words {
			words[i] = insts.ADDI(1, 1, 1)
		}
		Expect(s.Memory().LoadProgram(emu.ResetVector, words)).To(Succeed())

		m = monitoring.NewMonitor(s).WithProfileDuration(10 * time.Millisecond)
		server = httptest.NewServer(m.Handler())
		DeferCleanup(server.Close)
		DeferCleanup(m.Close)
	})

	It("should report the commit count", func() {
		_, err := s.Step(12)
		Expect(err).NotTo(HaveOccurred())

		code, body := get("/api/now")

		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(MatchJSON(`{"commits":12,"paused":false}`))
	})

	It("should list the cores", func() {
		_, err := s.Step(3)
		Expect(err).NotTo(HaveOccurred())

		_, body := get("/api/cores")

		var cores []map[string]any
		Expect(json.Unmarshal(body, &cores)).To(Succeed())
		Expect(cores).To(HaveLen(1))
		Expect(cores[0]["pc"]).To(Equal("0x000000000000200c"))
		Expect(cores[0]["instructions"]).To(BeNumerically("==", 3))
		Expect(cores[0]["pipelined"]).To(BeFalse())
	})

	It("should serialize the state of a core", func() {
		code, body := get("/api/core/0")

		Expect(code).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring(`"PC"`))
		Expect(string(body)).To(ContainSubstring(`"XPR"`))
	})

	It("should serialize a single register", func() {
		_, err := s.Step(5)
		Expect(err).NotTo(HaveOccurred())

		code, body := get("/api/core/0?field=XPR.1")

		Expect(code).To(Equal(http.StatusOK))
		Expect(body).To(MatchJSON(`{"r":"0","dict":{"0":{"k":11,"t":"uint64","v":5}}}`))
	})

	It("should list the register file", func() {
		code, body := get("/api/core/0?field=FPR")

		Expect(code).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring(`"l":32`))
	})

	It("should reject a register index out of range", func() {
		code, _ := get("/api/core/0?field=FPR.32")

		Expect(code).To(Equal(http.StatusBadRequest))
	})

	It("should answer 404 for an unknown core", func() {
		code, _ := get("/api/core/4")

		Expect(code).To(Equal(http.StatusNotFound))
	})

	It("should list no checkers when checking is off", func() {
		_, body := get("/api/oracle")

		Expect(body).To(MatchJSON(`[]`))
	})

	It("should hold the engine while paused", func() {
		_, body := get("/api/pause")
		Expect(body).To(MatchJSON(`{"paused":true}`))

		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			_, err := s.Step(5)
			Expect(err).NotTo(HaveOccurred())
			close(done)
		}()

		Consistently(done, 50*time.Millisecond).ShouldNot(BeClosed())

		_, body = get("/api/now")
		Expect(body).To(MatchJSON(`{"commits":0,"paused":true}`))

		get("/api/continue")
		Eventually(done).Should(BeClosed())
		Expect(s.Commits()).To(Equal(uint64(5)))
	})

	It("should track progress bars from their creation", func() {
		_, err := s.Step(4)
		Expect(err).NotTo(HaveOccurred())
		bar := m.CreateProgressBar("skip", 10)
		_, err = s.Step(6)
		Expect(err).NotTo(HaveOccurred())

		_, body := get("/api/progress")

		var bars []map[string]any
		Expect(json.Unmarshal(body, &bars)).To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0]["name"]).To(Equal("skip"))
		Expect(bars[0]["finished"]).To(BeNumerically("==", 6))

		m.CompleteProgressBar(bar)
		_, body = get("/api/progress")
		Expect(body).To(MatchJSON(`[]`))
	})

	It("should report process resources", func() {
		code, body := get("/api/resource")

		Expect(code).To(Equal(http.StatusOK))
		Expect(string(body)).To(ContainSubstring("memory_size"))
	})

	It("should collect a CPU profile", func() {
		code, _ := get("/api/profile")

		Expect(code).To(Equal(http.StatusOK))
	})
})
