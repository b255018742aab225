// Package monitoring turns a running simulation into an HTTP server that
// reports progress and core state and can pause the engine.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/oracle"
	"github.com/sarchlab/micros/timing/core"
)

// Engine is the simulation the monitor observes and controls.
type Engine interface {
	Pause()
	Continue()
	Inspect(f func())
	Commits() uint64
	Cores() []*core.Core
	Checkers() []*oracle.Checker
}

// Monitor can turn a simulation into a server and allows external monitoring
// and controlling of the simulation.
type Monitor struct {
	engine     Engine
	portNumber int
	profileFor time.Duration

	lock         sync.Mutex
	paused       bool
	progressBars []*ProgressBar

	listener net.Listener
	server   *http.Server
}

// NewMonitor creates a monitor for engine.
func NewMonitor(engine Engine) *Monitor {
	return &Monitor{
		engine:     engine,
		profileFor: time.Second,
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithProfileDuration sets how long /api/profile samples the CPU.
func (m *Monitor) WithProfileDuration(d time.Duration) *Monitor {
	m.profileFor = d
	return m
}

// CreateProgressBar creates a bar that tracks total commits from now on.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := newProgressBar(name, total, m.engine.Commits())

	m.lock.Lock()
	defer m.lock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar from the listing.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.lock.Lock()
	defer m.lock.Unlock()

	bars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			bars = append(bars, b)
		}
	}

	m.progressBars = bars
}

// Handler returns the router serving the monitoring API.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/continue", m.continueEngine)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/cores", m.listCores)
	r.HandleFunc("/api/core/{id}", m.coreDetails)
	r.HandleFunc("/api/oracle", m.listCheckers)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)

	return r
}

// StartServer starts serving in the background and returns the port it
// listens on.
func (m *Monitor) StartServer() (int, error) {
	listener, err := net.Listen("tcp", "localhost:"+strconv.Itoa(m.portNumber))
	if err != nil {
		return 0, fmt.Errorf("monitor: %w", err)
	}

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	port := listener.Addr().(*net.TCPAddr).Port
	fmt.Fprintf(os.Stderr, "Monitoring simulation with http://localhost:%d\n", port)

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		}
	}()

	return port, nil
}

// OpenBrowser opens the API root of a started server in the default
// browser.
func (m *Monitor) OpenBrowser() error {
	if m.listener == nil {
		return errors.New("monitor: server not started")
	}

	port := m.listener.Addr().(*net.TCPAddr).Port
	return browser.OpenURL(fmt.Sprintf("http://localhost:%d/api/now", port))
}

// Close stops the server and releases a pause held by the monitor.
func (m *Monitor) Close() error {
	m.lock.Lock()
	if m.paused {
		m.paused = false
		m.engine.Continue()
	}
	m.lock.Unlock()

	if m.server == nil {
		return nil
	}

	return m.server.Close()
}

// inspect runs f with the engine stopped between steps. When the monitor
// already holds the engine paused, f runs directly.
func (m *Monitor) inspect(f func()) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.paused {
		f()
		return
	}

	m.engine.Inspect(f)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

type pauseRsp struct {
	Paused bool `json:"paused"`
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	if !m.paused {
		m.engine.Pause()
		m.paused = true
	}
	m.lock.Unlock()

	writeJSON(w, pauseRsp{Paused: true})
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	m.lock.Lock()
	if m.paused {
		m.paused = false
		m.engine.Continue()
	}
	m.lock.Unlock()

	writeJSON(w, pauseRsp{Paused: false})
}

type nowRsp struct {
	Commits uint64 `json:"commits"`
	Paused  bool   `json:"paused"`
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	var rsp nowRsp
	m.inspect(func() {
		rsp.Commits = m.engine.Commits()
		rsp.Paused = m.paused
	})

	writeJSON(w, rsp)
}

type coreRsp struct {
	ID           int     `json:"id"`
	PC           string  `json:"pc"`
	Instructions uint64  `json:"instructions"`
	Cycles       uint64  `json:"cycles"`
	Traps        uint64  `json:"traps"`
	Interrupts   uint64  `json:"interrupts"`
	CPI          float64 `json:"cpi"`
	Pipelined    bool    `json:"pipelined"`
	InFlight     int     `json:"in_flight"`
}

func (m *Monitor) listCores(w http.ResponseWriter, _ *http.Request) {
	var rsp []coreRsp
	m.inspect(func() {
		for _, c := range m.engine.Cores() {
			st := c.Stats()
			r := coreRsp{
				ID:           c.ID(),
				PC:           fmt.Sprintf("0x%016x", c.Hart().State().PC),
				Instructions: st.Instructions,
				Cycles:       st.Cycles,
				Traps:        st.Traps,
				Interrupts:   st.Interrupts,
			}
			if st.Instructions > 0 {
				r.CPI = float64(st.Cycles) / float64(st.Instructions)
			}
			if p := c.Pipeline(); p != nil {
				r.Pipelined = true
				r.InFlight = p.InFlight()
			}
			rsp = append(rsp, r)
		}
	})

	writeJSON(w, rsp)
}

// coreDetails serializes the architectural state of one core. The optional
// field query selects a nested field, as in "XPR" or "FPR.3".
func (m *Monitor) coreDetails(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	cores := m.engine.Cores()
	if err != nil || id < 0 || id >= len(cores) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Core not found"))
		return
	}

	var fields []string
	if f := r.URL.Query().Get("field"); f != "" {
		fields = strings.Split(f, ".")
	}

	buf := &bytes.Buffer{}
	m.inspect(func() {
		err = serializeState(buf, cores[id], fields)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.Copy(w, buf)
}

// stateView mirrors emu.ArchState with slices in place of the register
// arrays, which the serializer cannot walk.
type stateView struct {
	PC  uint64
	XPR []uint64
	FPR []uint64

	EPC      uint64
	BadVAddr uint64
	EVec     uint64
	PTBR     uint64
	PCRK0    uint64
	PCRK1    uint64
	Cause    uint64
	ToHost   uint64
	FromHost uint64
	Count    uint64

	SR      uint32
	Compare uint32
	FFlags  uint32
	FRM     uint32
}

func newStateView(s *emu.ArchState) *stateView {
	return &stateView{
		PC:       s.PC,
		XPR:      append([]uint64(nil), s.XPR[:]...),
		FPR:      append([]uint64(nil), s.FPR[:]...),
		EPC:      s.EPC,
		BadVAddr: s.BadVAddr,
		EVec:     s.EVec,
		PTBR:     s.PTBR,
		PCRK0:    s.PCRK0,
		PCRK1:    s.PCRK1,
		Cause:    s.Cause,
		ToHost:   s.ToHost,
		FromHost: s.FromHost,
		Count:    s.Count,
		SR:       s.SR,
		Compare:  s.Compare,
		FFlags:   s.FFlags,
		FRM:      s.FRM,
	}
}

func serializeState(w io.Writer, c *core.Core, fields []string) error {
	serializer := goseth.NewSerializer()
	serializer.SetRoot(newStateView(c.Hart().State()))
	serializer.SetMaxDepth(1)

	if len(fields) > 1 && (fields[0] == "XPR" || fields[0] == "FPR") {
		index, err := strconv.Atoi(fields[1])
		if err != nil || index < 0 || index >= 32 {
			return fmt.Errorf("register index %s out of range", fields[1])
		}
	}

	if len(fields) > 0 {
		if err := serializer.SetEntryPoint(fields); err != nil {
			return err
		}
	}

	return serializer.Serialize(w)
}

type checkerRsp struct {
	Core       int    `json:"core"`
	Checked    uint64 `json:"checked"`
	Mismatches uint64 `json:"mismatches"`
	Buffered   int    `json:"buffered"`
	ArchPC     string `json:"arch_pc"`
}

func (m *Monitor) listCheckers(w http.ResponseWriter, _ *http.Request) {
	rsp := []checkerRsp{}
	m.inspect(func() {
		for i, c := range m.engine.Checkers() {
			rsp = append(rsp, checkerRsp{
				Core:       i,
				Checked:    c.Checked(),
				Mismatches: c.Mismatches(),
				Buffered:   c.Buffer().Len(),
				ArchPC:     fmt.Sprintf("0x%016x", c.ArchPC()),
			})
		}
	})

	writeJSON(w, rsp)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	var commits uint64
	m.inspect(func() { commits = m.engine.Commits() })

	m.lock.Lock()
	bars := make([]progressRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.report(commits))
	}
	m.lock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(m.profileFor)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, prof)
}
