// Package benchmarks provides timing benchmark infrastructure for micros
// calibration.
package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sarchlab/micros/config"
	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/sim"
)

// BenchmarkResult holds the timing results for a single benchmark run.
type BenchmarkResult struct {
	// Name identifies the benchmark
	Name string `json:"name"`

	// Description explains what the benchmark measures
	Description string `json:"description"`

	// SimulatedCycles is the total cycle count from the timing core
	SimulatedCycles uint64 `json:"simulated_cycles"`

	// InstructionsRetired is the number of committed instructions
	InstructionsRetired uint64 `json:"instructions_retired"`

	// CPI is cycles per instruction
	CPI float64 `json:"cpi"`

	FetchStalls      uint64 `json:"fetch_stalls"`
	DataHazards      uint64 `json:"data_hazards"`
	StructuralStalls uint64 `json:"structural_stalls"`
	Squashed         uint64 `json:"squashed"`
	Serializations   uint64 `json:"serializations"`

	ICacheHits   uint64 `json:"icache_hits,omitempty"`
	ICacheMisses uint64 `json:"icache_misses,omitempty"`
	DCacheHits   uint64 `json:"dcache_hits,omitempty"`
	DCacheMisses uint64 `json:"dcache_misses,omitempty"`
	L2Misses     uint64 `json:"l2_misses,omitempty"`

	// Branch predictor stats
	BranchPredictions     uint64  `json:"branch_predictions,omitempty"`
	BranchCorrect         uint64  `json:"branch_correct,omitempty"`
	BranchMispredictions  uint64  `json:"branch_mispredictions,omitempty"`
	BranchAccuracyPercent float64 `json:"branch_accuracy_percent,omitempty"`

	// Checked and Mismatches count lockstep comparisons when checking is on
	Checked    uint64 `json:"checked,omitempty"`
	Mismatches uint64 `json:"mismatches,omitempty"`

	// ExitCode is the program's exit code
	ExitCode int `json:"exit_code"`

	// WallTime is the actual time taken to run the simulation
	WallTime time.Duration `json:"wall_time_ns"`
}

// Benchmark defines a single benchmark program.
type Benchmark struct {
	// Name identifies the benchmark
	Name string

	// Description explains what the benchmark measures
	Description string

	// Setup prepares the architectural state and memory before the run
	Setup func(state *emu.ArchState, memory *emu.Memory)

	// Program is the RV64 machine code placed at the reset vector
	Program []uint32

	// ExpectedExit is the expected exit code (for validation)
	ExpectedExit int
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// Config is the simulator configuration every benchmark runs with. The
	// mode is forced to pipelined.
	Config config.Config

	// Checker checks every commit against a functional reference
	Checker bool

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Verbose writes the simulator's own messages to Output
	Verbose bool
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	cfg := config.Default()
	cfg.Mode = config.ModePipelined
	cfg.MemoryMB = 1
	cfg.Quantum = 100
	cfg.PipeQueueSize = 64

	return HarnessConfig{
		Config: cfg,
		Output: os.Stdout,
	}
}

// Harness runs timing benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	return &Harness{
		config:     config,
		benchmarks: []Benchmark{},
	}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll executes all benchmarks and returns results. It stops at the first
// benchmark the simulator cannot run.
func (h *Harness) RunAll() ([]BenchmarkResult, error) {
	results := make([]BenchmarkResult, 0, len(h.benchmarks))

	for _, bench := range h.benchmarks {
		result, err := h.runBenchmark(bench)
		if err != nil {
			return results, fmt.Errorf("benchmark %s: %w", bench.Name, err)
		}
		results = append(results, result)
	}

	return results, nil
}

func (h *Harness) runBenchmark(bench Benchmark) (BenchmarkResult, error) {
	cfg := h.config.Config
	cfg.Mode = config.ModePipelined
	cfg.NumCores = 1

	var simOut io.Writer = io.Discard
	if h.config.Verbose {
		simOut = h.config.Output
	}

	s, err := sim.New(cfg, sim.WithOutput(simOut))
	if err != nil {
		return BenchmarkResult{}, err
	}
	defer func() { _ = s.Close() }()

	c := s.Cores()[0]
	if bench.Setup != nil {
		bench.Setup(c.Hart().State(), s.Memory())
	}

	if err := s.Memory().LoadProgram(emu.ResetVector, bench.Program); err != nil {
		return BenchmarkResult{}, err
	}

	if h.config.Checker {
		if err := s.EnableChecker(); err != nil {
			return BenchmarkResult{}, err
		}
	}

	start := time.Now()
	if err := s.Run(context.Background(), nil); err != nil {
		return BenchmarkResult{}, err
	}
	wallTime := time.Since(start)

	stats := c.Stats()
	result := BenchmarkResult{
		Name:                bench.Name,
		Description:         bench.Description,
		SimulatedCycles:     stats.Cycles,
		InstructionsRetired: stats.Instructions,
		Serializations:      stats.Serializations,
		ExitCode:            s.ExitCode(),
		WallTime:            wallTime,
	}
	if stats.Instructions > 0 {
		result.CPI = float64(stats.Cycles) / float64(stats.Instructions)
	}

	pipe := c.Pipeline()
	ps := pipe.Stats()
	result.FetchStalls = ps.FetchStalls
	result.DataHazards = ps.DataHazards
	result.StructuralStalls = ps.StructuralStalls
	result.Squashed = ps.Squashed

	icache, dcache, l2 := c.Caches()
	result.ICacheHits = icache.Stats().Hits
	result.ICacheMisses = icache.Stats().Misses
	result.DCacheHits = dcache.Stats().Hits
	result.DCacheMisses = dcache.Stats().Misses
	if l2 != nil {
		result.L2Misses = l2.Stats().Misses
	}

	bpStats := pipe.PredictorStats()
	result.BranchPredictions = bpStats.Predictions
	result.BranchCorrect = bpStats.Correct
	result.BranchMispredictions = bpStats.Mispredictions
	result.BranchAccuracyPercent = bpStats.Accuracy()

	for _, ch := range s.Checkers() {
		result.Checked += ch.Checked()
		result.Mismatches += ch.Mismatches()
	}

	return result, nil
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	w := h.config.Output

	_, _ = fmt.Fprintln(w, "=== micros Timing Benchmark Results ===")
	_, _ = fmt.Fprintln(w, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(w, "Benchmark: %s\n", r.Name)
		_, _ = fmt.Fprintf(w, "  Description: %s\n", r.Description)
		_, _ = fmt.Fprintf(w, "  Exit Code: %d\n", r.ExitCode)
		_, _ = fmt.Fprintln(w, "  --- Timing ---")
		_, _ = fmt.Fprintf(w, "  Simulated Cycles:     %d\n", r.SimulatedCycles)
		_, _ = fmt.Fprintf(w, "  Instructions Retired: %d\n", r.InstructionsRetired)
		_, _ = fmt.Fprintf(w, "  CPI:                  %.3f\n", r.CPI)
		_, _ = fmt.Fprintf(w, "  Fetch Stalls:         %d\n", r.FetchStalls)
		_, _ = fmt.Fprintf(w, "  Data Hazards:         %d\n", r.DataHazards)
		_, _ = fmt.Fprintf(w, "  Structural Stalls:    %d\n", r.StructuralStalls)
		_, _ = fmt.Fprintf(w, "  Squashed:             %d\n", r.Squashed)
		if r.Serializations > 0 {
			_, _ = fmt.Fprintf(w, "  Serializations:       %d\n", r.Serializations)
		}

		_, _ = fmt.Fprintln(w, "  --- Caches ---")
		_, _ = fmt.Fprintf(w, "  I-Cache Hits/Misses:  %d/%d\n", r.ICacheHits, r.ICacheMisses)
		_, _ = fmt.Fprintf(w, "  D-Cache Hits/Misses:  %d/%d\n", r.DCacheHits, r.DCacheMisses)
		_, _ = fmt.Fprintf(w, "  L2 Misses:            %d\n", r.L2Misses)

		if r.BranchPredictions > 0 {
			_, _ = fmt.Fprintln(w, "  --- Branch Predictor ---")
			_, _ = fmt.Fprintf(w, "  Predictions:     %d\n", r.BranchPredictions)
			_, _ = fmt.Fprintf(w, "  Correct:         %d\n", r.BranchCorrect)
			_, _ = fmt.Fprintf(w, "  Mispredictions:  %d\n", r.BranchMispredictions)
			_, _ = fmt.Fprintf(w, "  Accuracy:        %.1f%%\n", r.BranchAccuracyPercent)
		}

		if r.Checked > 0 {
			_, _ = fmt.Fprintf(w, "  Checked: %d, Mismatches: %d\n", r.Checked, r.Mismatches)
		}

		_, _ = fmt.Fprintf(w, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(w, "")
	}
}

// PrintCSV outputs benchmark results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output,
		"name,cycles,instructions,cpi,fetch_stalls,data_hazards,structural_stalls,squashed,"+
			"icache_hits,icache_misses,dcache_hits,dcache_misses,l2_misses,exit_code")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "%s,%d,%d,%.3f,%d,%d,%d,%d,%d,%d,%d,%d,%d,%d\n",
			r.Name,
			r.SimulatedCycles,
			r.InstructionsRetired,
			r.CPI,
			r.FetchStalls,
			r.DataHazards,
			r.StructuralStalls,
			r.Squashed,
			r.ICacheHits,
			r.ICacheMisses,
			r.DCacheHits,
			r.DCacheMisses,
			r.L2Misses,
			r.ExitCode,
		)
	}
}

// BenchmarkReport is the JSON document written by PrintJSON.
type BenchmarkReport struct {
	Metadata ReportMetadata    `json:"metadata"`
	Results  []BenchmarkResult `json:"results"`
	Summary  ReportSummary     `json:"summary"`
}

// ReportMetadata describes the run that produced a report.
type ReportMetadata struct {
	Timestamp  string           `json:"timestamp"`
	LaneMatrix string           `json:"lane_matrix"`
	Widths     [4]int           `json:"widths"`
	L2Present  bool             `json:"l2_present"`
	Checker    bool             `json:"checker"`
	Caches     [3]CacheGeometry `json:"caches"`
}

// CacheGeometry is the S:W:B triple of one cache level.
type CacheGeometry struct {
	Sets      int `json:"sets"`
	Ways      int `json:"ways"`
	LineBytes int `json:"line_bytes"`
}

// ReportSummary aggregates every result of a report.
type ReportSummary struct {
	TotalBenchmarks   int           `json:"total_benchmarks"`
	TotalCycles       uint64        `json:"total_cycles"`
	TotalInstructions uint64        `json:"total_instructions"`
	AverageCPI        float64       `json:"average_cpi"`
	TotalWallTime     time.Duration `json:"total_wall_time_ns"`
}

func geometry(g config.CacheGeometry) CacheGeometry {
	return CacheGeometry{Sets: g.Sets, Ways: g.Ways, LineBytes: 1 << g.LineBits}
}

// PrintJSON outputs the results together with the configuration as one
// JSON document.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	var totalCycles, totalInstructions uint64
	var totalWallTime time.Duration

	for _, r := range results {
		totalCycles += r.SimulatedCycles
		totalInstructions += r.InstructionsRetired
		totalWallTime += r.WallTime
	}

	avgCPI := float64(0)
	if totalInstructions > 0 {
		avgCPI = float64(totalCycles) / float64(totalInstructions)
	}

	cc := h.config.Config.Core
	report := BenchmarkReport{
		Metadata: ReportMetadata{
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			LaneMatrix: cc.LaneMatrix.String(),
			Widths:     [4]int{cc.FetchWidth, cc.DispatchWidth, cc.IssueWidth, cc.RetireWidth},
			L2Present:  cc.L2Present,
			Checker:    h.config.Checker,
			Caches:     [3]CacheGeometry{geometry(cc.ICache), geometry(cc.DCache), geometry(cc.L2)},
		},
		Results: results,
		Summary: ReportSummary{
			TotalBenchmarks:   len(results),
			TotalCycles:       totalCycles,
			TotalInstructions: totalInstructions,
			AverageCPI:        avgCPI,
			TotalWallTime:     totalWallTime,
		},
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
