// Command benchmark runs the micros timing benchmark harness.
//
// Usage:
//
//	go run ./cmd/benchmark [flags]
//
// Every core option of micros (--fw, --lane, --dc, --nol2, ...) is accepted
// and applies to all benchmarks. In addition:
//
//	--csv         Output results in CSV format (default: human-readable)
//	--json        Output results as a JSON report
//	--core-only   Run only the loop, matrix multiply and branch benchmarks
//	--cpuprofile  Write a CPU profile of the run to a file
//	--memprofile  Write a heap profile after the run to a file
//
// Example:
//
//	# Compare a narrow and a wide core
//	go run ./cmd/benchmark --fw 2 --dw 2 --iw 2 --rw 2 --csv > narrow.csv
//	go run ./cmd/benchmark --csv > wide.csv
package main

import (
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/spf13/pflag"

	"github.com/sarchlab/micros/benchmarks"
	"github.com/sarchlab/micros/config"
)

func main() {
	hc := benchmarks.DefaultConfig()

	fs := pflag.NewFlagSet("benchmark", pflag.ExitOnError)
	flags := config.BindFlags(fs, &hc.Config)
	csvOutput := fs.Bool("csv", false, "Output results in CSV format")
	jsonOutput := fs.Bool("json", false, "Output results as a JSON report")
	coreOnly := fs.Bool("core-only", false, "Run only the core benchmarks")
	verbose := fs.BoolP("verbose", "v", false, "Show simulator messages")
	cpuProfile := fs.String("cpuprofile", "", "write cpu profile to file")
	memProfile := fs.String("memprofile", "", "write memory profile to file")
	_ = fs.Parse(os.Args[1:])

	if err := flags.Apply(&hc.Config); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	hc.Checker = hc.Config.Checker
	hc.Verbose = *verbose
	hc.Output = os.Stdout

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()

		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	harness := benchmarks.NewHarness(hc)
	if *coreOnly {
		harness.AddBenchmarks(benchmarks.GetCoreBenchmarks())
	} else {
		harness.AddBenchmarks(benchmarks.GetMicrobenchmarks())
	}

	if !*csvOutput && !*jsonOutput {
		cc := hc.Config.Core
		fmt.Println("micros Timing Benchmark Harness")
		fmt.Println("===============================")
		fmt.Println(cc.LaneMatrix)
		fmt.Printf("Widths (fetch/dispatch/issue/retire): %d/%d/%d/%d\n",
			cc.FetchWidth, cc.DispatchWidth, cc.IssueWidth, cc.RetireWidth)
		fmt.Printf("L2: %v\n", cc.L2Present)
		fmt.Printf("Checker: %v\n", hc.Checker)
		fmt.Println("")
	}

	results, err := harness.RunAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		pprof.StopCPUProfile()
		os.Exit(1)
	}

	switch {
	case *jsonOutput:
		if err := harness.PrintJSON(results); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
		}
	case *csvOutput:
		harness.PrintCSV(results)
	default:
		harness.PrintResults(results)
	}

	failed := false
	for _, r := range results {
		if r.Mismatches > 0 {
			fmt.Fprintf(os.Stderr, "%s: %d lockstep mismatches\n", r.Name, r.Mismatches)
			failed = true
		}
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating memory profile: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()

		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing memory profile: %v\n", err)
		}
	}

	if failed {
		pprof.StopCPUProfile()
		os.Exit(1)
	}
}
