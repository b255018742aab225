package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Flags holds the command-line options that do not map onto a single
// configuration field. Apply folds them into the configuration after
// parsing.
type Flags struct {
	fs *pflag.FlagSet

	ConfigFile string
	EnvFile    string

	lane  string
	noL2  bool
	lsq   int
	cache [3]string
}

// BindFlags registers the simulator options on fs. Options that map onto a
// field write into c directly.
func BindFlags(fs *pflag.FlagSet, c *Config) *Flags {
	f := &Flags{fs: fs}

	fs.IntVarP(&c.NumCores, "procs", "p", c.NumCores, "number of cores")
	fs.Uint64VarP(&c.MemoryMB, "mem", "m", c.MemoryMB, "target memory in MiB (0 for 4 GiB)")
	fs.Uint64VarP(&c.SkipAmount, "skip", "s", c.SkipAmount, "instructions to skip functionally before timing")
	fs.Uint64VarP(&c.StopAmount, "stop", "e", c.StopAmount, "stop after this many commits (0 runs to completion)")
	fs.Int64VarP(&c.LoggingOnAt, "log-at", "l", c.LoggingOnAt, "enable verbose logging at this commit (-1 from the start)")
	fs.BoolVarP(&c.Debug, "debug", "d", c.Debug, "interactive debug mode")
	fs.BoolVarP(&c.Histogram, "histogram", "g", c.Histogram, "track a histogram of PCs")
	fs.StringVarP(&c.RestoreCheckpoint, "checkpoint", "c", c.RestoreCheckpoint, "restore from checkpoint base name")

	fs.IntVar(&c.Core.NumCheckpoints, "cp", c.Core.NumCheckpoints, "number of branch checkpoints")
	fs.IntVar(&c.Core.BTBSize, "btb", c.Core.BTBSize, "BTB entries (power of 2)")
	fs.IntVar(&c.Core.CTIQSize, "ctiq", c.Core.CTIQSize, "control transfer queue entries (power of 2)")
	fs.IntVar(&c.Core.BPTableSize, "bp", c.Core.BPTableSize, "branch predictor table entries (power of 2)")
	fs.IntVar(&c.Core.RASSize, "ras", c.Core.RASSize, "return address stack entries")
	fs.IntVar(&c.Core.FetchQueueSize, "fq", c.Core.FetchQueueSize, "fetch queue entries")
	fs.IntVar(&c.Core.ActiveListSize, "al", c.Core.ActiveListSize, "active list entries")
	fs.IntVar(&c.Core.IssueQueueSize, "iq", c.Core.IssueQueueSize, "issue queue entries")
	fs.IntVar(&f.lsq, "lsq", c.Core.LQSize, "load and store queue entries")

	fs.IntVar(&c.Core.FetchWidth, "fw", c.Core.FetchWidth, "fetch width")
	fs.IntVar(&c.Core.DispatchWidth, "dw", c.Core.DispatchWidth, "dispatch width")
	fs.IntVar(&c.Core.IssueWidth, "iw", c.Core.IssueWidth, "issue width")
	fs.IntVar(&c.Core.RetireWidth, "rw", c.Core.RetireWidth, "retire width")

	fs.Uint64Var(&c.PhaseInterval, "phase", c.PhaseInterval, "commits per statistics phase")
	fs.StringVar(&f.lane, "lane", "", "lane matrix BR:LS:ALU_S:ALU_C:LS_FP:ALU_FP:MTF in hex")
	fs.BoolVar(&f.noL2, "nol2", false, "disable the L2 cache")
	fs.StringVar(&f.cache[0], "ic", "", "L1 instruction cache S:W:B")
	fs.StringVar(&f.cache[1], "dc", "", "L1 data cache S:W:B")
	fs.StringVar(&f.cache[2], "l2", "", "L2 cache S:W:B")

	fs.StringVar(&c.Extension, "extension", c.Extension, "accelerator extension name")
	fs.StringVar(&c.ExtLib, "extlib", c.ExtLib, "library that registers extensions")

	fs.StringVar(&c.Mode, "mode", c.Mode, "core model: functional or pipelined")
	fs.BoolVar(&c.Checker, "checker", c.Checker, "check commits against a functional reference")
	fs.Uint64Var(&c.Quantum, "quantum", c.Quantum, "instructions per core per scheduling quantum")
	fs.IntVar(&c.DeadlockQuanta, "deadlock-quanta", c.DeadlockQuanta, "idle quanta before reporting a deadlock")
	fs.StringVar(&c.CheckpointDir, "checkpoint-dir", c.CheckpointDir, "directory of relative checkpoint names")
	fs.StringVar(&c.Compression, "compression", c.Compression, "checkpoint compression: none or gzip")
	fs.StringVar(&c.StatsDB, "stats-db", c.StatsDB, "record statistics into this SQLite database")
	fs.BoolVar(&c.Monitor, "monitor", c.Monitor, "serve the monitoring API")
	fs.IntVar(&c.MonitorPort, "monitor-port", c.MonitorPort, "monitoring port (0 picks one)")
	fs.BoolVar(&c.MonitorOpen, "monitor-open", c.MonitorOpen, "open the monitor in a browser")
	fs.BoolVar(&c.StatsView, "statsview", c.StatsView, "serve runtime charts")
	fs.StringVar(&c.StatsViewAddr, "statsview-addr", c.StatsViewAddr, "runtime charts address")

	fs.StringVar(&f.ConfigFile, "config", "", "JSON configuration file; explicit flags win")
	fs.StringVar(&f.EnvFile, "env", ".env", "environment file with MICROS_* overrides")

	return f
}

// Apply folds the parsed options into c: the configuration file first, then
// the environment, then every flag given explicitly.
func (f *Flags) Apply(c *Config) error {
	changed := map[string]string{}
	f.fs.Visit(func(fl *pflag.Flag) {
		changed[fl.Name] = fl.Value.String()
	})

	if f.ConfigFile != "" {
		loaded, err := LoadFile(f.ConfigFile)
		if err != nil {
			return err
		}
		*c = loaded
	}

	if err := ApplyEnv(c, f.EnvFile); err != nil {
		return err
	}

	for name, value := range changed {
		if err := f.fs.Set(name, value); err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
	}

	if f.fs.Changed("lsq") {
		c.Core.LQSize = f.lsq
		c.Core.SQSize = f.lsq
	}

	if f.noL2 {
		c.Core.L2Present = false
	}

	if f.lane != "" {
		m, err := ParseLaneMatrix(f.lane)
		if err != nil {
			return err
		}
		c.Core.LaneMatrix = m
	}

	geos := []*CacheGeometry{&c.Core.ICache, &c.Core.DCache, &c.Core.L2}
	for i, spec := range f.cache {
		if spec == "" {
			continue
		}
		g, err := ParseCacheGeometry(spec, *geos[i])
		if err != nil {
			return err
		}
		*geos[i] = g
	}

	return nil
}
