// Package config holds the simulator's tunables. A Config is built once at
// startup, validated, and passed by value into the components it configures.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sarchlab/micros/insts"
	"github.com/sarchlab/micros/timing/latency"
)

// Execution modes of a core.
const (
	ModeFunctional = "functional"
	ModePipelined  = "pipelined"
)

// CacheGeometry describes one cache. LineBits is log2 of the block size.
type CacheGeometry struct {
	Sets        int    `json:"sets"`
	Ways        int    `json:"ways"`
	LineBits    int    `json:"line_bits"`
	HitLatency  uint64 `json:"hit_latency"`
	MissLatency uint64 `json:"miss_latency"`
}

// BlockSize returns the block size in bytes.
func (g CacheGeometry) BlockSize() int {
	return 1 << g.LineBits
}

// LaneMatrix holds, per function-unit class, the bit mask of issue lanes the
// class may use.
type LaneMatrix [insts.NumFUTypes]uint32

// CoreConfig holds the sizes and widths of the pipelined core.
type CoreConfig struct {
	NumCheckpoints int `json:"num_checkpoints"`
	CTIQSize       int `json:"ctiq_size"`
	BTBSize        int `json:"btb_size"`
	BPTableSize    int `json:"bp_table_size"`
	RASSize        int `json:"ras_size"`
	FetchQueueSize int `json:"fetch_queue_size"`
	ActiveListSize int `json:"active_list_size"`
	IssueQueueSize int `json:"issue_queue_size"`
	LQSize         int `json:"lq_size"`
	SQSize         int `json:"sq_size"`
	FetchWidth     int `json:"fetch_width"`
	DispatchWidth  int `json:"dispatch_width"`
	IssueWidth     int `json:"issue_width"`
	RetireWidth    int `json:"retire_width"`

	LaneMatrix LaneMatrix `json:"lane_matrix"`

	ICache    CacheGeometry `json:"icache"`
	DCache    CacheGeometry `json:"dcache"`
	L2        CacheGeometry `json:"l2"`
	L2Present bool          `json:"l2_present"`

	Latency *latency.TimingConfig `json:"latency"`
}

// Config is the complete simulator configuration.
type Config struct {
	NumCores int    `json:"num_cores"`
	MemoryMB uint64 `json:"memory_mb"` // 0 selects DefaultMemoryMB
	Mode     string `json:"mode"`

	SkipAmount  uint64 `json:"skip_amount"`
	StopAmount  uint64 `json:"stop_amount"` // 0 runs to completion
	LoggingOnAt int64  `json:"logging_on_at"`
	Debug       bool   `json:"debug"`
	Histogram   bool   `json:"histogram"`
	Checker     bool   `json:"checker"`

	Quantum          uint64 `json:"quantum"`
	ProgressInterval uint64 `json:"progress_interval"`
	PhaseInterval    uint64 `json:"phase_interval"`
	DeadlockQuanta   int    `json:"deadlock_quanta"`
	PipeQueueSize    int    `json:"pipe_queue_size"`
	PayloadEntries   int    `json:"payload_entries"`

	RestoreCheckpoint string `json:"restore_checkpoint"`
	CheckpointDir     string `json:"checkpoint_dir"`
	Compression       string `json:"compression"`

	Extension string `json:"extension"`
	ExtLib    string `json:"extlib"`

	StatsDB       string `json:"stats_db"`
	Monitor       bool   `json:"monitor"`
	MonitorPort   int    `json:"monitor_port"`
	MonitorOpen   bool   `json:"monitor_open"`
	StatsView     bool   `json:"statsview"`
	StatsViewAddr string `json:"statsview_addr"`

	Core CoreConfig `json:"core"`
}

// DefaultMemoryMB is the target memory size used when MemoryMB is 0.
const DefaultMemoryMB = 4096

// DefaultLaneMatrix is BR:LS:ALU_S:ALU_C:LS_FP:ALU_FP:MTF = 02:11:0e:02:11:06:02.
var DefaultLaneMatrix = LaneMatrix{0x02, 0x11, 0x0e, 0x02, 0x11, 0x06, 0x02}

// Default returns the default configuration.
func Default() Config {
	return Config{
		NumCores:         1,
		Mode:             ModePipelined,
		LoggingOnAt:      -2,
		Quantum:          5000,
		ProgressInterval: 0x400000,
		PhaseInterval:    10000,
		DeadlockQuanta:   64,
		PipeQueueSize:    1024,
		PayloadEntries:   1024,
		CheckpointDir:    ".",
		Compression:      "none",
		StatsViewAddr:    "localhost:18066",
		Core: CoreConfig{
			NumCheckpoints: 32,
			CTIQSize:       1024,
			BTBSize:        0x1000,
			BPTableSize:    0x10000,
			RASSize:        32,
			FetchQueueSize: 32,
			ActiveListSize: 256,
			IssueQueueSize: 32,
			LQSize:         32,
			SQSize:         32,
			FetchWidth:     8,
			DispatchWidth:  8,
			IssueWidth:     8,
			RetireWidth:    8,
			LaneMatrix:     DefaultLaneMatrix,
			ICache:         CacheGeometry{Sets: 128, Ways: 8, LineBits: 6, HitLatency: 1, MissLatency: 100},
			DCache:         CacheGeometry{Sets: 256, Ways: 4, LineBits: 6, HitLatency: 1, MissLatency: 100},
			L2:             CacheGeometry{Sets: 512, Ways: 8, LineBits: 6, HitLatency: 10, MissLatency: 100},
			L2Present:      true,
			Latency:        latency.DefaultTimingConfig(),
		},
	}
}

// MemorySize returns the target memory size in bytes.
func (c Config) MemorySize() uint64 {
	mb := c.MemoryMB
	if mb == 0 {
		mb = DefaultMemoryMB
	}
	return mb << 20
}

// LoadFile reads a JSON configuration. Fields missing from the file keep
// their defaults.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	c := Default()
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return c, nil
}

// SaveFile writes the configuration as JSON.
func (c Config) SaveFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration and returns every problem found.
func (c Config) Validate() error {
	var errs []error

	positive := []struct {
		name  string
		value int
	}{
		{"num_cores", c.NumCores},
		{"deadlock_quanta", c.DeadlockQuanta},
		{"pipe_queue_size", c.PipeQueueSize},
		{"payload_entries", c.PayloadEntries},
		{"core.num_checkpoints", c.Core.NumCheckpoints},
		{"core.ras_size", c.Core.RASSize},
		{"core.fetch_queue_size", c.Core.FetchQueueSize},
		{"core.active_list_size", c.Core.ActiveListSize},
		{"core.issue_queue_size", c.Core.IssueQueueSize},
		{"core.lq_size", c.Core.LQSize},
		{"core.sq_size", c.Core.SQSize},
		{"core.fetch_width", c.Core.FetchWidth},
		{"core.dispatch_width", c.Core.DispatchWidth},
		{"core.issue_width", c.Core.IssueWidth},
		{"core.retire_width", c.Core.RetireWidth},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", p.name))
		}
	}

	powers := []struct {
		name  string
		value int
	}{
		{"core.ctiq_size", c.Core.CTIQSize},
		{"core.btb_size", c.Core.BTBSize},
		{"core.bp_table_size", c.Core.BPTableSize},
	}
	for _, p := range powers {
		if p.value <= 0 || p.value&(p.value-1) != 0 {
			errs = append(errs, fmt.Errorf("%s must be a power of 2", p.name))
		}
	}

	if c.Quantum == 0 {
		errs = append(errs, errors.New("quantum must be > 0"))
	}
	if c.ProgressInterval == 0 {
		errs = append(errs, errors.New("progress_interval must be > 0"))
	}
	if c.Mode != ModeFunctional && c.Mode != ModePipelined {
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}

	if c.Core.IssueWidth > 32 {
		errs = append(errs, errors.New("core.issue_width must be <= 32"))
	}
	lanes := uint32(1)<<uint(c.Core.IssueWidth) - 1
	for fu, mask := range c.Core.LaneMatrix {
		if mask&lanes == 0 {
			errs = append(errs, fmt.Errorf("lane matrix: %s has no lane below issue width %d",
				insts.FUType(fu), c.Core.IssueWidth))
		}
	}

	for _, g := range []struct {
		name string
		geo  CacheGeometry
	}{
		{"icache", c.Core.ICache},
		{"dcache", c.Core.DCache},
		{"l2", c.Core.L2},
	} {
		if err := g.geo.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", g.name, err))
		}
	}

	if c.Core.Latency == nil {
		errs = append(errs, errors.New("core.latency is missing"))
	} else if err := c.Core.Latency.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (g CacheGeometry) validate() error {
	if g.Sets <= 0 || g.Sets&(g.Sets-1) != 0 {
		return fmt.Errorf("sets %d is not a power of 2", g.Sets)
	}
	if g.Ways <= 0 {
		return fmt.Errorf("ways %d must be > 0", g.Ways)
	}
	if g.LineBits < 3 || g.LineBits > 12 {
		return fmt.Errorf("block size 2^%d out of range", g.LineBits)
	}
	return nil
}
