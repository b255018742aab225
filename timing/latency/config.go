package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds execution latencies per function-unit class.
type TimingConfig struct {
	// BranchLatency is the execution latency of branches and jumps.
	// Default: 1 cycle.
	BranchLatency uint64 `json:"branch_latency"`

	// BranchMispredictPenalty is the number of cycles fetch stalls after a
	// misprediction is resolved. Default: 3 cycles.
	BranchMispredictPenalty uint64 `json:"branch_mispredict_penalty"`

	// AddressLatency is the address-generation latency of a memory access,
	// added to the cache latency. Default: 1 cycle.
	AddressLatency uint64 `json:"address_latency"`

	// SimpleALULatency is the latency of simple integer operations.
	// Default: 1 cycle.
	SimpleALULatency uint64 `json:"simple_alu_latency"`

	// MultiplyLatency is the latency of integer multiplies. Default: 3 cycles.
	MultiplyLatency uint64 `json:"multiply_latency"`

	// DivideLatency is the latency of integer divides and remainders.
	// Default: 20 cycles.
	DivideLatency uint64 `json:"divide_latency"`

	// AcceleratorLatency is the latency of custom-0 instructions.
	// Default: 4 cycles.
	AcceleratorLatency uint64 `json:"accelerator_latency"`

	// FPALULatency is the latency of floating-point arithmetic.
	// Default: 4 cycles.
	FPALULatency uint64 `json:"fp_alu_latency"`

	// MoveFPLatency is the latency of moves between register files.
	// Default: 1 cycle.
	MoveFPLatency uint64 `json:"move_fp_latency"`

	// SystemLatency is the latency of CSR and trap instructions.
	// Default: 1 cycle.
	SystemLatency uint64 `json:"system_latency"`
}

// DefaultTimingConfig returns the default latencies.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		BranchLatency:           1,
		BranchMispredictPenalty: 3,
		AddressLatency:          1,
		SimpleALULatency:        1,
		MultiplyLatency:         3,
		DivideLatency:           20,
		AcceleratorLatency:      4,
		FPALULatency:            4,
		MoveFPLatency:           1,
		SystemLatency:           1,
	}
}

// LoadConfig loads a TimingConfig from a JSON file. Fields missing from the
// file keep their defaults.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that every execution latency is at least one cycle.
func (c *TimingConfig) Validate() error {
	checks := []struct {
		name  string
		value uint64
	}{
		{"branch_latency", c.BranchLatency},
		{"address_latency", c.AddressLatency},
		{"simple_alu_latency", c.SimpleALULatency},
		{"multiply_latency", c.MultiplyLatency},
		{"divide_latency", c.DivideLatency},
		{"accelerator_latency", c.AcceleratorLatency},
		{"fp_alu_latency", c.FPALULatency},
		{"move_fp_latency", c.MoveFPLatency},
		{"system_latency", c.SystemLatency},
	}
	for _, chk := range checks {
		if chk.value == 0 {
			return fmt.Errorf("%s must be > 0", chk.name)
		}
	}
	return nil
}

// Clone returns a copy of the TimingConfig.
func (c *TimingConfig) Clone() *TimingConfig {
	clone := *c
	return &clone
}
