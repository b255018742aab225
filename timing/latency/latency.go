// Package latency provides the execution latency of each instruction class.
package latency

import (
	"github.com/sarchlab/micros/insts"
)

// Table provides instruction latency lookups.
type Table struct {
	config *TimingConfig
}

// NewTable creates a latency table with the default latencies.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a latency table with custom latencies.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// GetLatency returns the execution latency of inst, excluding any cache
// latency of memory instructions.
func (t *Table) GetLatency(inst *insts.Instruction) uint64 {
	if inst == nil {
		return 1
	}

	if inst.IsSystem() {
		return t.config.SystemLatency
	}

	switch inst.FU {
	case insts.FUBR:
		return t.config.BranchLatency
	case insts.FULS, insts.FULSFP:
		return t.config.AddressLatency
	case insts.FUALUS:
		return t.config.SimpleALULatency
	case insts.FUALUC:
		return t.complexLatency(inst)
	case insts.FUALUFP:
		return t.config.FPALULatency
	case insts.FUMTF:
		return t.config.MoveFPLatency
	}

	return 1
}

func (t *Table) complexLatency(inst *insts.Instruction) uint64 {
	switch inst.Op {
	case insts.OpDIV, insts.OpDIVU, insts.OpREM, insts.OpREMU,
		insts.OpDIVW, insts.OpDIVUW, insts.OpREMW, insts.OpREMUW:
		return t.config.DivideLatency
	case insts.OpCustom0:
		return t.config.AcceleratorLatency
	}
	return t.config.MultiplyLatency
}

// MispredictPenalty returns the fetch stall after a misprediction.
func (t *Table) MispredictPenalty() uint64 {
	return t.config.BranchMispredictPenalty
}

// IsMemoryOp returns true if the instruction accesses memory.
func (t *Table) IsMemoryOp(inst *insts.Instruction) bool {
	return inst != nil && (inst.IsLoad() || inst.IsStore())
}

// IsBranchOp returns true if the instruction can redirect fetch.
func (t *Table) IsBranchOp(inst *insts.Instruction) bool {
	return inst != nil && inst.IsControl()
}

// Config returns the current timing configuration.
func (t *Table) Config() *TimingConfig {
	return t.config
}
