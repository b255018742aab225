package pipeline

import "github.com/sarchlab/micros/insts"

// BranchPredictorConfig holds configuration for the branch predictor.
type BranchPredictorConfig struct {
	// BHTSize is the number of entries in the Branch History Table.
	// Must be a power of 2.
	BHTSize uint32
	// BTBSize is the number of entries in the Branch Target Buffer.
	// Must be a power of 2.
	BTBSize uint32
	// RASSize is the depth of the return address stack.
	RASSize uint32
}

// DefaultBranchPredictorConfig returns a default configuration.
func DefaultBranchPredictorConfig() BranchPredictorConfig {
	return BranchPredictorConfig{
		BHTSize: 0x10000,
		BTBSize: 0x1000,
		RASSize: 32,
	}
}

// BranchPredictorStats holds statistics for the branch predictor.
type BranchPredictorStats struct {
	// Predictions is the number of conditional branch predictions made.
	Predictions uint64
	// Correct is the number of correct predictions.
	Correct uint64
	// Mispredictions is the number of incorrect predictions.
	Mispredictions uint64
	// BTBHits is the number of BTB hits.
	BTBHits uint64
	// BTBMisses is the number of BTB misses.
	BTBMisses uint64
	// RASHits is the number of returns predicted from the RAS.
	RASHits uint64
	// RASMisses is the number of returns that found the RAS empty.
	RASMisses uint64
}

// Accuracy returns the prediction accuracy as a percentage.
func (s BranchPredictorStats) Accuracy() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Predictions) * 100
}

// MispredictionRate returns the misprediction rate as a percentage.
func (s BranchPredictorStats) MispredictionRate() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Mispredictions) / float64(s.Predictions) * 100
}

// BTBHitRate returns the BTB hit rate as a percentage.
func (s BranchPredictorStats) BTBHitRate() float64 {
	total := s.BTBHits + s.BTBMisses
	if total == 0 {
		return 0
	}
	return float64(s.BTBHits) / float64(total) * 100
}

// Prediction represents a branch prediction result.
type Prediction struct {
	// Taken indicates whether the branch is predicted to be taken.
	Taken bool
	// Target is the predicted target address (if known from BTB).
	Target uint64
	// TargetKnown indicates whether the target address is known.
	TargetKnown bool
}

// BranchPredictor implements a 2-bit saturating counter (bimodal) predictor
// with a Branch Target Buffer (BTB) and a return address stack.
type BranchPredictor struct {
	// States: 0=Strongly Not Taken, 1=Weakly Not Taken,
	//         2=Weakly Taken, 3=Strongly Taken
	bht []uint8

	btb      []btbEntry
	btbValid []bool

	// ras is a circular stack; overflow overwrites the oldest entry.
	ras      []uint64
	rasTop   uint32
	rasDepth uint32

	bhtSize uint32
	btbSize uint32

	stats BranchPredictorStats
}

type btbEntry struct {
	pc     uint64
	target uint64
}

// NewBranchPredictor creates a new branch predictor with the given configuration.
func NewBranchPredictor(config BranchPredictorConfig) *BranchPredictor {
	defaults := DefaultBranchPredictorConfig()
	if config.BHTSize == 0 {
		config.BHTSize = defaults.BHTSize
	}
	if config.BTBSize == 0 {
		config.BTBSize = defaults.BTBSize
	}
	if config.RASSize == 0 {
		config.RASSize = defaults.RASSize
	}

	bp := &BranchPredictor{
		bht:      make([]uint8, config.BHTSize),
		btb:      make([]btbEntry, config.BTBSize),
		btbValid: make([]bool, config.BTBSize),
		ras:      make([]uint64, config.RASSize),
		bhtSize:  config.BHTSize,
		btbSize:  config.BTBSize,
	}

	// Biased towards taken.
	for i := range bp.bht {
		bp.bht[i] = 2
	}

	return bp
}

func (bp *BranchPredictor) bhtIndex(pc uint64) uint32 {
	return uint32((pc >> 2) & uint64(bp.bhtSize-1))
}

func (bp *BranchPredictor) btbIndex(pc uint64) uint32 {
	return uint32((pc >> 2) & uint64(bp.btbSize-1))
}

// Predict makes a branch prediction for the given PC.
func (bp *BranchPredictor) Predict(pc uint64) Prediction {
	pred := Prediction{}

	pred.Taken = bp.bht[bp.bhtIndex(pc)] >= 2

	if target, ok := bp.lookupBTB(pc); ok {
		pred.Target = target
		pred.TargetKnown = true
	}

	bp.stats.Predictions++
	return pred
}

func (bp *BranchPredictor) lookupBTB(pc uint64) (uint64, bool) {
	idx := bp.btbIndex(pc)
	if bp.btbValid[idx] && bp.btb[idx].pc == pc {
		bp.stats.BTBHits++
		return bp.btb[idx].target, true
	}
	bp.stats.BTBMisses++
	return 0, false
}

// Update updates the predictor with the actual branch outcome.
func (bp *BranchPredictor) Update(pc uint64, taken bool, target uint64) {
	bhtIdx := bp.bhtIndex(pc)
	counter := bp.bht[bhtIdx]

	predicted := counter >= 2
	if predicted == taken {
		bp.stats.Correct++
	} else {
		bp.stats.Mispredictions++
	}

	if taken {
		if counter < 3 {
			bp.bht[bhtIdx] = counter + 1
		}
	} else if counter > 0 {
		bp.bht[bhtIdx] = counter - 1
	}

	if taken {
		bp.updateBTB(pc, target)
	}
}

func (bp *BranchPredictor) updateBTB(pc, target uint64) {
	idx := bp.btbIndex(pc)
	bp.btb[idx] = btbEntry{pc: pc, target: target}
	bp.btbValid[idx] = true
}

// isLink reports whether a register is a link register by calling convention.
func isLink(reg uint8) bool {
	return reg == 1 || reg == 5
}

func (bp *BranchPredictor) push(addr uint64) {
	bp.rasTop = (bp.rasTop + 1) % uint32(len(bp.ras))
	bp.ras[bp.rasTop] = addr
	if bp.rasDepth < uint32(len(bp.ras)) {
		bp.rasDepth++
	}
}

func (bp *BranchPredictor) pop() (uint64, bool) {
	if bp.rasDepth == 0 {
		bp.stats.RASMisses++
		return 0, false
	}
	addr := bp.ras[bp.rasTop]
	bp.rasTop = (bp.rasTop + uint32(len(bp.ras)) - 1) % uint32(len(bp.ras))
	bp.rasDepth--
	bp.stats.RASHits++
	return addr, true
}

// PredictNext returns the predicted address of the instruction after inst,
// located at pc. Direct jumps and conditional branches compute their target
// from the immediate; indirect jumps use the RAS for returns and the BTB
// otherwise. Calls push their return address.
func (bp *BranchPredictor) PredictNext(inst *insts.Instruction, pc uint64) uint64 {
	fallThrough := pc + 4

	switch inst.Op {
	case insts.OpJAL:
		if isLink(inst.Rd) {
			bp.push(fallThrough)
		}
		return pc + uint64(inst.Imm)

	case insts.OpJALR:
		if !isLink(inst.Rd) && isLink(inst.Rs1) {
			if addr, ok := bp.pop(); ok {
				return addr
			}
		}
		if isLink(inst.Rd) {
			bp.push(fallThrough)
		}
		if target, ok := bp.lookupBTB(pc); ok {
			return target
		}
		return fallThrough

	case insts.OpBEQ, insts.OpBNE, insts.OpBLT, insts.OpBGE, insts.OpBLTU, insts.OpBGEU:
		if bp.Predict(pc).Taken {
			return pc + uint64(inst.Imm)
		}
	}

	return fallThrough
}

// Resolve trains the predictor with the resolved successor of a control
// instruction.
func (bp *BranchPredictor) Resolve(inst *insts.Instruction, pc, next uint64) {
	switch inst.Op {
	case insts.OpJALR:
		bp.updateBTB(pc, next)
	case insts.OpBEQ, insts.OpBNE, insts.OpBLT, insts.OpBGE, insts.OpBLTU, insts.OpBGEU:
		bp.Update(pc, next != pc+4, next)
	}
}

// Stats returns the branch predictor statistics.
func (bp *BranchPredictor) Stats() BranchPredictorStats {
	return bp.stats
}

// Reset clears all predictor state and statistics.
func (bp *BranchPredictor) Reset() {
	for i := range bp.bht {
		bp.bht[i] = 2
	}

	for i := range bp.btbValid {
		bp.btbValid[i] = false
	}

	bp.rasTop = 0
	bp.rasDepth = 0

	bp.stats = BranchPredictorStats{}
}
