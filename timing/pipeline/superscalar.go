package pipeline

import (
	"math/bits"

	"github.com/sarchlab/micros/insts"
)

// laneAllocator hands out issue lanes for one cycle. A function-unit class
// may only use the lanes set in its lane-matrix mask.
type laneAllocator struct {
	matrix [insts.NumFUTypes]uint32
	usable uint32
	busy   uint32
}

func newLaneAllocator(matrix [insts.NumFUTypes]uint32, width int) laneAllocator {
	usable := ^uint32(0)
	if width < 32 {
		usable = uint32(1)<<uint(width) - 1
	}
	return laneAllocator{matrix: matrix, usable: usable}
}

func (l *laneAllocator) newCycle() {
	l.busy = 0
}

// take claims the lowest free lane fu may use.
func (l *laneAllocator) take(fu insts.FUType) (int, bool) {
	if fu >= insts.NumFUTypes {
		return 0, false
	}

	free := l.matrix[fu] & l.usable &^ l.busy
	if free == 0 {
		return 0, false
	}

	lane := bits.TrailingZeros32(free)
	l.busy |= 1 << uint(lane)
	return lane, true
}
