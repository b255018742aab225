package benchmarks

import (
	"github.com/sarchlab/micros/emu"
	"github.com/sarchlab/micros/insts"
)

// Registers used by the benchmark programs.
const (
	ra   = 1
	a0   = 10
	a1   = 11
	a2   = 12
	a3   = 13
	base = 5
)

// dataBase is where benchmarks keep their data.
const dataBase = 0x8000

// GetMicrobenchmarks returns the standard set of microbenchmarks for
// calibration. Each benchmark targets a specific core characteristic.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		arithmeticSequential(),
		dependencyChain(),
		memorySequential(),
		functionCalls(),
		branchTaken(),
		mixedOperations(),
		matrixMultiply2x2(),
		loopSimulation(),
		nestedLoops(),
	}
}

// GetCoreBenchmarks returns a minimal set of 3 core benchmarks for quick
// validation: a loop, a matrix multiply and branch-heavy code.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		loopSimulation(),
		matrixMultiply2x2(),
		branchTaken(),
	}
}

// exitWith ends a program with the value of rd as the exit code.
func exitWith(rd uint8) []uint32 {
	return []uint32{
		insts.SLLI(rd, rd, 1),
		insts.ADDI(rd, rd, 1),
		insts.CSRRW(0, emu.CSRToHost, rd),
		insts.JAL(0, 0),
	}
}

func program(parts ...[]uint32) []uint32 {
	var words []uint32
	for _, p := range parts {
		words = append(words, p...)
	}
	return words
}

func setBase(state *emu.ArchState, _ *emu.Memory) {
	state.XPR[base] = dataBase
}

// 1. Arithmetic Sequential - ALU throughput with independent operations
func arithmeticSequential() Benchmark {
	body := make([]uint32, 0, 20)
	for i := 0; i < 20; i++ {
		body = append(body, insts.ADDI(uint8(a0+i%5), uint8(a0+i%5), 1))
	}

	return Benchmark{
		Name:         "arithmetic_sequential",
		Description:  "20 independent ADDIs over 5 registers - measures ALU throughput",
		Program:      program(body, exitWith(a0)),
		ExpectedExit: 4,
	}
}

// 2. Dependency Chain - instruction latency with RAW hazards
func dependencyChain() Benchmark {
	return Benchmark{
		Name:         "dependency_chain",
		Description:  "20 dependent ADDIs (a0 = a0 + 1) - measures forwarding latency",
		Program:      buildDependencyChain(20),
		ExpectedExit: 20,
	}
}

func buildDependencyChain(n int) []uint32 {
	body := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		body = append(body, insts.ADDI(a0, a0, 1))
	}
	return program(body, exitWith(a0))
}

// 3. Memory Sequential - D-cache behavior on a short sequential walk
func memorySequential() Benchmark {
	body := make([]uint32, 0, 20)
	for i := int64(0); i < 10; i++ {
		body = append(body, insts.SD(a0, base, 8*i), insts.LD(a0, base, 8*i))
	}

	return Benchmark{
		Name:        "memory_sequential",
		Description: "10 store/load pairs to sequential doublewords - measures memory latency",
		Setup: func(state *emu.ArchState, memory *emu.Memory) {
			setBase(state, memory)
			state.XPR[a0] = 42
		},
		Program:      program(body, exitWith(a0)),
		ExpectedExit: 42,
	}
}

// 4. Function Calls - JAL/JALR overhead and the return address stack
func functionCalls() Benchmark {
	const calls = 5
	exitLen := len(exitWith(a0))
	callee := calls + exitLen

	body := make([]uint32, 0, calls)
	for i := 0; i < calls; i++ {
		body = append(body, insts.JAL(ra, int64(4*(callee-i))))
	}

	return Benchmark{
		Name:        "function_calls",
		Description: "5 calls of a leaf function (JAL + JALR pairs) - measures call overhead",
		Program: program(
			body,
			exitWith(a0),
			[]uint32{
				insts.ADDI(a0, a0, 1),
				insts.JALR(0, ra, 0),
			},
		),
		ExpectedExit: calls,
	}
}

// 5. Branch Taken - forward jumps over poisoned instructions
func branchTaken() Benchmark {
	body := make([]uint32, 0, 15)
	for i := 0; i < 5; i++ {
		body = append(body,
			insts.JAL(0, 8),
			insts.ADDI(a0, a0, 100),
			insts.ADDI(a0, a0, 1),
		)
	}

	return Benchmark{
		Name:         "branch_taken",
		Description:  "5 taken forward jumps - measures redirect overhead",
		Program:      program(body, exitWith(a0)),
		ExpectedExit: 5,
	}
}

// 6. Mixed Operations - multiply, divide and memory in one stream
func mixedOperations() Benchmark {
	return Benchmark{
		Name:        "mixed_operations",
		Description: "MUL, SUB, SD, LD, ADD and DIV - measures lane and latency mix",
		Setup:       setBase,
		Program: program(
			[]uint32{
				insts.ADDI(a1, 0, 6),
				insts.ADDI(a2, 0, 7),
				insts.MUL(a0, a1, a2),
				insts.SUB(a0, a0, a1),
				insts.SD(a0, base, 0),
				insts.LD(a3, base, 0),
				insts.ADD(a0, a0, a3),
				insts.DIV(a0, a0, a1),
			},
			exitWith(a0),
		),
		ExpectedExit: 12,
	}
}

// 7. Matrix Multiply 2x2 - loads, multiplies and stores of a tiny kernel
func matrixMultiply2x2() Benchmark {
	a := []uint64{1, 2, 3, 4}
	b := []uint64{5, 6, 7, 8}

	// a00..a11 in x6..x9, b00..b11 in x18..x21, c00..c11 in x22..x25.
	loads := make([]uint32, 0, 8)
	for i := int64(0); i < 4; i++ {
		loads = append(loads, insts.LD(uint8(6+i), base, 8*i))
		loads = append(loads, insts.LD(uint8(18+i), base, 32+8*i))
	}

	dot := func(c, x, y, z, w uint8) []uint32 {
		return []uint32{
			insts.MUL(28, x, y),
			insts.MUL(29, z, w),
			insts.ADD(c, 28, 29),
		}
	}

	return Benchmark{
		Name:        "matrix_multiply_2x2",
		Description: "2x2 integer matrix multiply from memory - sums the result",
		Setup: func(state *emu.ArchState, memory *emu.Memory) {
			setBase(state, memory)
			for i := range a {
				memory.Write64(dataBase+8*uint64(i), a[i])
				memory.Write64(dataBase+32+8*uint64(i), b[i])
			}
		},
		Program: program(
			loads,
			dot(22, 6, 18, 7, 20),
			dot(23, 6, 19, 7, 21),
			dot(24, 8, 18, 9, 20),
			dot(25, 8, 19, 9, 21),
			[]uint32{
				insts.SD(22, base, 64),
				insts.SD(23, base, 72),
				insts.SD(24, base, 80),
				insts.SD(25, base, 88),
				insts.ADD(a0, 22, 23),
				insts.ADD(a0, a0, 24),
				insts.ADD(a0, a0, 25),
			},
			exitWith(a0),
		),
		ExpectedExit: 19 + 22 + 43 + 50,
	}
}

// 8. Loop Simulation - a counted loop that trains the predictor
func loopSimulation() Benchmark {
	return Benchmark{
		Name:        "loop_simulation",
		Description: "10-iteration counted loop - measures backward branch prediction",
		Program: program(
			[]uint32{
				insts.ADDI(a1, 0, 10),
				insts.ADDI(a0, a0, 1),
				insts.ADDI(a1, a1, -1),
				insts.BNE(a1, 0, -8),
			},
			exitWith(a0),
		),
		ExpectedExit: 10,
	}
}

// 9. Nested Loops - an inner loop whose exit mispredicts once per outer trip
func nestedLoops() Benchmark {
	return Benchmark{
		Name:        "nested_loops",
		Description: "4x5 nested counted loops - measures loop-exit mispredictions",
		Program: program(
			[]uint32{
				insts.ADDI(a1, 0, 4),
				insts.ADDI(a2, 0, 5),
				insts.ADDI(a0, a0, 1),
				insts.ADDI(a2, a2, -1),
				insts.BNE(a2, 0, -8),
				insts.ADDI(a1, a1, -1),
				insts.BNE(a1, 0, -20),
			},
			exitWith(a0),
		),
		ExpectedExit: 20,
	}
}
