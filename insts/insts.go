// Package insts provides RV64 instruction definitions and decoding.
//
// This package decodes RISC-V machine words into structured instruction
// representations and classifies each one into the function-unit class
// used by the timing model. It supports:
//   - RV64I integer computation, loads, stores, branches and jumps
//   - the M extension (multiply/divide)
//   - LR/SC and AMOSWAP/AMOADD from the A extension
//   - a small D/F subset (FLW, FLD, FSW, FSD, FADD.D, FMV.X.D, FMV.D.X)
//   - CSR access, SCALL, SBREAK, ERET and FENCE
//   - the custom-0 opcode, handed to an accelerator extension
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst := decoder.Decode(0x02a00513) // addi a0, zero, 42
//	fmt.Printf("Op: %v, Rd: %d, Imm: %d\n", inst.Op, inst.Rd, inst.Imm)
package insts

// Op represents a RISC-V operation.
type Op uint16

// RISC-V operations.
const (
	OpUnknown Op = iota
	OpLUI
	OpAUIPC
	OpJAL
	OpJALR
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpBLTU
	OpBGEU
	OpLB
	OpLH
	OpLW
	OpLD
	OpLBU
	OpLHU
	OpLWU
	OpSB
	OpSH
	OpSW
	OpSD
	OpADDI
	OpSLTI
	OpSLTIU
	OpXORI
	OpORI
	OpANDI
	OpSLLI
	OpSRLI
	OpSRAI
	OpADD
	OpSUB
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL
	OpSRA
	OpOR
	OpAND
	OpMUL
	OpMULH
	OpMULHSU
	OpMULHU
	OpDIV
	OpDIVU
	OpREM
	OpREMU
	OpADDIW
	OpSLLIW
	OpSRLIW
	OpSRAIW
	OpADDW
	OpSUBW
	OpSLLW
	OpSRLW
	OpSRAW
	OpMULW
	OpDIVW
	OpDIVUW
	OpREMW
	OpREMUW
	OpFENCE
	OpFENCEI
	OpSCALL
	OpSBREAK
	OpERET
	OpCSRRW
	OpCSRRS
	OpCSRRC
	OpCSRRWI
	OpCSRRSI
	OpCSRRCI
	OpLRW
	OpLRD
	OpSCW
	OpSCD
	OpAMOSWAPW
	OpAMOSWAPD
	OpAMOADDW
	OpAMOADDD
	OpFLW
	OpFLD
	OpFSW
	OpFSD
	OpFADDD
	OpFMVXD
	OpFMVDX
	OpCustom0
	numOps
)

var opNames = [numOps]string{
	OpUnknown: "unknown", OpLUI: "lui", OpAUIPC: "auipc", OpJAL: "jal",
	OpJALR: "jalr", OpBEQ: "beq", OpBNE: "bne", OpBLT: "blt", OpBGE: "bge",
	OpBLTU: "bltu", OpBGEU: "bgeu", OpLB: "lb", OpLH: "lh", OpLW: "lw",
	OpLD: "ld", OpLBU: "lbu", OpLHU: "lhu", OpLWU: "lwu", OpSB: "sb",
	OpSH: "sh", OpSW: "sw", OpSD: "sd", OpADDI: "addi", OpSLTI: "slti",
	OpSLTIU: "sltiu", OpXORI: "xori", OpORI: "ori", OpANDI: "andi",
	OpSLLI: "slli", OpSRLI: "srli", OpSRAI: "srai", OpADD: "add",
	OpSUB: "sub", OpSLL: "sll", OpSLT: "slt", OpSLTU: "sltu", OpXOR: "xor",
	OpSRL: "srl", OpSRA: "sra", OpOR: "or", OpAND: "and", OpMUL: "mul",
	OpMULH: "mulh", OpMULHSU: "mulhsu", OpMULHU: "mulhu", OpDIV: "div",
	OpDIVU: "divu", OpREM: "rem", OpREMU: "remu", OpADDIW: "addiw",
	OpSLLIW: "slliw", OpSRLIW: "srliw", OpSRAIW: "sraiw", OpADDW: "addw",
	OpSUBW: "subw", OpSLLW: "sllw", OpSRLW: "srlw", OpSRAW: "sraw",
	OpMULW: "mulw", OpDIVW: "divw", OpDIVUW: "divuw", OpREMW: "remw",
	OpREMUW: "remuw", OpFENCE: "fence", OpFENCEI: "fence.i",
	OpSCALL: "scall", OpSBREAK: "sbreak", OpERET: "eret",
	OpCSRRW: "csrrw", OpCSRRS: "csrrs", OpCSRRC: "csrrc",
	OpCSRRWI: "csrrwi", OpCSRRSI: "csrrsi", OpCSRRCI: "csrrci",
	OpLRW: "lr.w", OpLRD: "lr.d", OpSCW: "sc.w", OpSCD: "sc.d",
	OpAMOSWAPW: "amoswap.w", OpAMOSWAPD: "amoswap.d",
	OpAMOADDW: "amoadd.w", OpAMOADDD: "amoadd.d", OpFLW: "flw",
	OpFLD: "fld", OpFSW: "fsw", OpFSD: "fsd", OpFADDD: "fadd.d",
	OpFMVXD: "fmv.x.d", OpFMVDX: "fmv.d.x", OpCustom0: "custom0",
}

// String returns the assembler mnemonic of the operation.
func (o Op) String() string {
	if o >= numOps {
		return "unknown"
	}
	return opNames[o]
}

// Format represents an instruction encoding format.
type Format uint8

// Instruction formats.
const (
	FormatUnknown Format = iota
	FormatR
	FormatI
	FormatS
	FormatB
	FormatU
	FormatJ
)

// FUType is the function-unit class an instruction issues to.
type FUType uint8

// Function-unit classes. The order matches the lane matrix fields.
const (
	FUBR FUType = iota
	FULS
	FUALUS
	FUALUC
	FULSFP
	FUALUFP
	FUMTF
	NumFUTypes
)

var fuNames = [NumFUTypes]string{"BR", "LS", "ALU_S", "ALU_C", "LS_FP", "ALU_FP", "MTF"}

func (f FUType) String() string {
	if f >= NumFUTypes {
		return "?"
	}
	return fuNames[f]
}

// Instruction represents a decoded RISC-V instruction.
type Instruction struct {
	Op     Op     // Operation
	Format Format // Encoding format
	FU     FUType // Function-unit class
	Raw    uint32 // Raw machine word

	Rd  uint8 // Destination register
	Rs1 uint8 // First source register
	Rs2 uint8 // Second source register

	// Operand presence and register-file selection.
	HasRd    bool
	HasRs1   bool
	HasRs2   bool
	RdFloat  bool
	Rs1Float bool
	Rs2Float bool

	Imm int64  // Sign-extended immediate
	CSR uint16 // CSR address for CSR instructions

	// Split marks instructions that occupy two payload slots (FP stores
	// split into address and data halves).
	Split bool
}

// IsControl reports whether the instruction can redirect fetch.
func (i *Instruction) IsControl() bool {
	return i.FU == FUBR
}

// IsSystem reports whether the instruction reads or writes privileged state
// and therefore must execute alone.
func (i *Instruction) IsSystem() bool {
	switch i.Op {
	case OpSCALL, OpSBREAK, OpERET, OpFENCEI,
		OpCSRRW, OpCSRRS, OpCSRRC, OpCSRRWI, OpCSRRSI, OpCSRRCI:
		return true
	}
	return false
}

// IsLoad reports whether the instruction reads memory.
func (i *Instruction) IsLoad() bool {
	switch i.Op {
	case OpLB, OpLH, OpLW, OpLD, OpLBU, OpLHU, OpLWU, OpFLW, OpFLD,
		OpLRW, OpLRD, OpAMOSWAPW, OpAMOSWAPD, OpAMOADDW, OpAMOADDD:
		return true
	}
	return false
}

// IsStore reports whether the instruction writes memory.
func (i *Instruction) IsStore() bool {
	switch i.Op {
	case OpSB, OpSH, OpSW, OpSD, OpFSW, OpFSD,
		OpSCW, OpSCD, OpAMOSWAPW, OpAMOSWAPD, OpAMOADDW, OpAMOADDD:
		return true
	}
	return false
}
