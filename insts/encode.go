package insts

// The encoders below build machine words for hand-written programs used by
// the benchmarks and tests. They perform no range checking.

// EncodeR builds an R-type word.
func EncodeR(opcode, funct3, funct7 uint32, rd, rs1, rs2 uint8) uint32 {
	return funct7<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 |
		funct3<<12 | uint32(rd)<<7 | opcode
}

// EncodeI builds an I-type word.
func EncodeI(opcode, funct3 uint32, rd, rs1 uint8, imm int64) uint32 {
	return uint32(imm&0xfff)<<20 | uint32(rs1)<<15 |
		funct3<<12 | uint32(rd)<<7 | opcode
}

// EncodeS builds an S-type word.
func EncodeS(opcode, funct3 uint32, rs1, rs2 uint8, imm int64) uint32 {
	u := uint32(imm & 0xfff)
	return (u>>5)<<25 | uint32(rs2)<<20 | uint32(rs1)<<15 |
		funct3<<12 | (u&0x1f)<<7 | opcode
}

// EncodeB builds a B-type word. imm is the byte offset from the branch.
func EncodeB(funct3 uint32, rs1, rs2 uint8, imm int64) uint32 {
	u := uint32(imm & 0x1fff)
	return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | uint32(rs2)<<20 |
		uint32(rs1)<<15 | funct3<<12 | (u>>1&0xf)<<8 | (u>>11&1)<<7 |
		opcodeBranch
}

// EncodeU builds a U-type word. imm holds the upper 20 bits already shifted.
func EncodeU(opcode uint32, rd uint8, imm int64) uint32 {
	return uint32(imm)&0xfffff000 | uint32(rd)<<7 | opcode
}

// EncodeJ builds a JAL word.
func EncodeJ(rd uint8, imm int64) uint32 {
	u := uint32(imm & 0x1fffff)
	return (u>>20&1)<<31 | (u>>1&0x3ff)<<21 | (u>>11&1)<<20 |
		(u>>12&0xff)<<12 | uint32(rd)<<7 | opcodeJAL
}

// ADDI encodes addi rd, rs1, imm.
func ADDI(rd, rs1 uint8, imm int64) uint32 { return EncodeI(opcodeOpImm, 0, rd, rs1, imm) }

// ADDIW encodes addiw rd, rs1, imm.
func ADDIW(rd, rs1 uint8, imm int64) uint32 { return EncodeI(opcodeOpImm32, 0, rd, rs1, imm) }

// SLLI encodes slli rd, rs1, shamt.
func SLLI(rd, rs1 uint8, shamt int64) uint32 { return EncodeI(opcodeOpImm, 1, rd, rs1, shamt) }

// ADD encodes add rd, rs1, rs2.
func ADD(rd, rs1, rs2 uint8) uint32 { return EncodeR(opcodeOp, 0, 0, rd, rs1, rs2) }

// SUB encodes sub rd, rs1, rs2.
func SUB(rd, rs1, rs2 uint8) uint32 { return EncodeR(opcodeOp, 0, funct7Alt, rd, rs1, rs2) }

// MUL encodes mul rd, rs1, rs2.
func MUL(rd, rs1, rs2 uint8) uint32 { return EncodeR(opcodeOp, 0, funct7MulDiv, rd, rs1, rs2) }

// DIV encodes div rd, rs1, rs2.
func DIV(rd, rs1, rs2 uint8) uint32 { return EncodeR(opcodeOp, 4, funct7MulDiv, rd, rs1, rs2) }

// LUI encodes lui rd, imm.
func LUI(rd uint8, imm int64) uint32 { return EncodeU(opcodeLUI, rd, imm) }

// LD encodes ld rd, imm(rs1).
func LD(rd, rs1 uint8, imm int64) uint32 { return EncodeI(opcodeLoad, 3, rd, rs1, imm) }

// LW encodes lw rd, imm(rs1).
func LW(rd, rs1 uint8, imm int64) uint32 { return EncodeI(opcodeLoad, 2, rd, rs1, imm) }

// SD encodes sd rs2, imm(rs1).
func SD(rs2, rs1 uint8, imm int64) uint32 { return EncodeS(opcodeStore, 3, rs1, rs2, imm) }

// SW encodes sw rs2, imm(rs1).
func SW(rs2, rs1 uint8, imm int64) uint32 { return EncodeS(opcodeStore, 2, rs1, rs2, imm) }

// FLD encodes fld frd, imm(rs1).
func FLD(frd, rs1 uint8, imm int64) uint32 { return EncodeI(opcodeLoadFP, 3, frd, rs1, imm) }

// FSD encodes fsd frs2, imm(rs1).
func FSD(frs2, rs1 uint8, imm int64) uint32 { return EncodeS(opcodeStoreFP, 3, rs1, frs2, imm) }

// FADDD encodes fadd.d frd, frs1, frs2 with dynamic rounding.
func FADDD(frd, frs1, frs2 uint8) uint32 {
	return EncodeR(opcodeOpFP, 7, funct7FAddD, frd, frs1, frs2)
}

// FMVXD encodes fmv.x.d rd, frs1.
func FMVXD(rd, frs1 uint8) uint32 { return EncodeR(opcodeOpFP, 0, funct7FMvXD, rd, frs1, 0) }

// FMVDX encodes fmv.d.x frd, rs1.
func FMVDX(frd, rs1 uint8) uint32 { return EncodeR(opcodeOpFP, 0, funct7FMvDX, frd, rs1, 0) }

// BEQ encodes beq rs1, rs2, offset.
func BEQ(rs1, rs2 uint8, offset int64) uint32 { return EncodeB(0, rs1, rs2, offset) }

// BNE encodes bne rs1, rs2, offset.
func BNE(rs1, rs2 uint8, offset int64) uint32 { return EncodeB(1, rs1, rs2, offset) }

// BLT encodes blt rs1, rs2, offset.
func BLT(rs1, rs2 uint8, offset int64) uint32 { return EncodeB(4, rs1, rs2, offset) }

// JAL encodes jal rd, offset.
func JAL(rd uint8, offset int64) uint32 { return EncodeJ(rd, offset) }

// JALR encodes jalr rd, imm(rs1).
func JALR(rd, rs1 uint8, imm int64) uint32 { return EncodeI(opcodeJALR, 0, rd, rs1, imm) }

// CSRRW encodes csrrw rd, csr, rs1.
func CSRRW(rd uint8, csr uint16, rs1 uint8) uint32 {
	return EncodeI(opcodeSystem, 1, rd, rs1, int64(csr))
}

// CSRRS encodes csrrs rd, csr, rs1.
func CSRRS(rd uint8, csr uint16, rs1 uint8) uint32 {
	return EncodeI(opcodeSystem, 2, rd, rs1, int64(csr))
}

// CSRRSI encodes csrrsi rd, csr, zimm.
func CSRRSI(rd uint8, csr uint16, zimm uint8) uint32 {
	return EncodeI(opcodeSystem, 6, rd, zimm, int64(csr))
}

// LRD encodes lr.d rd, (rs1).
func LRD(rd, rs1 uint8) uint32 {
	return EncodeR(opcodeAMO, funct3AMODword, amoFunct5LR<<2, rd, rs1, 0)
}

// SCD encodes sc.d rd, rs2, (rs1).
func SCD(rd, rs1, rs2 uint8) uint32 {
	return EncodeR(opcodeAMO, funct3AMODword, amoFunct5SC<<2, rd, rs1, rs2)
}

// Custom0 encodes a custom-0 accelerator instruction.
func Custom0(funct7 uint32, rd, rs1, rs2 uint8) uint32 {
	return EncodeR(opcodeCustom0, 0, funct7, rd, rs1, rs2)
}

// SCALL encodes scall.
func SCALL() uint32 { return 0x00000073 }

// SBREAK encodes sbreak.
func SBREAK() uint32 { return 0x00100073 }

// ERET encodes eret.
func ERET() uint32 { return 0x80000073 }

// NOP encodes addi zero, zero, 0.
func NOP() uint32 { return ADDI(0, 0, 0) }
