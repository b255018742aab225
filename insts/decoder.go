package insts

// Major opcodes (bits [6:0]).
const (
	opcodeLoad     = 0x03
	opcodeLoadFP   = 0x07
	opcodeCustom0  = 0x0b
	opcodeMiscMem  = 0x0f
	opcodeOpImm    = 0x13
	opcodeAUIPC    = 0x17
	opcodeOpImm32  = 0x1b
	opcodeStore    = 0x23
	opcodeStoreFP  = 0x27
	opcodeAMO      = 0x2f
	opcodeOp       = 0x33
	opcodeLUI      = 0x37
	opcodeOp32     = 0x3b
	opcodeOpFP     = 0x53
	opcodeBranch   = 0x63
	opcodeJALR     = 0x67
	opcodeJAL      = 0x6f
	opcodeSystem   = 0x73
	funct7MulDiv   = 0x01
	funct7Alt      = 0x20
	funct7FAddD    = 0x01
	funct7FMvXD    = 0x71
	funct7FMvDX    = 0x79
	immERET        = 0x800
	amoFunct5Add   = 0x00
	amoFunct5Swap  = 0x01
	amoFunct5LR    = 0x02
	amoFunct5SC    = 0x03
	funct3AMOWord  = 2
	funct3AMODword = 3
)

// Decoder decodes RV64 machine words into Instructions.
type Decoder struct{}

// NewDecoder creates a new instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes a 32-bit RISC-V instruction word. Unrecognized encodings
// decode to OpUnknown, which the executor turns into an illegal-instruction
// trap.
func (d *Decoder) Decode(word uint32) *Instruction {
	inst := &Instruction{
		Raw: word,
		Rd:  uint8((word >> 7) & 0x1f),
		Rs1: uint8((word >> 15) & 0x1f),
		Rs2: uint8((word >> 20) & 0x1f),
	}

	funct3 := (word >> 12) & 0x7
	funct7 := word >> 25

	switch word & 0x7f {
	case opcodeLUI:
		d.setU(inst, OpLUI)
	case opcodeAUIPC:
		d.setU(inst, OpAUIPC)
	case opcodeJAL:
		inst.Op, inst.Format, inst.FU = OpJAL, FormatJ, FUBR
		inst.HasRd = true
		inst.Imm = immJ(word)
	case opcodeJALR:
		if funct3 == 0 {
			d.setI(inst, OpJALR, FUBR)
		}
	case opcodeBranch:
		d.decodeBranch(inst, word, funct3)
	case opcodeLoad:
		d.decodeLoad(inst, funct3)
	case opcodeLoadFP:
		d.decodeLoadFP(inst, funct3)
	case opcodeStore:
		d.decodeStore(inst, word, funct3)
	case opcodeStoreFP:
		d.decodeStoreFP(inst, word, funct3)
	case opcodeOpImm:
		d.decodeOpImm(inst, word, funct3)
	case opcodeOpImm32:
		d.decodeOpImm32(inst, word, funct3, funct7)
	case opcodeOp:
		d.decodeOp(inst, funct3, funct7)
	case opcodeOp32:
		d.decodeOp32(inst, funct3, funct7)
	case opcodeAMO:
		d.decodeAMO(inst, word, funct3)
	case opcodeOpFP:
		d.decodeOpFP(inst, funct3, funct7)
	case opcodeMiscMem:
		d.decodeMiscMem(inst, funct3)
	case opcodeSystem:
		d.decodeSystem(inst, word, funct3)
	case opcodeCustom0:
		d.setR(inst, OpCustom0, FUALUC)
	}

	return inst
}

func (d *Decoder) setR(inst *Instruction, op Op, fu FUType) {
	inst.Op, inst.Format, inst.FU = op, FormatR, fu
	inst.HasRd, inst.HasRs1, inst.HasRs2 = true, true, true
}

func (d *Decoder) setI(inst *Instruction, op Op, fu FUType) {
	inst.Op, inst.Format, inst.FU = op, FormatI, fu
	inst.HasRd, inst.HasRs1 = true, true
	inst.Imm = immI(inst.Raw)
}

func (d *Decoder) setU(inst *Instruction, op Op) {
	inst.Op, inst.Format, inst.FU = op, FormatU, FUALUS
	inst.HasRd = true
	inst.Imm = int64(int32(inst.Raw & 0xfffff000))
}

func (d *Decoder) decodeBranch(inst *Instruction, word, funct3 uint32) {
	ops := [8]Op{OpBEQ, OpBNE, OpUnknown, OpUnknown, OpBLT, OpBGE, OpBLTU, OpBGEU}
	if ops[funct3] == OpUnknown {
		return
	}
	inst.Op, inst.Format, inst.FU = ops[funct3], FormatB, FUBR
	inst.HasRs1, inst.HasRs2 = true, true
	inst.Imm = immB(word)
}

func (d *Decoder) decodeLoad(inst *Instruction, funct3 uint32) {
	ops := [8]Op{OpLB, OpLH, OpLW, OpLD, OpLBU, OpLHU, OpLWU, OpUnknown}
	if ops[funct3] == OpUnknown {
		return
	}
	d.setI(inst, ops[funct3], FULS)
}

func (d *Decoder) decodeLoadFP(inst *Instruction, funct3 uint32) {
	switch funct3 {
	case 2:
		d.setI(inst, OpFLW, FULSFP)
	case 3:
		d.setI(inst, OpFLD, FULSFP)
	default:
		return
	}
	inst.RdFloat = true
}

func (d *Decoder) decodeStore(inst *Instruction, word, funct3 uint32) {
	ops := [8]Op{OpSB, OpSH, OpSW, OpSD}
	if funct3 > 3 {
		return
	}
	inst.Op, inst.Format, inst.FU = ops[funct3], FormatS, FULS
	inst.HasRs1, inst.HasRs2 = true, true
	inst.Imm = immS(word)
}

func (d *Decoder) decodeStoreFP(inst *Instruction, word, funct3 uint32) {
	switch funct3 {
	case 2:
		inst.Op = OpFSW
	case 3:
		inst.Op = OpFSD
	default:
		return
	}
	inst.Format, inst.FU = FormatS, FULSFP
	inst.HasRs1, inst.HasRs2, inst.Rs2Float = true, true, true
	inst.Imm = immS(word)
	inst.Split = true
}

func (d *Decoder) decodeOpImm(inst *Instruction, word, funct3 uint32) {
	switch funct3 {
	case 0:
		d.setI(inst, OpADDI, FUALUS)
	case 1:
		if word>>26 != 0 {
			return
		}
		d.setI(inst, OpSLLI, FUALUS)
		inst.Imm &= 0x3f
	case 2:
		d.setI(inst, OpSLTI, FUALUS)
	case 3:
		d.setI(inst, OpSLTIU, FUALUS)
	case 4:
		d.setI(inst, OpXORI, FUALUS)
	case 5:
		switch word >> 26 {
		case 0:
			d.setI(inst, OpSRLI, FUALUS)
		case 0x10:
			d.setI(inst, OpSRAI, FUALUS)
		default:
			return
		}
		inst.Imm &= 0x3f
	case 6:
		d.setI(inst, OpORI, FUALUS)
	case 7:
		d.setI(inst, OpANDI, FUALUS)
	}
}

func (d *Decoder) decodeOpImm32(inst *Instruction, word, funct3, funct7 uint32) {
	switch {
	case funct3 == 0:
		d.setI(inst, OpADDIW, FUALUS)
	case funct3 == 1 && funct7 == 0:
		d.setI(inst, OpSLLIW, FUALUS)
		inst.Imm &= 0x1f
	case funct3 == 5 && funct7 == 0:
		d.setI(inst, OpSRLIW, FUALUS)
		inst.Imm &= 0x1f
	case funct3 == 5 && funct7 == funct7Alt:
		d.setI(inst, OpSRAIW, FUALUS)
		inst.Imm &= 0x1f
	}
}

func (d *Decoder) decodeOp(inst *Instruction, funct3, funct7 uint32) {
	switch funct7 {
	case 0:
		ops := [8]Op{OpADD, OpSLL, OpSLT, OpSLTU, OpXOR, OpSRL, OpOR, OpAND}
		d.setR(inst, ops[funct3], FUALUS)
	case funct7Alt:
		switch funct3 {
		case 0:
			d.setR(inst, OpSUB, FUALUS)
		case 5:
			d.setR(inst, OpSRA, FUALUS)
		}
	case funct7MulDiv:
		ops := [8]Op{OpMUL, OpMULH, OpMULHSU, OpMULHU, OpDIV, OpDIVU, OpREM, OpREMU}
		d.setR(inst, ops[funct3], FUALUC)
	}
}

func (d *Decoder) decodeOp32(inst *Instruction, funct3, funct7 uint32) {
	switch funct7 {
	case 0:
		switch funct3 {
		case 0:
			d.setR(inst, OpADDW, FUALUS)
		case 1:
			d.setR(inst, OpSLLW, FUALUS)
		case 5:
			d.setR(inst, OpSRLW, FUALUS)
		}
	case funct7Alt:
		switch funct3 {
		case 0:
			d.setR(inst, OpSUBW, FUALUS)
		case 5:
			d.setR(inst, OpSRAW, FUALUS)
		}
	case funct7MulDiv:
		ops := [8]Op{OpMULW, OpUnknown, OpUnknown, OpUnknown, OpDIVW, OpDIVUW, OpREMW, OpREMUW}
		if ops[funct3] != OpUnknown {
			d.setR(inst, ops[funct3], FUALUC)
		}
	}
}

func (d *Decoder) decodeAMO(inst *Instruction, word, funct3 uint32) {
	if funct3 != funct3AMOWord && funct3 != funct3AMODword {
		return
	}
	dword := funct3 == funct3AMODword

	var op Op
	switch word >> 27 {
	case amoFunct5LR:
		op = pick(dword, OpLRD, OpLRW)
	case amoFunct5SC:
		op = pick(dword, OpSCD, OpSCW)
	case amoFunct5Swap:
		op = pick(dword, OpAMOSWAPD, OpAMOSWAPW)
	case amoFunct5Add:
		op = pick(dword, OpAMOADDD, OpAMOADDW)
	default:
		return
	}

	d.setR(inst, op, FULS)
	if op == OpLRW || op == OpLRD {
		inst.HasRs2 = false
	}
}

func (d *Decoder) decodeOpFP(inst *Instruction, funct3, funct7 uint32) {
	switch {
	case funct7 == funct7FAddD:
		d.setR(inst, OpFADDD, FUALUFP)
		inst.RdFloat, inst.Rs1Float, inst.Rs2Float = true, true, true
	case funct7 == funct7FMvXD && inst.Rs2 == 0 && funct3 == 0:
		d.setR(inst, OpFMVXD, FUMTF)
		inst.HasRs2 = false
		inst.Rs1Float = true
	case funct7 == funct7FMvDX && inst.Rs2 == 0 && funct3 == 0:
		d.setR(inst, OpFMVDX, FUMTF)
		inst.HasRs2 = false
		inst.RdFloat = true
	}
}

func (d *Decoder) decodeMiscMem(inst *Instruction, funct3 uint32) {
	switch funct3 {
	case 0:
		inst.Op, inst.Format, inst.FU = OpFENCE, FormatI, FUALUS
	case 1:
		inst.Op, inst.Format, inst.FU = OpFENCEI, FormatI, FUALUC
	}
}

func (d *Decoder) decodeSystem(inst *Instruction, word, funct3 uint32) {
	if funct3 == 0 {
		if inst.Rd != 0 || inst.Rs1 != 0 {
			return
		}
		switch word >> 20 {
		case 0:
			inst.Op = OpSCALL
		case 1:
			inst.Op = OpSBREAK
		case immERET:
			inst.Op = OpERET
		default:
			return
		}
		inst.Format, inst.FU = FormatI, FUALUC
		return
	}

	ops := [8]Op{OpUnknown, OpCSRRW, OpCSRRS, OpCSRRC, OpUnknown, OpCSRRWI, OpCSRRSI, OpCSRRCI}
	if ops[funct3] == OpUnknown {
		return
	}
	inst.Op, inst.Format, inst.FU = ops[funct3], FormatI, FUALUC
	inst.HasRd = true
	inst.HasRs1 = funct3 < 4
	inst.CSR = uint16(word >> 20)
	inst.Imm = int64(inst.Rs1)
}

func pick(cond bool, a, b Op) Op {
	if cond {
		return a
	}
	return b
}

func immI(word uint32) int64 {
	return int64(int32(word) >> 20)
}

func immS(word uint32) int64 {
	return int64(int32(word)>>25<<5) | int64((word>>7)&0x1f)
}

func immB(word uint32) int64 {
	imm := int64(int32(word)>>31) << 12
	imm |= int64((word>>7)&0x1) << 11
	imm |= int64((word>>25)&0x3f) << 5
	imm |= int64((word>>8)&0xf) << 1
	return imm
}

func immJ(word uint32) int64 {
	imm := int64(int32(word)>>31) << 20
	imm |= int64((word>>12)&0xff) << 12
	imm |= int64((word>>20)&0x1) << 11
	imm |= int64((word>>21)&0x3ff) << 1
	return imm
}
