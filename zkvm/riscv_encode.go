// riscv_encode.go contains RV32IM bit-field helpers. Decoding follows the
// RISC-V manual convention: fields are named by their highest and lowest
// bit, both inclusive. The Encode* functions build instruction words from
// fields and are used by tests and by hand-assembled guest stubs.
package zkvm

// Major opcodes.
const (
	opLoad   uint32 = 0b0000011
	opImm    uint32 = 0b0010011
	opAUIPC  uint32 = 0b0010111
	opStore  uint32 = 0b0100011
	opReg    uint32 = 0b0110011
	opLUI    uint32 = 0b0110111
	opBranch uint32 = 0b1100011
	opJALR   uint32 = 0b1100111
	opJAL    uint32 = 0b1101111
	opSystem uint32 = 0b1110011
)

// extractBits returns bits [hi:lo] of val, right-aligned.
func extractBits(val uint32, hi, lo uint) uint32 {
	nbits := hi + 1 - lo
	mask := ^uint32(0) << nbits
	return (val >> lo) &^ mask
}

// extractBitsSigned returns bits [hi:lo] of val, sign-extended from bit hi.
func extractBitsSigned(val uint32, hi, lo uint) int32 {
	nbits := hi - lo + 1
	signed := int32(val << (31 - hi))
	return signed >> (32 - nbits)
}

// immI returns the sign-extended I-type immediate.
func immI(inst uint32) uint32 {
	return uint32(extractBitsSigned(inst, 31, 20))
}

// immS returns the sign-extended S-type immediate.
func immS(inst uint32) uint32 {
	return uint32(extractBitsSigned(inst, 31, 25))<<5 | extractBits(inst, 11, 7)
}

// immB returns the sign-extended B-type branch offset.
func immB(inst uint32) uint32 {
	// imm[12|10:5|4:1|11]
	return uint32(extractBitsSigned(inst, 31, 31))<<12 |
		extractBits(inst, 30, 25)<<5 |
		extractBits(inst, 11, 8)<<1 |
		extractBits(inst, 7, 7)<<11
}

// immJ returns the sign-extended J-type jump offset.
func immJ(inst uint32) uint32 {
	// imm[20|10:1|11|19:12]
	return uint32(extractBitsSigned(inst, 31, 31))<<20 |
		extractBits(inst, 30, 21)<<1 |
		extractBits(inst, 20, 20)<<11 |
		extractBits(inst, 19, 12)<<12
}

// immU returns the U-type immediate already shifted into bits 31:12.
func immU(inst uint32) uint32 {
	return extractBits(inst, 31, 12) << 12
}

// --- Instruction encoding helpers (used for tests/program construction) ---

// EncodeRType encodes an R-type instruction.
func EncodeRType(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return (funct7 << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

// EncodeIType encodes an I-type instruction.
func EncodeIType(opcode, rd, funct3, rs1 uint32, imm int32) uint32 {
	return (uint32(imm&0xFFF) << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

// EncodeSType encodes an S-type instruction.
func EncodeSType(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm & 0xFFF)
	return ((u >> 5) << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) |
		((u & 0x1F) << 7) | opcode
}

// EncodeBType encodes a B-type instruction. imm is the byte offset.
func EncodeBType(opcode, funct3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (((u >> 12) & 0x1) << 31) | (((u >> 5) & 0x3F) << 25) |
		(rs2 << 20) | (rs1 << 15) | (funct3 << 12) |
		(((u >> 1) & 0xF) << 8) | (((u >> 11) & 0x1) << 7) | opcode
}

// EncodeUType encodes a U-type instruction. imm carries bits 31:12.
func EncodeUType(opcode, rd uint32, imm uint32) uint32 {
	return (imm & 0xFFFFF000) | (rd << 7) | opcode
}

// EncodeJType encodes a J-type instruction. imm is the byte offset.
func EncodeJType(opcode, rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return (((u >> 20) & 0x1) << 31) | (((u >> 1) & 0x3FF) << 21) |
		(((u >> 11) & 0x1) << 20) | (((u >> 12) & 0xFF) << 12) |
		(rd << 7) | opcode
}

// EncodeECall returns the ECALL instruction word.
func EncodeECall() uint32 {
	return opSystem
}
