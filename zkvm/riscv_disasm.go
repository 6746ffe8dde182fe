package zkvm

import "fmt"

var (
	regOpNames = map[[2]uint32]string{
		{0b000, 0b0000000}: "add", {0b000, 0b0100000}: "sub",
		{0b001, 0b0000000}: "sll", {0b010, 0b0000000}: "slt",
		{0b011, 0b0000000}: "sltu", {0b100, 0b0000000}: "xor",
		{0b101, 0b0000000}: "srl", {0b101, 0b0100000}: "sra",
		{0b110, 0b0000000}: "or", {0b111, 0b0000000}: "and",
		{0b000, 0b0000001}: "mul", {0b001, 0b0000001}: "mulh",
		{0b010, 0b0000001}: "mulhsu", {0b011, 0b0000001}: "mulhu",
		{0b100, 0b0000001}: "div", {0b101, 0b0000001}: "divu",
		{0b110, 0b0000001}: "rem", {0b111, 0b0000001}: "remu",
	}
	immOpNames  = [8]string{"addi", "slli", "slti", "sltiu", "xori", "srli", "ori", "andi"}
	loadNames   = [8]string{"lb", "lh", "lw", "", "lbu", "lhu", "", ""}
	storeNames  = [8]string{"sb", "sh", "sw", "", "", "", "", ""}
	branchNames = [8]string{"beq", "bne", "", "", "blt", "bge", "bltu", "bgeu"}
)

// Disassemble renders inst as an assembler-style mnemonic. Unsupported
// encodings render as a raw .word.
func Disassemble(inst uint32) string {
	rd := extractBits(inst, 11, 7)
	rs1 := extractBits(inst, 19, 15)
	rs2 := extractBits(inst, 24, 20)
	funct3 := extractBits(inst, 14, 12)
	funct7 := extractBits(inst, 31, 25)
	raw := fmt.Sprintf(".word 0x%08x", inst)

	switch extractBits(inst, 6, 0) {
	case opReg:
		if name, ok := regOpNames[[2]uint32{funct3, funct7}]; ok {
			return fmt.Sprintf("%s x%d, x%d, x%d", name, rd, rs1, rs2)
		}
	case opImm:
		name := immOpNames[funct3]
		switch funct3 {
		case 0b001, 0b101:
			if funct3 == 0b101 && funct7 == 0b0100000 {
				name = "srai"
			}
			return fmt.Sprintf("%s x%d, x%d, %d", name, rd, rs1, rs2)
		}
		return fmt.Sprintf("%s x%d, x%d, %d", name, rd, rs1, int32(immI(inst)))
	case opLoad:
		if name := loadNames[funct3]; name != "" {
			return fmt.Sprintf("%s x%d, %d(x%d)", name, rd, int32(immI(inst)), rs1)
		}
	case opStore:
		if name := storeNames[funct3]; name != "" {
			return fmt.Sprintf("%s x%d, %d(x%d)", name, rs2, int32(immS(inst)), rs1)
		}
	case opBranch:
		if name := branchNames[funct3]; name != "" {
			return fmt.Sprintf("%s x%d, x%d, %d", name, rs1, rs2, int32(immB(inst)))
		}
	case opLUI:
		return fmt.Sprintf("lui x%d, 0x%x", rd, immU(inst)>>12)
	case opAUIPC:
		return fmt.Sprintf("auipc x%d, 0x%x", rd, immU(inst)>>12)
	case opJAL:
		return fmt.Sprintf("jal x%d, %d", rd, int32(immJ(inst)))
	case opJALR:
		return fmt.Sprintf("jalr x%d, %d(x%d)", rd, int32(immI(inst)), rs1)
	case opSystem:
		return "ecall"
	}
	return raw
}
