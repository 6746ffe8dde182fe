// riscv_decode.go implements the RV32IM instruction decoder. Decode never
// mutates machine state: it reads registers and memory through a
// MachineState view and returns an InstRecord describing the effect, which
// the executor applies. Keeping decode and apply apart is what allows a
// step to be traced, replayed, or forced to fail.
//
// Cycle counts attached to each record are charged against the same budget
// the proving circuit uses and must not be tuned independently.
package zkvm

import (
	"errors"
	"fmt"
)

// Decoder errors.
var (
	ErrUnalignedPC        = errors.New("zkvm: unaligned program counter")
	ErrInvalidInstruction = errors.New("zkvm: invalid instruction")
	ErrUnalignedStoreDest = errors.New("zkvm: unaligned store")
)

// MachineState is the read-only view the decoder needs.
type MachineState interface {
	// LoadRAM returns the aligned word at addr.
	LoadRAM(addr uint32) (uint32, error)
	// LoadRegister returns general-purpose register idx.
	LoadRegister(idx int) uint32
}

// InstRecord is the effect of one decoded instruction. It is one of
// MemoryLoad, MemoryStore, RegisterStore or ECall.
type InstRecord interface {
	isInstRecord()
}

// MemoryLoad loads Val, already extracted from the aligned word at Addr,
// into register Reg.
type MemoryLoad struct {
	Addr uint32
	Val  uint32
	Reg  int
}

// MemoryStore writes the merged word Val to the aligned address Addr.
type MemoryStore struct {
	Addr uint32
	Val  uint32
}

// RegisterStore writes Val to Reg and moves the program counter to NewPC.
// Branches use Reg 0, whose writes are discarded.
type RegisterStore struct {
	Reg    int
	Val    uint32
	NewPC  uint32
	Cycles int
}

// ECall hands control to the ecall dispatcher.
type ECall struct{}

func (MemoryLoad) isInstRecord()    {}
func (MemoryStore) isInstRecord()   {}
func (RegisterStore) isInstRecord() {}
func (ECall) isInstRecord()         {}

// Instruction cycle costs.
const (
	cyclesSimple = 1 // add/sub/compare, lui/auipc, branches and jumps
	cyclesLong   = 2 // shifts, bitwise logic, multiply/divide
)

// instFields holds the fixed-position fields of a 32-bit instruction.
type instFields struct {
	pc     uint32
	inst   uint32
	opcode uint32
	funct3 uint32
	funct7 uint32
	rd     int
	rs1    int
	rs2    int
}

func (f *instFields) errorf(msg string) error {
	return fmt.Errorf("%w: %s pc=0x%08x inst=0x%08x funct3=%#03b funct7=%#07b opcode=%#07b",
		ErrInvalidInstruction, msg, f.pc, f.inst, f.funct3, f.funct7, f.opcode)
}

// Decode decodes the instruction at pc and returns its effect without
// applying it.
func Decode(pc uint32, state MachineState) (InstRecord, error) {
	if pc&(WordSize-1) != 0 {
		return nil, fmt.Errorf("%w: 0x%08x", ErrUnalignedPC, pc)
	}
	inst, err := state.LoadRAM(pc)
	if err != nil {
		return nil, fmt.Errorf("fetch at 0x%08x: %w", pc, err)
	}
	f := &instFields{
		pc:     pc,
		inst:   inst,
		opcode: extractBits(inst, 6, 0),
		funct7: extractBits(inst, 31, 25),
		rs2:    int(extractBits(inst, 24, 20)),
		rs1:    int(extractBits(inst, 19, 15)),
		funct3: extractBits(inst, 14, 12),
		rd:     int(extractBits(inst, 11, 7)),
	}

	switch f.opcode {
	case opReg:
		return decodeRegister(f, state)
	case opImm:
		return decodeImmediate(f, state)
	case opLoad:
		return decodeLoad(f, state)
	case opStore:
		return decodeStore(f, state)
	case opLUI:
		return RegisterStore{Reg: f.rd, Val: immU(inst), NewPC: pc + WordSize, Cycles: cyclesSimple}, nil
	case opAUIPC:
		return RegisterStore{Reg: f.rd, Val: pc + immU(inst), NewPC: pc + WordSize, Cycles: cyclesSimple}, nil
	case opBranch:
		return decodeBranch(f, state)
	case opJAL:
		return RegisterStore{Reg: f.rd, Val: pc + WordSize, NewPC: pc + immJ(inst), Cycles: cyclesSimple}, nil
	case opJALR:
		if f.funct3 != 0 {
			return nil, f.errorf("invalid jalr")
		}
		rs1 := state.LoadRegister(f.rs1)
		return RegisterStore{Reg: f.rd, Val: pc + WordSize, NewPC: rs1 + (immI(inst) &^ 1), Cycles: cyclesSimple}, nil
	case opSystem:
		return ECall{}, nil
	default:
		return nil, f.errorf("invalid opcode")
	}
}

// decodeRegister handles R-type arithmetic including the M extension.
func decodeRegister(f *instFields, state MachineState) (InstRecord, error) {
	a := state.LoadRegister(f.rs1)
	b := state.LoadRegister(f.rs2)
	set := func(val uint32, cycles int) (InstRecord, error) {
		return RegisterStore{Reg: f.rd, Val: val, NewPC: f.pc + WordSize, Cycles: cycles}, nil
	}

	switch f.funct7 {
	case 0b0000000:
		switch f.funct3 {
		case 0b000: // ADD
			return set(a+b, cyclesSimple)
		case 0b001: // SLL
			return set(a<<(b&0x1F), cyclesLong)
		case 0b010: // SLT
			return set(boolWord(int32(a) < int32(b)), cyclesSimple)
		case 0b011: // SLTU
			return set(boolWord(a < b), cyclesSimple)
		case 0b100: // XOR
			return set(a^b, cyclesLong)
		case 0b101: // SRL
			return set(a>>(b&0x1F), cyclesLong)
		case 0b110: // OR
			return set(a|b, cyclesLong)
		case 0b111: // AND
			return set(a&b, cyclesLong)
		}
	case 0b0100000:
		switch f.funct3 {
		case 0b000: // SUB
			return set(a-b, cyclesSimple)
		case 0b101: // SRA
			return set(uint32(int32(a)>>(b&0x1F)), cyclesLong)
		}
	case 0b0000001:
		return set(mulDiv(f.funct3, a, b), cyclesLong)
	}
	return nil, f.errorf("invalid R-format arithmetic op")
}

// mulDiv evaluates an M-extension op. Division by zero and signed overflow
// follow the RISC-V rules instead of trapping.
func mulDiv(funct3, a, b uint32) uint32 {
	switch funct3 {
	case 0b000: // MUL
		return a * b
	case 0b001: // MULH
		return uint32(uint64(int64(int32(a))*int64(int32(b))) >> 32)
	case 0b010: // MULHSU
		return uint32(uint64(int64(int32(a))*int64(b)) >> 32)
	case 0b011: // MULHU
		return uint32((uint64(a) * uint64(b)) >> 32)
	case 0b100: // DIV
		if b == 0 {
			return 0xFFFFFFFF
		}
		if int32(a) == -1<<31 && int32(b) == -1 {
			return a
		}
		return uint32(int32(a) / int32(b))
	case 0b101: // DIVU
		if b == 0 {
			return 0xFFFFFFFF
		}
		return a / b
	case 0b110: // REM
		if b == 0 {
			return a
		}
		if int32(a) == -1<<31 && int32(b) == -1 {
			return 0
		}
		return uint32(int32(a) % int32(b))
	default: // REMU
		if b == 0 {
			return a
		}
		return a % b
	}
}

// decodeImmediate handles I-type arithmetic.
func decodeImmediate(f *instFields, state MachineState) (InstRecord, error) {
	a := state.LoadRegister(f.rs1)
	imm := immI(f.inst)
	set := func(val uint32, cycles int) (InstRecord, error) {
		return RegisterStore{Reg: f.rd, Val: val, NewPC: f.pc + WordSize, Cycles: cycles}, nil
	}

	switch f.funct3 {
	case 0b000: // ADDI
		return set(a+imm, cyclesSimple)
	case 0b010: // SLTI
		return set(boolWord(int32(a) < int32(imm)), cyclesSimple)
	case 0b011: // SLTIU
		return set(boolWord(a < imm), cyclesSimple)
	case 0b100: // XORI
		return set(a^imm, cyclesLong)
	case 0b110: // ORI
		return set(a|imm, cyclesLong)
	case 0b111: // ANDI
		return set(a&imm, cyclesLong)
	case 0b001: // SLLI
		if f.funct7 == 0b0000000 {
			return set(a<<(imm&0x1F), cyclesLong)
		}
	case 0b101:
		switch f.funct7 {
		case 0b0000000: // SRLI
			return set(a>>(imm&0x1F), cyclesLong)
		case 0b0100000: // SRAI
			return set(uint32(int32(a)>>(imm&0x1F)), cyclesLong)
		}
	}
	return nil, f.errorf("invalid I-format arithmetic op")
}

// decodeLoad reads the aligned word containing the effective address and
// extracts the requested lane.
func decodeLoad(f *instFields, state MachineState) (InstRecord, error) {
	if f.funct3 == 0b011 || f.funct3 > 0b101 {
		return nil, f.errorf("invalid I-format memory load")
	}
	addr := state.LoadRegister(f.rs1) + immI(f.inst)
	wordAddr := addr &^ (WordSize - 1)
	word, err := state.LoadRAM(wordAddr)
	if err != nil {
		return nil, err
	}
	shifted := word >> (8 * (addr & (WordSize - 1)))

	var val uint32
	switch f.funct3 {
	case 0b000: // LB
		val = uint32(int32(int8(shifted)))
	case 0b001: // LH
		val = uint32(int32(int16(shifted)))
	case 0b010: // LW
		val = word
	case 0b100: // LBU
		val = shifted & 0xFF
	case 0b101: // LHU
		val = shifted & 0xFFFF
	}
	return MemoryLoad{Addr: wordAddr, Val: val, Reg: f.rd}, nil
}

// decodeStore merges the stored lane into the containing aligned word.
func decodeStore(f *instFields, state MachineState) (InstRecord, error) {
	addr := state.LoadRegister(f.rs1) + immS(f.inst)
	data := state.LoadRegister(f.rs2)
	wordAddr := addr &^ (WordSize - 1)
	shift := 8 * (addr & (WordSize - 1))

	var size, mask uint32
	switch f.funct3 {
	case 0b000: // SB
		size, mask = 1, 0xFF
	case 0b001: // SH
		size, mask = 2, 0xFFFF
	case 0b010: // SW
		size, mask = 4, 0xFFFFFFFF
	default:
		return nil, f.errorf("invalid S-format memory store")
	}
	// Misaligned sh and sw are rejected on the byte address. This is stricter
	// than a check on the word address alone, which could never fire.
	if addr&(size-1) != 0 {
		return nil, fmt.Errorf("%w: %w: address 0x%08x pc=0x%08x inst=0x%08x",
			ErrInvalidInstruction, ErrUnalignedStoreDest, addr, f.pc, f.inst)
	}
	old, err := state.LoadRAM(wordAddr)
	if err != nil {
		return nil, err
	}
	val := (old &^ (mask << shift)) | ((data & mask) << shift)
	return MemoryStore{Addr: wordAddr, Val: val}, nil
}

// decodeBranch evaluates the branch condition and selects the new pc.
func decodeBranch(f *instFields, state MachineState) (InstRecord, error) {
	a := state.LoadRegister(f.rs1)
	b := state.LoadRegister(f.rs2)

	var taken bool
	switch f.funct3 {
	case 0b000: // BEQ
		taken = a == b
	case 0b001: // BNE
		taken = a != b
	case 0b100: // BLT
		taken = int32(a) < int32(b)
	case 0b101: // BGE
		taken = int32(a) >= int32(b)
	case 0b110: // BLTU
		taken = a < b
	case 0b111: // BGEU
		taken = a >= b
	default:
		return nil, f.errorf("invalid B-format branch")
	}
	newPC := f.pc + WordSize
	if taken {
		newPC = f.pc + immB(f.inst)
	}
	return RegisterStore{Reg: 0, Val: 0, NewPC: newPC, Cycles: cyclesSimple}, nil
}

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
