package zkvm

import "testing"

func TestDisassemble(t *testing.T) {
	tests := []struct {
		inst uint32
		want string
	}{
		{EncodeRType(opReg, 1, 0b000, 2, 3, 0), "add x1, x2, x3"},
		{EncodeRType(opReg, 5, 0b100, 6, 7, 0b0000001), "div x5, x6, x7"},
		{EncodeIType(opImm, 1, 0b000, 0, -5), "addi x1, x0, -5"},
		{EncodeIType(opImm, 1, 0b101, 2, 0x400|3), "srai x1, x2, 3"},
		{EncodeIType(opLoad, 4, 0b100, 2, 8), "lbu x4, 8(x2)"},
		{EncodeSType(opStore, 0b010, 2, 9, -4), "sw x9, -4(x2)"},
		{EncodeBType(opBranch, 0b001, 1, 0, -8), "bne x1, x0, -8"},
		{EncodeUType(opLUI, 3, 0xABCDE000), "lui x3, 0xabcde"},
		{EncodeJType(opJAL, 1, 16), "jal x1, 16"},
		{EncodeIType(opJALR, 0, 0, 1, 0), "jalr x0, 0(x1)"},
		{EncodeECall(), "ecall"},
		{0xFFFFFFFF, ".word 0xffffffff"},
	}
	for _, tt := range tests {
		if got := Disassemble(tt.inst); got != tt.want {
			t.Errorf("Disassemble(0x%08x) = %q, want %q", tt.inst, got, tt.want)
		}
	}
}
