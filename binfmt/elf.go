// Package binfmt loads guest executables into an initial memory image.
package binfmt

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const wordSize = 4

var (
	ErrNotELF32          = errors.New("binfmt: not a 32-bit little-endian ELF executable")
	ErrNotRISCV          = errors.New("binfmt: not a RISC-V binary")
	ErrBadEntry          = errors.New("binfmt: invalid entry point")
	ErrSegmentOutOfRange = errors.New("binfmt: segment outside guest memory")
)

// Program is a loaded guest: an entry point plus the initial contents of
// memory as aligned address -> word.
type Program struct {
	Entry uint32
	Image map[uint32]uint32
}

// LoadELF parses an ELF32 RISC-V executable. Every PT_LOAD segment is laid
// out word by word; the part of a segment past its file size is zeroed.
// Nothing may be loaded at or above maxMem.
func LoadELF(data []byte, maxMem uint32) (*Program, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotELF32, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 || f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("%w: class %s, data %s", ErrNotELF32, f.Class, f.Data)
	}
	if f.Type != elf.ET_EXEC {
		return nil, fmt.Errorf("%w: type %s", ErrNotELF32, f.Type)
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("%w: machine %s", ErrNotRISCV, f.Machine)
	}
	if f.Entry >= uint64(maxMem) || f.Entry%wordSize != 0 {
		return nil, fmt.Errorf("%w: 0x%x", ErrBadEntry, f.Entry)
	}

	prog := &Program{
		Entry: uint32(f.Entry),
		Image: make(map[uint32]uint32),
	}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if err := loadSegment(prog, p, maxMem); err != nil {
			return nil, err
		}
	}
	return prog, nil
}

func loadSegment(prog *Program, p *elf.Prog, maxMem uint32) error {
	if p.Vaddr%wordSize != 0 {
		return fmt.Errorf("%w: vaddr 0x%x is not word aligned", ErrSegmentOutOfRange, p.Vaddr)
	}
	if p.Filesz > p.Memsz {
		return fmt.Errorf("%w: file size %d exceeds memory size %d", ErrSegmentOutOfRange, p.Filesz, p.Memsz)
	}
	if p.Vaddr+p.Memsz > uint64(maxMem) {
		return fmt.Errorf("%w: 0x%x+0x%x", ErrSegmentOutOfRange, p.Vaddr, p.Memsz)
	}
	contents := make([]byte, p.Filesz)
	if _, err := io.ReadFull(p.Open(), contents); err != nil {
		return fmt.Errorf("binfmt: read segment at 0x%x: %w", p.Vaddr, err)
	}
	for off := uint64(0); off < p.Memsz; off += wordSize {
		var word [wordSize]byte
		if off < p.Filesz {
			copy(word[:], contents[off:])
		}
		prog.Image[uint32(p.Vaddr+off)] = binary.LittleEndian.Uint32(word[:])
	}
	return nil
}
