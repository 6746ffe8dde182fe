// riscv_memory.go implements the guest memory image: sparse PageSize pages
// allocated on demand, plus the page table layout used to authenticate
// them. The image owns its pages exclusively; the memory monitor is the only
// writer during execution.
package zkvm

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"
)

// Memory errors.
var (
	ErrAddressOutOfRange = errors.New("zkvm: address out of range")
	ErrCrossPageRegion   = errors.New("zkvm: region crosses page boundary")
	ErrImageSegment      = errors.New("zkvm: image word not aligned")
)

// MemoryImage is the paged guest memory plus its page table description.
type MemoryImage struct {
	pages map[uint32][]byte // pageIndex -> PageSize bytes
	Info  PageTableInfo
}

// NewMemoryImage creates an empty image using the default page table
// layout.
func NewMemoryImage() *MemoryImage {
	return &MemoryImage{
		pages: make(map[uint32][]byte),
		Info:  NewPageTableInfo(PageTableStart),
	}
}

// NewMemoryImageFromWords builds an image from an address -> word map, such
// as the one produced by the ELF loader.
func NewMemoryImageFromWords(words map[uint32]uint32) (*MemoryImage, error) {
	img := NewMemoryImage()
	var buf [WordSize]byte
	for addr, word := range words {
		if addr%WordSize != 0 {
			return nil, fmt.Errorf("%w: 0x%08x", ErrImageSegment, addr)
		}
		binary.LittleEndian.PutUint32(buf[:], word)
		if err := img.StoreRegionInPage(addr, buf[:]); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// checkRegion validates that [addr, addr+n) is addressable and within one
// page.
func checkRegion(addr uint32, n int) error {
	if uint64(addr)+uint64(n) > MemSize {
		return fmt.Errorf("%w: 0x%08x+%d", ErrAddressOutOfRange, addr, n)
	}
	if n > 0 && addr/PageSize != (addr+uint32(n)-1)/PageSize {
		return fmt.Errorf("%w: 0x%08x+%d", ErrCrossPageRegion, addr, n)
	}
	return nil
}

// page returns the page for idx, allocating on demand.
func (m *MemoryImage) page(idx uint32) []byte {
	if p, ok := m.pages[idx]; ok {
		return p
	}
	p := make([]byte, PageSize)
	m.pages[idx] = p
	return p
}

// LoadRegionInPage copies len(buf) bytes starting at addr into buf. The
// region must lie in a single page. Untouched pages read as zero.
func (m *MemoryImage) LoadRegionInPage(addr uint32, buf []byte) error {
	if err := checkRegion(addr, len(buf)); err != nil {
		return err
	}
	p, ok := m.pages[addr/PageSize]
	if !ok {
		clear(buf)
		return nil
	}
	off := addr % PageSize
	copy(buf, p[off:off+uint32(len(buf))])
	return nil
}

// StoreRegionInPage writes data at addr. The region must lie in a single
// page.
func (m *MemoryImage) StoreRegionInPage(addr uint32, data []byte) error {
	if err := checkRegion(addr, len(data)); err != nil {
		return err
	}
	off := addr % PageSize
	copy(m.page(addr / PageSize)[off:], data)
	return nil
}

// LoadWord reads an aligned little-endian word.
func (m *MemoryImage) LoadWord(addr uint32) (uint32, error) {
	var buf [WordSize]byte
	if err := m.LoadRegionInPage(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Page returns a copy of page idx and whether it is resident.
func (m *MemoryImage) Page(idx uint32) ([]byte, bool) {
	p, ok := m.pages[idx]
	if !ok {
		return nil, false
	}
	out := make([]byte, PageSize)
	copy(out, p)
	return out, true
}

// PageIndices returns the resident page indices in ascending order.
func (m *MemoryImage) PageIndices() []uint32 {
	idxs := make([]uint32, 0, len(m.pages))
	for idx := range m.pages {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	return idxs
}

// PageCount returns the number of resident pages.
func (m *MemoryImage) PageCount() int {
	return len(m.pages)
}

// Clone returns a deep copy of the image.
func (m *MemoryImage) Clone() *MemoryImage {
	c := &MemoryImage{
		pages: make(map[uint32][]byte, len(m.pages)),
		Info:  m.Info,
	}
	for idx, p := range m.pages {
		cp := make([]byte, PageSize)
		copy(cp, p)
		c.pages[idx] = cp
	}
	return c
}

// HashPages writes the SHA-256 digest of every resident page into its page
// table entry. Pages are processed deepest first so that a parent is hashed
// only after all of its children's entries are in place.
func (m *MemoryImage) HashPages() error {
	levels := make([]*bitset.BitSet, maxPageTableDepth+1)
	maxDepth := 0
	for idx := range m.pages {
		d, err := m.Info.Depth(idx)
		if err != nil {
			return err
		}
		if levels[d] == nil {
			levels[d] = bitset.New(NumPages)
		}
		levels[d].Set(uint(idx))
		maxDepth = max(maxDepth, d)
	}

	for d := maxDepth; d > 0; d-- {
		if levels[d] == nil {
			continue
		}
		for i, ok := levels[d].NextSet(0); ok; i, ok = levels[d].NextSet(i + 1) {
			idx := uint32(i)
			digest := sha256.Sum256(m.page(idx))
			if err := m.StoreRegionInPage(m.Info.PageEntryAddr(idx), digest[:]); err != nil {
				return err
			}
			if levels[d-1] == nil {
				levels[d-1] = bitset.New(NumPages)
			}
			levels[d-1].Set(uint(m.Info.ParentIndex(idx)))
		}
	}
	return nil
}

// ComputeRootDigest hashes the populated part of the root page. Call
// HashPages first so the entries are current.
func (m *MemoryImage) ComputeRootDigest() [32]byte {
	buf := make([]byte, m.Info.NumRootEntries*DigestBytes)
	_ = m.LoadRegionInPage(m.Info.RootPageAddr, buf)
	return sha256.Sum256(buf)
}

// ComputeID refreshes the page table and returns the image's root digest.
func (m *MemoryImage) ComputeID() ([32]byte, error) {
	if err := m.HashPages(); err != nil {
		return [32]byte{}, err
	}
	return m.ComputeRootDigest(), nil
}
