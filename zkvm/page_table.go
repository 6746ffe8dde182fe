package zkvm

import (
	"errors"
	"fmt"
)

// maxPageTableDepth bounds every walk from a page to the root. The default
// layout needs at most six hops; anything longer means the layout is
// broken and would otherwise loop forever.
const maxPageTableDepth = 32

// ErrPageTableCycle is returned when a walk fails to reach the root.
var ErrPageTableCycle = errors.New("zkvm: page table walk did not reach root")

// PageTableInfo describes the hash tree embedded in guest memory. The digest
// of page p lives at PageTableAddr + p*DigestBytes, so the entries of the
// page table's own pages are stored further up the same table. The page
// holding the last entry is the root; it may be only partially filled.
type PageTableInfo struct {
	PageTableAddr  uint32
	PageTableSize  uint32
	RootPageAddr   uint32
	RootIdx        uint32
	NumRootEntries uint32
}

// NewPageTableInfo lays out a page table at pageTableAddr covering every
// page below it. Layers are appended until one fits in a single page.
func NewPageTableInfo(pageTableAddr uint32) PageTableInfo {
	maxPages := pageTableAddr / PageSize
	var size uint32
	for {
		layer := maxPages * DigestBytes
		size += layer
		if layer <= PageSize {
			break
		}
		maxPages = (layer + PageSize - 1) / PageSize
	}
	end := pageTableAddr + size
	rootIdx := (end - 1) / PageSize
	rootPageAddr := rootIdx * PageSize
	return PageTableInfo{
		PageTableAddr:  pageTableAddr,
		PageTableSize:  size,
		RootPageAddr:   rootPageAddr,
		RootIdx:        rootIdx,
		NumRootEntries: (end - rootPageAddr) / DigestBytes,
	}
}

// PageIndex returns the page containing addr.
func (info *PageTableInfo) PageIndex(addr uint32) uint32 {
	return addr / PageSize
}

// PageEntryAddr returns the address of page idx's digest entry.
func (info *PageTableInfo) PageEntryAddr(idx uint32) uint32 {
	return info.PageTableAddr + idx*DigestBytes
}

// ParentIndex returns the page holding idx's entry.
func (info *PageTableInfo) ParentIndex(idx uint32) uint32 {
	return info.PageEntryAddr(idx) / PageSize
}

// Depth returns the number of hops from idx to the root.
func (info *PageTableInfo) Depth(idx uint32) (int, error) {
	start := idx
	for depth := 0; depth <= maxPageTableDepth; depth++ {
		if idx == info.RootIdx {
			return depth, nil
		}
		idx = info.ParentIndex(idx)
	}
	return 0, fmt.Errorf("%w: start page 0x%x", ErrPageTableCycle, start)
}
