package zkvm

import (
	"bytes"
	"errors"
	"testing"
)

func TestPageTableInfo_DefaultLayout(t *testing.T) {
	info := NewPageTableInfo(PageTableStart)
	if info.RootIdx != 219862 {
		t.Errorf("RootIdx = %d, want 219862", info.RootIdx)
	}
	if info.NumRootEntries != 23 {
		t.Errorf("NumRootEntries = %d, want 23", info.NumRootEntries)
	}
	if info.RootPageAddr != info.RootIdx*PageSize {
		t.Errorf("RootPageAddr = 0x%x, want 0x%x", info.RootPageAddr, info.RootIdx*PageSize)
	}
	if end := info.PageTableAddr + info.PageTableSize; end != info.RootPageAddr+info.NumRootEntries*DigestBytes {
		t.Errorf("table end 0x%x does not close the root page", end)
	}
}

func TestPageTableInfo_Depth(t *testing.T) {
	info := NewPageTableInfo(PageTableStart)
	tests := []struct {
		addr  uint32
		depth int
	}{
		{0, 4},
		{SystemRegionStart, 3},
		{info.RootPageAddr, 0},
		{PageTableStart, 3},
	}
	for _, tt := range tests {
		d, err := info.Depth(info.PageIndex(tt.addr))
		if err != nil {
			t.Fatalf("Depth(0x%x): %v", tt.addr, err)
		}
		if d != tt.depth {
			t.Errorf("Depth(0x%x) = %d, want %d", tt.addr, d, tt.depth)
		}
	}
	if p := info.ParentIndex(0); p != PageTableStart/PageSize {
		t.Errorf("ParentIndex(0) = %d, want %d", p, PageTableStart/PageSize)
	}
}

func TestMemoryImage_LoadStore(t *testing.T) {
	img := NewMemoryImage()
	if err := img.StoreRegionInPage(0x1FC, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("StoreRegionInPage: %v", err)
	}
	w, err := img.LoadWord(0x1FC)
	if err != nil || w != 0x04030201 {
		t.Fatalf("LoadWord = 0x%08x, %v", w, err)
	}
	// Untouched pages read as zero without being allocated.
	if w, _ := img.LoadWord(0x8000); w != 0 {
		t.Errorf("untouched word = 0x%x", w)
	}
	if img.PageCount() != 1 {
		t.Errorf("PageCount = %d, want 1", img.PageCount())
	}

	if err := img.StoreRegionInPage(PageSize-2, []byte{1, 2, 3, 4}); !errors.Is(err, ErrCrossPageRegion) {
		t.Errorf("cross-page store: err = %v", err)
	}
	if err := img.LoadRegionInPage(MemSize-2, make([]byte, 4)); !errors.Is(err, ErrAddressOutOfRange) {
		t.Errorf("out-of-range load: err = %v", err)
	}
}

func TestMemoryImage_FromWords(t *testing.T) {
	img, err := NewMemoryImageFromWords(map[uint32]uint32{0x1000: 0xCAFEBABE, 0x2000: 7})
	if err != nil {
		t.Fatalf("NewMemoryImageFromWords: %v", err)
	}
	if got := img.PageIndices(); len(got) != 2 || got[0] != 4 || got[1] != 8 {
		t.Errorf("PageIndices = %v, want [4 8]", got)
	}
	if w, _ := img.LoadWord(0x1000); w != 0xCAFEBABE {
		t.Errorf("word = 0x%x", w)
	}
	if _, err := NewMemoryImageFromWords(map[uint32]uint32{0x1002: 1}); !errors.Is(err, ErrImageSegment) {
		t.Errorf("unaligned word: err = %v", err)
	}
}

func TestMemoryImage_CloneIsDeep(t *testing.T) {
	img, _ := NewMemoryImageFromWords(map[uint32]uint32{0x100: 1})
	c := img.Clone()
	_ = c.StoreRegionInPage(0x100, []byte{9, 0, 0, 0})
	if w, _ := img.LoadWord(0x100); w != 1 {
		t.Errorf("original changed to %d", w)
	}
	p, ok := c.Page(0)
	if !ok || p[0] != 9 {
		t.Errorf("clone page = %v, %v", p[:4], ok)
	}
	p[0] = 0xFF
	if again, _ := c.Page(0); again[0] != 9 {
		t.Error("Page should return a copy")
	}
}

func TestMemoryImage_ComputeID(t *testing.T) {
	img, _ := NewMemoryImageFromWords(map[uint32]uint32{0x1000: 0x13})
	id1, err := img.Clone().ComputeID()
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	id2, _ := img.Clone().ComputeID()
	if id1 != id2 {
		t.Fatal("ComputeID not deterministic")
	}

	_ = img.StoreRegionInPage(0x1004, []byte{1})
	id3, err := img.ComputeID()
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	if id3 == id1 {
		t.Error("root digest did not change after a page changed")
	}

	// HashPages wrote the leaf digest into page 4's entry.
	entry := make([]byte, DigestBytes)
	if err := img.LoadRegionInPage(img.Info.PageEntryAddr(4), entry); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(entry, make([]byte, DigestBytes)) {
		t.Error("page entry not populated")
	}
}
