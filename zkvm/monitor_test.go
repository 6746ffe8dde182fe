package zkvm

import (
	"errors"
	"reflect"
	"testing"
)

// Cost of paging in a fresh data page at the bottom of memory: four full
// pages on the way up plus the root.
const freshLowPageCycles = 4*CyclesPerFullPage + 754

func TestCyclesPerPage(t *testing.T) {
	if CyclesPerFullPage != 1094 {
		t.Errorf("CyclesPerFullPage = %d, want 1094", CyclesPerFullPage)
	}
	if got := CyclesPerPage(BlocksPerPage); got != CyclesPerFullPage {
		t.Errorf("CyclesPerPage(%d) = %d", BlocksPerPage, got)
	}
	if got := CyclesPerPage(11); got != 754 {
		t.Errorf("CyclesPerPage(11) = %d, want 754", got)
	}
}

func TestMonitor_IncludeIdempotent(t *testing.T) {
	m := NewMemoryMonitor(NewMemoryImage())

	if est := m.EstimateCycles(0, DirLoad); est != freshLowPageCycles {
		t.Fatalf("EstimateCycles = %d, want %d", est, freshLowPageCycles)
	}
	if err := m.Include(0, DirLoad); err != nil {
		t.Fatal(err)
	}
	if m.SegmentCycles() != freshLowPageCycles {
		t.Fatalf("after first include: %d, want %d", m.SegmentCycles(), freshLowPageCycles)
	}
	if err := m.Include(0x3FC, DirLoad); err != nil {
		t.Fatal(err)
	}
	if m.SegmentCycles() != freshLowPageCycles {
		t.Errorf("same page charged twice: %d", m.SegmentCycles())
	}
	if est := m.EstimateCycles(0, DirLoad); est != 0 {
		t.Errorf("EstimateCycles on included page = %d", est)
	}

	// Page 1 shares every ancestor with page 0.
	if err := m.Include(PageSize, DirLoad); err != nil {
		t.Fatal(err)
	}
	if got := m.SegmentCycles(); got != freshLowPageCycles+CyclesPerFullPage {
		t.Errorf("sibling page: %d, want %d", got, freshLowPageCycles+CyclesPerFullPage)
	}

	// The store direction is tracked separately.
	if err := m.Include(0, DirStore); err != nil {
		t.Fatal(err)
	}
	if got := m.SegmentCycles(); got != 2*freshLowPageCycles+CyclesPerFullPage {
		t.Errorf("store include: %d", got)
	}

	if err := m.Include(MemSize, DirLoad); !errors.Is(err, ErrAddressOutOfRange) {
		t.Errorf("out of range include: %v", err)
	}
}

func TestMonitor_SegmentFaultsAndClear(t *testing.T) {
	m := NewMemoryMonitor(NewMemoryImage())
	if err := m.StoreU32(0x40, 0xAABBCCDD); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LoadU32(0x40); err != nil {
		t.Fatal(err)
	}

	info := m.Image().Info
	want := []uint32{0}
	for idx := uint32(0); idx != info.RootIdx; {
		idx = info.ParentIndex(idx)
		want = append(want, idx)
	}
	faults := m.ComputeSegmentFaults()
	if !reflect.DeepEqual(faults.Reads, want) || !reflect.DeepEqual(faults.Writes, want) {
		t.Fatalf("faults = %+v, want reads=writes=%v", faults, want)
	}

	used := m.SegmentCycles()
	m.UseCycles(10)
	m.ClearSegment()
	if m.SegmentCycles() != 0 {
		t.Errorf("SegmentCycles after clear = %d", m.SegmentCycles())
	}
	if m.Cycle() != used+10 {
		t.Errorf("Cycle = %d, want %d", m.Cycle(), used+10)
	}
	if f := m.ComputeSegmentFaults(); len(f.Reads) != 0 || len(f.Writes) != 0 {
		t.Errorf("faults after clear = %+v", f)
	}
	// Pages must be paid for again in the next segment.
	if _, err := m.LoadU32(0x40); err != nil {
		t.Fatal(err)
	}
	if m.SegmentCycles() != freshLowPageCycles {
		t.Errorf("reload after clear = %d", m.SegmentCycles())
	}
}

func TestMonitor_JournalUndoReplay(t *testing.T) {
	m := NewMemoryMonitor(NewMemoryImage())
	if err := m.Include(0, DirLoad); err != nil {
		t.Fatal(err)
	}
	before := m.SegmentCycles()

	m.beginJournal()
	if _, err := m.LoadU32(PageSize); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LoadU32(0x10000); err != nil {
		t.Fatal(err)
	}
	j := m.endJournal()
	charged := m.SegmentCycles() - before
	if charged == 0 {
		t.Fatal("journaled loads charged nothing")
	}

	m.undo(j)
	if m.SegmentCycles() != before {
		t.Errorf("after undo: %d cycles, want %d", m.SegmentCycles(), before)
	}
	f := m.ComputeSegmentFaults()
	if containsPage(f.Reads, 1) || containsPage(f.Reads, 0x10000/PageSize) || !containsPage(f.Reads, 0) {
		t.Errorf("faults after undo = %+v", f)
	}

	m.ClearSegment()
	if err := m.replay(j); err != nil {
		t.Fatal(err)
	}
	f = m.ComputeSegmentFaults()
	if !containsPage(f.Reads, 1) || !containsPage(f.Reads, 0x10000/PageSize) || containsPage(f.Reads, 0) {
		t.Errorf("faults after replay = %+v", f)
	}
	// Page 1 now pays for the ancestors page 0 paid for before.
	if want := freshLowPageCycles + charged - CyclesPerFullPage; m.SegmentCycles() != want {
		t.Errorf("replay charged %d cycles, want %d", m.SegmentCycles(), want)
	}
}

func TestMonitor_LoadStore(t *testing.T) {
	m := NewMemoryMonitor(NewMemoryImage())
	if err := m.StoreU32(0x100, 0x11223344); err != nil {
		t.Fatal(err)
	}
	if err := m.StoreU16(0x102, 0xBEEF); err != nil {
		t.Fatal(err)
	}
	if err := m.StoreU8(0x100, 0x99); err != nil {
		t.Fatal(err)
	}
	if w, _ := m.LoadU32(0x100); w != 0xBEEF3399 {
		t.Errorf("LoadU32 = 0x%08x, want 0xBEEF3399", w)
	}
	if h, _ := m.LoadU16(0x102); h != 0xBEEF {
		t.Errorf("LoadU16 = 0x%04x", h)
	}
	if b, _ := m.LoadU8(0x101); b != 0x33 {
		t.Errorf("LoadU8 = 0x%02x", b)
	}
	words, err := m.LoadWords(0x100, 2)
	if err != nil || words[0] != 0xBEEF3399 || words[1] != 0 {
		t.Errorf("LoadWords = %x, %v", words, err)
	}

	// A region may span pages.
	if err := m.StoreRegion(PageSize-2, []byte("abcd")); err != nil {
		t.Fatal(err)
	}
	if r, _ := m.LoadRegion(PageSize-2, 4); string(r) != "abcd" {
		t.Errorf("LoadRegion = %q", r)
	}

	unaligned := []error{
		func() error { _, err := m.LoadU16(0x101); return err }(),
		func() error { _, err := m.LoadU32(0x102); return err }(),
		m.StoreU16(0x103, 1),
		m.StoreU32(0x101, 1),
	}
	for i, err := range unaligned {
		if !errors.Is(err, ErrUnalignedAccess) {
			t.Errorf("case %d: err = %v, want ErrUnalignedAccess", i, err)
		}
	}
}

func TestMonitor_LoadString(t *testing.T) {
	m := NewMemoryMonitor(NewMemoryImage())
	if err := m.StoreRegion(0x200, []byte("héllo\x00junk")); err != nil {
		t.Fatal(err)
	}
	s, err := m.LoadString(0x200)
	if err != nil || s != "héllo" {
		t.Errorf("LoadString = %q, %v", s, err)
	}
	if err := m.StoreRegion(0x300, []byte{0xFF, 0xFE, 0}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LoadString(0x300); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("invalid utf8: err = %v", err)
	}
}

func TestMonitor_Registers(t *testing.T) {
	m := NewMemoryMonitor(NewMemoryImage())
	tc := NewTraceCollector()
	m.EnableTrace(tc)

	if err := m.StoreRegister(RegA0, 77); err != nil {
		t.Fatal(err)
	}
	if err := m.StoreRegister(RegPC, 0x1000); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.LoadRegister(RegA0); v != 77 {
		t.Errorf("a0 = %d", v)
	}
	if m.PeekRegister(RegPC) != 0x1000 {
		t.Errorf("pc = 0x%x", m.PeekRegister(RegPC))
	}
	// The pc slot is not traced as a register write.
	if tc.Len() != 1 || tc.Events[0] != (RegisterSet{Reg: RegA0, Value: 77}) {
		t.Errorf("trace = %v", tc.Events)
	}
}

func TestMonitor_PeekIsFree(t *testing.T) {
	m := NewMemoryMonitor(NewMemoryImage())
	if err := m.Image().StoreRegionInPage(0x10, []byte{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if w, err := m.PeekU32(0x10); err != nil || w != 1 {
		t.Fatalf("PeekU32 = %d, %v", w, err)
	}
	_ = m.PeekRegister(RegT0)
	if m.SegmentCycles() != 0 {
		t.Errorf("peek charged %d cycles", m.SegmentCycles())
	}
}
