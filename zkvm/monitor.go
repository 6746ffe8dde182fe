package zkvm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/bits-and-blooms/bitset"
)

// Monitor errors.
var (
	ErrUnalignedAccess = errors.New("zkvm: unaligned memory access")
	ErrInvalidUTF8     = errors.New("zkvm: guest string is not valid UTF-8")
)

// Paging cost model. Authenticating a page means recomputing its SHA-256
// digest: ShaInit cycles to set up the hash, then per 64-byte block
// ShaLoad cycles to load the block and ShaMain cycles of compression. The
// extra cycle is the page-in/page-out dispatch itself.
const (
	ShaInit = 5
	ShaLoad = 16
	ShaMain = 52
)

// CyclesPerPage returns the cost of hashing a page of blocksPerPage blocks.
func CyclesPerPage(blocksPerPage int) uint64 {
	return uint64(1 + ShaInit + (ShaLoad+ShaMain)*blocksPerPage)
}

// CyclesPerFullPage is the paging cost of every non-root page, equal to
// CyclesPerPage(BlocksPerPage).
const CyclesPerFullPage = 1 + ShaInit + (ShaLoad+ShaMain)*BlocksPerPage

// IncludeDir is the direction of a page touch.
type IncludeDir uint

const (
	DirLoad IncludeDir = iota
	DirStore

	numDirs = 2
)

func (d IncludeDir) String() string {
	if d == DirStore {
		return "store"
	}
	return "load"
}

// PageFaults lists the distinct pages touched in a segment, ascending.
type PageFaults struct {
	Reads  []uint32
	Writes []uint32
}

// MemoryMonitor performs every guest memory access and charges the paging
// cycles it newly incurs in the current segment. Each page carries a load
// and a store flag; once a flag is set further accesses in that direction
// are free until ClearSegment.
type MemoryMonitor struct {
	image *MemoryImage
	flags *bitset.BitSet

	segmentCycles      uint64
	prevSegmentsCycles uint64

	trace   *TraceCollector
	journal *accessJournal
}

// pageTouch is one top-level Include.
type pageTouch struct {
	addr uint32
	dir  IncludeDir
}

// accessJournal records the page touches made since it was opened, so they
// can be undone in the current segment and charged again in the next.
type accessJournal struct {
	cycles  uint64
	touches []pageTouch
	set     []uint
}

// NewMemoryMonitor takes ownership of image.
func NewMemoryMonitor(image *MemoryImage) *MemoryMonitor {
	return &MemoryMonitor{
		image: image,
		flags: bitset.New(NumPages * numDirs),
	}
}

// Image returns the monitored image.
func (m *MemoryMonitor) Image() *MemoryImage { return m.image }

// EnableTrace starts recording memory and register writes into t.
func (m *MemoryMonitor) EnableTrace(t *TraceCollector) { m.trace = t }

// Trace returns the active trace collector, or nil.
func (m *MemoryMonitor) Trace() *TraceCollector { return m.trace }

func flagBit(idx uint32, dir IncludeDir) uint {
	return uint(idx)*numDirs + uint(dir)
}

// pageCycles is the cost of authenticating page idx. The root page is
// hashed two entries per compression block and may be only partly filled.
func (m *MemoryMonitor) pageCycles(idx uint32) uint64 {
	if idx == m.image.Info.RootIdx {
		return CyclesPerPage(int(m.image.Info.NumRootEntries / 2))
	}
	return CyclesPerFullPage
}

// Include marks the page holding addr as touched in direction dir and
// charges it, along with every not-yet-touched ancestor up to the root.
func (m *MemoryMonitor) Include(addr uint32, dir IncludeDir) error {
	if addr >= MemSize {
		return fmt.Errorf("%w: 0x%08x", ErrAddressOutOfRange, addr)
	}
	if m.journal != nil {
		m.journal.touches = append(m.journal.touches, pageTouch{addr: addr, dir: dir})
	}
	info := &m.image.Info
	idx := info.PageIndex(addr)
	for hops := 0; hops <= maxPageTableDepth; hops++ {
		bit := flagBit(idx, dir)
		if m.flags.Test(bit) {
			return nil
		}
		m.flags.Set(bit)
		if m.journal != nil {
			m.journal.set = append(m.journal.set, bit)
		}
		m.segmentCycles += m.pageCycles(idx)
		if idx == info.RootIdx {
			return nil
		}
		idx = info.ParentIndex(idx)
	}
	return fmt.Errorf("%w: address 0x%08x", ErrPageTableCycle, addr)
}

// EstimateCycles returns what Include would charge, without marking.
func (m *MemoryMonitor) EstimateCycles(addr uint32, dir IncludeDir) uint64 {
	if addr >= MemSize {
		return 0
	}
	info := &m.image.Info
	idx := info.PageIndex(addr)
	var total uint64
	for hops := 0; hops <= maxPageTableDepth; hops++ {
		if m.flags.Test(flagBit(idx, dir)) {
			break
		}
		total += m.pageCycles(idx)
		if idx == info.RootIdx {
			break
		}
		idx = info.ParentIndex(idx)
	}
	return total
}

// beginJournal starts recording page touches. Journals do not nest.
func (m *MemoryMonitor) beginJournal() {
	m.journal = &accessJournal{cycles: m.segmentCycles}
}

// endJournal stops recording and returns what was recorded.
func (m *MemoryMonitor) endJournal() *accessJournal {
	j := m.journal
	m.journal = nil
	return j
}

// undo clears the flags j set and drops the cycles charged since it began.
// Only paging and UseCycles charges may have happened in between.
func (m *MemoryMonitor) undo(j *accessJournal) {
	for _, bit := range j.set {
		m.flags.Clear(bit)
	}
	m.segmentCycles = j.cycles
}

// replay charges j's touches again, typically in a fresh segment.
func (m *MemoryMonitor) replay(j *accessJournal) error {
	for _, t := range j.touches {
		if err := m.Include(t.addr, t.dir); err != nil {
			return err
		}
	}
	return nil
}

// UseCycles charges n non-paging cycles to the current segment.
func (m *MemoryMonitor) UseCycles(n uint64) { m.segmentCycles += n }

// SegmentCycles returns the cycles charged in the current segment.
func (m *MemoryMonitor) SegmentCycles() uint64 { return m.segmentCycles }

// Cycle returns the cycles charged over the whole run so far.
func (m *MemoryMonitor) Cycle() uint64 { return m.prevSegmentsCycles + m.segmentCycles }

func (m *MemoryMonitor) load(addr uint32, buf []byte) error {
	if err := m.Include(addr, DirLoad); err != nil {
		return err
	}
	return m.image.LoadRegionInPage(addr, buf)
}

func (m *MemoryMonitor) store(addr uint32, data []byte) error {
	if err := m.Include(addr, DirStore); err != nil {
		return err
	}
	return m.image.StoreRegionInPage(addr, data)
}

// LoadU8 loads a byte.
func (m *MemoryMonitor) LoadU8(addr uint32) (uint8, error) {
	var b [1]byte
	if err := m.load(addr, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// LoadU16 loads an aligned halfword.
func (m *MemoryMonitor) LoadU16(addr uint32) (uint16, error) {
	if addr%2 != 0 {
		return 0, fmt.Errorf("%w: load halfword at 0x%08x", ErrUnalignedAccess, addr)
	}
	var b [2]byte
	if err := m.load(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// LoadU32 loads an aligned word.
func (m *MemoryMonitor) LoadU32(addr uint32) (uint32, error) {
	if addr%WordSize != 0 {
		return 0, fmt.Errorf("%w: load word at 0x%08x", ErrUnalignedAccess, addr)
	}
	var b [WordSize]byte
	if err := m.load(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// LoadWords loads n consecutive aligned words starting at addr.
func (m *MemoryMonitor) LoadWords(addr uint32, n int) ([]uint32, error) {
	out := make([]uint32, n)
	for i := range out {
		w, err := m.LoadU32(addr + uint32(i)*WordSize)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

// LoadRegion loads size bytes starting at addr, one byte at a time so the
// region may span pages.
func (m *MemoryMonitor) LoadRegion(addr, size uint32) ([]byte, error) {
	out := make([]byte, size)
	for i := uint32(0); i < size; i++ {
		b, err := m.LoadU8(addr + i)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// LoadString loads a NUL-terminated UTF-8 string.
func (m *MemoryMonitor) LoadString(addr uint32) (string, error) {
	var s []byte
	for {
		b, err := m.LoadU8(addr)
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		s = append(s, b)
		addr++
	}
	if !utf8.Valid(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUTF8, s)
	}
	return string(s), nil
}

// LoadRegister loads register idx (or the pc slot for RegPC).
func (m *MemoryMonitor) LoadRegister(idx int) (uint32, error) {
	return m.LoadU32(RegisterAddr(idx))
}

// PeekU32 reads an aligned word without charging or marking anything. It
// backs the decoder's read-only view; the executor charges the accesses the
// decoded record implies.
func (m *MemoryMonitor) PeekU32(addr uint32) (uint32, error) {
	if addr%WordSize != 0 {
		return 0, fmt.Errorf("%w: load word at 0x%08x", ErrUnalignedAccess, addr)
	}
	return m.image.LoadWord(addr)
}

// PeekRegister reads register idx without charging.
func (m *MemoryMonitor) PeekRegister(idx int) uint32 {
	w, _ := m.image.LoadWord(RegisterAddr(idx))
	return w
}

// StoreU8 stores a byte.
func (m *MemoryMonitor) StoreU8(addr uint32, v uint8) error {
	if err := m.store(addr, []byte{v}); err != nil {
		return err
	}
	m.traceMemory(addr, uint32(v))
	return nil
}

// StoreU16 stores an aligned halfword.
func (m *MemoryMonitor) StoreU16(addr uint32, v uint16) error {
	if addr%2 != 0 {
		return fmt.Errorf("%w: store halfword at 0x%08x", ErrUnalignedAccess, addr)
	}
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	if err := m.store(addr, b[:]); err != nil {
		return err
	}
	m.traceMemory(addr, uint32(v))
	return nil
}

// StoreU32 stores an aligned word.
func (m *MemoryMonitor) StoreU32(addr uint32, v uint32) error {
	if addr%WordSize != 0 {
		return fmt.Errorf("%w: store word at 0x%08x", ErrUnalignedAccess, addr)
	}
	var b [WordSize]byte
	binary.LittleEndian.PutUint32(b[:], v)
	if err := m.store(addr, b[:]); err != nil {
		return err
	}
	m.traceMemory(addr, v)
	return nil
}

// StoreRegion stores data byte by byte starting at addr.
func (m *MemoryMonitor) StoreRegion(addr uint32, data []byte) error {
	for i, b := range data {
		if err := m.StoreU8(addr+uint32(i), b); err != nil {
			return err
		}
	}
	return nil
}

// StoreRegister stores v into register idx (or the pc slot for RegPC).
func (m *MemoryMonitor) StoreRegister(idx int, v uint32) error {
	var b [WordSize]byte
	binary.LittleEndian.PutUint32(b[:], v)
	if err := m.store(RegisterAddr(idx), b[:]); err != nil {
		return err
	}
	if m.trace != nil && idx != RegPC {
		m.trace.Record(RegisterSet{Reg: idx, Value: v})
	}
	return nil
}

func (m *MemoryMonitor) traceMemory(addr, v uint32) {
	if m.trace != nil {
		m.trace.Record(MemorySet{Addr: addr, Value: v})
	}
}

// ComputeSegmentFaults returns the pages touched in each direction during
// the current segment.
func (m *MemoryMonitor) ComputeSegmentFaults() PageFaults {
	var faults PageFaults
	for i, ok := m.flags.NextSet(0); ok; i, ok = m.flags.NextSet(i + 1) {
		idx := uint32(i / numDirs)
		if IncludeDir(i%numDirs) == DirLoad {
			faults.Reads = append(faults.Reads, idx)
		} else {
			faults.Writes = append(faults.Writes, idx)
		}
	}
	return faults
}

// ClearSegment folds the segment's cycles into the run total and resets
// every page flag.
func (m *MemoryMonitor) ClearSegment() {
	m.flags.ClearAll()
	m.prevSegmentsCycles += m.segmentCycles
	m.segmentCycles = 0
}
