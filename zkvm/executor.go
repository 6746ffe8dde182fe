package zkvm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zkexec/zkexec/log"
	"github.com/zkexec/zkexec/metrics"
)

// peekView gives the decoder uncharged, read-only access to the machine.
type peekView struct {
	m *MemoryMonitor
}

func (v peekView) LoadRAM(addr uint32) (uint32, error) { return v.m.PeekU32(addr) }
func (v peekView) LoadRegister(idx int) uint32         { return v.m.PeekRegister(idx) }

// Executor drives a guest program through the decoder, memory monitor and
// ecall dispatcher, splitting the run into segments at the cycle limit.
// An Executor is not safe for concurrent use.
type Executor struct {
	env      *ExecutorEnv
	monitor  *MemoryMonitor
	syscalls *SyscallTable
	logger   *log.Logger
	metrics  *metrics.ExecutorMetrics
	trace    *TraceCollector

	pc         uint32
	segments   []*Segment
	segInsts   uint64
	preImageID [32]byte
	done       bool
}

// NewExecutor prepares image to run from entryPC. The executor takes
// ownership of image.
func NewExecutor(env *ExecutorEnv, image *MemoryImage, entryPC uint32) (*Executor, error) {
	if env == nil {
		env = DefaultExecutorEnv()
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	if entryPC%WordSize != 0 || entryPC >= MemSize {
		return nil, fmt.Errorf("%w: entry 0x%08x", ErrUnalignedPC, entryPC)
	}
	var pcBytes [WordSize]byte
	binary.LittleEndian.PutUint32(pcBytes[:], entryPC)
	if err := image.StoreRegionInPage(RegisterAddr(RegPC), pcBytes[:]); err != nil {
		return nil, err
	}

	x := &Executor{
		env:      env,
		monitor:  NewMemoryMonitor(image),
		syscalls: env.syscallTable(),
		logger:   env.logger(),
		metrics:  metrics.NewExecutorMetrics(env.Metrics),
		pc:       entryPC,
	}
	if env.Trace {
		x.trace = NewTraceCollector()
		x.monitor.EnableTrace(x.trace)
	}
	if err := x.openSegment(); err != nil {
		return nil, err
	}
	return x, nil
}

// Monitor exposes the memory monitor, mainly for inspection after a run.
func (x *Executor) Monitor() *MemoryMonitor { return x.monitor }

// PC returns the address of the next instruction.
func (x *Executor) PC() uint32 { return x.pc }

// Segments returns every segment closed so far.
func (x *Executor) Segments() []*Segment { return x.segments }

// Run executes until the guest halts or pauses, or the session limit is
// hit. A paused run may be continued by calling Run again; each call
// returns only the segments it closed.
func (x *Executor) Run() (*Session, error) {
	if x.done {
		return nil, errors.New("zkvm: executor already finished")
	}
	start := len(x.segments)
	var (
		exit *ExitCode
		err  error
	)
	for exit == nil || !exit.Terminal() {
		exit, err = x.Step()
		if err != nil {
			if errors.Is(err, ErrSessionLimit) {
				return x.session(start, *exit), err
			}
			return nil, err
		}
	}
	return x.session(start, *exit), nil
}

func (x *Executor) session(start int, exit ExitCode) *Session {
	s := &Session{Segments: x.segments[start:], ExitCode: exit}
	for _, seg := range s.Segments {
		s.TotalCycles += seg.Cycles
	}
	return s
}

// Step executes one instruction. It returns a non-nil exit code when the
// instruction closed a segment: SystemSplit if the run continues, or a
// terminal code if it is over.
func (x *Executor) Step() (*ExitCode, error) {
	if x.done {
		return nil, errors.New("zkvm: executor already finished")
	}
	m := x.monitor
	pc := x.pc

	if limit := x.env.SessionLimit; limit != 0 && m.Cycle() >= limit {
		// An open segment with nothing retired has nothing to prove.
		if x.segInsts > 0 {
			if err := x.closeSegment(SessionLimit); err != nil {
				return nil, err
			}
		}
		x.done = true
		exit := SessionLimit
		return &exit, fmt.Errorf("%w: %d cycles", ErrSessionLimit, m.Cycle())
	}

	rec, err := Decode(pc, peekView{m})
	if err != nil {
		return nil, x.fail(pc, err)
	}
	if x.segInsts > 0 && m.SegmentCycles()+x.estimate(pc, rec) > x.env.SegmentLimit() {
		if err := x.closeSegment(SystemSplit); err != nil {
			return nil, err
		}
		if err := x.openSegment(); err != nil {
			return nil, err
		}
		exit := SystemSplit
		return &exit, nil
	}

	var (
		exit  *ExitCode
		split bool
	)
	if _, ok := rec.(ECall); ok {
		exit, split, err = x.stepECall(pc)
	} else {
		err = x.apply(pc, rec)
	}
	if err != nil {
		return nil, x.fail(pc, err)
	}
	x.segInsts++
	x.metrics.Instructions.Inc()
	x.metrics.CyclesTotal.Set(m.Cycle())

	if exit != nil {
		if err := x.closeSegment(*exit); err != nil {
			return nil, err
		}
		if exit.Kind == ExitHalted {
			x.done = true
		} else if err := x.openSegment(); err != nil {
			return nil, err
		}
	}
	if exit == nil && split {
		s := SystemSplit
		return &s, nil
	}
	return exit, nil
}

// estimate bounds the cycles rec will charge, paging included. Shared
// ancestors are counted once per access, so this overestimates. For an
// ecall it covers only the fetch and dispatch; stepECall checks the rest.
func (x *Executor) estimate(pc uint32, rec InstRecord) uint64 {
	m := x.monitor
	regs := RegisterAddr(0)
	est := m.EstimateCycles(pc, DirLoad) +
		m.EstimateCycles(regs, DirLoad) +
		m.EstimateCycles(regs, DirStore)
	switch r := rec.(type) {
	case MemoryLoad:
		est += cyclesSimple + m.EstimateCycles(r.Addr, DirLoad)
	case MemoryStore:
		est += cyclesSimple + m.EstimateCycles(r.Addr, DirLoad) + m.EstimateCycles(r.Addr, DirStore)
	case RegisterStore:
		est += uint64(r.Cycles)
	case ECall:
		est += cyclesSimple
	}
	return est
}

// apply performs a non-ecall rec through the monitor and advances the pc.
func (x *Executor) apply(pc uint32, rec InstRecord) error {
	m := x.monitor
	if x.trace != nil {
		x.trace.Record(InstructionStart{Cycle: m.Cycle(), PC: pc})
	}
	if err := m.Include(pc, DirLoad); err != nil {
		return err
	}
	if err := m.Include(RegisterAddr(0), DirLoad); err != nil {
		return err
	}

	newPC := pc + WordSize
	switch r := rec.(type) {
	case MemoryLoad:
		if _, err := m.LoadU32(r.Addr); err != nil {
			return err
		}
		if err := x.setRegister(r.Reg, r.Val); err != nil {
			return err
		}
		m.UseCycles(cyclesSimple)
	case MemoryStore:
		if err := m.Include(r.Addr, DirLoad); err != nil {
			return err
		}
		if err := m.StoreU32(r.Addr, r.Val); err != nil {
			return err
		}
		m.UseCycles(cyclesSimple)
	case RegisterStore:
		if err := x.setRegister(r.Reg, r.Val); err != nil {
			return err
		}
		m.UseCycles(uint64(r.Cycles))
		newPC = r.NewPC
	}
	return x.advance(newPC)
}

func (x *Executor) advance(newPC uint32) error {
	if err := x.monitor.StoreRegister(RegPC, newPC); err != nil {
		return err
	}
	x.pc = newPC
	return nil
}

// stepECall runs the ecall at pc. Its cost is only known once its reads
// are done, so they are journaled: if the finished ecall would overflow a
// segment that has already retired instructions, the reads are undone, the
// segment closes with SystemSplit, and they are charged again in the next
// one before any write lands. An ecall too large for even an empty segment
// runs alone in one.
func (x *Executor) stepECall(pc uint32) (exit *ExitCode, split bool, err error) {
	m := x.monitor
	if x.trace != nil {
		x.trace.Record(InstructionStart{Cycle: m.Cycle(), PC: pc})
	}

	m.beginJournal()
	erec, err := x.readECall(pc)
	j := m.endJournal()
	if err != nil {
		return nil, false, err
	}

	if x.segInsts > 0 && m.SegmentCycles()+x.ecallWriteCycles(erec) > x.env.SegmentLimit() {
		m.undo(j)
		if err := x.closeSegment(SystemSplit); err != nil {
			return nil, false, err
		}
		if err := x.openSegment(); err != nil {
			return nil, false, err
		}
		if err := m.replay(j); err != nil {
			return nil, false, err
		}
		split = true
	}

	if err := x.applyECall(erec); err != nil {
		return nil, split, err
	}
	m.UseCycles(cyclesSimple + erec.Cycles)
	return erec.ExitCode, split, x.advance(pc + WordSize)
}

// readECall charges the fetch and register page and runs the ecall's
// reads. Nothing is written.
func (x *Executor) readECall(pc uint32) (*ECallRecord, error) {
	m := x.monitor
	if err := m.Include(pc, DirLoad); err != nil {
		return nil, err
	}
	if err := m.Include(RegisterAddr(0), DirLoad); err != nil {
		return nil, err
	}
	return ExecECall(m, x.syscalls, x.logger)
}

// ecallWriteCycles bounds what applying erec will still charge: its fixed
// cycles, paging out the pages it writes, and the register page.
func (x *Executor) ecallWriteCycles(erec *ECallRecord) uint64 {
	m := x.monitor
	total := cyclesSimple + erec.Cycles + m.EstimateCycles(RegisterAddr(0), DirStore)
	seen := make(map[uint32]struct{})
	for _, w := range erec.RAMWrites {
		idx := w.Addr / PageSize
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		total += m.EstimateCycles(w.Addr, DirStore)
	}
	return total
}

func (x *Executor) applyECall(erec *ECallRecord) error {
	m := x.monitor
	x.metrics.ECalls.Inc()
	if erec.Syscall != nil {
		x.metrics.Syscalls.Inc()
	}
	for _, idx := range erec.PageLoads {
		if err := m.Include(idx*PageSize, DirLoad); err != nil {
			return err
		}
	}
	for _, w := range erec.RAMWrites {
		if err := m.StoreU32(w.Addr, w.Word); err != nil {
			return err
		}
	}
	for _, w := range erec.RegWrites {
		if err := x.setRegister(w.Reg, w.Word); err != nil {
			return err
		}
	}
	return nil
}

// setRegister writes a general-purpose register; writes to x0 are dropped.
func (x *Executor) setRegister(reg int, v uint32) error {
	if reg == RegZero {
		return nil
	}
	return x.monitor.StoreRegister(reg, v)
}

func (x *Executor) openSegment() error {
	x.segInsts = 0
	if !x.env.ComputeImageIDs {
		return nil
	}
	id, err := x.monitor.Image().ComputeID()
	if err != nil {
		return err
	}
	x.preImageID = id
	return nil
}

// closeSegment snapshots the current segment and resets the monitor's
// per-segment state.
func (x *Executor) closeSegment(exit ExitCode) error {
	timer := metrics.NewTimer(x.metrics.SegmentCloseTime)
	defer timer.Stop()

	m := x.monitor
	faults := m.ComputeSegmentFaults()
	seg := &Segment{
		Index:        len(x.segments),
		ExitCode:     exit,
		Faults:       faults,
		Cycles:       m.SegmentCycles(),
		Instructions: x.segInsts,
		WrittenPages: make(map[uint32][]byte, len(faults.Writes)),
		PreImageID:   x.preImageID,
	}
	for _, idx := range faults.Writes {
		page, ok := m.Image().Page(idx)
		if !ok {
			page = make([]byte, PageSize)
		}
		seg.WrittenPages[idx] = page
	}
	if x.env.ComputeImageIDs {
		id, err := m.Image().ComputeID()
		if err != nil {
			return err
		}
		seg.PostImageID = id
	}
	if x.trace != nil {
		seg.Trace = x.trace.Take()
	}
	x.segments = append(x.segments, seg)

	x.metrics.Segments.Inc()
	x.metrics.PageFaultReads.Add(uint64(len(faults.Reads)))
	x.metrics.PageFaultWrites.Add(uint64(len(faults.Writes)))
	x.metrics.SegmentCycles.Observe(seg.Cycles)
	x.logger.Info("segment closed",
		"index", seg.Index,
		"exit", exit.String(),
		"cycles", seg.Cycles,
		"instructions", seg.Instructions,
		"reads", len(faults.Reads),
		"writes", len(faults.Writes),
	)

	m.ClearSegment()
	return nil
}

// fail wraps err with the machine state at pc.
func (x *Executor) fail(pc uint32, err error) error {
	m := x.monitor
	inst, _ := m.PeekU32(pc &^ (WordSize - 1))
	state := FaultState{PC: pc}
	for i := range state.Regs {
		state.Regs[i] = m.PeekRegister(i)
	}
	if x.env.ComputeImageIDs {
		id, idErr := m.Image().Clone().ComputeID()
		if idErr != nil {
			return errors.Join(err, idErr)
		}
		state.PostImageID = id
	}
	if x.logger.Enabled(slog.LevelDebug) {
		x.logger.Debug("step failed", "pc", fmt.Sprintf("0x%08x", pc), "inst", Disassemble(inst), "err", err)
	}
	return &ExecError{
		PC:     pc,
		Inst:   inst,
		Cycle:  m.Cycle(),
		Err:    err,
		State:  state,
		Faults: m.ComputeSegmentFaults(),
	}
}
