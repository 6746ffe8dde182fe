package zkvm

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/zkexec/zkexec/bigint"
	"github.com/zkexec/zkexec/log"
)

// ECall errors.
var (
	ErrUnknownECall    = errors.New("zkvm: unknown ecall")
	ErrIllegalHaltType = errors.New("zkvm: illegal halt type")
	ErrBigIntOp        = errors.New("zkvm: bigint op must be 0")
	ErrBigIntOverflow  = errors.New("zkvm: bigint product overflows 256 bits")
)

// Fixed ecall costs, on top of any paging.
const (
	shaCycles    = 72 // per compressed block
	bigintCycles = 9
)

// RAMWrite is a word an ecall writes back to guest memory.
type RAMWrite struct {
	Addr uint32
	Word uint32
}

// RegWrite is a register an ecall sets.
type RegWrite struct {
	Reg  int
	Word uint32
}

// SyscallRecord captures what a software syscall returned to the guest.
type SyscallRecord struct {
	ToGuest []uint32
	Regs    [2]uint32
}

// ECallRecord is the full observable effect of one ecall. Nothing in it
// has been applied yet except the reads; the executor performs the writes.
type ECallRecord struct {
	// PageLoads are the pages the ecall read, sorted.
	PageLoads []uint32
	RAMWrites []RAMWrite
	RegWrites []RegWrite
	Syscall   *SyscallRecord
	ExitCode  *ExitCode
	Cycles    uint64
}

type ecallExecutor struct {
	ctx      *MemoryMonitor
	syscalls *SyscallTable
	logger   *log.Logger

	pageLoads map[uint32]struct{}
	rec       ECallRecord
}

// ExecECall runs the ecall selected by t0 against ctx. Reads are charged
// through ctx as they happen; writes are returned in the record.
func ExecECall(ctx *MemoryMonitor, syscalls *SyscallTable, logger *log.Logger) (*ECallRecord, error) {
	sel, err := ctx.LoadRegister(RegT0)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	e := &ecallExecutor{
		ctx:       ctx,
		syscalls:  syscalls,
		logger:    logger,
		pageLoads: make(map[uint32]struct{}),
	}
	switch sel {
	case ECallHalt:
		err = e.halt()
	case ECallInput:
		err = e.input()
	case ECallSoftware:
		err = e.software()
	case ECallSHA:
		err = e.sha()
	case ECallBigInt:
		err = e.bigInt()
	default:
		err = fmt.Errorf("%w: 0x%x", ErrUnknownECall, sel)
	}
	if err != nil {
		return nil, err
	}
	e.rec.PageLoads = make([]uint32, 0, len(e.pageLoads))
	for idx := range e.pageLoads {
		e.rec.PageLoads = append(e.rec.PageLoads, idx)
	}
	sort.Slice(e.rec.PageLoads, func(i, j int) bool { return e.rec.PageLoads[i] < e.rec.PageLoads[j] })
	return &e.rec, nil
}

func (e *ecallExecutor) loadRegisters(idxs ...int) ([]uint32, error) {
	out := make([]uint32, len(idxs))
	for i, idx := range idxs {
		v, err := e.ctx.LoadRegister(idx)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// loadWords reads n words at addr and notes the pages they span.
func (e *ecallExecutor) loadWords(addr uint32, n int) ([]uint32, error) {
	if n == 0 {
		return nil, nil
	}
	last := uint64(addr) + uint64(n*WordSize) - 1
	if last >= MemSize {
		return nil, fmt.Errorf("%w: 0x%08x+%d words", ErrAddressOutOfRange, addr, n)
	}
	for idx := addr / PageSize; idx <= uint32(last/PageSize); idx++ {
		e.pageLoads[idx] = struct{}{}
	}
	return e.ctx.LoadWords(addr, n)
}

func (e *ecallExecutor) storeWords(addr uint32, words []uint32) {
	for i, w := range words {
		e.rec.RAMWrites = append(e.rec.RAMWrites, RAMWrite{Addr: addr + uint32(i)*WordSize, Word: w})
	}
}

func (e *ecallExecutor) halt() error {
	regs, err := e.loadRegisters(RegA0, RegA1)
	if err != nil {
		return err
	}
	haltType := regs[0] & 0xFF
	user := (regs[0] >> 8) & 0xFF

	var code ExitCode
	switch haltType {
	case HaltTerminate:
		code = Halted(user)
	case HaltPause:
		code = Paused(user)
	default:
		return fmt.Errorf("%w: %d", ErrIllegalHaltType, haltType)
	}
	e.rec.ExitCode = &code
	_, err = e.loadWords(regs[1], DigestWords)
	return err
}

// input charges the read of the input digest. The digest itself has no
// effect on execution.
func (e *ecallExecutor) input() error {
	ptr, err := e.ctx.LoadRegister(RegA0)
	if err != nil {
		return err
	}
	if e.logger.Enabled(slog.LevelDebug) {
		e.logger.Debug("ecall input", "ptr", fmt.Sprintf("0x%08x", ptr))
	}
	_, err = e.loadWords(ptr, DigestWords)
	return err
}

func (e *ecallExecutor) sha() error {
	regs, err := e.loadRegisters(RegA0, RegA1, RegA2, RegA3, RegA4)
	if err != nil {
		return err
	}
	outPtr, inPtr, block1, block2, count := regs[0], regs[1], regs[2], regs[3], regs[4]

	in, err := e.loadWords(inPtr, DigestWords)
	if err != nil {
		return err
	}
	var state [DigestBytes]byte
	copy(state[:], wordsToBytes(in))

	block := make([]uint32, BlockWords)
	for i := uint32(0); i < count; i++ {
		lo, err := e.loadWords(block1, DigestWords)
		if err != nil {
			return err
		}
		hi, err := e.loadWords(block2, DigestWords)
		if err != nil {
			return err
		}
		copy(block, lo)
		copy(block[DigestWords:], hi)
		if err := compressBlock(&state, wordsToBytes(block)); err != nil {
			return err
		}
		block1 += BlockBytes
		block2 += BlockBytes
		e.rec.Cycles += shaCycles
	}
	if e.logger.Enabled(slog.LevelDebug) {
		e.logger.Debug("ecall sha", "blocks", count, "state", fmt.Sprintf("%x", state))
	}
	e.storeWords(outPtr, bytesToWords(state[:]))
	return nil
}

func (e *ecallExecutor) bigInt() error {
	regs, err := e.loadRegisters(RegA0, RegA1, RegA2, RegA3, RegA4)
	if err != nil {
		return err
	}
	zPtr, op, xPtr, yPtr, nPtr := regs[0], regs[1], regs[2], regs[3], regs[4]

	e.rec.Cycles += bigintCycles
	if op != bigint.OpMultiply {
		return fmt.Errorf("%w: got %d", ErrBigIntOp, op)
	}
	load := func(ptr uint32) (bigint.BigInt, error) {
		w, err := e.loadWords(ptr, bigint.WidthWords)
		if err != nil {
			return bigint.BigInt{}, err
		}
		return bigint.FromWords(w), nil
	}
	x, err := load(xPtr)
	if err != nil {
		return err
	}
	y, err := load(yPtr)
	if err != nil {
		return err
	}
	n, err := load(nPtr)
	if err != nil {
		return err
	}
	z, err := bigint.MulMod(&x, &y, &n)
	if err != nil {
		return errors.Join(ErrBigIntOverflow, err)
	}
	e.storeWords(zPtr, z.Words())
	return nil
}

// software hands the call to a registered host handler. The handler's
// reads of guest memory are charged like any other load.
func (e *ecallExecutor) software() error {
	regs, err := e.loadRegisters(RegA0, RegA1, RegA2)
	if err != nil {
		return err
	}
	toGuestPtr, toGuestWords, namePtr := regs[0], regs[1], regs[2]

	name, err := e.ctx.LoadString(namePtr)
	if err != nil {
		return err
	}
	if e.logger.Enabled(slog.LevelDebug) {
		e.logger.Debug("guest syscall", "name", name, "words", toGuestWords)
	}
	if uint64(toGuestWords)*WordSize > MemSize {
		return fmt.Errorf("%w: syscall %q requested %d words", ErrAddressOutOfRange, name, toGuestWords)
	}

	chunks := alignUp(toGuestWords, WordSize)
	e.rec.Cycles += uint64(chunks) + 2

	h, ok := e.syscalls.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSyscall, name)
	}
	toGuest := make([]uint32, toGuestWords)
	a0, a1, err := h.Syscall(name, e.ctx, toGuest)
	if err != nil {
		return err
	}

	e.storeWords(toGuestPtr, toGuest)
	e.rec.RegWrites = append(e.rec.RegWrites, RegWrite{Reg: RegA0, Word: a0}, RegWrite{Reg: RegA1, Word: a1})
	e.rec.Syscall = &SyscallRecord{ToGuest: toGuest, Regs: [2]uint32{a0, a1}}
	if e.logger.Enabled(slog.LevelDebug) {
		e.logger.Debug("syscall returned", "name", name, "a0", a0, "a1", a1, "chunks", chunks)
	}
	return nil
}
