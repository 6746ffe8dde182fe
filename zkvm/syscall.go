package zkvm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"unicode/utf8"
)

// Syscall registry errors.
var (
	ErrUnknownSyscall = errors.New("zkvm: unknown syscall")
	ErrGuestPanic     = errors.New("zkvm: guest panicked")
)

// SyscallContext is the machine access a host syscall handler gets. Every
// load goes through the memory monitor and is charged like any other.
type SyscallContext interface {
	// Cycle returns the cycles charged over the whole run so far.
	Cycle() uint64
	LoadRegister(idx int) (uint32, error)
	LoadU8(addr uint32) (uint8, error)
	LoadU32(addr uint32) (uint32, error)
	LoadRegion(addr, size uint32) ([]byte, error)
	LoadString(addr uint32) (string, error)
}

// Syscall is a host-side handler for a named software syscall. It may fill
// toGuest, which is copied back into guest memory, and returns the values
// written to a0 and a1.
type Syscall interface {
	Syscall(name string, ctx SyscallContext, toGuest []uint32) (uint32, uint32, error)
}

// SyscallFunc adapts a function to the Syscall interface.
type SyscallFunc func(name string, ctx SyscallContext, toGuest []uint32) (uint32, uint32, error)

// Syscall calls f.
func (f SyscallFunc) Syscall(name string, ctx SyscallContext, toGuest []uint32) (uint32, uint32, error) {
	return f(name, ctx, toGuest)
}

// SyscallTable dispatches software syscalls by name.
type SyscallTable struct {
	handlers map[string]Syscall
}

// NewSyscallTable returns a table holding the built-in handlers: cycle
// count, log (to os.Stdout) and panic.
func NewSyscallTable() *SyscallTable {
	t := &SyscallTable{handlers: make(map[string]Syscall)}
	t.WithSyscall(SysCycleCount, CycleCount{}).
		WithSyscall(SysLog, &Log{Out: os.Stdout}).
		WithSyscall(SysPanic, Panic{})
	return t
}

// WithSyscall registers h under name, replacing any existing handler.
func (t *SyscallTable) WithSyscall(name string, h Syscall) *SyscallTable {
	t.handlers[name] = h
	return t
}

// Get returns the handler for name.
func (t *SyscallTable) Get(name string) (Syscall, bool) {
	h, ok := t.handlers[name]
	return h, ok
}

// Names returns the registered syscall names, sorted.
func (t *SyscallTable) Names() []string {
	names := make([]string, 0, len(t.handlers))
	for n := range t.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Syscall dispatches to the handler registered for name, so a table can be
// nested inside another.
func (t *SyscallTable) Syscall(name string, ctx SyscallContext, toGuest []uint32) (uint32, uint32, error) {
	h, ok := t.handlers[name]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownSyscall, name)
	}
	return h.Syscall(name, ctx, toGuest)
}

// loadGuestString reads the (a3 = ptr, a4 = len) UTF-8 buffer that the
// log, panic and getenv syscalls take.
func loadGuestString(ctx SyscallContext) (string, error) {
	ptr, err := ctx.LoadRegister(RegA3)
	if err != nil {
		return "", err
	}
	n, err := ctx.LoadRegister(RegA4)
	if err != nil {
		return "", err
	}
	buf, err := ctx.LoadRegion(ptr, n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUTF8, buf)
	}
	return string(buf), nil
}

// CycleCount returns the current cycle in a0.
type CycleCount struct{}

func (CycleCount) Syscall(_ string, ctx SyscallContext, _ []uint32) (uint32, uint32, error) {
	return uint32(ctx.Cycle()), 0, nil
}

// Log writes the guest's message to Out, prefixed with the current cycle.
type Log struct {
	Out io.Writer
}

func (l *Log) Syscall(_ string, ctx SyscallContext, _ []uint32) (uint32, uint32, error) {
	msg, err := loadGuestString(ctx)
	if err != nil {
		return 0, 0, err
	}
	if _, err := fmt.Fprintf(l.Out, "R0VM[%d] %s\n", ctx.Cycle(), msg); err != nil {
		return 0, 0, err
	}
	return 0, 0, nil
}

// GuestPanicError carries the message a guest passed to the panic syscall.
type GuestPanicError struct {
	Msg string
}

func (e *GuestPanicError) Error() string {
	return "zkvm: guest panicked: " + e.Msg
}

// Is reports whether target is ErrGuestPanic.
func (e *GuestPanicError) Is(target error) bool {
	return target == ErrGuestPanic
}

// Panic aborts execution with the guest's message.
type Panic struct{}

func (Panic) Syscall(_ string, ctx SyscallContext, _ []uint32) (uint32, uint32, error) {
	msg, err := loadGuestString(ctx)
	if err != nil {
		return 0, 0, err
	}
	return 0, 0, &GuestPanicError{Msg: msg}
}

// Getenv serves environment lookups from a fixed map. A missing key
// returns 0xFFFFFFFF in a0; otherwise a0 is the full value length and as
// much of the value as fits is copied to the guest.
type Getenv struct {
	Vars map[string]string
}

func (g *Getenv) Syscall(_ string, ctx SyscallContext, toGuest []uint32) (uint32, uint32, error) {
	key, err := loadGuestString(ctx)
	if err != nil {
		return 0, 0, err
	}
	val, ok := g.Vars[key]
	if !ok {
		return 0xFFFFFFFF, 0, nil
	}
	copyBytesToWords(toGuest, []byte(val))
	return uint32(len(val)), 0, nil
}

// copyBytesToWords packs src little-endian into dst, truncating to fit,
// and returns the number of bytes copied.
func copyBytesToWords(dst []uint32, src []byte) int {
	n := min(len(src), len(dst)*WordSize)
	for i := 0; i < n; i++ {
		w := i / WordSize
		shift := 8 * uint(i%WordSize)
		dst[w] = dst[w]&^(0xFF<<shift) | uint32(src[i])<<shift
	}
	return n
}
