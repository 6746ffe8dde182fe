package zkvm

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zkexec/zkexec/log"
	"github.com/zkexec/zkexec/metrics"
)

// Segment size bounds, as log2 of the cycle limit.
const (
	MinSegmentLimitPo2     = 13
	MaxSegmentLimitPo2     = 24
	DefaultSegmentLimitPo2 = 20
)

var ErrInvalidEnv = errors.New("zkvm: invalid executor environment")

// ExecutorEnv configures a run.
type ExecutorEnv struct {
	// SegmentLimitPo2 caps each segment at 1<<SegmentLimitPo2 cycles.
	SegmentLimitPo2 uint32

	// SessionLimit caps the total cycles of the run; 0 means unlimited.
	SessionLimit uint64

	// Host streams backing the guest's stdin, stdout and stderr. Stdout
	// also receives log syscall output.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Env is served to the guest through the getenv syscall.
	Env map[string]string

	// ComputeImageIDs records pre and post image IDs on every segment.
	// Hashing the image is expensive, so it is off by default.
	ComputeImageIDs bool

	// Trace records instruction, register and memory events per segment.
	Trace bool

	Logger  *log.Logger
	Metrics *metrics.Registry

	syscalls map[string]Syscall
}

// DefaultExecutorEnv returns an environment wired to the host process's
// stdio.
func DefaultExecutorEnv() *ExecutorEnv {
	return &ExecutorEnv{
		SegmentLimitPo2: DefaultSegmentLimitPo2,
		Stdin:           os.Stdin,
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
		Env:             map[string]string{},
	}
}

// WithSyscall registers a host handler, overriding any built-in one of
// the same name.
func (e *ExecutorEnv) WithSyscall(name string, h Syscall) *ExecutorEnv {
	if e.syscalls == nil {
		e.syscalls = make(map[string]Syscall)
	}
	e.syscalls[name] = h
	return e
}

// Validate checks configuration values for correctness.
func (e *ExecutorEnv) Validate() error {
	if e.SegmentLimitPo2 < MinSegmentLimitPo2 || e.SegmentLimitPo2 > MaxSegmentLimitPo2 {
		return fmt.Errorf("%w: segment limit po2 %d outside [%d, %d]",
			ErrInvalidEnv, e.SegmentLimitPo2, MinSegmentLimitPo2, MaxSegmentLimitPo2)
	}
	if e.Stdin == nil || e.Stdout == nil || e.Stderr == nil {
		return fmt.Errorf("%w: stdio streams must be set", ErrInvalidEnv)
	}
	return nil
}

// SegmentLimit returns the per-segment cycle cap.
func (e *ExecutorEnv) SegmentLimit() uint64 {
	return 1 << e.SegmentLimitPo2
}

// syscallTable builds the dispatch table for a run: the built-in handlers
// bound to this environment's streams, then any registered overrides.
func (e *ExecutorEnv) syscallTable() *SyscallTable {
	t := NewSyscallTable().
		WithSyscall(SysLog, &Log{Out: e.Stdout}).
		WithSyscall(SysGetenv, &Getenv{Vars: e.Env})
	NewPosixIO().
		WithReadFd(FdStdin, e.Stdin).
		WithWriteFd(FdStdout, e.Stdout).
		WithWriteFd(FdStderr, e.Stderr).
		Register(t)
	for name, h := range e.syscalls {
		t.WithSyscall(name, h)
	}
	return t
}

func (e *ExecutorEnv) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger.Module("zkvm")
	}
	return log.Default().Module("zkvm")
}
