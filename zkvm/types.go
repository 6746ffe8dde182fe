// Package zkvm is a host-side executor for a RISC-V zero-knowledge VM. It
// runs RV32IM guest programs one instruction at a time and predicts, cycle
// for cycle, what the proving circuit will charge, including the cost of
// paging memory in and out of each segment.
package zkvm

import (
	"errors"
	"fmt"
)

// ExitKind says why a segment or run stopped.
type ExitKind uint8

const (
	// ExitHalted: the guest terminated; the run is over.
	ExitHalted ExitKind = iota
	// ExitPaused: the guest paused; the run may be resumed.
	ExitPaused
	// ExitSystemSplit: the segment hit its cycle limit.
	ExitSystemSplit
	// ExitSessionLimit: the run hit its total cycle limit.
	ExitSessionLimit
)

// ExitCode is a segment or session exit. User is the guest's exit code and
// is only meaningful for ExitHalted and ExitPaused.
type ExitCode struct {
	Kind ExitKind
	User uint32
}

// Halted returns a terminate exit with the guest's code.
func Halted(user uint32) ExitCode { return ExitCode{Kind: ExitHalted, User: user} }

// Paused returns a pause exit with the guest's code.
func Paused(user uint32) ExitCode { return ExitCode{Kind: ExitPaused, User: user} }

// SystemSplit is the exit of a segment closed at its cycle limit.
var SystemSplit = ExitCode{Kind: ExitSystemSplit}

// SessionLimit is the exit of a run stopped at its total cycle limit.
var SessionLimit = ExitCode{Kind: ExitSessionLimit}

// Terminal reports whether the exit ends the run.
func (c ExitCode) Terminal() bool {
	return c.Kind != ExitSystemSplit
}

func (c ExitCode) String() string {
	switch c.Kind {
	case ExitHalted:
		return fmt.Sprintf("Halted(%d)", c.User)
	case ExitPaused:
		return fmt.Sprintf("Paused(%d)", c.User)
	case ExitSystemSplit:
		return "SystemSplit"
	case ExitSessionLimit:
		return "SessionLimit"
	default:
		return fmt.Sprintf("ExitKind(%d)", c.Kind)
	}
}

// MarshalText encodes the exit as its String form.
func (c ExitCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Segment is a closed slice of execution, the unit the prover works on.
type Segment struct {
	Index    int
	ExitCode ExitCode

	// Faults are the pages paged in (Reads) and out (Writes).
	Faults PageFaults

	// Cycles is the segment's total including paging.
	Cycles uint64

	// Instructions counts instructions retired in the segment.
	Instructions uint64

	// WrittenPages holds the contents, at segment close, of every page
	// paged out during the segment.
	WrittenPages map[uint32][]byte

	// PreImageID and PostImageID are the image root digests at segment
	// open and close. Zero unless image IDs are enabled.
	PreImageID  [32]byte
	PostImageID [32]byte

	// Trace is nil unless tracing is enabled.
	Trace []TraceEvent
}

// Session is the result of a complete run.
type Session struct {
	Segments    []*Segment
	ExitCode    ExitCode
	TotalCycles uint64
}

// FaultState snapshots the machine when execution failed, enough for a
// fault proof to resume from.
type FaultState struct {
	PC   uint32
	Regs [RegCount]uint32
	// PostImageID is the image ID of memory at the fault. It is only set
	// when the run computes image IDs.
	PostImageID [32]byte
}

// ExecError is returned when a run stops on an error. It records where the
// failure happened and wraps the cause.
type ExecError struct {
	PC    uint32
	Inst  uint32
	Cycle uint64
	Err   error
	State FaultState
	// Faults are the page faults of the segment that failed, up to the
	// failing instruction.
	Faults PageFaults
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("zkvm: execution failed at pc=0x%08x inst=0x%08x cycle=%d: %v",
		e.PC, e.Inst, e.Cycle, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// ErrSessionLimit is wrapped by the error returned when a run exceeds its
// total cycle limit.
var ErrSessionLimit = errors.New("zkvm: session cycle limit exceeded")
