// trace.go implements the execution trace collector. With tracing enabled
// the executor records the start of every instruction and the memory
// monitor records every register and memory write, so a segment can be
// replayed or committed to without re-running it.
package zkvm

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedTrace is returned by DeserializeTrace on truncated or
// unknown input.
var ErrMalformedTrace = errors.New("zkvm: malformed trace")

// TraceEvent is one of InstructionStart, RegisterSet or MemorySet.
type TraceEvent interface {
	traceTag() byte
}

// InstructionStart marks the start of the instruction at PC.
type InstructionStart struct {
	Cycle uint64
	PC    uint32
}

// RegisterSet records a general-purpose register write.
type RegisterSet struct {
	Reg   int
	Value uint32
}

// MemorySet records a memory write. Value holds the stored byte, halfword
// or word.
type MemorySet struct {
	Addr  uint32
	Value uint32
}

const (
	tagInstructionStart byte = 1
	tagRegisterSet      byte = 2
	tagMemorySet        byte = 3
)

func (InstructionStart) traceTag() byte { return tagInstructionStart }
func (RegisterSet) traceTag() byte      { return tagRegisterSet }
func (MemorySet) traceTag() byte        { return tagMemorySet }

func (e InstructionStart) String() string {
	return fmt.Sprintf("InstructionStart{cycle: %d, pc: 0x%08x}", e.Cycle, e.PC)
}

func (e RegisterSet) String() string {
	return fmt.Sprintf("RegisterSet{reg: x%d, value: 0x%08x}", e.Reg, e.Value)
}

func (e MemorySet) String() string {
	return fmt.Sprintf("MemorySet{addr: 0x%08x, value: 0x%08x}", e.Addr, e.Value)
}

// TraceCollector accumulates trace events.
type TraceCollector struct {
	Events []TraceEvent
}

// NewTraceCollector creates a new empty collector.
func NewTraceCollector() *TraceCollector {
	return &TraceCollector{
		Events: make([]TraceEvent, 0, 256),
	}
}

// Record appends an event.
func (c *TraceCollector) Record(ev TraceEvent) {
	c.Events = append(c.Events, ev)
}

// Len returns the number of recorded events.
func (c *TraceCollector) Len() int {
	return len(c.Events)
}

// Take returns the recorded events and starts a fresh list.
func (c *TraceCollector) Take() []TraceEvent {
	evs := c.Events
	c.Events = make([]TraceEvent, 0, cap(evs))
	return evs
}

// Reset clears all recorded events.
func (c *TraceCollector) Reset() {
	c.Events = c.Events[:0]
}

func eventSize(ev TraceEvent) int {
	switch ev.(type) {
	case InstructionStart:
		return 1 + 8 + 4
	case RegisterSet:
		return 1 + 1 + 4
	default:
		return 1 + 4 + 4
	}
}

func appendEvent(buf []byte, ev TraceEvent) []byte {
	buf = append(buf, ev.traceTag())
	switch e := ev.(type) {
	case InstructionStart:
		buf = binary.LittleEndian.AppendUint64(buf, e.Cycle)
		buf = binary.LittleEndian.AppendUint32(buf, e.PC)
	case RegisterSet:
		buf = append(buf, byte(e.Reg))
		buf = binary.LittleEndian.AppendUint32(buf, e.Value)
	case MemorySet:
		buf = binary.LittleEndian.AppendUint32(buf, e.Addr)
		buf = binary.LittleEndian.AppendUint32(buf, e.Value)
	}
	return buf
}

// Serialize encodes the trace. Format:
//
//	count(4) + per event: tag(1) + payload
//	  InstructionStart: cycle(8) + pc(4)
//	  RegisterSet:      reg(1) + value(4)
//	  MemorySet:        addr(4) + value(4)
//
// All integers are little-endian.
func (c *TraceCollector) Serialize() []byte {
	size := 4
	for _, ev := range c.Events {
		size += eventSize(ev)
	}
	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.Events)))
	for _, ev := range c.Events {
		buf = appendEvent(buf, ev)
	}
	return buf
}

// DeserializeTrace reconstructs a trace from Serialize output.
func DeserializeTrace(data []byte) (*TraceCollector, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: missing header", ErrMalformedTrace)
	}
	count := binary.LittleEndian.Uint32(data)
	off := 4

	c := &TraceCollector{Events: make([]TraceEvent, 0, min(int(count), len(data)/6))}
	need := func(n int) error {
		if off+n > len(data) {
			return fmt.Errorf("%w: truncated at offset %d", ErrMalformedTrace, off)
		}
		return nil
	}
	for i := uint32(0); i < count; i++ {
		if err := need(1); err != nil {
			return nil, err
		}
		tag := data[off]
		off++
		switch tag {
		case tagInstructionStart:
			if err := need(12); err != nil {
				return nil, err
			}
			c.Record(InstructionStart{
				Cycle: binary.LittleEndian.Uint64(data[off:]),
				PC:    binary.LittleEndian.Uint32(data[off+8:]),
			})
			off += 12
		case tagRegisterSet:
			if err := need(5); err != nil {
				return nil, err
			}
			c.Record(RegisterSet{Reg: int(data[off]), Value: binary.LittleEndian.Uint32(data[off+1:])})
			off += 5
		case tagMemorySet:
			if err := need(8); err != nil {
				return nil, err
			}
			c.Record(MemorySet{
				Addr:  binary.LittleEndian.Uint32(data[off:]),
				Value: binary.LittleEndian.Uint32(data[off+4:]),
			})
			off += 8
		default:
			return nil, fmt.Errorf("%w: unknown tag %d at offset %d", ErrMalformedTrace, tag, off-1)
		}
	}
	return c, nil
}

// Commitment computes a SHA-256 Merkle root over the events. Each leaf is
// SHA-256 of the event's serialized form.
func (c *TraceCollector) Commitment() [32]byte {
	leaves := make([][32]byte, len(c.Events))
	var buf []byte
	for i, ev := range c.Events {
		buf = appendEvent(buf[:0], ev)
		leaves[i] = sha256.Sum256(buf)
	}
	return merkleRoot(leaves)
}

// merkleRoot computes a binary Merkle tree root from leaves using SHA-256.
// Pads with duplicate of the last leaf if the count is odd.
func merkleRoot(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return sha256.Sum256(nil)
	}
	current := leaves
	for len(current) > 1 {
		if len(current)%2 != 0 {
			current = append(current, current[len(current)-1])
		}
		next := make([][32]byte, len(current)/2)
		var pair [64]byte
		for i := 0; i < len(current); i += 2 {
			copy(pair[:32], current[i][:])
			copy(pair[32:], current[i+1][:])
			next[i/2] = sha256.Sum256(pair[:])
		}
		current = next
	}
	return current[0]
}
