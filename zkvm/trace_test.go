package zkvm

import (
	"crypto/sha256"
	"errors"
	"reflect"
	"testing"
)

func sampleTrace() *TraceCollector {
	c := NewTraceCollector()
	c.Record(InstructionStart{Cycle: 1 << 40, PC: 0x1000})
	c.Record(RegisterSet{Reg: 31, Value: 0xDEADBEEF})
	c.Record(MemorySet{Addr: 0x0BFFFFFC, Value: 7})
	return c
}

func TestTrace_SerializeRoundTrip(t *testing.T) {
	c := sampleTrace()
	data := c.Serialize()
	if want := 4 + 13 + 6 + 9; len(data) != want {
		t.Errorf("serialized size = %d, want %d", len(data), want)
	}
	got, err := DeserializeTrace(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Events, c.Events) {
		t.Errorf("events = %v, want %v", got.Events, c.Events)
	}
	if got.Commitment() != c.Commitment() {
		t.Error("commitment changed across round trip")
	}
}

func TestTrace_DeserializeMalformed(t *testing.T) {
	data := sampleTrace().Serialize()
	cases := map[string][]byte{
		"empty":       nil,
		"truncated":   data[:len(data)-1],
		"unknown tag": {1, 0, 0, 0, 9},
	}
	for name, in := range cases {
		if _, err := DeserializeTrace(in); !errors.Is(err, ErrMalformedTrace) {
			t.Errorf("%s: err = %v, want ErrMalformedTrace", name, err)
		}
	}
}

func TestTrace_Commitment(t *testing.T) {
	if got := NewTraceCollector().Commitment(); got != sha256.Sum256(nil) {
		t.Errorf("empty commitment = %x", got)
	}
	a := sampleTrace()
	b := sampleTrace()
	b.Events[1] = RegisterSet{Reg: 31, Value: 0xDEADBEEE}
	if a.Commitment() == b.Commitment() {
		t.Error("commitment ignores event contents")
	}
}

func TestTrace_TakeAndReset(t *testing.T) {
	c := sampleTrace()
	evs := c.Take()
	if len(evs) != 3 || c.Len() != 0 {
		t.Fatalf("Take = %d events, remaining %d", len(evs), c.Len())
	}
	c.Record(RegisterSet{Reg: 1, Value: 1})
	if _, ok := evs[0].(InstructionStart); !ok {
		t.Error("taken events were overwritten")
	}
	c.Reset()
	if c.Len() != 0 {
		t.Errorf("Len after Reset = %d", c.Len())
	}
}
