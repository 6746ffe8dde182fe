package main

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkexec/zkexec/zkvm"
)

const (
	opImm    = 0b0010011
	regA0    = 10
	regA1    = 11
	regT0    = 5
	testBase = 0x1000
)

// haltProgram sets a0 to a terminate with exit code 7, points a1 at a
// scratch digest and halts.
func haltProgram() []uint32 {
	return []uint32{
		zkvm.EncodeIType(opImm, regA0, 0, 0, 0x700),
		zkvm.EncodeIType(opImm, regA1, 0, 0, 0x400),
		zkvm.EncodeIType(opImm, regT0, 0, 0, int32(zkvm.ECallHalt)),
		zkvm.EncodeECall(),
	}
}

// writeELF builds a single-segment RISC-V executable holding words at
// testBase.
func writeELF(t *testing.T, words []uint32) string {
	t.Helper()
	const (
		ehsize    = 52
		phentsize = 32
	)
	code := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(code[4*i:], w)
	}
	hdr := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     testBase,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     1,
		Shentsize: 40,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	ph := elf.Prog32{
		Type:   uint32(elf.PT_LOAD),
		Off:    ehsize + phentsize,
		Vaddr:  testBase,
		Paddr:  testBase,
		Filesz: uint32(len(code)),
		Memsz:  uint32(len(code)),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Align:  4,
	}
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, hdr))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, ph))
	buf.Write(code)

	path := filepath.Join(t.TempDir(), "guest.elf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

type testReport struct {
	Exit        string `json:"exit"`
	TotalCycles uint64 `json:"total_cycles"`
	Segments    []struct {
		Index           int    `json:"index"`
		Exit            string `json:"exit"`
		Cycles          uint64 `json:"cycles"`
		Instructions    uint64 `json:"instructions"`
		PreImageID      string `json:"pre_image_id"`
		PostImageID     string `json:"post_image_id"`
		TraceEvents     int    `json:"trace_events"`
		TraceCommitment string `json:"trace_commitment"`
	} `json:"segments"`
	Metrics struct {
		Counters map[string]uint64 `json:"counters"`
	} `json:"metrics"`
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "zkexec "+version+" (commit "+commit+")\n", out)
}

func TestRun_Halt(t *testing.T) {
	path := writeELF(t, haltProgram())
	code, out, stderr := runCLI(t, "run", "--image-ids", "--trace", path)
	require.Equal(t, 0, code, stderr)

	var rep testReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "Halted(7)", rep.Exit)
	require.Len(t, rep.Segments, 1)

	seg := rep.Segments[0]
	assert.Equal(t, "Halted(7)", seg.Exit)
	assert.Equal(t, uint64(4), seg.Instructions)
	assert.Equal(t, rep.TotalCycles, seg.Cycles)
	assert.True(t, strings.HasPrefix(seg.PreImageID, "0x"))
	assert.Len(t, seg.PostImageID, 66)
	assert.NotEqual(t, seg.PreImageID, seg.PostImageID)
	assert.Greater(t, seg.TraceEvents, 0)
	assert.Len(t, seg.TraceCommitment, 66)
	assert.Equal(t, uint64(4), rep.Metrics.Counters["zkvm.instructions"])

	assert.Contains(t, stderr, "guest loaded")
	assert.Contains(t, stderr, "module=cli")
}

func TestRun_ReportFile(t *testing.T) {
	path := writeELF(t, haltProgram())
	reportPath := filepath.Join(t.TempDir(), "report.json")
	code, out, stderr := runCLI(t, "run", "--report", reportPath, "--log-level", "error", path)
	require.Equal(t, 0, code, stderr)
	assert.Empty(t, out)
	assert.Empty(t, stderr)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var rep testReport
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, "Halted(7)", rep.Exit)
	assert.Empty(t, rep.Segments[0].PreImageID)
}

func TestRun_ConfigFile(t *testing.T) {
	path := writeELF(t, haltProgram())
	cfgPath := filepath.Join(t.TempDir(), "zkexec.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"segment_limit_po2: 99\nlog:\n  level: error\n"), 0o644))

	code, _, stderr := runCLI(t, "run", "--config", cfgPath, path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "segment limit po2 99")

	// The flag wins over the file.
	code, _, stderr = runCLI(t, "run", "--config", cfgPath, "--segment-po2", "14", path)
	assert.Equal(t, 0, code, stderr)
}

func TestRun_SessionLimit(t *testing.T) {
	path := writeELF(t, haltProgram())
	code, out, stderr := runCLI(t, "run", "--session-limit", "1", "--log-level", "error", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "session cycle limit exceeded")

	var rep testReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "SessionLimit", rep.Exit)
}

func TestRun_Errors(t *testing.T) {
	good := writeELF(t, haltProgram())
	notELF := filepath.Join(t.TempDir(), "junk")
	require.NoError(t, os.WriteFile(notELF, []byte("not an elf"), 0o644))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing arg", []string{"run"}, "accepts 1 arg"},
		{"missing file", []string{"run", filepath.Join(t.TempDir(), "nope")}, "no such file"},
		{"not elf", []string{"run", notELF}, "not a 32-bit"},
		{"bad env", []string{"run", "--env", "NOEQUALS", good}, "KEY=VALUE"},
		{"bad log format", []string{"run", "--log-format", "xml", good}, "unknown log format"},
		{"bad log level", []string{"run", "--log-level", "loud", good}, "unknown level"},
		{"bad config", []string{"run", "--config", notELF, good}, "cannot read config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestParseEnvPairs(t *testing.T) {
	m := map[string]string{}
	require.NoError(t, parseEnvPairs([]string{"A=1", "B=x=y", "C="}, m))
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y", "C": ""}, m)
	assert.ErrorIs(t, parseEnvPairs([]string{"=v"}, m), ErrInvalidFlag)
}

func TestFileConfigApply(t *testing.T) {
	po2, limit, yes := uint32(15), uint64(1000), true
	fc := &fileConfig{SegmentLimitPo2: &po2, SessionLimit: &limit, Trace: &yes, Env: map[string]string{"K": "V"}}
	fc.Log.Format = "json"

	cfg := defaultRunConfig()
	fc.apply(&cfg)
	assert.Equal(t, uint32(15), cfg.SegmentLimitPo2)
	assert.Equal(t, uint64(1000), cfg.SessionLimit)
	assert.True(t, cfg.Trace)
	assert.False(t, cfg.ImageIDs)
	assert.Equal(t, "V", cfg.Env["K"])
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}
