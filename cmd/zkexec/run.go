package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/zkexec/zkexec/binfmt"
	"github.com/zkexec/zkexec/metrics"
	"github.com/zkexec/zkexec/zkvm"
)

type segmentReport struct {
	Index           int           `json:"index"`
	Exit            zkvm.ExitCode `json:"exit"`
	Cycles          uint64        `json:"cycles"`
	Instructions    uint64        `json:"instructions"`
	PageReads       []uint32      `json:"page_reads"`
	PageWrites      []uint32      `json:"page_writes"`
	PreImageID      hexutil.Bytes `json:"pre_image_id,omitempty"`
	PostImageID     hexutil.Bytes `json:"post_image_id,omitempty"`
	TraceEvents     int           `json:"trace_events,omitempty"`
	TraceCommitment hexutil.Bytes `json:"trace_commitment,omitempty"`
}

type runReport struct {
	Exit        zkvm.ExitCode    `json:"exit"`
	TotalCycles uint64           `json:"total_cycles"`
	Segments    []segmentReport  `json:"segments"`
	Metrics     metrics.Snapshot `json:"metrics"`
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		envPairs   []string
		flags      = defaultRunConfig()
	)
	cmd := &cobra.Command{
		Use:   "run <guest.elf>",
		Short: "Execute a guest ELF and print a segment report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := loadFileConfig(configPath)
			if err != nil {
				return err
			}
			cfg := defaultRunConfig()
			fc.apply(&cfg)
			overrideFromFlags(cmd, &cfg, flags)
			if err := parseEnvPairs(envPairs, cfg.Env); err != nil {
				return err
			}
			return execute(cmd, args[0], cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML config file")
	f.Uint32Var(&flags.SegmentLimitPo2, "segment-po2", flags.SegmentLimitPo2, "log2 of the per-segment cycle limit")
	f.Uint64Var(&flags.SessionLimit, "session-limit", 0, "total cycle limit, 0 for none")
	f.StringArrayVar(&envPairs, "env", nil, "KEY=VALUE served to the guest's getenv (repeatable)")
	f.StringVar(&flags.StdinPath, "stdin", "", "file backing the guest's stdin")
	f.BoolVar(&flags.ImageIDs, "image-ids", false, "compute pre/post image IDs for every segment")
	f.BoolVar(&flags.Trace, "trace", false, "record the execution trace")
	f.StringVar(&flags.ReportPath, "report", "", "write the JSON report to a file instead of stdout")
	f.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "debug, info, warn, error")
	f.StringVar(&flags.LogFormat, "log-format", flags.LogFormat, "text, color, json")
	return cmd
}

// overrideFromFlags copies the flags the user actually set onto cfg.
func overrideFromFlags(cmd *cobra.Command, cfg *runConfig, flags runConfig) {
	f := cmd.Flags()
	if f.Changed("segment-po2") {
		cfg.SegmentLimitPo2 = flags.SegmentLimitPo2
	}
	if f.Changed("session-limit") {
		cfg.SessionLimit = flags.SessionLimit
	}
	if f.Changed("image-ids") {
		cfg.ImageIDs = flags.ImageIDs
	}
	if f.Changed("trace") {
		cfg.Trace = flags.Trace
	}
	if f.Changed("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	if f.Changed("log-format") {
		cfg.LogFormat = flags.LogFormat
	}
	cfg.StdinPath = flags.StdinPath
	cfg.ReportPath = flags.ReportPath
}

func execute(cmd *cobra.Command, elfPath string, cfg runConfig) error {
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	clog := logger.Module("cli")

	data, err := os.ReadFile(elfPath)
	if err != nil {
		return err
	}
	prog, err := binfmt.LoadELF(data, zkvm.SystemRegionStart)
	if err != nil {
		return err
	}
	image, err := zkvm.NewMemoryImageFromWords(prog.Image)
	if err != nil {
		return err
	}
	clog.Info("guest loaded", "path", elfPath, "entry", fmt.Sprintf("0x%08x", prog.Entry), "pages", image.PageCount())

	var stdin io.Reader = cmd.InOrStdin()
	if cfg.StdinPath != "" {
		fh, err := os.Open(cfg.StdinPath)
		if err != nil {
			return err
		}
		defer fh.Close()
		stdin = fh
	}

	reg := metrics.NewRegistry()
	env := zkvm.DefaultExecutorEnv()
	env.SegmentLimitPo2 = cfg.SegmentLimitPo2
	env.SessionLimit = cfg.SessionLimit
	env.ComputeImageIDs = cfg.ImageIDs
	env.Trace = cfg.Trace
	env.Env = cfg.Env
	env.Stdin = stdin
	env.Stdout = cmd.OutOrStdout()
	env.Stderr = cmd.ErrOrStderr()
	env.Logger = logger
	env.Metrics = reg

	x, err := zkvm.NewExecutor(env, image, prog.Entry)
	if err != nil {
		return err
	}
	session, err := x.Run()
	if session == nil {
		return err
	}
	if err != nil {
		clog.Warn("run stopped", "err", err)
	}
	clog.Info("run finished", "exit", session.ExitCode.String(), "segments", len(session.Segments), "cycles", session.TotalCycles)

	if werr := writeReport(cmd, cfg.ReportPath, buildReport(session, reg, cfg)); werr != nil {
		return werr
	}
	return err
}

func buildReport(s *zkvm.Session, reg *metrics.Registry, cfg runConfig) runReport {
	rep := runReport{
		Exit:        s.ExitCode,
		TotalCycles: s.TotalCycles,
		Segments:    make([]segmentReport, 0, len(s.Segments)),
		Metrics:     reg.Snapshot(),
	}
	for _, seg := range s.Segments {
		sr := segmentReport{
			Index:        seg.Index,
			Exit:         seg.ExitCode,
			Cycles:       seg.Cycles,
			Instructions: seg.Instructions,
			PageReads:    seg.Faults.Reads,
			PageWrites:   seg.Faults.Writes,
		}
		if cfg.ImageIDs {
			sr.PreImageID = seg.PreImageID[:]
			sr.PostImageID = seg.PostImageID[:]
		}
		if cfg.Trace {
			c := zkvm.TraceCollector{Events: seg.Trace}
			root := c.Commitment()
			sr.TraceEvents = len(seg.Trace)
			sr.TraceCommitment = root[:]
		}
		rep.Segments = append(rep.Segments, sr)
	}
	return rep
}

func writeReport(cmd *cobra.Command, path string, rep runReport) error {
	out, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')
	if path == "" {
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
