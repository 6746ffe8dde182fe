package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zkexec/zkexec/log"
	"github.com/zkexec/zkexec/zkvm"
)

// Configuration errors.
var (
	ErrConfigFile       = errors.New("cannot read config file")
	ErrInvalidFlag      = errors.New("invalid flag value")
	ErrUnknownLogFormat = errors.New("unknown log format")
)

// fileConfig is the YAML config file layout. Pointer fields distinguish
// "unset" from a zero value.
type fileConfig struct {
	SegmentLimitPo2 *uint32           `yaml:"segment_limit_po2"`
	SessionLimit    *uint64           `yaml:"session_limit"`
	ImageIDs        *bool             `yaml:"image_ids"`
	Trace           *bool             `yaml:"trace"`
	Env             map[string]string `yaml:"env"`
	Log             struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// runConfig is the resolved configuration of one `run` invocation.
type runConfig struct {
	SegmentLimitPo2 uint32
	SessionLimit    uint64
	ImageIDs        bool
	Trace           bool
	Env             map[string]string
	LogLevel        string
	LogFormat       string
	StdinPath       string
	ReportPath      string
}

func defaultRunConfig() runConfig {
	return runConfig{
		SegmentLimitPo2: zkvm.DefaultSegmentLimitPo2,
		Env:             map[string]string{},
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// loadFileConfig reads path into a fileConfig. An empty path yields an
// empty config.
func loadFileConfig(path string) (*fileConfig, error) {
	fc := &fileConfig{}
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigFile, err)
	}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigFile, path, err)
	}
	return fc, nil
}

// apply copies every value set in the file onto cfg.
func (fc *fileConfig) apply(cfg *runConfig) {
	if fc.SegmentLimitPo2 != nil {
		cfg.SegmentLimitPo2 = *fc.SegmentLimitPo2
	}
	if fc.SessionLimit != nil {
		cfg.SessionLimit = *fc.SessionLimit
	}
	if fc.ImageIDs != nil {
		cfg.ImageIDs = *fc.ImageIDs
	}
	if fc.Trace != nil {
		cfg.Trace = *fc.Trace
	}
	for k, v := range fc.Env {
		cfg.Env[k] = v
	}
	if fc.Log.Level != "" {
		cfg.LogLevel = fc.Log.Level
	}
	if fc.Log.Format != "" {
		cfg.LogFormat = fc.Log.Format
	}
}

// parseEnvPairs splits KEY=VALUE flags into m.
func parseEnvPairs(pairs []string, m map[string]string) error {
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return fmt.Errorf("%w: --env %q, want KEY=VALUE", ErrInvalidFlag, p)
		}
		m[k] = v
	}
	return nil
}

// newLogger builds the CLI logger writing to w.
func newLogger(cfg runConfig, w io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	switch cfg.LogFormat {
	case "text":
		return log.NewFormatted(w, level, &log.TextFormatter{}), nil
	case "color":
		return log.NewFormatted(w, level, &log.ColorFormatter{}), nil
	case "json":
		return log.NewWithHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLogFormat, cfg.LogFormat)
	}
}
