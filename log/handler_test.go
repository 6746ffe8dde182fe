package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestFormatterHandler_Text(t *testing.T) {
	var buf bytes.Buffer
	l := NewFormatted(&buf, slog.LevelInfo, &TextFormatter{})
	l.Module("zkvm").With("segment", 3).Info("segment closed", "cycles", 1024)
	l.Debug("dropped")

	out := buf.String()
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected one line, got %q", out)
	}
	if !strings.HasSuffix(out, "INFO  segment closed module=zkvm segment=3 cycles=1024\n") {
		t.Errorf("unexpected line %q", out)
	}
}

func TestFormatterHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	l := NewFormatted(&buf, slog.LevelDebug, &TextFormatter{})
	l.Module("zkvm").WithGroup("seg").Warn("split", "index", 1, slog.Group("faults", "reads", 7))

	out := buf.String()
	if !strings.Contains(out, "WARN  split module=zkvm seg.index=1 seg.faults.reads=7") {
		t.Errorf("unexpected line %q", out)
	}
}

func TestFormatterHandler_EmptyKeysDropped(t *testing.T) {
	var buf bytes.Buffer
	l := NewFormatted(&buf, slog.LevelDebug, &TextFormatter{})
	l.Info("msg", slog.Attr{}, slog.Group("", "inline", true))

	out := strings.TrimSuffix(buf.String(), "\n")
	if !strings.HasSuffix(out, "msg inline=true") {
		t.Errorf("unexpected line %q", out)
	}
}

func TestFormatterHandler_Color(t *testing.T) {
	var buf bytes.Buffer
	l := NewFormatted(&buf, slog.LevelDebug, &ColorFormatter{})
	l.Error("boom")
	if !strings.Contains(buf.String(), ansiRed) {
		t.Errorf("expected red escape in %q", buf.String())
	}
}

func TestFormatterHandler_ChildrenDoNotShareFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewFormatted(&buf, slog.LevelInfo, &TextFormatter{}).Module("zkvm")
	a := base.With("a", 1)
	b := base.With("b", 2)
	a.Info("one")
	b.Info("two")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasSuffix(lines[0], "one module=zkvm a=1") || !strings.HasSuffix(lines[1], "two module=zkvm b=2") {
		t.Errorf("lines = %q", lines)
	}
}
