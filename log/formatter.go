package log

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownLevel is returned by ParseLevel for names it does not know.
var ErrUnknownLevel = errors.New("log: unknown level")

// ParseLevel maps debug, info, warn (or warning) and error, in any case,
// to the matching slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

// Field is one key-value pair of an Entry. Groups are already flattened
// into dotted keys.
type Field struct {
	Key   string
	Value any
}

// Entry is a single record handed to a Formatter. Fields keep the order
// they were attached in: logger context first, then the call's own.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Fields  []Field
}

// Formatter renders an Entry as a single line without the trailing newline.
type Formatter interface {
	Format(e Entry) string
}

const defaultTimeFormat = "15:04:05.000"

// TextFormatter renders entries as
//
//	12:00:00.000 INFO  segment closed module=zkvm index=0 cycles=17955
type TextFormatter struct {
	// TimeFormat defaults to 15:04:05.000.
	TimeFormat string
}

func (f *TextFormatter) Format(e Entry) string {
	return formatLine(e, f.TimeFormat, "")
}

const (
	ansiReset  = "\033[0m"
	ansiGray   = "\033[37m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
)

// ColorFormatter is TextFormatter with the level name colored for a
// terminal.
type ColorFormatter struct {
	TimeFormat string
}

func (f *ColorFormatter) Format(e Entry) string {
	return formatLine(e, f.TimeFormat, levelColor(e.Level))
}

func levelColor(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return ansiGray
	case l < slog.LevelWarn:
		return ansiGreen
	case l < slog.LevelError:
		return ansiYellow
	default:
		return ansiRed
	}
}

func formatLine(e Entry, timeFormat, color string) string {
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}
	var b strings.Builder
	b.WriteString(e.Time.Format(timeFormat))
	b.WriteByte(' ')
	if color != "" {
		b.WriteString(color)
	}
	fmt.Fprintf(&b, "%-5s", e.Level.String())
	if color != "" {
		b.WriteString(ansiReset)
	}
	b.WriteByte(' ')
	b.WriteString(e.Message)
	for _, f := range e.Fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(formatValue(f.Value))
	}
	return b.String()
}

// formatValue quotes values that would otherwise break key=value parsing.
func formatValue(v any) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " =\"\t\n") {
		return strconv.Quote(s)
	}
	return s
}
