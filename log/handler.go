package log

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// FormatterHandler is a slog.Handler that renders each record through a
// Formatter, one line per record.
type FormatterHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	f      Formatter
	fields []Field
	prefix string
}

// NewFormatterHandler writes records at or above level to w using f.
func NewFormatterHandler(w io.Writer, level slog.Leveler, f Formatter) *FormatterHandler {
	return &FormatterHandler{mu: new(sync.Mutex), w: w, level: level, f: f}
}

// NewFormatted returns a Logger backed by a FormatterHandler.
func NewFormatted(w io.Writer, level slog.Level, f Formatter) *Logger {
	return NewWithHandler(NewFormatterHandler(w, level, f))
}

func (h *FormatterHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *FormatterHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make([]Field, len(h.fields), len(h.fields)+r.NumAttrs())
	copy(fields, h.fields)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendAttr(fields, h.prefix, a)
		return true
	})
	line := h.f.Format(Entry{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Fields:  fields,
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line+"\n")
	return err
}

func (h *FormatterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.fields = make([]Field, len(h.fields), len(h.fields)+len(attrs))
	copy(c.fields, h.fields)
	for _, a := range attrs {
		c.fields = appendAttr(c.fields, h.prefix, a)
	}
	return &c
}

func (h *FormatterHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

// appendAttr flattens groups into dotted keys and drops empty attributes.
func appendAttr(fields []Field, prefix string, a slog.Attr) []Field {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, ga := range v.Group() {
			fields = appendAttr(fields, p, ga)
		}
		return fields
	}
	if a.Key == "" {
		return fields
	}
	return append(fields, Field{Key: prefix + a.Key, Value: v.Any()})
}
