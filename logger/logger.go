// Package logger builds the slog loggers used across the client.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// LevelFatal sits above Error; it's used for invariant violations right
// before the client halts.
const LevelFatal slog.Level = 12

// Config selects the level and output format.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text (coloured), json, plain
}

// ParseLevel maps a level name to a slog.Level, defaulting to Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fatal":
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a logger writing to w in the configured format.
func NewLogger(cfg Config, w io.Writer) *slog.Logger {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceFatal}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts))
	case "plain":
		return slog.New(NewHandler(w, level, false))
	default:
		return slog.New(NewHandler(w, level, true))
	}
}

// replaceFatal makes the builtin handlers print FATAL instead of ERROR+4.
func replaceFatal(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelFatal {
			a.Value = slog.StringValue("FATAL")
		}
	}
	return a
}

// Handler renders "time | LEVEL | message key=value ..." lines, optionally
// coloured by level.
type Handler struct {
	mu      *sync.Mutex
	w       io.Writer
	level   slog.Leveler
	colored bool
	attrs   []slog.Attr
	group   string
}

// NewHandler creates a line handler. Colour is off when colored is false
// or when fatih/color has detected a non-terminal.
func NewHandler(w io.Writer, level slog.Leveler, colored bool) *Handler {
	return &Handler{
		mu:      &sync.Mutex{},
		w:       w,
		level:   level,
		colored: colored,
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	b.WriteString(h.paint(color.FgGreen, r.Time.Format("2006-01-02T15:04:05")))
	b.WriteString(" | ")
	b.WriteString(fmt.Sprintf("%-5s", h.levelName(r.Level)))
	b.WriteString(" | ")
	b.WriteString(h.paint(color.FgCyan, r.Message))

	for _, a := range h.attrs {
		h.writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		nh.attrs = append(nh.attrs, a)
	}
	return &nh
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	if h.group != "" {
		nh.group = h.group + "." + name
	} else {
		nh.group = name
	}
	return &nh
}

func (h *Handler) writeAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.writeAttr(b, key, ga)
		}
		return
	}
	b.WriteString(h.paint(color.FgCyan, fmt.Sprintf(" %s=%v", key, a.Value.Any())))
}

func (h *Handler) levelName(level slog.Level) string {
	switch {
	case level >= LevelFatal:
		return h.paint(color.FgHiRed, "FATAL")
	case level >= slog.LevelError:
		return h.paint(color.FgRed, level.String())
	case level >= slog.LevelWarn:
		return h.paint(color.FgYellow, level.String())
	case level >= slog.LevelInfo:
		return h.paint(color.FgBlue, level.String())
	default:
		return h.paint(color.FgMagenta, level.String())
	}
}

func (h *Handler) paint(attr color.Attribute, s string) string {
	if !h.colored {
		return s
	}
	return color.New(attr).Sprint(s)
}

// Fatal logs msg at LevelFatal. It does not exit; the caller decides how to halt.
func Fatal(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), LevelFatal, msg, args...)
}
