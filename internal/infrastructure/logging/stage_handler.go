package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

// stageKey is the attribute that names the pipeline stage. The handler
// lifts it into a bracket prefix instead of printing it as key=value.
const stageKey = "stage"

// StageHandler is a slog.Handler for interactive runs. Output is one line
// per record:
//
//	[INFO] [enrich] [14:02:55] starting enrichment run transactions=42
//
// Colors are applied only when writing to a terminal.
type StageHandler struct {
	mu    *sync.Mutex
	out   io.Writer
	level slog.Leveler
	color bool

	stage string
	attrs []slog.Attr
}

// NewStageHandler creates a handler writing to w. A nil opts selects
// LevelInfo.
func NewStageHandler(w io.Writer, opts *slog.HandlerOptions) *StageHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &StageHandler{
		mu:    &sync.Mutex{},
		out:   w,
		level: level,
		color: writerIsTerminal(w),
	}
}

func writerIsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (h *StageHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *StageHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	h.writeColored(&b, levelColor(r.Level), "["+levelLabel(r.Level)+"]")
	if h.stage != "" {
		b.WriteString(" [" + h.stage + "]")
	}
	if !r.Time.IsZero() {
		h.writeColored(&b, ansiGray, " ["+r.Time.Format(time.TimeOnly)+"]")
	}
	b.WriteString(" " + r.Message)

	for _, a := range h.attrs {
		h.writeAttr(&b, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, a)
		return true
	})
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *StageHandler) writeColored(b *strings.Builder, color, s string) {
	if h.color {
		b.WriteString(color)
		b.WriteString(s)
		b.WriteString(ansiReset)
		return
	}
	b.WriteString(s)
}

func (h *StageHandler) writeAttr(b *strings.Builder, a slog.Attr) {
	if a.Key == stageKey || a.Equal(slog.Attr{}) {
		return
	}
	val := fmt.Sprint(a.Value.Any())
	if strings.ContainsAny(val, " \t") {
		val = fmt.Sprintf("%q", val)
	}
	b.WriteString(" " + a.Key + "=" + val)
}

// WithAttrs lifts a "stage" attribute into the bracket prefix and carries
// everything else as key=value pairs.
func (h *StageHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	for _, a := range attrs {
		if a.Key == stageKey {
			clone.stage = a.Value.String()
			continue
		}
		clone.attrs = append(clone.attrs, a)
	}
	return clone
}

// WithGroup is accepted but flattened; grouped output adds nothing to a
// single-line console format.
func (h *StageHandler) WithGroup(string) slog.Handler {
	return h.clone()
}

func (h *StageHandler) clone() *StageHandler {
	return &StageHandler{
		mu:    h.mu,
		out:   h.out,
		level: h.level,
		color: h.color,
		stage: h.stage,
		attrs: append([]slog.Attr(nil), h.attrs...),
	}
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed
	case level >= slog.LevelWarn:
		return ansiYellow
	case level >= slog.LevelInfo:
		return ansiCyan
	default:
		return ansiGray
	}
}
