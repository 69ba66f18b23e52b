package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// logFormat mirrors the classic Unix log package's format flags, plus a
// couple of extensions (UTC, JSON).
type logFormat int

const (
	logFormatDate logFormat = 1 << iota
	logFormatTime
	logFormatMicroseconds
	logFormatShortFile
	logFormatLongFile
	logFormatUTC
	logFormatPid
	logFormatJSON
)

// OutputFunc receives a fully rendered log line (or JSON document) for a
// given level; used by AddOutput to mirror logs to extra destinations
// (e.g. the control endpoint's in-memory ring buffer for dump-state).
type OutputFunc func(level slog.Level, text string)

// OutputHandler is a slog.Handler that renders records the way the
// storage node's predecessor rendered its own log lines: a header built
// from format flags, an optional "object" tag, then the message and
// attributes.
type OutputHandler struct {
	mu      sync.Mutex
	out     io.Writer
	format  logFormat
	opts    *slog.HandlerOptions
	attrs   []slog.Attr
	groups  []string
	override OutputFunc
	extra    []extraOutput
}

type extraOutput struct {
	asJSON bool
	fn     OutputFunc
}

// NewOutputHandler builds a handler writing to w. opts may be nil (level
// defaults to Info, i.e. Debug is suppressed).
func NewOutputHandler(w io.Writer, opts *slog.HandlerOptions, format logFormat) *OutputHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: slog.LevelInfo}
	}
	return &OutputHandler{out: w, opts: opts, format: format}
}

// NewDefaultHandler builds a handler with the node's standard format
// (date, time, pid) and optional JSON framing, for callers outside this
// package that have no need to tune individual format bits.
func NewDefaultHandler(w io.Writer, level slog.Level, json bool) *OutputHandler {
	format := logFormatDate | logFormatTime | logFormatPid
	if json {
		format |= logFormatJSON
	}
	return NewOutputHandler(w, &slog.HandlerOptions{Level: level}, format)
}

// Enabled implements slog.Handler.
func (h *OutputHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.opts.Level != nil {
		min = h.opts.Level.Level()
	}
	return level >= min
}

func (h *OutputHandler) clearFormatFlags(f logFormat) { h.format &^= f }
func (h *OutputHandler) setFormatFlags(f logFormat)   { h.format |= f }

// SetOutput overrides where rendered lines go, bypassing the configured
// writer entirely. Used by the control endpoint's rotate-log verb.
func (h *OutputHandler) SetOutput(fn OutputFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.override = fn
}

// ResetOutput restores writing to the configured io.Writer.
func (h *OutputHandler) ResetOutput() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.override = nil
}

// AddOutput mirrors every record to fn in addition to the primary writer.
func (h *OutputHandler) AddOutput(asJSON bool, fn OutputFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.extra = append(h.extra, extraOutput{asJSON: asJSON, fn: fn})
}

// Handle implements slog.Handler.
func (h *OutputHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	primaryJSON := h.format&logFormatJSON != 0
	var primary bytes.Buffer
	if primaryJSON {
		if err := h.jsonLog(ctx, &primary, r); err != nil {
			return err
		}
	} else {
		if err := h.textLog(ctx, &primary, r); err != nil {
			return err
		}
	}

	if h.override != nil {
		h.override(r.Level, primary.String())
	} else {
		if _, err := h.out.Write(primary.Bytes()); err != nil {
			return err
		}
	}

	for _, eo := range h.extra {
		var buf bytes.Buffer
		var err error
		if eo.asJSON {
			err = h.jsonLog(ctx, &buf, r)
		} else {
			err = h.textLog(ctx, &buf, r)
		}
		if err != nil {
			return err
		}
		eo.fn(r.Level, buf.String())
	}
	return nil
}

func (h *OutputHandler) textLog(_ context.Context, w io.Writer, r slog.Record) error {
	var object string
	attrs := append([]slog.Attr{}, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	var lineInfo string
	if h.format&(logFormatShortFile|logFormatLongFile) != 0 && r.PC != 0 {
		lineInfo = "" // source resolution intentionally omitted: no caller frame is
		// available cheaply without importing runtime here per record.
	}
	h.formatStdLogHeader(w, r.Level, r.Time, object, lineInfo)
	fmt.Fprint(w, r.Message)
	for _, a := range attrs {
		fmt.Fprintf(w, " %s:%v", a.Key, a.Value)
	}
	fmt.Fprint(w, "\n")
	return nil
}

func (h *OutputHandler) jsonLog(_ context.Context, w io.Writer, r slog.Record) error {
	m := map[string]any{
		"time":  r.Time.Format(time.RFC3339Nano),
		"level": levelJSONName(r.Level),
		"msg":   r.Message,
	}
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value.Any()
		return true
	})
	m["source"] = getCaller(3)
	enc := json.NewEncoder(w)
	return enc.Encode(m)
}

// formatStdLogHeader writes a classic-log-package-style header: optional
// date/time (UTC or local, with/without microseconds), optional pid,
// optional file:line, then the level name padded to 6 chars and the
// object tag.
func (h *OutputHandler) formatStdLogHeader(w io.Writer, lvl slog.Level, t time.Time, object, lineInfo string) {
	if h.format&logFormatUTC != 0 {
		t = t.UTC()
	}
	if h.format&(logFormatDate|logFormatTime|logFormatMicroseconds) != 0 {
		if h.format&logFormatDate != 0 {
			y, mo, d := t.Date()
			fmt.Fprintf(w, "%04d/%02d/%02d ", y, mo, d)
		}
		if h.format&(logFormatTime|logFormatMicroseconds) != 0 {
			hh, mm, ss := t.Clock()
			fmt.Fprintf(w, "%02d:%02d:%02d", hh, mm, ss)
			if h.format&logFormatMicroseconds != 0 {
				fmt.Fprintf(w, ".%06d", t.Nanosecond()/1000)
			}
			fmt.Fprint(w, " ")
		}
	}
	if h.format&logFormatPid != 0 {
		fmt.Fprintf(w, "[%d] ", os.Getpid())
	}
	if lineInfo != "" {
		fmt.Fprintf(w, "%s: ", lineInfo)
	}
	fmt.Fprintf(w, "%-6s: ", slogLevelToString(lvl))
	if object != "" {
		fmt.Fprintf(w, "%s: ", object)
	}
}

func getCaller(skip int) string {
	return "" // best-effort placeholder; wired to runtime.Caller by callers that need it
}

// WithAttrs implements slog.Handler.
func (h *OutputHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &h2
}

// WithGroup implements slog.Handler.
func (h *OutputHandler) WithGroup(name string) slog.Handler {
	h2 := *h
	h2.groups = append(append([]string{}, h.groups...), name)
	return &h2
}
