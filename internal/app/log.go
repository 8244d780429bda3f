package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"ib-go/internal/ib"
)

// LogFileName is the name of the log file inside the configured log directory.
const LogFileName = "ib.log"

// ibHandler is a slog.Handler that writes one tab-separated line per record:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
//
// Group names prefix the keys of attrs added after them, joined with dots.
type ibHandler struct {
	w      io.Writer
	level  slog.Leveler
	opID   string
	prefix string
	attrs  []string
}

func (h *ibHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelDebug
	if h.level != nil {
		minLevel = h.level.Level()
	}
	return level >= minLevel
}

func (h *ibHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%s\t%s\t%s",
		r.Time.UTC().Format("2006-01-02T15:04:05Z"), r.Level, h.opID, r.Message)

	for _, a := range h.attrs {
		b.WriteString("\t")
		b.WriteString(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		b.WriteString("\t")
		b.WriteString(formatAttr(h.prefix, a))
		return true
	})
	b.WriteString("\n")

	// One write per record keeps lines whole when several processes append to the file.
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *ibHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]string, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, formatAttr(h.prefix, a))
	}
	return &clone
}

func (h *ibHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func formatAttr(prefix string, a slog.Attr) string {
	return fmt.Sprintf("%s%s=%v", prefix, a.Key, a.Value.Resolve())
}

// newLogger creates a structured logger that appends to logDir/ib.log. Records at
// warn level and above are also copied to stderr when it is non-nil.
// It returns the slog.Logger and the open log file for cleanup.
func newLogger(logDir, opID string, stderr io.Writer) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(logDir, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	var handler slog.Handler = &ibHandler{w: f, level: slog.LevelDebug, opID: opID}
	if stderr != nil {
		handler = &teeHandler{
			handlers: []slog.Handler{
				handler,
				&ibHandler{w: stderr, level: slog.LevelWarn, opID: opID},
			},
		}
	}
	return slog.New(handler), f, nil
}

// teeHandler sends each record to every handler that accepts its level.
type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}

// slogAdapter wraps *slog.Logger to satisfy the ib.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

var _ ib.Logger = (*slogAdapter)(nil)

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
