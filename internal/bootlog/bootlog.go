// Package bootlog writes the per-package boot log, an append-only text file
// in the root directory that records every bootstrap stage.
package bootlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/slimrmm/siterestore/internal/archive"
)

// TimeLayout is the timestamp format of every line.
const TimeLayout = "2006-01-02 15:04:05"

// Config holds boot log configuration.
type Config struct {
	Dir           string
	SecondaryHash string
	// MaxFileSize rotates the file once exceeded. Zero disables rotation.
	MaxFileSize int64
}

// Logger appends redacted lines to the boot log.
type Logger struct {
	mu          sync.Mutex
	file        *os.File
	path        string
	maxFileSize int64
	redactor    *Redactor
	now         func() time.Time
}

// Open opens (or creates) the boot log for cfg.SecondaryHash in cfg.Dir.
func Open(cfg Config) (*Logger, error) {
	if cfg.SecondaryHash == "" {
		return nil, fmt.Errorf("boot log needs a secondary hash")
	}
	path := filepath.Join(cfg.Dir, archive.BootLogName(cfg.SecondaryHash))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening boot log: %w", err)
	}
	return &Logger{
		file:        file,
		path:        path,
		maxFileSize: cfg.MaxFileSize,
		redactor:    &Redactor{},
		now:         time.Now,
	}, nil
}

// Discard returns a logger that writes nowhere.
func Discard() *Logger {
	return &Logger{redactor: &Redactor{}, now: time.Now}
}

// Path returns the boot log path, empty for a discarding logger.
func (l *Logger) Path() string {
	return l.path
}

// AddSecret registers a value that must never appear in the log.
func (l *Logger) AddSecret(secret string) {
	l.redactor.Add(secret)
}

// Redact masks registered secrets in s.
func (l *Logger) Redact(s string) string {
	return l.redactor.RedactString(s)
}

// Printf appends one formatted line.
func (l *Logger) Printf(format string, args ...any) {
	l.write(l.now(), fmt.Sprintf(format, args...))
}

func (l *Logger) write(t time.Time, msg string) {
	line := "[" + t.Format(TimeLayout) + "] " + l.redactor.RedactString(msg) + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	l.file.WriteString(line)
	l.maybeRotate()
}

// maybeRotate checks if the log file needs rotation.
func (l *Logger) maybeRotate() {
	if l.file == nil || l.maxFileSize == 0 {
		return
	}

	info, err := l.file.Stat()
	if err != nil || info.Size() < l.maxFileSize {
		return
	}

	l.file.Close()
	os.Rename(l.path, fmt.Sprintf("%s.%d", l.path, l.now().Unix()))

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		l.file = nil
		return
	}
	l.file = file
}

// Close closes the boot log.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Slog returns a structured logger that writes to the boot log and mirrors
// every record, redacted, to next.
func (l *Logger) Slog(next slog.Handler) *slog.Logger {
	return slog.New(&Handler{log: l, next: next})
}

// Handler is a slog.Handler backed by the boot log.
type Handler struct {
	log   *Logger
	next  slog.Handler
	attrs []slog.Attr
	group string
}

// Enabled implements slog.Handler. Debug records only reach the mirror.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= slog.LevelInfo {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	line := msg
	for _, a := range h.attrs {
		line += " " + h.formatAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		line += " " + h.formatAttr(h.qualify(a))
		return true
	})

	if r.Level >= slog.LevelInfo {
		t := r.Time
		if t.IsZero() {
			t = h.log.now()
		}
		h.log.write(t, line)
	}

	if h.next == nil || !h.next.Enabled(ctx, r.Level) {
		return nil
	}
	mirror := slog.NewRecord(r.Time, r.Level, h.log.Redact(msg), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		mirror.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, mirror)
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	redacted := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, h.qualify(a))
		redacted = append(redacted, h.redactAttr(a))
	}
	if h.next != nil {
		clone.next = h.next.WithAttrs(redacted)
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.group != "" {
		clone.group += "."
	}
	clone.group += name
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}

func (h *Handler) qualify(a slog.Attr) slog.Attr {
	if h.group != "" {
		a.Key = h.group + "." + a.Key
	}
	return a
}

func (h *Handler) redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		group := v.Group()
		out := make([]any, 0, len(group))
		for _, ga := range group {
			out = append(out, h.redactAttr(ga))
		}
		return slog.Group(a.Key, out...)
	}
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, Mask)
	}
	return slog.String(a.Key, h.log.Redact(v.String()))
}

func (h *Handler) formatAttr(a slog.Attr) string {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		s := ""
		for i, ga := range v.Group() {
			if i > 0 {
				s += " "
			}
			ga.Key = a.Key + "." + ga.Key
			s += h.formatAttr(ga)
		}
		return s
	}
	if isSensitiveKey(a.Key) {
		return a.Key + "=" + Mask
	}
	return fmt.Sprintf("%s=%q", a.Key, h.log.Redact(v.String()))
}
