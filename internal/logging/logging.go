// Package logging wires slog to the console and to a per-day append-only log
// file under the daemon's logs/ directory.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Options configures Setup.
type Options struct {
	Level   slog.Level
	JSON    bool
	Console io.Writer
	// LogDir enables the daily file sink when non-empty.
	LogDir string
}

// Setup builds a logger writing to the console and, when LogDir is set, to
// daemon-<date>.log. The returned closer releases the file sink. If the file
// sink cannot be opened the console logger is still returned together with
// the error so the caller can report it.
func Setup(opts Options) (*slog.Logger, io.Closer, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	handlers := []slog.Handler{newHandler(console, opts.JSON, handlerOpts)}

	var closer io.Closer = nopCloser{}
	var setupErr error
	if opts.LogDir != "" {
		w, err := NewDailyFileWriter(opts.LogDir)
		if err != nil {
			setupErr = err
		} else {
			handlers = append(handlers, newHandler(w, opts.JSON, handlerOpts))
			closer = w
		}
	}
	return slog.New(NewFanoutHandler(handlers...)), closer, setupErr
}

func newHandler(w io.Writer, json bool, opts *slog.HandlerOptions) slog.Handler {
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// FanoutHandler dispatches every record to each wrapped handler.
type FanoutHandler struct {
	handlers []slog.Handler
}

// NewFanoutHandler returns a handler forwarding to all of hs.
func NewFanoutHandler(hs ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{handlers: hs}
}

func (f *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &FanoutHandler{handlers: next}
}

func (f *FanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &FanoutHandler{handlers: next}
}

// DailyFileWriter appends to <dir>/daemon-<YYYY-MM-DD>.log and switches to a
// new file when the calendar day changes.
type DailyFileWriter struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
}

// NewDailyFileWriter creates dir if needed and returns a writer for it.
func NewDailyFileWriter(dir string) (*DailyFileWriter, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &DailyFileWriter{dir: dir, now: time.Now}, nil
}

// FileNameFor returns the log file name used for t.
func FileNameFor(t time.Time) string {
	return "daemon-" + t.Format(time.DateOnly) + ".log"
}

// Write implements io.Writer.
func (w *DailyFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := w.now().Format(time.DateOnly)
	if w.file == nil || day != w.day {
		if w.file != nil {
			_ = w.file.Close()
			w.file = nil
		}
		path := filepath.Join(w.dir, "daemon-"+day+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- path built from daemon data dir
		if err != nil {
			return 0, err
		}
		w.file = f
		w.day = day
	}
	return w.file.Write(p)
}

// Close releases the current file.
func (w *DailyFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
