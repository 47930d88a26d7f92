// Package klog provides the kernel's structured diagnostic logging. It plays
// the role gopher-os's kernel/kfmt/early package plays for early boot output,
// but is backed by log/slog so that every subsystem (PMM, VMM, scheduler,
// AMC, ADI) can attach structured fields to a record instead of formatting a
// single string.
package klog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	handler = newSerialHandler(os.Stderr)
	logger  = slog.New(handler)
)

// SetOutput redirects kernel log output, e.g. to the simulated serial port
// opened by cmd/axlesim during boot (spec §4.9 step 1).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	handler = newSerialHandler(w)
	logger = slog.New(handler)
}

// Default returns the current kernel logger.
func Default() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// Module returns a logger scoped to a kernel module name, mirroring the
// Module field on a *kernel.Error.
func Module(name string) *slog.Logger {
	return Default().With(slog.String("module", name))
}

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }

// serialHandler formats records the way a serial diagnostic line prints:
// terse, single-line, timestamp elided (boot_info carries no wall clock).
//
// (Loosely modeled on smoynes-elsie/internal/log's formatted slog.Handler.)
type serialHandler struct {
	out   io.Writer
	mut   *sync.Mutex
	opts  slog.HandlerOptions
	attrs []slog.Attr
}

func newSerialHandler(out io.Writer) *serialHandler {
	return &serialHandler{out: out, mut: new(sync.Mutex), opts: slog.HandlerOptions{Level: slog.LevelDebug}}
}

func (h *serialHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *serialHandler) Handle(_ context.Context, rec slog.Record) error {
	h.mut.Lock()
	defer h.mut.Unlock()

	if _, err := io.WriteString(h.out, "["+rec.Level.String()+"] "+rec.Message); err != nil {
		return err
	}

	for _, a := range h.attrs {
		io.WriteString(h.out, " "+a.Key+"="+a.Value.String())
	}

	rec.Attrs(func(a slog.Attr) bool {
		io.WriteString(h.out, " "+a.Key+"="+a.Value.String())
		return true
	})

	_, err := io.WriteString(h.out, "\n")
	return err
}

func (h *serialHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &serialHandler{out: h.out, mut: h.mut, opts: h.opts, attrs: merged}
}

func (h *serialHandler) WithGroup(name string) slog.Handler { return h }
