// Package logging wires the process-wide structured logger: logiface as the
// facade, izerolog/zerolog as the backend. Every other package logs through
// the *Logger this package constructs rather than the log or fmt packages.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is the facade type every package in this module logs through.
type Logger = logiface.Logger[*izerolog.Event]

// Config controls the backend zerolog writer and the facade's level.
type Config struct {
	// Writer defaults to os.Stderr.
	Writer io.Writer
	// Trace raises the facade's level to LevelTrace, matching
	// LIBDQLITE_TRACE=1 (see internal/config).
	Trace bool
}

// New constructs the process logger. It never fails: an invalid Writer is
// replaced with os.Stderr.
func New(cfg Config) *Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}

	zl := zerolog.New(w).With().Timestamp().Logger()

	level := izerolog.L.LevelInformational()
	if cfg.Trace {
		level = izerolog.L.LevelTrace()
	}

	return izerolog.L.New(
		izerolog.L.WithZerolog(zl),
		izerolog.L.WithLevel(level),
	)
}

// HookTracer records per-call spans for the VFS/replication hand-off hooks
// (Begin/Abort/Frames/Undo/End and propose/apply), active only when tracing
// is enabled — it supplements the ambient logger with the per-hook tracer
// calls the original dqlite hand-off code makes around every hook
// invocation.
type HookTracer struct {
	log     *Logger
	enabled bool
}

// NewHookTracer builds a tracer. When enabled is false, Span is a no-op.
func NewHookTracer(log *Logger, enabled bool) *HookTracer {
	return &HookTracer{log: log, enabled: enabled}
}

// Span logs the start and completion of a named hook invocation, when
// tracing is enabled. The returned func must be called exactly once, with
// the hook's resulting error (nil on success).
func (t *HookTracer) Span(name string, fields ...func(b *logiface.Builder[*izerolog.Event]) *logiface.Builder[*izerolog.Event]) func(err error) {
	if t == nil || !t.enabled || t.log == nil {
		return func(error) {}
	}

	start := time.Now()
	b := t.log.Trace().Str("hook", name)
	for _, f := range fields {
		b = f(b)
	}
	b.Log("hook begin")

	return func(err error) {
		b := t.log.Trace().Str("hook", name).Time("at", time.Now())
		if err != nil {
			b = b.Err(err)
		}
		b.Int("elapsed_us", int(time.Since(start).Microseconds())).Log("hook end")
	}
}
