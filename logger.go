package mapres

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

// liveEngines receives logger updates; engines add themselves in New and
// remove themselves in Close.
var liveEngines sync.Map // map[*Engine]struct{}

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// SetLogger configures the logger for mapres and its backends.
// By default, mapres produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by mapres:
//   - [slog.LevelDebug]: per-resource lifecycle (requests, uploads, unloads)
//   - [slog.LevelInfo]: binding changes and engine lifecycle
//   - [slog.LevelWarn]: provider and upload failures
//   - [slog.LevelError]: violated invariants (GPU handles leaked at removal)
//
// Example:
//
//	mapres.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	liveEngines.Range(func(key, _ any) bool {
		propagateLogger(key.(*Engine).uploader, l)
		return true
	})
}

// Logger returns the current logger used by mapres.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by uploaders that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the logger to an uploader if it implements
// the loggerSetter interface. Called from both SetLogger and New so the
// uploader always has the current logger.
func propagateLogger(u any, l *slog.Logger) {
	if ls, ok := u.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}
