package canopy

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler discards every record. Enabled reports false so callers skip
// attribute formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr is read from every pipeline goroutine, so it is swapped atomically.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger used by canopy and its sub-packages.
// By default canopy is silent. Pass nil to restore the silent default.
//
// Log levels used by canopy:
//   - [slog.LevelDebug]: per-frame decisions (skip reasons, commit delays)
//   - [slog.LevelInfo]: lifecycle (service start/stop, config reload)
//   - [slog.LevelWarn]: transient failures (no frame buffer, bounded waits timing out)
//   - [slog.LevelError]: escalation reports from the display thread
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger. Safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
