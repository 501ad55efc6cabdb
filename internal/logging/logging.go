// Package logging wires the process-wide slog sink: a tinted console handler
// for interactive runs and an optional rotating JSON file sink.
package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nextlevelbuilder/fable/internal/config"
)

// Setup installs the default slog logger per config and returns a closer for
// the file sink (nil-safe).
func Setup(cfg config.LoggingConfig) func() {
	level := parseLevel(cfg.Level)

	console := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		TimeFormat: time.Kitchen,
	})

	var closer func()
	handler := slog.Handler(console)

	if cfg.ToFile {
		dir := cfg.FileDir
		if dir == "" {
			dir = "logs"
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(dir, "fable.log"),
			MaxSize:    20, // MiB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		fileHandler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level})
		handler = fanout{console, fileHandler}
		closer = func() { rotator.Close() }
	}

	slog.SetDefault(slog.New(handler))
	if closer == nil {
		closer = func() {}
	}
	return closer
}

// parseLevel maps the configured level onto slog. "trace" has no slog
// equivalent and maps to debug; "fatal" maps to error.
func parseLevel(s string) slog.Level {
	switch s {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanout duplicates records to every wrapped handler.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, rec slog.Record) error {
	var firstErr error
	for _, h := range f {
		if !h.Enabled(ctx, rec.Level) {
			continue
		}
		if err := h.Handle(ctx, rec.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (f fanout) WithGroup(name string) slog.Handler {
	next := make(fanout, len(f))
	for i, h := range f {
		next[i] = h.WithGroup(name)
	}
	return next
}
