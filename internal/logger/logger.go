package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/celltools/unetpx/internal/env"
	"github.com/celltools/unetpx/internal/xfs"
)

type options struct {
	logToFile bool
	logFile   string
	level     slog.Level
}

// Option customizes the logger.
type Option func(*options)

// WithLogToFile enables mirroring log output to a rotated file.
func WithLogToFile(v bool) Option {
	return func(o *options) { o.logToFile = v }
}

// WithLogFile sets the log file path.
func WithLogFile(path string) Option {
	return func(o *options) { o.logFile = path }
}

// WithLevel sets the minimum level by name (debug, info, warn, error).
func WithLevel(name string) Option {
	return func(o *options) { o.level = parseLevel(name) }
}

func parseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the process logger: a tinted console handler in development, a
// JSON handler in production, optionally mirrored to a size-rotated file.
func New(environment env.Environment, opts ...Option) *slog.Logger {
	o := options{
		logFile: "logs/unetpx.log",
		level:   slog.LevelInfo,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var w io.Writer = os.Stderr
	if o.logToFile {
		if err := xfs.EnsureDir(filepath.Dir(o.logFile)); err == nil {
			w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
				Filename:   o.logFile,
				MaxSize:    50, // MB
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			})
		}
	}

	if environment == env.Production {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: o.level}))
	}

	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      o.level,
		TimeFormat: time.Kitchen,
	}))
}
