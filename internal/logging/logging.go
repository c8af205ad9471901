// Package logging builds the slog handler used by tag-sync. Records are
// written by a zap core so output is structured JSON on stderr by default.
package logging

import (
	"io"
	"log/slog"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// Option configures the handler
type Option func(*options)

type options struct {
	level   slog.Level
	output  io.Writer
	console bool
}

// WithLevel sets the minimum level that is written
func WithLevel(level slog.Level) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithOutput sets the destination of log records. Defaults to os.Stderr.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.output = w
	}
}

// WithConsoleFormat switches from JSON to zap's human readable console encoding
func WithConsoleFormat(console bool) Option {
	return func(o *options) {
		o.console = console
	}
}

// NewHandler returns an slog.Handler backed by a zap core
func NewHandler(opts ...Option) slog.Handler {
	o := &options{
		level:  slog.LevelInfo,
		output: os.Stderr,
	}
	for _, opt := range opts {
		opt(o)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.MessageKey = "msg"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if o.console {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.Lock(zapcore.AddSync(o.output)),
		zap.NewAtomicLevelAt(toZapLevel(o.level)),
	)

	return zapslog.NewHandler(core, zapslog.WithCaller(false))
}

// ParseLevel maps a level name to an slog.Level. Unknown names report false.
func ParseLevel(name string) (slog.Level, bool) {
	switch name {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func toZapLevel(level slog.Level) zapcore.Level {
	switch {
	case level >= slog.LevelError:
		return zapcore.ErrorLevel
	case level >= slog.LevelWarn:
		return zapcore.WarnLevel
	case level >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
