package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rileyhilliard/meshctl/internal/errors"
)

// FileConfig describes the rotating log file.
type FileConfig struct {
	Path     string
	Fallback string // empty uses DefaultFallbackPath
	MaxSize  int64
	Keep     int
	Level    string // debug, info, warn, error
}

// FileLogger writes one line per record to a size-rotated file.
// Lines look like:
//
//	2025-01-02T15:04:05.000Z	INFO	service	rnsd converged to running
type FileLogger struct {
	writer *RotatingFile
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	sec    *zap.SugaredLogger
}

// NewFileLogger builds a FileLogger. It never fails because of the file
// itself: an unwritable path degrades to the fallback, then to dropping.
func NewFileLogger(cfg FileConfig) (*FileLogger, error) {
	if cfg.Path == "" {
		return nil, errors.New(errors.ErrConfig,
			"No log file path configured",
			"Set log.path in your meshctl config.")
	}

	opts := []RotateOption{WithMaxSize(cfg.MaxSize)}
	if cfg.Keep > 0 {
		opts = append(opts, WithKeep(cfg.Keep))
	}
	if cfg.Fallback != "" {
		opts = append(opts, WithFallback(cfg.Fallback))
	}
	w := NewRotatingFile(cfg.Path, opts...)

	level := ParseLevel(cfg.Level)
	if os.Getenv(DebugEnv) != "" {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(EncoderConfig()),
		zapcore.Lock(w),
		zap.NewAtomicLevelAt(level),
	)
	base := zap.New(core, zap.ErrorOutput(zapcore.AddSync(io.Discard)))

	return &FileLogger{
		writer: w,
		base:   base,
		sugar:  base.Sugar(),
		sec:    base.Named("security").Sugar(),
	}, nil
}

// EncoderConfig is the line format shared by all file records.
func EncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "T"
	cfg.LevelKey = "L"
	cfg.NameKey = "N"
	cfg.CallerKey = ""
	cfg.StacktraceKey = ""
	cfg.MessageKey = "M"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// ParseLevel maps a config string to a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *FileLogger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *FileLogger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *FileLogger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *FileLogger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

func (l *FileLogger) Security(format string, args ...interface{}) {
	l.sec.Warnf(format, args...)
}

// Named returns a logger whose records carry the given component name.
func (l *FileLogger) Named(name string) Logger {
	n := l.base.Named(name)
	return &FileLogger{
		writer: l.writer,
		base:   n,
		sugar:  n.Sugar(),
		sec:    n.Named("security").Sugar(),
	}
}

// Path returns the file records are currently written to.
func (l *FileLogger) Path() string { return l.writer.Path() }

// Degraded reports whether records are being dropped.
func (l *FileLogger) Degraded() bool { return l.writer.Degraded() }

// Close flushes and closes the underlying file.
func (l *FileLogger) Close() error {
	_ = l.base.Sync()
	return l.writer.Close()
}
