// Package logger provides a simple logging interface for meshctl components.
// It allows packages to log debug, info, warn, error and security messages
// without being coupled to a specific logging implementation.
package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// DebugEnv enables debug output on the environment logger when set.
const DebugEnv = "MESHCTL_DEBUG"

// Logger defines the interface for logging operations.
// All methods accept a format string and arguments, similar to fmt.Printf.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	// Security records events such as a rejected archive. Implementations
	// must keep them distinguishable from ordinary warnings.
	Security(format string, args ...interface{})
}

// envLogger implements Logger and logs to stderr through the standard log package.
// Debug messages are only printed when MESHCTL_DEBUG is set.
type envLogger struct {
	prefix string
}

// NewEnvLogger creates a logger that respects the MESHCTL_DEBUG environment variable.
// The prefix is prepended to all log messages (e.g., "[backup]").
func NewEnvLogger(prefix string) Logger {
	return &envLogger{prefix: prefix}
}

func (l *envLogger) Debug(format string, args ...interface{}) {
	if os.Getenv(DebugEnv) != "" {
		log.Printf(l.prefix+" "+format, args...)
	}
}

func (l *envLogger) Info(format string, args ...interface{}) {
	log.Printf(l.prefix+" "+format, args...)
}

func (l *envLogger) Warn(format string, args ...interface{}) {
	log.Printf(l.prefix+" WARN: "+format, args...)
}

func (l *envLogger) Error(format string, args ...interface{}) {
	log.Printf(l.prefix+" ERROR: "+format, args...)
}

func (l *envLogger) Security(format string, args ...interface{}) {
	log.Printf(l.prefix+" SECURITY: "+format, args...)
}

// noopLogger implements Logger but discards all messages.
type noopLogger struct{}

// Noop returns a logger that discards all messages.
func Noop() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Debug(format string, args ...interface{})    {}
func (l *noopLogger) Info(format string, args ...interface{})     {}
func (l *noopLogger) Warn(format string, args ...interface{})     {}
func (l *noopLogger) Error(format string, args ...interface{})    {}
func (l *noopLogger) Security(format string, args ...interface{}) {}

// LogMessage represents a captured log message.
type LogMessage struct {
	Level   string
	Message string
}

// BufferLogger captures log messages for testing.
type BufferLogger struct {
	mu       sync.Mutex
	Messages []LogMessage
}

// NewBufferLogger creates a logger that captures messages for inspection.
func NewBufferLogger() *BufferLogger {
	return &BufferLogger{
		Messages: make([]LogMessage, 0),
	}
}

func (l *BufferLogger) add(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Messages = append(l.Messages, LogMessage{Level: level, Message: fmt.Sprintf(format, args...)})
}

func (l *BufferLogger) Debug(format string, args ...interface{}) { l.add("debug", format, args...) }
func (l *BufferLogger) Info(format string, args ...interface{})  { l.add("info", format, args...) }
func (l *BufferLogger) Warn(format string, args ...interface{})  { l.add("warn", format, args...) }
func (l *BufferLogger) Error(format string, args ...interface{}) { l.add("error", format, args...) }

func (l *BufferLogger) Security(format string, args ...interface{}) {
	l.add("security", format, args...)
}

// HasLevel returns true if any message was logged at the given level.
func (l *BufferLogger) HasLevel(level string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.Messages {
		if m.Level == level {
			return true
		}
	}
	return false
}

// Count returns how many messages were logged at the given level.
func (l *BufferLogger) Count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.Messages {
		if m.Level == level {
			n++
		}
	}
	return n
}

// Clear removes all captured messages.
func (l *BufferLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Messages = l.Messages[:0]
}

var (
	defaultMu     sync.Mutex
	defaultLogger = NewEnvLogger("")
	activeFile    *FileLogger
)

// Default returns the process-wide logger. Before Init it is an
// environment logger writing to stderr.
func Default() Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultLogger
}

// SetDefault sets the default logger for the package.
func SetDefault(l Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Init opens the rotating file logger described by cfg and installs it as
// the process-wide default. A previous file logger is closed first.
func Init(cfg FileConfig) (*FileLogger, error) {
	fl, err := NewFileLogger(cfg)
	if err != nil {
		return nil, err
	}

	defaultMu.Lock()
	prev := activeFile
	activeFile = fl
	defaultLogger = fl
	defaultMu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return fl, nil
}

// Reset closes the active file logger, if any, and restores the
// environment logger as the default. Call on exit.
func Reset() {
	defaultMu.Lock()
	prev := activeFile
	activeFile = nil
	defaultLogger = NewEnvLogger("")
	defaultMu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
}
