// Package observability defines the logging and metrics primitives shared
// across twapd components. Components log through the process-global Logger
// and count through the process-global Metrics; both default to noops so
// library code never checks for nil.
package observability

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

var (
	loggerMu      sync.RWMutex
	defaultLogger Logger = noopLogger{}
)

// SetLogger overrides the global logger used by the engine.
func SetLogger(logger Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// WriterLogger renders structured records as key=value lines through a
// standard library logger. It is the implementation cmd/twapd installs.
type WriterLogger struct {
	out   *log.Logger
	debug bool
}

// NewWriterLogger constructs a WriterLogger writing to w. Debug records are
// dropped unless debug is true.
func NewWriterLogger(w io.Writer, debug bool) *WriterLogger {
	return &WriterLogger{
		out:   log.New(w, "twapd ", log.LstdFlags|log.Lmicroseconds),
		debug: debug,
	}
}

// Debug logs a debug-level record when debug output is enabled.
func (l *WriterLogger) Debug(msg string, fields ...Field) {
	if !l.debug {
		return
	}
	l.print("DEBUG", msg, fields)
}

// Info logs an info-level record.
func (l *WriterLogger) Info(msg string, fields ...Field) { l.print("INFO", msg, fields) }

// Error logs an error-level record.
func (l *WriterLogger) Error(msg string, fields ...Field) { l.print("ERROR", msg, fields) }

func (l *WriterLogger) print(level, msg string, fields []Field) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	l.out.Print(b.String())
}
