package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Logger writes operational messages to stderr. Secret values must never
// be passed as plain strings; wrap them in Secret first.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	debug   bool
	noColor bool
}

// New creates a logger. Debug messages are suppressed unless debug is set.
func New(debug, noColor bool) *Logger {
	return &Logger{out: os.Stderr, debug: debug, noColor: noColor}
}

// NewWithWriter creates a logger writing to out, for tests.
func NewWithWriter(out io.Writer, debug bool) *Logger {
	return &Logger{out: out, debug: debug, noColor: true}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{out: io.Discard, noColor: true}
}

func (l *Logger) log(color, mark, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.noColor {
		fmt.Fprintf(l.out, "%s [bt] %s\n", mark, msg)
	} else {
		fmt.Fprintf(l.out, "\033[%sm%s\033[0m [bt] %s\n", color, mark, msg)
	}
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log("32", "✓", format, args...)
}

// Warn logs a degraded-but-continuing condition.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log("33", "⚠", format, args...)
}

// Error logs a failure.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log("31", "✗", format, args...)
}

// Debug logs a diagnostic message when debug mode is enabled.
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.log("36", "[DEBUG]", format, args...)
}

// Secret is a string that always formats as [REDACTED]. Credential
// values travel through log call sites as Secret, never as string.
type Secret string

func (s Secret) String() string { return "[REDACTED]" }

// GoString keeps %#v output redacted as well.
func (s Secret) GoString() string { return "[REDACTED]" }

// Redact masks occurrences of known secret values in s.
func Redact(s string, secrets []string) string {
	for _, secret := range secrets {
		if len(secret) > 3 {
			s = strings.ReplaceAll(s, secret, "[REDACTED]")
		}
	}
	return s
}
