// Package errors defines the error taxonomy of the engine: configuration
// errors that keep the engine idle, authentication failures that abort a
// refresh run, and helpers to classify transport errors.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError reports missing or invalid configuration. The engine never
// starts while the configuration is invalid; the error is logged once.
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message
	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}
	return msg
}

// AuthError reports a rejected credential or a failed token exchange.
// It aborts the current refresh run; the previous snapshot is retained.
type AuthError struct {
	Mode string // "apikey" or "oauth"
	Err  error
}

func (e AuthError) Error() string {
	return fmt.Sprintf("authentication failed (%s): %v", e.Mode, e.Err)
}

func (e AuthError) Unwrap() error { return e.Err }

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var ae AuthError
	return errors.As(err, &ae)
}

// IsRetryable reports whether err looks like a transient transport
// condition worth another attempt on the next cycle.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"too many requests",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
