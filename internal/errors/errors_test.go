package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	bterrors "github.com/turkcell/bt-go-lib/internal/errors"
)

func TestConfigErrorMessage(t *testing.T) {
	t.Parallel()

	err := bterrors.ConfigError{
		Field:      "api_url",
		Value:      "ftp://nope",
		Message:    "not an absolute URL",
		Suggestion: "Use an https URL",
	}
	msg := err.Error()
	assert.Contains(t, msg, "api_url")
	assert.Contains(t, msg, "ftp://nope")
	assert.Contains(t, msg, "not an absolute URL")
	assert.Contains(t, msg, "Use an https URL")

	bare := bterrors.ConfigError{Message: "something is off"}
	assert.Equal(t, "configuration error: something is off", bare.Error())
}

func TestAuthErrorWrapsCause(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("401 Unauthorized")
	err := fmt.Errorf("refresh failed: %w", bterrors.AuthError{Mode: "oauth", Err: cause})

	assert.True(t, bterrors.IsAuth(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "oauth")
}

func TestIsAuth(t *testing.T) {
	t.Parallel()

	assert.False(t, bterrors.IsAuth(nil))
	assert.False(t, bterrors.IsAuth(stderrors.New("plain")))
	assert.True(t, bterrors.IsAuth(bterrors.AuthError{Mode: "apikey", Err: stderrors.New("denied")}))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "timeout", err: stderrors.New("dial tcp: i/o timeout"), want: true},
		{name: "connection_refused", err: stderrors.New("connect: connection refused"), want: true},
		{name: "rate_limited", err: stderrors.New("429 Too Many Requests"), want: true},
		{name: "auth_failure", err: stderrors.New("401 unauthorized"), want: false},
		{name: "wrapped", err: fmt.Errorf("request failed: %w", stderrors.New("connection reset by peer")), want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, bterrors.IsRetryable(tt.err))
		})
	}
}
