package beyondtrust

import (
	"errors"
	"fmt"
)

// APIError wraps a Password Safe API failure with the operation that
// produced it.
type APIError struct {
	Op         string // "signappin", "list-accounts", "list-safe", "request", "list-requests", "credential", "checkin"
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("password safe %s error (status %d): %s", e.Op, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("password safe %s error: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("password safe %s error: %s", e.Op, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ErrRequestConflict signals a 409 on request creation: another checkout
// request is already open for the same managed account.
var ErrRequestConflict = errors.New("credential request already open for this account")
