package fn

import (
	"context"
	"errors"
	"strings"
)

// CriticalError is an error type that should be used for errors that are
// critical and should cause the application to exit.
type CriticalError struct {
	Err error
}

// NewCriticalError creates a new CriticalError instance.
func NewCriticalError(err error) *CriticalError {
	return &CriticalError{Err: err}
}

// Error implements the error interface.
func (e *CriticalError) Error() string {
	return e.Err.Error()
}

// Unwrap implements the errors.Wrapper interface.
func (e *CriticalError) Unwrap() error {
	return e.Err
}

// ErrorAs behaves the same as `errors.As` except there's no need to declare
// the target error as a variable first.
func ErrorAs[Target error](err error) bool {
	var targetErr Target

	return errors.As(err, &targetErr)
}

// IsCanceled returns true if the error is a context cancellation, including
// one relayed by lnd as an RPC status.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return true
	}

	return strings.Contains(err.Error(), context.Canceled.Error())
}
