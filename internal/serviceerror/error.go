// Package serviceerror carries storage and dependency failures out of the
// domain services with a stable code while keeping the cause reachable.
package serviceerror

import (
	"errors"
	"fmt"
)

// Error wraps a failure with an "<operation>.<reason>" code.
type Error struct {
	code string
	err  error
}

// New builds an Error for the given operation and reason.
func New(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &Error{code: code, err: cause}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the operation scoped error code.
func (e *Error) Code() string {
	return e.code
}

// CodeOf returns the code of the first Error in err's chain, if any.
func CodeOf(err error) (string, bool) {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr.Code(), true
	}
	return "", false
}
