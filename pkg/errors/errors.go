// Package errors defines the error taxonomy shared by the pool, importer
// and synchronizer. Classified skips (policy, duplicate, conflict) use the
// same codes so reports and returned errors speak one vocabulary.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable identifier for a class of failure.
type ErrorCode string

const (
	ErrUnknown      ErrorCode = "UNKNOWN"
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrConfig       ErrorCode = "CONFIG"
	ErrLocked       ErrorCode = "LOCKED"

	// ErrIO covers unreadable or unwritable paths. It aborts the single
	// affected item, or the whole operation when the pool root itself is
	// unusable.
	ErrIO ErrorCode = "IO"

	ErrPolicyRejected    ErrorCode = "POLICY_REJECTED"
	ErrDuplicateContent  ErrorCode = "DUPLICATE_CONTENT"
	ErrNameCollision     ErrorCode = "NAME_COLLISION"
	ErrConflictUnmanaged ErrorCode = "CONFLICT_UNMANAGED"
	ErrFetchFailed       ErrorCode = "FETCH_FAILED"
)

// Error is a structured error with a code and optional details.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap returns nil when err is nil so callers can wrap unconditionally.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

func Wrapf(err error, code ErrorCode, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsErrorCode reports whether any error in err's chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Code == code {
				return true
			}
			err = e.Wrapped
			continue
		}
		return false
	}
	return false
}

// GetErrorCode returns the outermost code, or ErrUnknown.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnknown
}
