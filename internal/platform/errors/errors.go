// Package errors provides coded application errors shared by the repositories,
// the approval engine and the transport adapters.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies an application error independently of the transport.
type Code string

const (
	ErrCodeNotFound             Code = "NOT_FOUND"
	ErrCodeConflict             Code = "CONFLICT"
	ErrCodeInvalidConfiguration Code = "INVALID_CONFIGURATION"
	ErrCodeForbidden            Code = "FORBIDDEN"
	ErrCodeUnauthenticated      Code = "UNAUTHENTICATED"
	ErrCodeInvalidArgument      Code = "INVALID_ARGUMENT"
	ErrCodeInvalidOperation     Code = "INVALID_OPERATION"
	ErrCodeIllegalState         Code = "ILLEGAL_STATE"
	ErrCodeInternal             Code = "INTERNAL"
)

// AppError is an error carrying a Code and an optional wrapped cause.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError with the given code and message.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf is New with a format string.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message. A nil err yields nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource of the given kind.
func NotFound(resource, id string) *AppError {
	return Newf(ErrCodeNotFound, "%s %q not found", resource, id)
}

// Conflict reports an operation that is invalid for the current lifecycle state.
func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

// Forbidden reports a permission denial.
func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

// InvalidInput reports a malformed argument.
func InvalidInput(field, message string) *AppError {
	return Newf(ErrCodeInvalidArgument, "%s: %s", field, message)
}

// InvalidConfiguration reports missing or unusable workflow configuration.
func InvalidConfiguration(message string) *AppError {
	return New(ErrCodeInvalidConfiguration, message)
}

// InvalidOperation reports a well-formed request the state machine cannot honour.
func InvalidOperation(message string) *AppError {
	return New(ErrCodeInvalidOperation, message)
}

// IllegalState reports a broken internal invariant.
func IllegalState(message string) *AppError {
	return New(ErrCodeIllegalState, message)
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// ErrCodeInternal when the chain carries none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Is and As re-export the standard library helpers so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
