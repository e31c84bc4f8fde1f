package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a specific failure condition in warden.
type ErrorCode int

const (
	ErrCodeUnknown       ErrorCode = 1000
	ErrCodeConfigInvalid ErrorCode = 1001

	// Environment probing
	ErrCodeUnclassifiableEnv ErrorCode = 2001

	// Launch
	ErrCodeNoViableCandidate ErrorCode = 3001
	ErrCodeSpawnFailure      ErrorCode = 3002
	ErrCodeShutdownEscalated ErrorCode = 3003

	// Health probing
	ErrCodeProbeTimeout ErrorCode = 4001
	ErrCodeProbeNetwork ErrorCode = 4002

	// Bridge
	ErrCodeBridgeBind ErrorCode = 5001
)

// WardenError is a structured error carrying a code, the operation being
// performed, and the underlying cause.
type WardenError struct {
	// Code is the specific error code.
	Code ErrorCode
	// Msg is a human-readable description of the error.
	Msg string
	// Operation describes the action being performed when the error occurred.
	Operation string
	// Err is the underlying error that caused this error, if any.
	Err error
}

// Error returns a formatted string representation of the error.
func (e *WardenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %s (cause: %v)", e.Code, e.Operation, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Operation, e.Msg)
}

// Unwrap returns the underlying error.
func (e *WardenError) Unwrap() error {
	return e.Err
}

// New creates a new WardenError with the specified code, operation, message,
// and underlying error.
func New(code ErrorCode, op, msg string, err error) error {
	return &WardenError{
		Code:      code,
		Msg:       msg,
		Operation: op,
		Err:       err,
	}
}

// CodeOf extracts the ErrorCode from err, or ErrCodeUnknown if err is not a
// WardenError.
func CodeOf(err error) ErrorCode {
	var we *WardenError
	if stderrors.As(err, &we) {
		return we.Code
	}
	return ErrCodeUnknown
}
