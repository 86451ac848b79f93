package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrSuperseded is the cancellation cause and handle error of a request that
// was replaced by a newer request for the same key.
var ErrSuperseded = errors.New("superseded by a newer request")

// RuntimeError reports caller misuse detected by the engine.
//
// Misuse includes:
//   - an operation kind missing from the catalog
//   - a malformed intent (empty key, unknown policy, no performer)
//   - dispatching after the engine stopped
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Operation is the affected operation key, if any.
	Operation string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownOperation indicates a kind missing from the catalog.
	ErrCodeUnknownOperation RuntimeErrorCode = "UNKNOWN_OPERATION"

	// ErrCodeInvalidIntent indicates an intent that can never be applied.
	ErrCodeInvalidIntent RuntimeErrorCode = "INVALID_INTENT"

	// ErrCodeStopped indicates the engine no longer accepts intents.
	ErrCodeStopped RuntimeErrorCode = "ENGINE_STOPPED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("%s: %s (op=%s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnknownOperation returns true if err is an unknown-operation error.
// Uses errors.As to handle wrapped errors.
func IsUnknownOperation(err error) bool {
	return hasCode(err, ErrCodeUnknownOperation)
}

// IsInvalidIntent returns true if err is an invalid-intent error.
func IsInvalidIntent(err error) bool {
	return hasCode(err, ErrCodeInvalidIntent)
}

// IsStopped returns true if err reports a stopped engine.
func IsStopped(err error) bool {
	return hasCode(err, ErrCodeStopped)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewUnknownOperationError creates a RuntimeError for a kind missing from the catalog.
func NewUnknownOperationError(kind string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeUnknownOperation,
		Message:   fmt.Sprintf("operation kind %q is not in the catalog", kind),
		Operation: kind,
	}
}

// NewInvalidIntentError creates a RuntimeError for a malformed intent.
func NewInvalidIntentError(format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidIntent,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewStoppedError creates a RuntimeError for a stopped engine.
func NewStoppedError() *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeStopped,
		Message: "engine is stopped",
	}
}

// RemoteError is a failure reported by the remote side. Performers return it
// to control the message recorded on the rejected operation.
type RemoteError struct {
	// Code is an optional machine-readable reason, e.g. "not_found".
	Code string
	// Message is recorded verbatim as the operation error.
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// NormalizeError turns a performer error into the message stored on a
// rejected operation descriptor.
func NormalizeError(err error) string {
	var re *RemoteError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &re):
		return re.Message
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return err.Error()
	}
}
