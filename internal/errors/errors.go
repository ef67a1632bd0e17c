package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing errors
const (
	ErrConfig = "CONFIG"
	ErrLock   = "LOCK"
	ErrExec   = "EXEC"

	// ErrTransient covers timeouts and non-zero exits from flaky external
	// calls. The command runner retries these up to the attempt limit.
	ErrTransient = "TRANSIENT"
	// ErrPermanent covers malformed input and validation failures. Never retried.
	ErrPermanent = "PERMANENT"
	// ErrSecurity is an untrusted archive rejection. Never retried, always
	// aborts before any write.
	ErrSecurity = "SECURITY"
	// ErrResource covers disk full, permission denied and unwritable paths.
	ErrResource = "RESOURCE"
	// ErrStuck is a service that did not converge within its bounded wait.
	ErrStuck = "STUCK"
	// ErrCancelled means the caller's context ended the operation.
	ErrCancelled = "CANCELLED"
)

// Sentinel causes that callers can match with errors.Is.
var (
	// ErrNotConfirmed is the cause when a destructive operation is invoked
	// without explicit confirmation.
	ErrNotConfirmed = errors.New("operation requires explicit confirmation")

	// ErrUnexpectedContent is the cause when an archive holds no recognized
	// configuration directories and the caller has not overridden the check.
	ErrUnexpectedContent = errors.New("archive has no recognized configuration directories")
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// Rendered as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrExec code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrExec,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// NewNotConfirmed creates the error returned when a destructive operation
// is attempted without confirmed=true.
func NewNotConfirmed(operation string) *Error {
	return &Error{
		Code:       ErrPermanent,
		Message:    fmt.Sprintf("Refusing to %s without confirmation", operation),
		Suggestion: "Re-run with --yes, or confirm the prompt.",
		Cause:      ErrNotConfirmed,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	// First line: failure symbol + main message
	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	// Include cause if present (why it failed)
	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	// Include suggestion if present (how to fix)
	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost structured Error in the chain,
// or "" when err is nil or carries no code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var mErr *Error
	if errors.As(err, &mErr) {
		return mErr.Code
	}
	return ""
}

// Retryable reports whether the error class may be retried.
func Retryable(err error) bool {
	return IsCode(err, ErrTransient)
}

// Is, As and Unwrap re-export the standard library helpers so callers only
// need to import this package.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }
