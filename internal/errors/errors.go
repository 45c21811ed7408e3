package errors

import (
	stderrors "errors"
	"strings"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Internal message (for logs)
	Metadata map[string]string // Additional context, e.g. the failing step
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata creates a domain error carrying metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the code from err. Errors outside the contract are
// classified from their message text.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ClassifyMessage(err.Error())
}

// legacyPatterns maps message fragments produced by older endpoints (MySQL,
// PDO) and by SQLite to typed codes. Order matters: first match wins.
var legacyPatterns = []struct {
	fragment string
	code     Code
}{
	{"Duplicate entry", CodeConstraintDuplicate},
	{"UNIQUE constraint failed", CodeConstraintDuplicate},
	{"Foreign key constraint", CodeConstraintForeignKey},
	{"FOREIGN KEY constraint failed", CodeConstraintForeignKey},
	{"SQLSTATE", CodeInternal},
}

// ClassifyMessage maps an untyped error message to a code. It exists only for
// peers that still answer with bare strings; typed responses never reach it.
func ClassifyMessage(msg string) Code {
	for _, p := range legacyPatterns {
		if strings.Contains(msg, p.fragment) {
			return p.code
		}
	}
	return CodeUnknown
}
