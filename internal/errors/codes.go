// Package errors provides the typed error contract shared by the write
// endpoints, the HTTP gateway and the creation workflow.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	// Client-side errors. These never reach the network.
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeDuplicateName    Code = "DUPLICATE_NAME"

	// Request errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeInvalidJSON     Code = "INVALID_JSON"
	CodeMissingActor    Code = "MISSING_ACTOR"
	CodeNotFound        Code = "NOT_FOUND"

	// Persistence errors
	CodeConstraintDuplicate  Code = "CONSTRAINT_DUPLICATE"
	CodeConstraintForeignKey Code = "CONSTRAINT_FOREIGN_KEY"
	CodePartialPersistence   Code = "PARTIAL_PERSISTENCE"

	// Transport errors
	CodeTransport Code = "TRANSPORT"
	CodeInternal  Code = "INTERNAL"
)

// HTTPStatus maps a code to the status the write endpoints answer with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidationFailed, CodeInvalidArgument, CodeInvalidJSON, CodeMissingActor:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeDuplicateName, CodeConstraintDuplicate:
		return http.StatusConflict
	case CodeConstraintForeignKey:
		return http.StatusUnprocessableEntity
	case CodeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ClientSide reports whether errors with this code are resolved before any
// network call is made.
func (c Code) ClientSide() bool {
	return c == CodeValidationFailed || c == CodeDuplicateName
}
