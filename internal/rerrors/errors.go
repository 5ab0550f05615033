// Package rerrors defines the registry's typed error taxonomy and its
// mapping to HTTP status codes, grounded on the shape of
// AMTPError in the amtp-protocol-agentry example (Code/Message/Cause,
// an HTTP status lookup, and typed constructors) adapted to the
// schema-registry error kinds.
package rerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the registry's named error categories.
type Kind string

const (
	InvalidSchema             Kind = "INVALID_SCHEMA"
	IncompatibleSchema        Kind = "INCOMPATIBLE_SCHEMA"
	OperationNotPermitted     Kind = "OPERATION_NOT_PERMITTED"
	ReferenceExists           Kind = "REFERENCE_EXISTS"
	SchemaTooLarge            Kind = "SCHEMA_TOO_LARGE"
	SubjectNotSoftDeleted     Kind = "SUBJECT_NOT_SOFT_DELETED"
	SchemaVersionNotSoftDeleted Kind = "SCHEMA_VERSION_NOT_SOFT_DELETED"
	UnknownLeader             Kind = "UNKNOWN_LEADER"
	NotLeader                 Kind = "NOT_LEADER"
	RequestForwarding         Kind = "REQUEST_FORWARDING"
	Timeout                   Kind = "TIMEOUT"
	Store                     Kind = "STORE"
	IdGeneration              Kind = "ID_GENERATION"
	Initialization            Kind = "INITIALIZATION"
	NotFound                  Kind = "NOT_FOUND"
)

// RegistryError is the concrete error type returned by every registry
// operation that can fail in a way callers must distinguish.
type RegistryError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *RegistryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RegistryError) Unwrap() error {
	return e.Cause
}

// New builds a RegistryError with no wrapped cause.
func New(kind Kind, message string) *RegistryError {
	return &RegistryError{Kind: kind, Message: message}
}

// Newf builds a RegistryError with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *RegistryError {
	return &RegistryError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a RegistryError carrying cause.
func Wrap(kind Kind, message string, cause error) *RegistryError {
	return &RegistryError{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *RegistryError of the given kind.
func Is(err error, kind Kind) bool {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

// As extracts a *RegistryError from err, if any.
func As(err error) (*RegistryError, bool) {
	var re *RegistryError
	ok := errors.As(err, &re)
	return re, ok
}

// Retryable reports whether the caller may usefully retry the operation
// that produced this error (per spec §7: NotLeader is retriable; an
// UnknownLeader may also clear once an election completes).
func (e *RegistryError) Retryable() bool {
	switch e.Kind {
	case NotLeader, UnknownLeader, Timeout:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a Kind to the status code the REST layer should
// return, per spec §7's error table.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidSchema, OperationNotPermitted, ReferenceExists, SchemaTooLarge:
		return http.StatusUnprocessableEntity
	case IncompatibleSchema:
		return http.StatusConflict
	case SubjectNotSoftDeleted, SchemaVersionNotSoftDeleted, NotFound:
		return http.StatusNotFound
	case UnknownLeader, RequestForwarding, Timeout, Store, IdGeneration:
		return http.StatusInternalServerError
	case NotLeader:
		return http.StatusServiceUnavailable
	case Initialization:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns a stable numeric code for the kind, mirroring the
// Confluent Schema Registry convention of a namespaced integer
// (422xx-style) alongside the HTTP status, which the REST response body
// carries as "error_code".
func ErrorCode(kind Kind) int {
	status := HTTPStatus(kind)
	switch kind {
	case InvalidSchema:
		return 42201
	case IncompatibleSchema:
		return 409
	case OperationNotPermitted:
		return 42205
	case ReferenceExists:
		return 42206
	case SchemaTooLarge:
		return 42207
	case SubjectNotSoftDeleted:
		return 40404
	case SchemaVersionNotSoftDeleted:
		return 40406
	case NotFound:
		return 40401
	default:
		return status * 100
	}
}
