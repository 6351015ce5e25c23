package tools

import (
	"errors"
	"fmt"
)

// Kind classifies a tool failure. Kinds are stable, machine-readable strings
// surfaced verbatim in the RPC error data, so callers can branch on them.
type Kind string

const (
	KindUnknownTool          Kind = "UnknownTool"
	KindInvalidArguments     Kind = "InvalidArguments"
	KindNamespaceSetupFailed Kind = "NamespaceSetupFailed"
	KindBinaryNotFound       Kind = "BinaryNotFound"
	KindPermissionDenied     Kind = "PermissionDenied"
	KindSpawnFailed          Kind = "SpawnFailed"
	KindExecutionTimeout     Kind = "ExecutionTimeout"
	KindIOFailure            Kind = "IOFailure"
	KindInternalError        Kind = "InternalError"
)

// Error is a classified tool failure. Every error that leaves a tool handler
// is one of these; anything else is wrapped as InternalError at the dispatch
// boundary.
type Error struct {
	Kind    Kind
	Field   string // offending argument, set for InvalidArguments
	Message string
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error.
func WrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ArgumentError builds an InvalidArguments error naming the offending field.
func ArgumentError(field, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArguments, Field: field, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the classification from err, or InternalError when err is
// not a classified tool error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternalError
}

// FieldOf extracts the offending argument name from err, or "".
func FieldOf(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Field
	}
	return ""
}
