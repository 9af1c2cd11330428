// Package errors defines the typed error taxonomy of spec §7: Validation,
// Authorization, Conflict, NotFound, Transient, Operational, Fatal.
//
// Grounded on LerianStudio/midaz's common/errors.go family
// (EntityNotFoundError, EntityConflictError, ValidationError,
// UnauthorizedError, ForbiddenError) and its ValidateBusinessError
// dispatcher, collapsed into one taxonomy per spec's "kinds, not types"
// framing.
package errors

import (
	"errors"
	"fmt"
)

// Kind is one of the seven error kinds named in spec.md §7.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindTransient    Kind = "transient"
	KindOperational  Kind = "operational"
	KindFatal        Kind = "fatal"
)

// Error is the single error type the core returns. Every adapter and
// service wraps underlying failures into one of these before returning to
// its caller, so callers can switch on Kind instead of parsing strings.
type Error struct {
	Kind       Kind
	EntityType string
	Code       string
	Message    string
	Details    map[string]any
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on Kind when comparing against a sentinel built
// with New(kind, "", nil).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
	}

	return false
}

func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(entityType, code, message string) *Error {
	return &Error{Kind: KindValidation, EntityType: entityType, Code: code, Message: message}
}

func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message}
}

func Conflict(entityType, code, message string) *Error {
	return &Error{Kind: KindConflict, EntityType: entityType, Code: code, Message: message}
}

func NotFound(entityType, id string) *Error {
	return &Error{
		Kind:       KindNotFound,
		EntityType: entityType,
		Message:    fmt.Sprintf("%s %q not found", entityType, id),
	}
}

func Transient(message string, err error) *Error {
	return &Error{Kind: KindTransient, Message: message, Err: err}
}

func Operational(step, message string, err error) *Error {
	return &Error{
		Kind:    KindOperational,
		Code:    step,
		Message: message,
		Err:     err,
	}
}

func Fatal(message string, err error) *Error {
	return &Error{Kind: KindFatal, Message: message, Err: err}
}

// KindOf extracts the Kind of err, or "" if err is not (or does not wrap) an
// *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

// WithDetails attaches field-level validation details and returns the same
// error for chaining, e.g. return errors.Validation(...).WithDetails(...).
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}
