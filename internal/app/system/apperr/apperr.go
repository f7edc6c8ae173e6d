// Package apperr defines the error taxonomy shared by the verification and
// gamification engine and the HTTP layer above it.
//
// Engine operations return *Error values. Callers branch on the Kind with
// errors.Is(err, apperr.NotFound) and read the Code for the specific
// condition (e.g. "AlreadyClaimed").
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is a broad error class.
type Kind string

const (
	NotFound            Kind = "not_found"
	InvalidState        Kind = "invalid_state"
	AlreadyExists       Kind = "already_exists"
	Validation          Kind = "validation"
	PermissionDenied    Kind = "permission_denied"
	ExternalUnavailable Kind = "external_unavailable"
)

// Error implements error so a bare Kind can be used as an errors.Is target.
func (k Kind) Error() string { return string(k) }

// Codes for specific conditions.
const (
	CodeInvalidDelta          = "InvalidDelta"
	CodeUnknownUser           = "UnknownUser"
	CodeUserNotFound          = "UserNotFound"
	CodeEventNotFound         = "EventNotFound"
	CodeTaskNotFound          = "TaskNotFound"
	CodeTransactionNotFound   = "TransactionNotFound"
	CodeScanSessionNotFound   = "ScanSessionNotFound"
	CodeGeofenceNotConfigured = "GeofenceNotConfigured"
	CodeLocationUnavailable   = "LocationUnavailable"
	CodeInvalidCoordinates    = "InvalidCoordinates"
	CodeAlreadyClaimed        = "AlreadyClaimed"
	CodeAlreadyExists         = "AlreadyExists"
	CodeNotAssigned           = "NotAssigned"
	CodeInvalidState          = "InvalidState"
	CodeAlreadyVerified       = "AlreadyVerified"
	CodeAlreadyReversed       = "AlreadyReversed"
	CodeDeadlinePassed        = "DeadlinePassed"
	CodeScanExpired           = "ScanExpired"
	CodeScanRateLimited       = "ScanRateLimited"
	CodeInvalidTierCatalog    = "InvalidTierCatalog"
	CodePermissionDenied      = "PermissionDenied"
	CodeValidation            = "ValidationError"
	CodeUnavailable           = "ExternalUnavailable"
)

// Error is an engine error with a kind, a stable code, and an optional cause.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare Kind or another *Error with the same code.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return t.Code != "" && e.Code == t.Code
	}
	return false
}

// New builds an error of the given kind and code.
func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrap builds an error that carries a cause.
func Wrap(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
}

// Invalid is shorthand for a validation error.
func Invalid(code, msg string) *Error { return New(Validation, code, msg) }

// Denied is shorthand for a permission error.
func Denied(msg string) *Error { return New(PermissionDenied, CodePermissionDenied, msg) }

// Unavailable wraps a data-store or collaborator failure. Deadline and
// cancellation errors are kept as the cause so callers can still detect them.
func Unavailable(msg string, err error) *Error {
	return Wrap(ExternalUnavailable, CodeUnavailable, msg, err)
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code of err, or "" when err is not an *Error.
func CodeOf(err error) string {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	}
	if e.Code == CodeScanRateLimited {
		return http.StatusTooManyRequests
	}
	switch e.Kind {
	case NotFound:
		return http.StatusNotFound
	case InvalidState, AlreadyExists:
		return http.StatusConflict
	case Validation:
		return http.StatusUnprocessableEntity
	case PermissionDenied:
		return http.StatusForbidden
	case ExternalUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
