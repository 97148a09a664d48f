// Package errors provides custom error types with stable error codes for the hub.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Code represents an application error code.
type Code string

// Error codes for the application. These are the stable tags carried on the
// wire next to the human-readable summary.
const (
	CodeInvalidRegistration Code = "INVALID_REGISTRATION"
	CodeReservedName        Code = "RESERVED_NAME"
	CodeNoRoute             Code = "NO_ROUTE"
	CodeUpstreamTimeout     Code = "UPSTREAM_TIMEOUT"
	CodeUpstreamUnreachable Code = "UPSTREAM_UNREACHABLE"
	CodeUpstreamMalformed   Code = "UPSTREAM_MALFORMED"
	CodeInternal            Code = "INTERNAL"
)

// Error is the application's custom error type with code and details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"error"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"` // Underlying error, not serialized
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if the target error has the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetails returns a copy of the error with the details field set.
func (e *Error) WithDetails(details string) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Err:     e.Err,
	}
}

// Wrap returns a copy of the error wrapping an underlying error.
func (e *Error) Wrap(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Err:     err,
	}
}

// New creates a new Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Common error constructors

// InvalidRegistration creates a registration validation error. The details
// name the first offending field.
func InvalidRegistration(field string) *Error {
	return New(CodeInvalidRegistration, "Invalid registration").WithDetails(field)
}

// ReservedName creates a reserved service name error.
func ReservedName(name string) *Error {
	return New(CodeReservedName, "Reserved service name").WithDetails(name)
}

// NoRoute creates a route resolution error.
func NoRoute(details string) *Error {
	return New(CodeNoRoute, "No route").WithDetails(details)
}

// UpstreamTimeout creates an upstream timeout error.
func UpstreamTimeout(details string) *Error {
	return New(CodeUpstreamTimeout, "Upstream timeout").WithDetails(details)
}

// UpstreamUnreachable creates an upstream transport failure error.
func UpstreamUnreachable(cause string) *Error {
	return New(CodeUpstreamUnreachable, "Internal service error").WithDetails(cause)
}

// UpstreamMalformed creates an unparseable upstream response error.
func UpstreamMalformed(cause string) *Error {
	return New(CodeUpstreamMalformed, "Malformed upstream response").WithDetails(cause)
}

// Internal creates an internal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// InternalWrap creates an internal error wrapping another error.
func InternalWrap(message string, err error) *Error {
	return Internal(message).Wrap(err)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *Error) HTTPStatusCode() int {
	switch e.Code {
	case CodeInvalidRegistration, CodeReservedName:
		return http.StatusBadRequest
	case CodeNoRoute:
		return http.StatusNotFound
	case CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case CodeUpstreamUnreachable, CodeUpstreamMalformed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteHTTP writes err as the JSON wire shape {"error","code","details"}.
// Non-*Error values are reported as INTERNAL without leaking the message.
func WriteHTTP(w http.ResponseWriter, err error) {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = Internal("Internal hub error").Wrap(err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatusCode())
	json.NewEncoder(w).Encode(appErr)
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, or CodeInternal if not found.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
