// Package errors provides the error taxonomy shared by the geofence engine and service.
package errors

import (
	"errors"
	"fmt"
	"strconv"
)

// Generic error codes.
const (
	CodeInternal    = "INTERNAL_ERROR"
	CodeNotFound    = "NOT_FOUND"
	CodeBadRequest  = "BAD_REQUEST"
	CodeConflict    = "CONFLICT"
	CodeValidation  = "VALIDATION_ERROR"
	CodeTimeout     = "TIMEOUT"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeRateLimited = "RATE_LIMITED"
)

// Geometry validation codes. Each one is a terminal validation outcome.
const (
	CodeMalformedGeometry    = "MALFORMED_GEOMETRY"
	CodeInsufficientVertices = "INSUFFICIENT_VERTICES"
	CodeInvalidCoordinate    = "INVALID_COORDINATE"
	CodeSelfIntersection     = "SELF_INTERSECTION"
	CodeCorpusOverlap        = "CORPUS_OVERLAP"
)

// DetailRetryAfter is the details key holding a retry hint in seconds. The
// HTTP edge copies it into a Retry-After header.
const DetailRetryAfter = "retry_after_seconds"

// AppError represents an application error with code and message.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches another error.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// WithDetail sets a single detail key.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Wrap wraps an error with an AppError.
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Internal creates an internal server error.
func Internal(message string) *AppError {
	return New(CodeInternal, message)
}

// InternalWrap wraps an error as an internal error.
func InternalWrap(err error, message string) *AppError {
	return Wrap(err, CodeInternal, message)
}

// NotFound creates a not found error.
func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// BadRequest creates a bad request error.
func BadRequest(message string) *AppError {
	return New(CodeBadRequest, message)
}

// Validation creates a validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message)
}

// ValidationWithDetails creates a validation error with field details.
func ValidationWithDetails(message string, details map[string]string) *AppError {
	return New(CodeValidation, message).WithDetails(details)
}

// Conflict creates a conflict error.
func Conflict(message string) *AppError {
	return New(CodeConflict, message)
}

// Timeout creates a timeout error.
func Timeout(message string) *AppError {
	return New(CodeTimeout, message)
}

// Unavailable creates a service unavailable error.
func Unavailable(message string) *AppError {
	return New(CodeUnavailable, message)
}

// RateLimited creates a rate limit error.
func RateLimited(message string) *AppError {
	return New(CodeRateLimited, message)
}

// MalformedGeometry reports geometry text the codec could not parse.
func MalformedGeometry(message string, err error) *AppError {
	return Wrap(err, CodeMalformedGeometry, message)
}

// InsufficientVertices reports a ring with fewer than three distinct points.
func InsufficientVertices(distinct int) *AppError {
	return New(CodeInsufficientVertices, "polygon needs at least 3 distinct coordinates").
		WithDetail("distinct", strconv.Itoa(distinct))
}

// InvalidCoordinate reports a non-finite or out-of-range coordinate at index.
func InvalidCoordinate(index int, field, message string) *AppError {
	return New(CodeInvalidCoordinate, message).
		WithDetail("index", strconv.Itoa(index)).
		WithDetail("field", field)
}

// SelfIntersection reports a ring whose edges cross.
func SelfIntersection(kinks int) *AppError {
	return New(CodeSelfIntersection, "polygon boundary intersects itself").
		WithDetail("kinks", strconv.Itoa(kinks))
}

// CorpusOverlap reports a polygon overlapping accepted polygons.
func CorpusOverlap(conflicts int) *AppError {
	return New(CodeCorpusOverlap, "polygon overlaps existing polygons").
		WithDetail("conflicts", strconv.Itoa(conflicts))
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return Code(err) == CodeNotFound
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return Code(err) == CodeValidation
}

// IsGeometry reports whether err is one of the geometry validation outcomes.
func IsGeometry(err error) bool {
	switch Code(err) {
	case CodeMalformedGeometry, CodeInsufficientVertices, CodeInvalidCoordinate,
		CodeSelfIntersection, CodeCorpusOverlap:
		return true
	}
	return false
}

// Code returns the error code or empty string.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
