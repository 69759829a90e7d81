// Package apperror defines the error taxonomy shared by every client-side
// subsystem and the classifier that maps arbitrary failures into it.
//
// Classification is a single ordered chain of typed matchers over a
// normalized raw error (HTTP response, transport failure, or opaque value).
// The resulting *Error carries a stable code, a user-facing message, and a
// retry-eligibility flag consumed by the retry engine and request queue.
package apperror

import (
	"errors"
	"fmt"
)

// Code identifies an error class. Codes are part of the stable contract
// surfaced to callers and recorded in history entries.
type Code string

const (
	CodeInvalidRequest      Code = "INVALID_REQUEST"
	CodeInvalidCredentials  Code = "INVALID_CREDENTIALS"
	CodeTokenExpired        Code = "TOKEN_EXPIRED"
	CodeAccessDenied        Code = "ACCESS_DENIED"
	CodeBucketNotFound      Code = "BUCKET_NOT_FOUND"
	CodeObjectNotFound      Code = "OBJECT_NOT_FOUND"
	CodeNotFound            Code = "NOT_FOUND"
	CodeTimeout             Code = "TIMEOUT"
	CodeAlreadyExists       Code = "ALREADY_EXISTS"
	CodeBucketNotEmpty      Code = "BUCKET_NOT_EMPTY"
	CodePreconditionFailed  Code = "PRECONDITION_FAILED"
	CodeRateLimit           Code = "RATE_LIMIT"
	CodeServerError         Code = "SERVER_ERROR"
	CodeServiceUnavailable  Code = "SERVICE_UNAVAILABLE"
	CodeNetworkError        Code = "NETWORK_ERROR"
	CodeValidationError     Code = "VALIDATION_ERROR"
	CodeOperationCancelled  Code = "OPERATION_CANCELLED"
	CodeUnknown             Code = "UNKNOWN_ERROR"
)

// Error is the classified form of any failure crossing the client core.
// Immutable once constructed.
type Error struct {
	// Code is the classification key.
	Code Code

	// Message is the technical message, kept for logs and debugging.
	Message string

	// UserMessage is the plain-language message shown to the user.
	UserMessage string

	// CanRetry reports whether the error class is transient in principle.
	// ShouldRetry applies the hard deny-list on top of this flag.
	CanRetry bool

	// Action is an optional suggested remediation shown alongside UserMessage.
	Action string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPError is the normalized raw form of an HTTP-level failure. Transport
// clients construct it from a response; the classifier consumes it.
type HTTPError struct {
	// StatusCode is the HTTP status of the failed response.
	StatusCode int

	// UpstreamCode is the provider protocol error code parsed from the
	// response body (e.g. "NoSuchBucket"), if present. It takes precedence
	// over the status mapping.
	UpstreamCode string

	// UpstreamMessage is the provider error message, if present.
	UpstreamMessage string

	// Resource hints which resource kind the request addressed, so 404s
	// classify to the specific not-found code.
	Resource Resource
}

// Resource identifies the resource kind a request addressed.
type Resource string

const (
	ResourceNone   Resource = ""
	ResourceBucket Resource = "bucket"
	ResourceObject Resource = "object"
)

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.UpstreamCode != "" {
		return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.UpstreamCode, e.UpstreamMessage)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// New constructs a classified error directly from a known code, pulling
// user-facing metadata from the catalog.
func New(code Code, message string) *Error {
	m := lookup(code)
	return &Error{
		Code:        code,
		Message:     message,
		UserMessage: m.userMessage,
		CanRetry:    m.canRetry,
		Action:      m.action,
	}
}

// CodeOf returns the classification code of err, classifying it first if
// needed. Returns CodeUnknown for nil-safe convenience on non-nil errors.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Classify(err).Code
}

// IsAuth reports whether err classifies as an authentication failure.
// Auth failures are never retried and trigger session teardown.
func IsAuth(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidCredentials, CodeTokenExpired:
		return true
	}
	return false
}

// IsRateLimit reports whether err classifies as a provider rate limit.
func IsRateLimit(err error) bool {
	return CodeOf(err) == CodeRateLimit
}

// IsNotFound reports whether err classifies as any not-found variant.
func IsNotFound(err error) bool {
	switch CodeOf(err) {
	case CodeNotFound, CodeBucketNotFound, CodeObjectNotFound:
		return true
	}
	return false
}
