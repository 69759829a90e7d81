package apperror

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/aws/smithy-go"
)

// matcher attempts to classify err. Returns false when it does not apply.
type matcher func(err error) (*Error, bool)

// chain is the ordered classification pipeline. First match wins.
var chain = []matcher{
	matchClassified,
	matchHTTP,
	matchSmithy,
	matchContext,
	matchTransport,
	matchMessage,
}

// Classify maps any failure to its *Error form.
//
// The input may be an HTTP-level failure (*HTTPError), an SDK protocol error,
// a transport error, or an arbitrary error value. Already-classified errors
// pass through unchanged so classification is idempotent across layers.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	for _, m := range chain {
		if appErr, ok := m(err); ok {
			return appErr
		}
	}
	return newError(CodeUnknown, err.Error(), err)
}

func newError(code Code, message string, cause error) *Error {
	m := lookup(code)
	return &Error{
		Code:        code,
		Message:     message,
		UserMessage: m.userMessage,
		CanRetry:    m.canRetry,
		Action:      m.action,
		Cause:       cause,
	}
}

func matchClassified(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// matchHTTP classifies normalized HTTP failures. The upstream protocol code
// from the body takes precedence over the status mapping.
func matchHTTP(err error) (*Error, bool) {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return nil, false
	}

	if code, ok := upstreamCodes[httpErr.UpstreamCode]; ok {
		msg := httpErr.UpstreamMessage
		if msg == "" {
			msg = httpErr.UpstreamCode
		}
		return newError(code, msg, httpErr), true
	}

	return newError(statusCode(httpErr), httpErr.Error(), httpErr), true
}

func statusCode(httpErr *HTTPError) Code {
	switch httpErr.StatusCode {
	case 400:
		return CodeInvalidRequest
	case 401:
		// An expired session token and bad static keys surface identically
		// at the transport level; the upstream code disambiguates when set.
		return CodeInvalidCredentials
	case 403:
		return CodeAccessDenied
	case 404:
		switch httpErr.Resource {
		case ResourceBucket:
			return CodeBucketNotFound
		case ResourceObject:
			return CodeObjectNotFound
		}
		return CodeNotFound
	case 408:
		return CodeTimeout
	case 409:
		return CodeAlreadyExists
	case 412:
		return CodePreconditionFailed
	case 429:
		return CodeRateLimit
	case 503:
		return CodeServiceUnavailable
	}
	if httpErr.StatusCode >= 500 {
		return CodeServerError
	}
	return CodeUnknown
}

// matchSmithy classifies AWS SDK protocol errors by their error code.
func matchSmithy(err error) (*Error, bool) {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return nil, false
	}
	if code, ok := upstreamCodes[apiErr.ErrorCode()]; ok {
		return newError(code, apiErr.ErrorMessage(), err), true
	}
	return newError(CodeUnknown, apiErr.ErrorMessage(), err), true
}

func matchContext(err error) (*Error, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newError(CodeTimeout, err.Error(), err), true
	case errors.Is(err, context.Canceled):
		return newError(CodeOperationCancelled, err.Error(), err), true
	}
	return nil, false
}

func matchTransport(err error) (*Error, bool) {
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return newError(CodeTimeout, err.Error(), err), true
		}
		return newError(CodeNetworkError, err.Error(), err), true
	}
	return nil, false
}

// matchMessage is the last-resort substring inspection for errors that carry
// no structure at all.
func matchMessage(err error) (*Error, bool) {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "network error"), strings.Contains(lower, "fetch"),
		strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"):
		return newError(CodeNetworkError, msg, err), true
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return newError(CodeTimeout, msg, err), true
	case strings.Contains(lower, "too many requests"), strings.Contains(lower, "rate limit"):
		return newError(CodeRateLimit, msg, err), true
	}
	return nil, false
}
