package apperror

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		raw      *HTTPError
		want     Code
		canRetry bool
	}{
		{"bad request", &HTTPError{StatusCode: 400}, CodeInvalidRequest, false},
		{"unauthorized", &HTTPError{StatusCode: 401}, CodeInvalidCredentials, false},
		{"forbidden", &HTTPError{StatusCode: 403}, CodeAccessDenied, false},
		{"bucket 404", &HTTPError{StatusCode: 404, Resource: ResourceBucket}, CodeBucketNotFound, false},
		{"object 404", &HTTPError{StatusCode: 404, Resource: ResourceObject}, CodeObjectNotFound, false},
		{"plain 404", &HTTPError{StatusCode: 404}, CodeNotFound, false},
		{"request timeout", &HTTPError{StatusCode: 408}, CodeTimeout, true},
		{"conflict", &HTTPError{StatusCode: 409}, CodeAlreadyExists, false},
		{"precondition", &HTTPError{StatusCode: 412}, CodePreconditionFailed, false},
		{"rate limit", &HTTPError{StatusCode: 429}, CodeRateLimit, true},
		{"unavailable", &HTTPError{StatusCode: 503}, CodeServiceUnavailable, true},
		{"internal", &HTTPError{StatusCode: 500}, CodeServerError, true},
		{"bad gateway", &HTTPError{StatusCode: 502}, CodeServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := Classify(tt.raw)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.want, appErr.Code)
			assert.Equal(t, tt.canRetry, appErr.CanRetry)
			assert.NotEmpty(t, appErr.UserMessage)
		})
	}
}

func TestClassifyUpstreamCodeTakesPrecedence(t *testing.T) {
	// A 403 body carrying InvalidAccessKeyId classifies as a credential
	// failure, not a permission failure.
	raw := &HTTPError{StatusCode: 403, UpstreamCode: "InvalidAccessKeyId", UpstreamMessage: "bad key"}
	appErr := Classify(raw)
	assert.Equal(t, CodeInvalidCredentials, appErr.Code)
	assert.Equal(t, "bad key", appErr.Message)
}

func TestClassifyMessageSubstrings(t *testing.T) {
	assert.Equal(t, CodeNetworkError, Classify(errors.New("fetch failed")).Code)
	assert.Equal(t, CodeNetworkError, Classify(errors.New("Network Error")).Code)
	assert.Equal(t, CodeTimeout, Classify(errors.New("operation timed out")).Code)
	assert.Equal(t, CodeUnknown, Classify(errors.New("something odd")).Code)
}

func TestClassifyContextErrors(t *testing.T) {
	assert.Equal(t, CodeTimeout, Classify(context.DeadlineExceeded).Code)
	assert.Equal(t, CodeOperationCancelled, Classify(context.Canceled).Code)
}

func TestClassifyIsIdempotent(t *testing.T) {
	first := Classify(&HTTPError{StatusCode: 429})
	second := Classify(first)
	assert.Same(t, first, second)

	// Classified errors survive wrapping.
	wrapped := fmt.Errorf("getObjects: %w", first)
	assert.Equal(t, CodeRateLimit, Classify(wrapped).Code)
}

func TestShouldRetryDenyList(t *testing.T) {
	// Deny-listed codes are never retried even if CanRetry were flipped on.
	for _, raw := range []error{
		Classify(&HTTPError{StatusCode: 401}),
		Classify(&HTTPError{StatusCode: 403, UpstreamCode: "AccessDenied"}),
		Classify(&HTTPError{StatusCode: 401, UpstreamCode: "ExpiredToken"}),
	} {
		assert.False(t, ShouldRetry(raw), "code %s", CodeOf(raw))
	}

	for _, raw := range []error{
		errors.New("Network Error"),
		Classify(&HTTPError{StatusCode: 408}),
		Classify(&HTTPError{StatusCode: 429}),
		Classify(&HTTPError{StatusCode: 500}),
	} {
		assert.True(t, ShouldRetry(raw), "code %s", CodeOf(raw))
	}
}

func TestHelpers(t *testing.T) {
	assert.True(t, IsAuth(Classify(&HTTPError{StatusCode: 401})))
	assert.False(t, IsAuth(Classify(&HTTPError{StatusCode: 500})))
	assert.True(t, IsRateLimit(Classify(&HTTPError{StatusCode: 429})))
	assert.True(t, IsNotFound(Classify(&HTTPError{StatusCode: 404, Resource: ResourceBucket})))
}
