package providers

import "fmt"

// ErrorKind is the closed set of error shapes a provider adapter may
// surface, grounded in traits.rs's ProviderError enum.
type ErrorKind string

const (
	ErrHTTP             ErrorKind = "http_error"
	ErrAuth             ErrorKind = "auth_error"
	ErrRateLimit        ErrorKind = "rate_limit_exceeded"
	ErrInvalidRequest   ErrorKind = "invalid_request"
	ErrProviderSpecific ErrorKind = "provider_specific"
	ErrSerialization    ErrorKind = "serialization_error"
	ErrTimeout          ErrorKind = "timeout"
	ErrUnknown          ErrorKind = "unknown"
)

// retryableKinds mirrors spec.md §4.F: rate-limit, timeout, transient
// HTTP, and provider-specific errors are classified retryable; auth,
// invalid-request, serialization, and unknown are not.
var retryableKinds = map[ErrorKind]bool{
	ErrHTTP:             true,
	ErrRateLimit:        true,
	ErrTimeout:          true,
	ErrProviderSpecific: true,
}

// Error is the error type every provider adapter returns.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrRateLimit:
		return "rate limit exceeded"
	case ErrTimeout:
		return "request timed out"
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// IsRetryable reports whether this error kind should be retried.
func (e *Error) IsRetryable() bool {
	return retryableKinds[e.Kind]
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewHTTPError reports a transient transport-level failure.
func NewHTTPError(message string) *Error { return newError(ErrHTTP, message) }

// NewAuthError reports an authentication failure.
func NewAuthError(message string) *Error { return newError(ErrAuth, message) }

// NewRateLimitError reports that the provider throttled the request.
func NewRateLimitError() *Error { return newError(ErrRateLimit, "") }

// NewInvalidRequestError reports a request the provider rejected outright.
func NewInvalidRequestError(message string) *Error { return newError(ErrInvalidRequest, message) }

// NewProviderSpecificError reports a retryable provider-side failure.
func NewProviderSpecificError(message string) *Error { return newError(ErrProviderSpecific, message) }

// NewSerializationError reports a request/response encoding failure.
func NewSerializationError(message string) *Error { return newError(ErrSerialization, message) }

// NewTimeoutError reports that the provider call exceeded its deadline.
func NewTimeoutError() *Error { return newError(ErrTimeout, "") }

// NewUnknownError wraps any failure that doesn't fit the taxonomy above.
func NewUnknownError(message string) *Error { return newError(ErrUnknown, message) }
