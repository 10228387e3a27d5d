package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SDKError carries a message and an optional cause. Every error this
// package returns embeds it.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *SDKError) Unwrap() error       { return e.Cause }
func (e *SDKError) setCause(err error) { e.Cause = err }

// ProviderError is a failure reported by a model backend. The typed
// variants below fix their own retry class; a bare ProviderError uses
// Retryable.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	Retryable  bool
	// RetryAfter is the server's Retry-After header in seconds.
	RetryAfter *float64
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Provider, e.Message, e.StatusCode)
}

// RetryAfterHint reports the server's Retry-After value, if it sent one.
func (e *ProviderError) RetryAfterHint() (time.Duration, bool) {
	if e.RetryAfter == nil || *e.RetryAfter < 0 {
		return 0, false
	}
	return time.Duration(*e.RetryAfter * float64(time.Second)), true
}

type permanent struct{}
type transient struct{}

func (permanent) retryable() bool { return false }
func (transient) retryable() bool { return true }

type (
	AuthenticationError struct {
		ProviderError
		permanent
	}
	AccessDeniedError struct {
		ProviderError
		permanent
	}
	NotFoundError struct {
		ProviderError
		permanent
	}
	InvalidRequestError struct {
		ProviderError
		permanent
	}
	ContextLengthError struct {
		ProviderError
		permanent
	}
	ContentFilterError struct {
		ProviderError
		permanent
	}
	RateLimitError struct {
		ProviderError
		transient
	}
	ServerError struct {
		ProviderError
		transient
	}
)

// Failures that never reached a provider.
type (
	RequestTimeoutError struct {
		SDKError
		transient
	}
	NetworkError struct {
		SDKError
		transient
	}
	AbortError struct {
		SDKError
		permanent
	}
	ConfigurationError struct {
		SDKError
		permanent
	}
)

// ErrorFromStatusCode builds the typed error for an HTTP status. Unknown
// statuses yield a retryable ProviderError.
func ErrorFromStatusCode(status int, message, provider string, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: status,
		RetryAfter: retryAfter,
	}
	switch status {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: pe.SDKError}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	}
	pe.Retryable = true
	return &pe
}

// IsRetryable reports whether repeating the call that produced err may
// succeed. Cancellation never is; errors from outside this package are
// assumed transient.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var typed interface{ retryable() bool }
	if errors.As(err, &typed) {
		return typed.retryable()
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}
