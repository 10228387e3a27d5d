package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorFromStatusCode(t *testing.T) {
	for status, want := range map[int]struct {
		typ       string
		retryable bool
	}{
		400: {"*unifiedllm.InvalidRequestError", false},
		401: {"*unifiedllm.AuthenticationError", false},
		403: {"*unifiedllm.AccessDeniedError", false},
		404: {"*unifiedllm.NotFoundError", false},
		408: {"*unifiedllm.RequestTimeoutError", true},
		413: {"*unifiedllm.ContextLengthError", false},
		422: {"*unifiedllm.InvalidRequestError", false},
		429: {"*unifiedllm.RateLimitError", true},
		503: {"*unifiedllm.ServerError", true},
		418: {"*unifiedllm.ProviderError", true},
	} {
		err := ErrorFromStatusCode(status, "boom", "openai", nil)
		if got := fmt.Sprintf("%T", err); got != want.typ {
			t.Errorf("status %d: type %s, want %s", status, got, want.typ)
		}
		if got := IsRetryable(err); got != want.retryable {
			t.Errorf("status %d: IsRetryable = %v, want %v", status, got, want.retryable)
		}
	}
}

func TestIsRetryableZeroValues(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"auth", &AuthenticationError{}, false},
		{"content filter", &ContentFilterError{}, false},
		{"configuration", &ConfigurationError{}, false},
		{"abort", &AbortError{}, false},
		{"rate limit", &RateLimitError{}, true},
		{"server", &ServerError{}, true},
		{"network", &NetworkError{}, true},
		{"timeout", &RequestTimeoutError{}, true},
		{"bare provider, retryable", &ProviderError{Retryable: true}, true},
		{"bare provider, fatal", &ProviderError{}, false},
		{"wrapped auth", fmt.Errorf("step 3: %w", &AuthenticationError{}), false},
		{"wrapped server", fmt.Errorf("step 3: %w", &ServerError{}), true},
		{"cancelled", fmt.Errorf("model: %w", context.Canceled), false},
		{"foreign", errors.New("socket closed"), true},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestProviderErrorFormatting(t *testing.T) {
	cause := errors.New("tls handshake")
	err := ErrorFromStatusCode(429, "slow down", "anthropic", nil)
	if got := err.Error(); got != "anthropic: slow down (HTTP 429)" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&ProviderError{SDKError: SDKError{Message: "odd"}, Provider: "ollama"}).Error(); got != "ollama: odd" {
		t.Errorf("Error() without status = %q", got)
	}

	wrapped := withCause(ErrorFromStatusCode(401, "denied", "openai", nil), cause)
	if !errors.Is(wrapped, cause) {
		t.Error("typed provider errors should unwrap to their cause")
	}
	if got := (&NetworkError{SDKError: SDKError{Message: "dial", Cause: cause}}).Error(); got != "dial: tls handshake" {
		t.Errorf("Error() = %q", got)
	}
}
