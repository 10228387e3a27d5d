package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNewGollmAdapterNeedsModelForUnknownProvider(t *testing.T) {
	_, err := NewGollmAdapter(GollmConfig{Provider: "no-such-provider"})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestClassifyGollmError(t *testing.T) {
	cases := map[string]string{
		"openai: 401 Unauthorized":                     "*unifiedllm.AuthenticationError",
		"invalid api key":                              "*unifiedllm.AuthenticationError",
		"403 Forbidden":                                "*unifiedllm.AccessDeniedError",
		"model not found":                              "*unifiedllm.NotFoundError",
		"429 rate limit exceeded":                      "*unifiedllm.RateLimitError",
		"prompt exceeds context length":                "*unifiedllm.ContextLengthError",
		"503 overloaded":                               "*unifiedllm.ServerError",
		"dial tcp 127.0.0.1:11434: connection refused": "*unifiedllm.NetworkError",
		"timeout waiting for response":                 "*unifiedllm.RequestTimeoutError",
		"blocked by content filter":                    "*unifiedllm.ContentFilterError",
		"the model produced something we do not parse": "*unifiedllm.ProviderError",
	}
	for msg, want := range cases {
		orig := errors.New(msg)
		err := classifyGollmError("openai", orig)
		if got := fmt.Sprintf("%T", err); got != want {
			t.Errorf("%q: classified as %s, want %s", msg, got, want)
		}
		if !errors.Is(err, orig) {
			t.Errorf("%q: classified error lost its cause", msg)
		}
	}
}

func TestClassifyGollmContextErrors(t *testing.T) {
	cancelled := classifyGollmError("ollama", fmt.Errorf("generate: %w", context.Canceled))
	if _, ok := cancelled.(*AbortError); !ok {
		t.Errorf("expected AbortError, got %T", cancelled)
	}
	if IsRetryable(cancelled) {
		t.Error("cancellation must not be retried")
	}

	deadline := classifyGollmError("ollama", context.DeadlineExceeded)
	if _, ok := deadline.(*RequestTimeoutError); !ok {
		t.Errorf("expected RequestTimeoutError, got %T", deadline)
	}
}

func TestSplitConversation(t *testing.T) {
	system, transcript := splitConversation([]Message{
		SystemMessage("be terse"),
		UserMessage("read the file"),
		AssistantMessage("ACTION: READ_FILE main.go"),
		UserMessage("  "),
		SystemMessage("no network"),
		UserMessage("READ_FILE_RESULT for main.go"),
	})
	if system != "be terse\n\nno network" {
		t.Errorf("system = %q", system)
	}
	want := "USER:\nread the file\n\nASSISTANT:\nACTION: READ_FILE main.go\n\nUSER:\nREAD_FILE_RESULT for main.go\n\nASSISTANT:\n"
	if transcript != want {
		t.Errorf("transcript:\n%q\nwant:\n%q", transcript, want)
	}
}

func TestPromptTokens(t *testing.T) {
	if n := promptTokens(nil); n != 10 {
		t.Errorf("empty prompt estimate = %d, want 10", n)
	}
	if n := promptTokens([]Message{UserMessage(string(make([]byte, 400)))}); n != 100 {
		t.Errorf("estimate = %d, want 100", n)
	}
}
