package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmConfig selects and tunes the backend behind a GollmAdapter.
type GollmConfig struct {
	Provider string
	// Model defaults to the provider's first catalog entry.
	Model string
	// APIKey may be empty; gollm then falls back to the provider's
	// environment variable. Local providers need none.
	APIKey string
	// Endpoint overrides the Ollama server address.
	Endpoint    string
	MaxTokens   int
	Temperature float64
	Extra       []gollm.ConfigOption
}

// GollmAdapter serves requests through a gollm.LLM. gollm takes a single
// prompt per call, so the conversation is rendered as a role-labelled
// transcript with system messages lifted into the system prompt.
type GollmAdapter struct {
	provider string
	model    string

	mu  sync.Mutex // SetOption mutates llm
	llm gollm.LLM
}

func NewGollmAdapter(cfg GollmConfig) (*GollmAdapter, error) {
	if cfg.Model == "" {
		info := GetLatestModel(cfg.Provider)
		if info == nil {
			return nil, &ConfigurationError{SDKError: SDKError{
				Message: fmt.Sprintf("no model given and no catalog default for provider %q", cfg.Provider),
			}}
		}
		cfg.Model = info.ID
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}

	opts := []gollm.ConfigOption{
		gollm.SetProvider(cfg.Provider),
		gollm.SetModel(cfg.Model),
		gollm.SetMaxTokens(cfg.MaxTokens),
		gollm.SetTemperature(cfg.Temperature),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.APIKey != "" {
		opts = append(opts, gollm.SetAPIKey(cfg.APIKey))
	}
	if cfg.Provider == "ollama" && cfg.Endpoint != "" {
		opts = append(opts, gollm.SetOllamaEndpoint(cfg.Endpoint))
	}
	llm, err := gollm.NewLLM(append(opts, cfg.Extra...)...)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "create " + cfg.Provider + " client", Cause: err}}
	}
	return WrapGollm(cfg.Provider, cfg.Model, llm), nil
}

// WrapGollm adapts an already configured gollm.LLM.
func WrapGollm(provider, model string, llm gollm.LLM) *GollmAdapter {
	return &GollmAdapter{provider: provider, model: model, llm: llm}
}

func (a *GollmAdapter) Name() string  { return a.provider }
func (a *GollmAdapter) Model() string { return a.model }

func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	system, transcript := splitConversation(req.Messages)
	var popts []gollm.PromptOption
	if system != "" {
		popts = append(popts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		popts = append(popts, gollm.WithMaxLength(*req.MaxTokens))
	}

	a.mu.Lock()
	a.setOptions(req)
	text, err := a.llm.Generate(ctx, gollm.NewPrompt(transcript, popts...))
	a.mu.Unlock()
	if err != nil {
		return nil, classifyGollmError(a.provider, err)
	}

	model := req.Model
	if model == "" {
		model = a.model
	}
	in, out := promptTokens(req.Messages), len(text)/4
	return &Response{
		ID:           "resp_" + uuid.NewString()[:8],
		Model:        model,
		Provider:     a.provider,
		Message:      AssistantMessage(text),
		FinishReason: FinishReason{Reason: "stop", Raw: "stop"},
		Usage:        Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}, nil
}

func (a *GollmAdapter) setOptions(req Request) {
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}
	if len(req.StopSequences) > 0 {
		a.llm.SetOption("stop", req.StopSequences)
	}
}

// splitConversation joins system messages into one system prompt and
// renders the rest as "ROLE:\ntext" blocks ending with an open ASSISTANT
// slot. Blank messages are skipped.
func splitConversation(messages []Message) (system, transcript string) {
	var sys []string
	var sb strings.Builder
	for _, m := range messages {
		text := strings.TrimSpace(m.Text)
		switch {
		case text == "":
		case m.Role == RoleSystem:
			sys = append(sys, text)
		default:
			fmt.Fprintf(&sb, "%s:\n%s\n\n", strings.ToUpper(string(m.Role)), text)
		}
	}
	sb.WriteString("ASSISTANT:\n")
	return strings.Join(sys, "\n\n"), sb.String()
}

// promptTokens estimates input usage, which gollm does not report.
func promptTokens(messages []Message) int {
	n := 0
	for _, m := range messages {
		n += len(m.Text) / 4
	}
	return max(n, 10)
}

// gollmErrorRules maps fragments of gollm's formatted error strings to HTTP
// statuses. Order matters: the first match wins.
var gollmErrorRules = []struct {
	status    int
	fragments []string
}{
	{401, []string{"401", "unauthorized", "invalid key", "invalid api key"}},
	{403, []string{"403", "forbidden"}},
	{404, []string{"404", "not found"}},
	{429, []string{"429", "rate limit"}},
	{413, []string{"context length", "too many tokens", "context window"}},
	{500, []string{"500", "502", "503", "internal server", "overloaded"}},
}

// classifyGollmError places err in the error hierarchy so Retry can decide
// whether to try again.
func classifyGollmError(provider string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	case errors.Is(err, context.DeadlineExceeded):
		return &RequestTimeoutError{SDKError: SDKError{Message: "request deadline exceeded", Cause: err}}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, rule := range gollmErrorRules {
		for _, frag := range rule.fragments {
			if strings.Contains(lower, frag) {
				return withCause(ErrorFromStatusCode(rule.status, msg, provider, nil), err)
			}
		}
	}

	base := SDKError{Message: msg, Cause: err}
	switch {
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "no such host"),
		strings.Contains(lower, "connection reset"), strings.Contains(lower, "eof"):
		return &NetworkError{SDKError: base}
	case strings.Contains(lower, "timeout"):
		return &RequestTimeoutError{SDKError: base}
	case strings.Contains(lower, "content filter"), strings.Contains(lower, "safety"):
		return &ContentFilterError{ProviderError: ProviderError{SDKError: base, Provider: provider}}
	}
	return &ProviderError{SDKError: base, Provider: provider, Retryable: true}
}

// withCause attaches the original error to a freshly built provider error.
func withCause(err, cause error) error {
	var pe interface{ setCause(error) }
	if errors.As(err, &pe) {
		pe.setCause(cause)
	}
	return err
}
