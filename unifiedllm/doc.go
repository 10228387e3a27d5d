// Package unifiedllm provides a provider-agnostic client for blocking text
// completions, backed by the gollm library (github.com/teilomillet/gollm).
//
// # Architecture
//
//   - ProviderAdapter: one backend (GollmAdapter wraps gollm.LLM).
//   - Client: routes a Request to an adapter and applies Middleware
//     (RateLimitMiddleware, LoggingMiddleware).
//   - Retry: exponential backoff over retryable errors, classified by
//     IsRetryable against the SDKError hierarchy.
//   - Models: a small catalog used for provider inference and context
//     window sizing.
//
// # Quick Start
//
//	adapter, err := unifiedllm.NewGollmAdapter(unifiedllm.GollmConfig{
//	    Provider: "ollama",
//	    Model:    "qwen2.5-coder:32b",
//	    Endpoint: "http://localhost:11434",
//	})
//	if err != nil {
//	    return err
//	}
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("ollama", adapter),
//	    unifiedllm.WithMiddleware(unifiedllm.RateLimitMiddleware(unifiedllm.NewRequestLimiter(30))),
//	)
//
//	resp, err := unifiedllm.Retry(ctx, unifiedllm.DefaultRetryPolicy(),
//	    func(ctx context.Context) (*unifiedllm.Response, error) {
//	        return client.Complete(ctx, unifiedllm.Request{
//	            Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	        })
//	    })
package unifiedllm
