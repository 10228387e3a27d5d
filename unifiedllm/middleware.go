package unifiedllm

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// NewRequestLimiter returns a limiter admitting perMinute requests per
// minute with a burst of one, or nil when perMinute is not positive.
func NewRequestLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// RateLimitMiddleware blocks each request until limiter admits it. A nil
// limiter disables limiting.
func RateLimitMiddleware(limiter *rate.Limiter) Middleware {
	return func(next Handler) Handler {
		if limiter == nil {
			return next
		}
		return func(ctx context.Context, req Request) (*Response, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, &AbortError{SDKError: SDKError{Message: "waiting for request slot", Cause: err}}
			}
			return next(ctx, req)
		}
	}
}

// LoggingMiddleware records one log line per completed model call.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req Request) (*Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			elapsed := time.Since(start)
			if err != nil {
				logger.WarnContext(ctx, "model call failed",
					"provider", req.Provider,
					"model", req.Model,
					"duration", elapsed,
					"retryable", IsRetryable(err),
					"error", err,
				)
				return nil, err
			}
			logger.DebugContext(ctx, "model call",
				"provider", resp.Provider,
				"model", resp.Model,
				"duration", elapsed,
				"input_tokens", resp.Usage.InputTokens,
				"output_tokens", resp.Usage.OutputTokens,
				"finish", resp.FinishReason.Reason,
			)
			return resp, nil
		}
	}
}
