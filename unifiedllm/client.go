package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ProviderAdapter is one model backend. Adapters that hold connections may
// also implement io.Closer.
type ProviderAdapter interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Handler completes a single request.
type Handler func(ctx context.Context, req Request) (*Response, error)

// Middleware decorates a Handler. The first middleware given to a Client
// sees the request first.
type Middleware func(next Handler) Handler

// Client routes requests to adapters by provider name. It is immutable
// once built and safe for concurrent use.
type Client struct {
	adapters   map[string]ProviderAdapter
	fallback   string
	middleware []Middleware
}

type ClientOption func(*Client)

// WithProvider registers adapter under name. The first registered adapter
// becomes the fallback unless WithDefaultProvider names another.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.adapters[name] = adapter
		if c.fallback == "" {
			c.fallback = name
		}
	}
}

func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) { c.fallback = name }
}

func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) { c.middleware = append(c.middleware, mw...) }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{adapters: map[string]ProviderAdapter{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// route picks the adapter for req: an explicit provider wins, then the
// catalog entry for the model, then the fallback.
func (c *Client) route(req Request) (ProviderAdapter, error) {
	name := req.Provider
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			if _, ok := c.adapters[info.Provider]; ok {
				name = info.Provider
			}
		}
	}
	if name == "" {
		name = c.fallback
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "no provider registered"}}
	}
	adapter, ok := c.adapters[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{Message: fmt.Sprintf("provider %q is not registered", name)}}
	}
	return adapter, nil
}

// Complete sends req through the middleware chain to its adapter.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.route(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}
	h := Handler(adapter.Complete)
	for i := len(c.middleware) - 1; i >= 0; i-- {
		h = c.middleware[i](h)
	}
	return h(ctx, req)
}

// Close closes every adapter that implements io.Closer.
func (c *Client) Close() error {
	var errs []error
	for _, adapter := range c.adapters {
		if closer, ok := adapter.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}
