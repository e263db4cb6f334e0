// CLAUDE:SUMMARY Transport-agnostic endpoint type, middleware chaining and a logging middleware shared by the MCP tools and the panel.
// Package kit holds the endpoint plumbing shared by feedsweep's control
// surfaces: an Endpoint is a plain function from a decoded request to a
// response, wrapped by middlewares and exposed over MCP or HTTP.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint handles one decoded request.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(next Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// RequestIDs stamps calls that arrive without a request id. The panel's
// trace middleware already sets one; MCP calls do not.
func RequestIDs(gen func() string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if GetRequestID(ctx) == "" {
				ctx = WithRequestID(ctx, gen())
			}
			return next(ctx, req)
		}
	}
}

// Logging logs each call with its transport, request id and duration.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"duration", time.Since(start),
			}
			if id := GetRequestID(ctx); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			if err != nil {
				logger.Warn("kit: call failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("kit: call", attrs...)
			}
			return resp, err
		}
	}
}
