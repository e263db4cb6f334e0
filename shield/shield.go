// Package shield provides the HTTP middleware of the feedsweep control
// panel: security headers, body limits, request tracing and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.PanelStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// MaxBody is the request body limit of the panel stack.
const MaxBody = 64 * 1024

// PanelStack returns the middleware stack of the control panel, ordered
// HeadToGet → SecurityHeaders → MaxBody → TraceID.
func PanelStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBodySize(MaxBody),
		TraceID(logger),
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
