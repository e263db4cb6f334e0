package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/feedsweep/idgen"
	"github.com/hazyhaar/feedsweep/kit"
)

var newTraceID = idgen.NanoID(8)

// TraceID returns middleware that gives each request an id, stored under
// kit.RequestIDKey, echoed in X-Request-ID, and attached to a per-request
// logger stored under LoggerKey. An incoming X-Request-ID is kept.
func TraceID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 64 {
				id = newTraceID()
			}
			ctx := kit.WithRequestID(r.Context(), id)
			ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
			w.Header().Set("X-Request-ID", id)

			l := logger.With(
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			ctx = context.WithValue(ctx, LoggerKey, l)
			l.Debug("request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
