package middleware

import (
	"log/slog"
	"net/http"

	"github.com/clefnote/clefnote-api/internal/api/shared"
	"github.com/clefnote/clefnote-api/internal/platform/logger"
)

// TraceMiddleware assigns each request a trace ID and stores a
// trace-scoped logger in the context. Apply it early in the chain so every
// downstream handler and store call logs with the same trace ID.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.SetTraceID(r.Context())

		log := slog.With("trace_id", shared.GetTraceID(ctx))
		ctx = logger.WithLogger(ctx, log)

		log.Debug("request started",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
