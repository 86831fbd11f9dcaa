package main

import (
	"log/slog"
	"net/http"

	"github.com/haloreach/cacheproxy/internal/metrics"
	"github.com/haloreach/cacheproxy/internal/observability"
)

// buildMiddlewareStack assembles the fixed middleware chain applied to every
// request: panic recovery, request ID propagation, and metrics recording.
func buildMiddlewareStack(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next
		handler = metrics.Middleware(handler)
		handler = observability.RequestIDMiddleware(handler)
		handler = recoveryMiddleware(logger)(handler)
		return handler
	}
}

func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
