// Package metrics provides Prometheus metrics collection for the caching
// reverse proxy.
package metrics

import (
	"net/http"
	"strconv"
	"time"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for streaming responses.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Middleware returns an HTTP middleware that records end-to-end request
// latency and the cache outcome the pipeline attached via the X-Cache
// response header.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		status := recorder.Header().Get("X-Cache")
		if status == "" {
			status = "unknown"
		}
		CacheLookupsTotal.WithLabelValues(status).Inc()
		RequestLatency.WithLabelValues(strconv.Itoa(recorder.statusCode)).Observe(time.Since(start).Seconds())
	})
}
