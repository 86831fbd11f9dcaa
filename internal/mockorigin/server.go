// Package mockorigin provides a generic JSON origin server for exercising
// the caching proxy without a real backend: deterministic per-path bodies,
// configurable latency and error injection, and a Cache-Control response
// header that a request header can override.
package mockorigin

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// Server is a generic JSON mock origin.
type Server struct {
	// Latency simulates backend processing time before every response.
	Latency time.Duration

	// RequestCount tracks total requests handled, keyed by nothing in
	// particular — it's a blunt total used by tests and the /health body.
	RequestCount atomic.Int64

	// ErrorRate is the probability (0.0 to 1.0) that a request fails with a
	// 500. The proxy treats a 500 as an ordinary origin response, not as a
	// transport failure.
	ErrorRate float64

	// DefaultCacheControl is sent on every response unless the request sets
	// X-Mock-Cache-Control to override it. The proxy's TTL policy does not
	// read the response Cache-Control header.
	DefaultCacheControl string

	seq atomic.Uint64
}

// NewServer creates a mock origin with reasonable defaults.
func NewServer() *Server {
	return &Server{Latency: 10 * time.Millisecond}
}

// resource is the generic JSON body served for any path.
type resource struct {
	Path      string `json:"path"`
	Sequence  uint64 `json:"sequence"`
	FetchedAt int64  `json:"fetched_at"`
}

// Handler returns the http.Handler for the mock origin: a catch-all JSON
// resource endpoint plus a health check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/", s.handleResource)
	return mux
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	n := s.RequestCount.Add(1)

	if s.Latency > 0 {
		time.Sleep(s.Latency)
	}

	if s.ErrorRate > 0 && shouldFail(uint64(n), s.ErrorRate) {
		http.Error(w, `{"error":"mock origin injected failure"}`, http.StatusInternalServerError)
		return
	}

	cacheControl := s.DefaultCacheControl
	if override := r.Header.Get("X-Mock-Cache-Control"); override != "" {
		cacheControl = override
	}
	if cacheControl != "" {
		w.Header().Set("Cache-Control", cacheControl)
	}

	body := resource{
		Path:      r.URL.Path,
		Sequence:  s.seq.Add(1),
		FetchedAt: time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":        "ok",
		"request_count": s.RequestCount.Load(),
	})
}

// shouldFail deterministically fails roughly rate*100% of requests, indexed
// by request sequence so behavior is reproducible run to run.
func shouldFail(n uint64, rate float64) bool {
	return float64(n%100) < rate*100
}

// Stats returns server statistics for logging and debugging.
func (s *Server) Stats() map[string]any {
	return map[string]any{
		"request_count": s.RequestCount.Load(),
		"latency_ms":    s.Latency.Milliseconds(),
	}
}
