package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haloreach/cacheproxy/internal/cache"
	"github.com/haloreach/cacheproxy/internal/config"
	"github.com/haloreach/cacheproxy/internal/proxy"
)

// buildMux wires the health and metrics endpoints alongside the catch-all
// reverse-proxy route that drives every other request through the pipeline.
func buildMux(cfg *config.Config, pipeline *proxy.Pipeline, store cache.Store, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler(store))

	if cfg.MetricsEnabled {
		mux.Handle("GET "+cfg.MetricsPath, promhttp.Handler())
	}

	mux.Handle("/", pipeline)

	return mux
}

type healthResponse struct {
	Status   string `json:"status"`
	FarTier  string `json:"far_tier"`
}

// healthHandler always reports HTTP 200 with status "ok": the proxy can
// still serve traffic by forwarding directly to the origin when the far
// tier is down, so a degraded far tier is not an unhealthy process. Callers
// that want to react to far-tier health should watch the far_tier field.
func healthHandler(store cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		farStatus := store.Ping(ctx)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", FarTier: string(farStatus)})
	}
}
