package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/haloreach/cacheproxy/internal/cache"
	"github.com/haloreach/cacheproxy/internal/config"
	"github.com/haloreach/cacheproxy/internal/origin"
	"github.com/haloreach/cacheproxy/internal/proxy"
	"github.com/haloreach/cacheproxy/internal/scheduler"
)

func newTestStore(t *testing.T) (cache.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := cache.NewTwoTierStoreFromClient(client, cache.StoreConfig{
		NearMaxSize:      100,
		NearCleanupEvery: time.Minute,
		StaleTTLOffset:   time.Minute,
	}, nil)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func newTestPipeline(t *testing.T, store cache.Store) *proxy.Pipeline {
	t.Helper()
	originSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(originSrv.Close)

	engine := &cache.Engine{
		TTL:       cache.TTLPolicy{DefaultTTL: 30},
		KeyGen:    cache.KeyGenerator{},
		Store:     store,
		Coalescer: cache.NewCoalescer(store, nil),
	}
	oc := origin.New(origin.Config{BaseURL: originSrv.URL})
	sched := scheduler.New(scheduler.Config{QueueSize: 8, Workers: 1}, nil)
	t.Cleanup(sched.Stop)

	p, err := proxy.New(engine, oc, sched, proxy.Config{OriginBaseURL: originSrv.URL}, nil)
	require.NoError(t, err)
	return p
}

func TestBuildMux_HealthEndpointReportsFarTierOK(t *testing.T) {
	store, _ := newTestStore(t)
	pipeline := newTestPipeline(t, store)
	cfg := config.DefaultConfig()

	mux := buildMux(cfg, pipeline, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestBuildMux_HealthEndpointStaysOKWhenFarTierDown(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()
	pipeline := newTestPipeline(t, store)
	cfg := config.DefaultConfig()

	mux := buildMux(cfg, pipeline, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
	require.Contains(t, rec.Body.String(), `"far_tier":"down"`)
}

func TestBuildMux_MetricsEndpointServedWhenEnabled(t *testing.T) {
	store, _ := newTestStore(t)
	pipeline := newTestPipeline(t, store)
	cfg := config.DefaultConfig()
	cfg.MetricsEnabled = true
	cfg.MetricsPath = "/metrics"

	mux := buildMux(cfg, pipeline, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildMux_CatchAllRoutesThroughPipeline(t *testing.T) {
	store, _ := newTestStore(t)
	pipeline := newTestPipeline(t, store)
	cfg := config.DefaultConfig()

	mux := buildMux(cfg, pipeline, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/some/path", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "MISS", rec.Header().Get(proxy.CacheStatusHeader))
}
