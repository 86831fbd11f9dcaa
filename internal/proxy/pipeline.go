// Package proxy implements the request pipeline: the single http.Handler
// that decides, for every inbound request, whether to serve from cache,
// serve stale while a refresh runs in the background, or fetch the origin
// fresh.
package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/haloreach/cacheproxy/internal/cache"
	"github.com/haloreach/cacheproxy/internal/metrics"
	"github.com/haloreach/cacheproxy/internal/observability"
	"github.com/haloreach/cacheproxy/internal/origin"
	"github.com/haloreach/cacheproxy/internal/scheduler"
)

// CacheStatusHeader reports the outcome of the cache decision for this
// response. Values: HIT, STALE, MISS, BYPASS.
const CacheStatusHeader = "X-Cache"

type cacheStatus string

const (
	statusHit    cacheStatus = "HIT"
	statusStale  cacheStatus = "STALE"
	statusMiss   cacheStatus = "MISS"
	statusBypass cacheStatus = "BYPASS"
)

// Config bundles the tunables the pipeline needs beyond its collaborators.
type Config struct {
	OriginBaseURL string
	SkipPaths     map[string]struct{}
	LockLease     time.Duration
	LoserMaxWait  time.Duration
	RefreshTTL    time.Duration
	FetchTimeout  time.Duration
}

// Pipeline is constructed once at startup with handles to every
// collaborator it needs; it holds no ambient globals.
type Pipeline struct {
	store         cache.Store
	origin        *origin.Client
	reverseProxy  *httputil.ReverseProxy
	ttl           cache.TTLPolicy
	keyGen        cache.KeyGenerator
	coalescer     *cache.Coalescer
	scheduler     *scheduler.Scheduler
	log           *slog.Logger
	cfg           Config
}

// New constructs a Pipeline from an already-wired cache.Engine and an
// Origin client.
func New(engine *cache.Engine, originClient *origin.Client, sched *scheduler.Scheduler, cfg Config, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SkipPaths == nil {
		cfg.SkipPaths = map[string]struct{}{}
	}
	if cfg.LockLease <= 0 {
		cfg.LockLease = 10 * time.Second
	}
	if cfg.LoserMaxWait <= 0 {
		cfg.LoserMaxWait = 2 * time.Second
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}

	target, err := url.Parse(cfg.OriginBaseURL)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:     engine.Store,
		origin:    originClient,
		ttl:       engine.TTL,
		keyGen:    engine.KeyGen,
		coalescer: engine.Coalescer,
		scheduler: sched,
		log:       log,
		cfg:       cfg,
	}
	p.reverseProxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
		},
		ModifyResponse: func(resp *http.Response) error {
			status := statusBypass
			// A GET carrying no-store is reported as a miss: it reached the
			// origin and nothing was written to the cache.
			if resp.Request != nil && resp.Request.Method == http.MethodGet &&
				cache.ParseCacheControl(resp.Request.Header.Get("Cache-Control")).NoStore {
				status = statusMiss
			}
			resp.Header.Set(CacheStatusHeader, string(status))
			return nil
		},
		ErrorLog: slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	return p, nil
}

// ServeHTTP implements the decision order from the request pipeline design:
// method gate, skip list, Cache-Control, lookup, hit/stale/miss handling,
// response emission.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := p.log.With("request_id", observability.RequestIDFromContext(ctx), "path", r.URL.Path)

	if r.Method != http.MethodGet {
		p.reverseProxy.ServeHTTP(w, r)
		return
	}

	if _, skip := p.cfg.SkipPaths[r.URL.Path]; skip {
		p.reverseProxy.ServeHTTP(w, r)
		return
	}

	directives := cache.ParseCacheControl(r.Header.Get("Cache-Control"))
	if directives.NoStore {
		p.reverseProxy.ServeHTTP(w, r)
		return
	}

	key := p.keyGen.Generate(r.URL.Path, r.URL.RawQuery)
	now := time.Now()

	var res cache.Result
	var err error
	if !directives.NoCache {
		res, err = p.store.Get(ctx, key, now)
		if err != nil {
			log.Warn("store lookup failed, treating as miss", "error", err)
			res = cache.Result{Kind: cache.Miss}
		}
		if directives.HasMaxAge && res.Kind != cache.Miss {
			if res.Entry.Age(now) > time.Duration(directives.MaxAge)*time.Second {
				res = cache.Result{Kind: cache.Miss}
			}
		}
	}

	switch res.Kind {
	case cache.HitFresh:
		p.serveEntry(w, res.Entry, statusHit)
	case cache.HitStale:
		p.serveEntry(w, res.Entry, statusStale)
		p.maybeScheduleRefresh(key, r.URL.Path, directives)
	default:
		p.serveMiss(ctx, w, key, r.URL.Path, directives, now, log)
	}
}

func (p *Pipeline) serveEntry(w http.ResponseWriter, entry cache.Entry, status cacheStatus) {
	w.Header().Set("Content-Type", entry.ContentType)
	w.Header().Set(CacheStatusHeader, string(status))
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}

func (p *Pipeline) maybeScheduleRefresh(key, path string, directives cache.Directives) {
	ctx := context.Background()
	ours, err := p.store.MarkRefreshPending(ctx, key, p.cfg.RefreshTTL)
	if err != nil || !ours {
		return
	}

	p.scheduler.Schedule(func() {
		p.runRefresh(key, path, directives)
	})
}

// runRefresh is the Background Scheduler's refresh task body for key:
// acquire the lock, fetch, store, release, and unconditionally clear the
// refresh mark on exit.
func (p *Pipeline) runRefresh(key, path string, directives cache.Directives) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.FetchTimeout)
	defer cancel()
	defer func() {
		if err := p.store.ClearRefreshPending(ctx, key); err != nil {
			p.log.Warn("failed clearing refresh mark", "key", key, "error", err)
		}
	}()

	token := uuid.NewString()
	acquired, err := p.store.AcquireLock(ctx, key, token, p.cfg.LockLease)
	if err != nil || !acquired {
		metrics.StaleRefreshesTotal.WithLabelValues("skipped_lock_held").Inc()
		return
	}
	defer p.store.ReleaseLock(ctx, key, token)

	entry, decodeFailed, err := p.fetchAndBuildEntry(ctx, path, directives)
	if err != nil {
		metrics.StaleRefreshesTotal.WithLabelValues("fetch_error").Inc()
		p.log.Warn("background refresh fetch failed", "key", key, "error", err)
		return
	}
	if decodeFailed {
		metrics.StaleRefreshesTotal.WithLabelValues("skipped_not_cacheable").Inc()
		return
	}

	ttl := p.effectiveTTL(path, entry.Status, entry.ContentType, directives)
	if ttl <= 0 || !cache.IsJSONMediaType(entry.ContentType) {
		metrics.StaleRefreshesTotal.WithLabelValues("skipped_not_cacheable").Inc()
		return
	}
	if err := p.store.Set(ctx, key, entry, ttl, time.Now()); err != nil {
		metrics.StaleRefreshesTotal.WithLabelValues("store_error").Inc()
		p.log.Warn("background refresh store failed", "key", key, "error", err)
		return
	}
	metrics.StaleRefreshesTotal.WithLabelValues("refreshed").Inc()
}

func (p *Pipeline) serveMiss(ctx context.Context, w http.ResponseWriter, key, path string, directives cache.Directives, now time.Time, log *slog.Logger) {
	h := cache.MissHandler{
		LeaseSeconds: p.cfg.LockLease,
		LoserMaxWait: p.cfg.LoserMaxWait,
		Recheck: func(ctx context.Context) (cache.Result, error) {
			if directives.NoCache {
				return cache.Result{Kind: cache.Miss}, nil
			}
			return p.store.Get(ctx, key, time.Now())
		},
		FetchAndStore: func(ctx context.Context) (cache.Entry, error) {
			entry, decodeFailed, err := p.fetchAndBuildEntry(ctx, path, directives)
			if err != nil {
				return cache.Entry{}, err
			}
			if decodeFailed {
				return entry, nil
			}
			ttl := p.effectiveTTL(path, entry.Status, entry.ContentType, directives)
			if ttl > 0 && cache.IsJSONMediaType(entry.ContentType) {
				if err := p.store.Set(ctx, key, entry, ttl, time.Now()); err != nil {
					log.Warn("store set failed after fetch", "error", err)
				}
			}
			return entry, nil
		},
		FetchOnly: func(ctx context.Context) (cache.Entry, error) {
			entry, _, err := p.fetchAndBuildEntry(ctx, path, directives)
			return entry, err
		},
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	entry, err := p.coalescer.Resolve(fetchCtx, key, h)
	if err != nil {
		log.Error("origin fetch failed", "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	p.serveEntry(w, entry, statusMiss)
}

func (p *Pipeline) effectiveTTL(path string, status int, contentType string, directives cache.Directives) time.Duration {
	seconds := p.ttl.Resolve(path, status, contentType)
	if directives.HasMaxAge && directives.MaxAge < seconds {
		seconds = directives.MaxAge
	}
	return time.Duration(seconds) * time.Second
}

// fetchAndBuildEntry fetches path from the origin and builds the Entry that
// would be served. decodeFailed reports that the body is not valid JSON and
// must never be written to the Store, regardless of what effectiveTTL or
// IsJSONMediaType would otherwise allow — only a transport failure from
// origin.Fetch is a servable-response error.
func (p *Pipeline) fetchAndBuildEntry(ctx context.Context, path string, directives cache.Directives) (entry cache.Entry, decodeFailed bool, err error) {
	start := time.Now()
	resp, err := p.origin.Fetch(ctx, path, true)
	if err != nil {
		metrics.OriginFetchLatency.WithLabelValues("transport_error").Observe(time.Since(start).Seconds())
		return cache.Entry{}, false, err
	}
	outcome := "ok"
	if resp.DecodeFailed {
		outcome = "decode_error"
	}
	metrics.OriginFetchLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	entry = cache.Entry{
		ContentType: resp.ContentType,
		Status:      resp.Status,
		Body:        json.RawMessage(resp.Body),
	}
	return entry, resp.DecodeFailed, nil
}

