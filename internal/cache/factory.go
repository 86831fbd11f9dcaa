package cache

import (
	"log/slog"
	"time"
)

// Params collects the subset of configuration the cache package needs to
// wire itself up. It is a plain struct (not the application Config type) so
// this package stays importable without a dependency on internal/config.
type Params struct {
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RedisClusterAddrs   []string
	RedisSentinelAddrs  []string
	RedisSentinelMaster string
	RedisTimeout        time.Duration

	NearMaxSize      int
	NearCleanupEvery time.Duration
	StaleTTLOffset   time.Duration

	IncludeQueryInKey bool

	DefaultTTL     int
	PathRules      []PathTTLRule
	StatusTTL      map[int]int
	ContentTypeTTL map[string]int
}

// Engine bundles the pieces the request pipeline (C5) and scheduler (C7)
// drive: the two-tier Store, the TTL policy, the key generator, and the
// coalescer built on top of the Store's lock primitives.
type Engine struct {
	Store     Store
	TTL       TTLPolicy
	KeyGen    KeyGenerator
	Coalescer *Coalescer
}

// NewEngine constructs a fully wired Engine from Params.
func NewEngine(p Params, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	store := NewTwoTierStore(StoreConfig{
		NearMaxSize:      p.NearMaxSize,
		NearCleanupEvery: p.NearCleanupEvery,
		StaleTTLOffset:   p.StaleTTLOffset,
		Redis: RedisConfig{
			Addr:           p.RedisAddr,
			Password:       p.RedisPassword,
			DB:             p.RedisDB,
			ClusterAddrs:   p.RedisClusterAddrs,
			SentinelAddrs:  p.RedisSentinelAddrs,
			SentinelMaster: p.RedisSentinelMaster,
			CallTimeout:    p.RedisTimeout,
		},
	}, logger)

	return &Engine{
		Store: store,
		TTL: TTLPolicy{
			PathRules:      p.PathRules,
			StatusTTL:      p.StatusTTL,
			ContentTypeTTL: p.ContentTypeTTL,
			DefaultTTL:     p.DefaultTTL,
		},
		KeyGen:    KeyGenerator{IncludeQuery: p.IncludeQueryInKey},
		Coalescer: NewCoalescer(store, logger),
	}
}

// Close releases the engine's Store resources.
func (e *Engine) Close() error {
	return e.Store.Close()
}
