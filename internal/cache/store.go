package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/haloreach/cacheproxy/internal/metrics"
)

// TwoTierStore implements Store: a near (in-process) tier backed by a far
// (shared Redis) tier, plus the lock and refresh-mark primitives the
// coalescer and scheduler build on. Grounded on the teacher's dual-cache
// get-then-backfill pattern, generalised to the fresh/stale key family.
type TwoTierStore struct {
	near *nearTier
	far  *farTier

	staleTTLOffset time.Duration
	logger         *slog.Logger
}

// StoreConfig configures a TwoTierStore.
type StoreConfig struct {
	NearMaxSize        int
	NearCleanupEvery   time.Duration
	StaleTTLOffset     time.Duration
	Redis              RedisConfig
}

// NewTwoTierStore constructs the store and dials the far tier.
func NewTwoTierStore(cfg StoreConfig, logger *slog.Logger) *TwoTierStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TwoTierStore{
		near:           newNearTier(cfg.NearMaxSize, cfg.NearCleanupEvery),
		far:            newFarTier(cfg.Redis),
		staleTTLOffset: cfg.StaleTTLOffset,
		logger:         logger,
	}
}

// NewTwoTierStoreFromClient builds a TwoTierStore around an
// already-constructed go-redis client, letting callers outside this package
// point the far tier at a miniredis instance in integration tests.
func NewTwoTierStoreFromClient(client goredis.UniversalClient, cfg StoreConfig, logger *slog.Logger) *TwoTierStore {
	return newTwoTierStoreWithFarTier(newFarTierFromClient(client, cfg.Redis.CallTimeout), cfg, logger)
}

// newTwoTierStoreWithFarTier is used by tests to inject a farTier built
// against a miniredis instance.
func newTwoTierStoreWithFarTier(far *farTier, cfg StoreConfig, logger *slog.Logger) *TwoTierStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TwoTierStore{
		near:           newNearTier(cfg.NearMaxSize, cfg.NearCleanupEvery),
		far:            far,
		staleTTLOffset: cfg.StaleTTLOffset,
		logger:         logger,
	}
}

// Get implements the lookup sequence from SPEC_FULL.md §4.3.
func (s *TwoTierStore) Get(ctx context.Context, key string, now time.Time) (Result, error) {
	if entry, ok := s.near.get(key, now); ok {
		if entry.IsFresh(now) {
			return Result{Kind: HitFresh, Entry: entry}, nil
		}
		// Stale-by-construction near entries shouldn't happen (near TTL
		// matches remaining far TTL at backfill time) but guard anyway.
		s.near.delete(key)
	}

	raw, err := s.far.get(ctx, key)
	if err != nil {
		metrics.FarTierErrorsTotal.WithLabelValues("get").Inc()
		s.logger.Warn("far tier get failed, degrading to miss", "key", key, "error", err)
		return Result{Kind: Miss}, nil
	}
	if raw != nil {
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err == nil {
			remaining := entry.ExpiresAt().Sub(now)
			if remaining > 0 {
				s.near.set(key, entry, remaining)
				return Result{Kind: HitFresh, Entry: entry}, nil
			}
		}
	}

	raw, err = s.far.get(ctx, staleKey(key))
	if err != nil {
		metrics.FarTierErrorsTotal.WithLabelValues("stale_get").Inc()
		s.logger.Warn("far tier stale get failed, degrading to miss", "key", key, "error", err)
		return Result{Kind: Miss}, nil
	}
	if raw != nil {
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err == nil {
			return Result{Kind: HitStale, Entry: entry}, nil
		}
	}

	return Result{Kind: Miss}, nil
}

// Set writes entry to both tiers and the stale companion key in one logical
// operation, per invariant 2.
func (s *TwoTierStore) Set(ctx context.Context, key string, entry Entry, ttl time.Duration, now time.Time) error {
	if ttl <= 0 {
		return ErrNonPositiveTTL
	}

	entry.StoredAt = now.Unix()
	entry.TTL = int(ttl.Seconds())

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	staleTTL := ttl + s.staleTTLOffset
	writes := map[string]farWrite{
		key:            {Value: data, TTL: ttl},
		staleKey(key):  {Value: data, TTL: staleTTL},
	}
	if err := s.far.setMulti(ctx, writes); err != nil {
		metrics.FarTierErrorsTotal.WithLabelValues("set").Inc()
		s.logger.Warn("far tier set failed, serving from this response only", "key", key, "error", err)
		// Failure policy: swallow, client still gets their response; near
		// tier still benefits this instance.
	}

	s.near.set(key, entry, ttl)
	return nil
}

// AcquireLock attempts lock:key = ownerToken via far-tier SETNX.
func (s *TwoTierStore) AcquireLock(ctx context.Context, key, ownerToken string, lease time.Duration) (bool, error) {
	ok, err := s.far.setNX(ctx, lockKey(key), []byte(ownerToken), lease)
	if err != nil {
		metrics.FarTierErrorsTotal.WithLabelValues("lock_acquire").Inc()
		s.logger.Warn("lock acquire degraded to not-acquired", "key", key, "error", err)
		return false, nil
	}
	return ok, nil
}

// ReleaseLock deletes lock:key iff it still equals ownerToken.
func (s *TwoTierStore) ReleaseLock(ctx context.Context, key, ownerToken string) (bool, error) {
	ok, err := s.far.compareAndDelete(ctx, lockKey(key), ownerToken)
	if err != nil {
		metrics.FarTierErrorsTotal.WithLabelValues("lock_release").Inc()
		s.logger.Warn("lock release failed", "key", key, "error", err)
		return false, nil
	}
	return ok, nil
}

// MarkRefreshPending sets refresh:key if absent and reports whether this
// call is the one that set it.
func (s *TwoTierStore) MarkRefreshPending(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.far.setNX(ctx, refreshKey(key), []byte("1"), ttl)
	if err != nil {
		// Degrade to "already marked" so we never double-schedule refreshes
		// under far-tier trouble.
		metrics.FarTierErrorsTotal.WithLabelValues("mark_refresh_pending").Inc()
		s.logger.Warn("refresh mark degraded", "key", key, "error", err)
		return false, nil
	}
	return ok, nil
}

// ClearRefreshPending removes the refresh:key mark unconditionally.
func (s *TwoTierStore) ClearRefreshPending(ctx context.Context, key string) error {
	return s.far.del(ctx, refreshKey(key))
}

// Ping reports far-tier reachability for the health endpoint.
func (s *TwoTierStore) Ping(ctx context.Context) FarTierStatus {
	if err := s.far.ping(ctx); err != nil {
		return FarTierDown
	}
	return FarTierOK
}

// Close releases both tiers' resources.
func (s *TwoTierStore) Close() error {
	s.near.close()
	return s.far.close()
}

// NearStats exposes near-tier counters for the metrics endpoint.
func (s *TwoTierStore) NearStats() Stats {
	return s.near.stats()
}
