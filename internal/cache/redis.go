package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// releaseLockScript deletes KEYS[1] only if its current value equals
// ARGV[1], making lock release atomic against a concurrent re-acquisition
// after lease expiry.
var releaseLockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisConfig configures the far tier connection. Exactly one of Addr,
// ClusterAddrs, or SentinelAddrs should be meaningfully set; UniversalClient
// picks the right client shape.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	ClusterAddrs   []string
	SentinelAddrs  []string
	SentinelMaster string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	// CallTimeout bounds every individual far-tier round trip
	// (redis_timeout_ms in configuration).
	CallTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 20
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 50 * time.Millisecond
	}
	return c
}

// farTier wraps a go-redis UniversalClient with the fixed key schema the
// Store uses: K, stale:K, lock:K, refresh:K.
type farTier struct {
	client      goredis.UniversalClient
	callTimeout time.Duration
}

// newFarTier builds the appropriate UniversalClient flavour (single node,
// cluster, or sentinel) from cfg, mirroring the selection logic the teacher
// codebase used for its Redis cache backend.
func newFarTier(cfg RedisConfig) *farTier {
	cfg = cfg.withDefaults()

	var client goredis.UniversalClient
	switch {
	case len(cfg.ClusterAddrs) > 0:
		client = goredis.NewClusterClient(&goredis.ClusterOptions{
			Addrs:        cfg.ClusterAddrs,
			Password:     cfg.Password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	case len(cfg.SentinelAddrs) > 0:
		client = goredis.NewFailoverClient(&goredis.FailoverOptions{
			MasterName:    cfg.SentinelMaster,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
		})
	default:
		client = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	}

	return &farTier{client: client, callTimeout: cfg.CallTimeout}
}

// newFarTierFromClient wraps an already-constructed client (used by tests
// against miniredis, and by callers that already hold a UniversalClient).
func newFarTierFromClient(client goredis.UniversalClient, callTimeout time.Duration) *farTier {
	if callTimeout <= 0 {
		callTimeout = 50 * time.Millisecond
	}
	return &farTier{client: client, callTimeout: callTimeout}
}

func (f *farTier) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, f.callTimeout)
}

func (f *farTier) get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := f.withDeadline(ctx)
	defer cancel()

	val, err := f.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("far tier get: %w", err)
	}
	return val, nil
}

func (f *farTier) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := f.withDeadline(ctx)
	defer cancel()

	if err := f.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("far tier set: %w", err)
	}
	return nil
}

// setMulti writes several keys with a single pipelined round trip, used for
// the fresh+stale dual write that must land as close to atomically as a
// non-transactional pipeline allows.
func (f *farTier) setMulti(ctx context.Context, writes map[string]farWrite) error {
	ctx, cancel := f.withDeadline(ctx)
	defer cancel()

	pipe := f.client.Pipeline()
	for key, w := range writes {
		pipe.Set(ctx, key, w.Value, w.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("far tier pipeline: %w", err)
	}
	return nil
}

type farWrite struct {
	Value []byte
	TTL   time.Duration
}

func (f *farTier) del(ctx context.Context, key string) error {
	ctx, cancel := f.withDeadline(ctx)
	defer cancel()

	if err := f.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("far tier del: %w", err)
	}
	return nil
}

func (f *farTier) ttl(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := f.withDeadline(ctx)
	defer cancel()

	d, err := f.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("far tier ttl: %w", err)
	}
	return d, nil
}

// setNX is the primitive behind acquire_lock.
func (f *farTier) setNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := f.withDeadline(ctx)
	defer cancel()

	ok, err := f.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("far tier setnx: %w", err)
	}
	return ok, nil
}

// compareAndDelete is the primitive behind release_lock, evaluated
// server-side so the check-then-delete is atomic.
func (f *farTier) compareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	ctx, cancel := f.withDeadline(ctx)
	defer cancel()

	res, err := releaseLockScript.Run(ctx, f.client, []string{key}, expected).Result()
	if err != nil {
		return false, fmt.Errorf("far tier release script: %w", err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (f *farTier) ping(ctx context.Context) error {
	ctx, cancel := f.withDeadline(ctx)
	defer cancel()
	return f.client.Ping(ctx).Err()
}

func (f *farTier) close() error {
	return f.client.Close()
}
