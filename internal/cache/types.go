// Package cache implements the two-tier cache engine that backs the
// reverse proxy: a process-local near tier, a shared far tier, and the
// coalescing and TTL-policy primitives the request pipeline drives.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// Entry is the stored artifact for a cache key.
type Entry struct {
	ContentType string          `json:"content_type"`
	Status      int             `json:"status"`
	Body        json.RawMessage `json:"body"`
	StoredAt    int64           `json:"stored_at"` // unix seconds
	TTL         int             `json:"ttl"`        // seconds
}

// ExpiresAt returns the wall-clock instant this entry stops being fresh.
func (e Entry) ExpiresAt() time.Time {
	return time.Unix(e.StoredAt, 0).Add(time.Duration(e.TTL) * time.Second)
}

// IsFresh reports whether the entry is still fresh at now.
func (e Entry) IsFresh(now time.Time) bool {
	return now.Before(e.ExpiresAt())
}

// Age returns how long ago the entry was stored, relative to now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(e.StoredAt, 0))
}

// HitKind distinguishes the three outcomes of a Store.Get.
type HitKind int

const (
	Miss HitKind = iota
	HitFresh
	HitStale
)

func (k HitKind) String() string {
	switch k {
	case HitFresh:
		return "HIT"
	case HitStale:
		return "STALE"
	default:
		return "MISS"
	}
}

// Result is the outcome of a Store.Get call.
type Result struct {
	Kind  HitKind
	Entry Entry
}

var (
	// ErrLockNotAcquired names the lock-held outcome. AcquireLock does not
	// return it: a held lock is reported as false with a nil error.
	ErrLockNotAcquired = errors.New("cache: lock not acquired")

	// ErrNonPositiveTTL is returned by Set when ttl <= 0.
	ErrNonPositiveTTL = errors.New("cache: ttl must be positive")
)

// FarTierStatus summarises far-tier reachability for the health endpoint.
type FarTierStatus string

const (
	FarTierOK       FarTierStatus = "ok"
	FarTierDegraded FarTierStatus = "degraded"
	FarTierDown     FarTierStatus = "down"
)

// Store is the two-tier cache engine consumed by the request pipeline (C3).
type Store interface {
	// Get consults the near tier then the far tier, per the invariants in
	// SPEC_FULL.md §4.3.
	Get(ctx context.Context, key string, now time.Time) (Result, error)

	// Set writes entry to both tiers, plus the stale companion key, in one
	// logical operation. ttl must be > 0.
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration, now time.Time) error

	// AcquireLock attempts a far-tier set-if-absent on lock:key.
	AcquireLock(ctx context.Context, key, ownerToken string, lease time.Duration) (bool, error)

	// ReleaseLock deletes lock:key iff its value equals ownerToken.
	ReleaseLock(ctx context.Context, key, ownerToken string) (bool, error)

	// MarkRefreshPending sets refresh:key if absent; returns true if this
	// call set it (i.e. the caller owns the refresh).
	MarkRefreshPending(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// ClearRefreshPending removes the refresh:key mark.
	ClearRefreshPending(ctx context.Context, key string) error

	// Ping reports far-tier reachability for the health endpoint.
	Ping(ctx context.Context) FarTierStatus

	// Close releases resources held by both tiers.
	Close() error
}

// Stats holds near-tier counters for observability.
type Stats struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Evicted int64
}
