package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, staleOffset time.Duration) (*TwoTierStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	far := newFarTierFromClient(client, time.Second)

	store := newTwoTierStoreWithFarTier(far, StoreConfig{
		NearMaxSize:      100,
		NearCleanupEvery: time.Minute,
		StaleTTLOffset:   staleOffset,
	}, nil)
	t.Cleanup(func() { store.Close() })
	return store, srv
}

func TestStore_MissReturnsMiss(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)

	res, err := store.Get(context.Background(), "/v1/things", time.Now())
	require.NoError(t, err)
	require.Equal(t, Miss, res.Kind)
}

func TestStore_SetThenGetIsFreshHit(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	ctx := context.Background()
	now := time.Now()

	entry := Entry{Status: 200, ContentType: "application/json", Body: []byte(`{"a":1}`)}
	require.NoError(t, store.Set(ctx, "/v1/things", entry, 30*time.Second, now))

	res, err := store.Get(ctx, "/v1/things", now)
	require.NoError(t, err)
	require.Equal(t, HitFresh, res.Kind)
	require.Equal(t, 200, res.Entry.Status)
}

func TestStore_SetRejectsNonPositiveTTL(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	err := store.Set(context.Background(), "/k", Entry{}, 0, time.Now())
	require.ErrorIs(t, err, ErrNonPositiveTTL)
}

func TestStore_AfterFreshExpiryServesStaleWithinOffset(t *testing.T) {
	store, srv := newTestStore(t, time.Minute)
	ctx := context.Background()
	now := time.Now()

	entry := Entry{Status: 200, Body: []byte(`{"a":1}`)}
	require.NoError(t, store.Set(ctx, "/k", entry, 10*time.Second, now))

	srv.FastForward(15 * time.Second)

	res, err := store.Get(ctx, "/k", now.Add(15*time.Second))
	require.NoError(t, err)
	require.Equal(t, HitStale, res.Kind)
}

func TestStore_AfterStaleWindowAlsoExpiresIsMiss(t *testing.T) {
	store, srv := newTestStore(t, 5*time.Second)
	ctx := context.Background()
	now := time.Now()

	entry := Entry{Status: 200, Body: []byte(`{"a":1}`)}
	require.NoError(t, store.Set(ctx, "/k", entry, 10*time.Second, now))

	srv.FastForward(20 * time.Second)

	res, err := store.Get(ctx, "/k", now.Add(20*time.Second))
	require.NoError(t, err)
	require.Equal(t, Miss, res.Kind)
}

func TestStore_LockAcquireAndRelease(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	ok, err := store.AcquireLock(ctx, "/k", "owner-a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.AcquireLock(ctx, "/k", "owner-b", time.Second)
	require.NoError(t, err)
	require.False(t, ok, "second owner must not win the lock")

	released, err := store.ReleaseLock(ctx, "/k", "owner-b")
	require.NoError(t, err)
	require.False(t, released, "wrong owner must not release")

	released, err = store.ReleaseLock(ctx, "/k", "owner-a")
	require.NoError(t, err)
	require.True(t, released)

	ok, err = store.AcquireLock(ctx, "/k", "owner-b", time.Second)
	require.NoError(t, err)
	require.True(t, ok, "lock must be free after release")
}

func TestStore_MarkAndClearRefreshPending(t *testing.T) {
	store, _ := newTestStore(t, time.Minute)
	ctx := context.Background()

	first, err := store.MarkRefreshPending(ctx, "/k", time.Second)
	require.NoError(t, err)
	require.True(t, first)

	second, err := store.MarkRefreshPending(ctx, "/k", time.Second)
	require.NoError(t, err)
	require.False(t, second, "refresh already pending")

	require.NoError(t, store.ClearRefreshPending(ctx, "/k"))

	third, err := store.MarkRefreshPending(ctx, "/k", time.Second)
	require.NoError(t, err)
	require.True(t, third)
}

func TestStore_PingReflectsFarTierHealth(t *testing.T) {
	store, srv := newTestStore(t, time.Minute)
	require.Equal(t, FarTierOK, store.Ping(context.Background()))

	srv.Close()
	require.Equal(t, FarTierDown, store.Ping(context.Background()))
}
