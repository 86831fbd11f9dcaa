package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestFarTier(t *testing.T) (*farTier, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	return newFarTierFromClient(client, time.Second), srv
}

func TestFarTier_SetGet(t *testing.T) {
	far, _ := newTestFarTier(t)
	ctx := context.Background()

	require.NoError(t, far.set(ctx, "k", []byte("v"), time.Minute))

	val, err := far.get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), val)
}

func TestFarTier_GetMissingReturnsNilNoError(t *testing.T) {
	far, _ := newTestFarTier(t)
	val, err := far.get(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, val)
}

func TestFarTier_SetMultiWritesBothKeys(t *testing.T) {
	far, srv := newTestFarTier(t)
	ctx := context.Background()

	err := far.setMulti(ctx, map[string]farWrite{
		"k":       {Value: []byte("fresh"), TTL: time.Minute},
		"stale:k": {Value: []byte("fresh"), TTL: 2 * time.Minute},
	})
	require.NoError(t, err)

	require.True(t, srv.Exists("k"))
	require.True(t, srv.Exists("stale:k"))
}

func TestFarTier_SetNXOnlyFirstCallerWins(t *testing.T) {
	far, _ := newTestFarTier(t)
	ctx := context.Background()

	first, err := far.setNX(ctx, "lock:k", []byte("token-a"), time.Second)
	require.NoError(t, err)
	require.True(t, first)

	second, err := far.setNX(ctx, "lock:k", []byte("token-b"), time.Second)
	require.NoError(t, err)
	require.False(t, second)
}

func TestFarTier_CompareAndDeleteRequiresMatchingToken(t *testing.T) {
	far, _ := newTestFarTier(t)
	ctx := context.Background()

	_, err := far.setNX(ctx, "lock:k", []byte("token-a"), time.Second)
	require.NoError(t, err)

	ok, err := far.compareAndDelete(ctx, "lock:k", "token-b")
	require.NoError(t, err)
	require.False(t, ok, "wrong token must not release the lock")

	ok, err = far.compareAndDelete(ctx, "lock:k", "token-a")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFarTier_TTLExpiresViaFastForward(t *testing.T) {
	far, srv := newTestFarTier(t)
	ctx := context.Background()

	require.NoError(t, far.set(ctx, "k", []byte("v"), time.Second))
	srv.FastForward(2 * time.Second)

	val, err := far.get(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, val)
}

func TestFarTier_Ping(t *testing.T) {
	far, _ := newTestFarTier(t)
	require.NoError(t, far.ping(context.Background()))
}
