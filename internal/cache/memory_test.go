package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNearTier_SetGet(t *testing.T) {
	tier := newNearTier(10, time.Minute)
	defer tier.close()

	tier.set("a", Entry{Status: 200, Body: []byte(`"v"`)}, time.Minute)

	entry, ok := tier.get("a", time.Now())
	require.True(t, ok)
	assert.Equal(t, 200, entry.Status)
}

func TestNearTier_MissingKey(t *testing.T) {
	tier := newNearTier(10, time.Minute)
	defer tier.close()

	_, ok := tier.get("missing", time.Now())
	assert.False(t, ok)
}

func TestNearTier_ExpiresOnRead(t *testing.T) {
	tier := newNearTier(10, time.Minute)
	defer tier.close()

	tier.set("a", Entry{Status: 200}, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := tier.get("a", time.Now())
	assert.False(t, ok)
	assert.Equal(t, 0, tier.len())
}

func TestNearTier_JanitorSweepsExpired(t *testing.T) {
	tier := newNearTier(10, 10*time.Millisecond)
	defer tier.close()

	tier.set("a", Entry{Status: 200}, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return tier.len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestNearTier_EvictsLeastRecentlyUsedWhenFull(t *testing.T) {
	tier := newNearTier(2, time.Minute)
	defer tier.close()

	tier.set("a", Entry{Status: 1}, time.Minute)
	tier.set("b", Entry{Status: 2}, time.Minute)

	// touch "a" so "b" becomes the least recently used.
	_, ok := tier.get("a", time.Now())
	require.True(t, ok)

	tier.set("c", Entry{Status: 3}, time.Minute)

	_, ok = tier.get("b", time.Now())
	assert.False(t, ok, "b should have been evicted as the LRU entry")

	_, ok = tier.get("a", time.Now())
	assert.True(t, ok)

	_, ok = tier.get("c", time.Now())
	assert.True(t, ok)

	stats := tier.stats()
	assert.Equal(t, int64(1), stats.Evicted)
}

func TestNearTier_UpdateExistingKeyMovesToFront(t *testing.T) {
	tier := newNearTier(2, time.Minute)
	defer tier.close()

	tier.set("a", Entry{Status: 1}, time.Minute)
	tier.set("b", Entry{Status: 2}, time.Minute)
	tier.set("a", Entry{Status: 11}, time.Minute)

	tier.set("c", Entry{Status: 3}, time.Minute)

	_, ok := tier.get("b", time.Now())
	assert.False(t, ok)

	entry, ok := tier.get("a", time.Now())
	require.True(t, ok)
	assert.Equal(t, 11, entry.Status)
}

func TestNearTier_DeleteRemovesEntry(t *testing.T) {
	tier := newNearTier(10, time.Minute)
	defer tier.close()

	tier.set("a", Entry{Status: 200}, time.Minute)
	tier.delete("a")

	_, ok := tier.get("a", time.Now())
	assert.False(t, ok)
}

func BenchmarkNearTier_SetGet(b *testing.B) {
	tier := newNearTier(1000, time.Minute)
	defer tier.close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tier.set("key", Entry{Status: 200}, time.Minute)
		tier.get("key", time.Now())
	}
}
