package cache

import (
	"container/heap"
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haloreach/cacheproxy/internal/metrics"
)

// nearTier is the in-process cache: bounded size, LRU eviction when full,
// per-key TTL enforced on read, with a min-heap keeping the next
// expirations in order so the janitor goroutine doesn't scan everything.
type nearTier struct {
	mu sync.RWMutex

	maxSize int
	data    map[string]*nearEntry
	lru     *list.List // front = most recently used

	expirationHeap expirationHeap
	cleanupTicker  *time.Ticker
	stopCleanup    chan struct{}

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	evicted atomic.Int64
}

type nearEntry struct {
	key        string
	value      Entry
	expiration int64 // unix nano
	lruElem    *list.Element
}

type expirationEntry struct {
	key        string
	expiration int64
	index      int
}

type expirationHeap []*expirationEntry

func (h expirationHeap) Len() int            { return len(h) }
func (h expirationHeap) Less(i, j int) bool  { return h[i].expiration < h[j].expiration }
func (h expirationHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expirationHeap) Push(x any) {
	entry := x.(*expirationEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *expirationHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

// newNearTier creates an in-process cache bounded to maxSize entries, with
// a background janitor sweeping expired entries every cleanupInterval.
func newNearTier(maxSize int, cleanupInterval time.Duration) *nearTier {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	t := &nearTier{
		maxSize:     maxSize,
		data:        make(map[string]*nearEntry),
		lru:         list.New(),
		stopCleanup: make(chan struct{}),
	}
	heap.Init(&t.expirationHeap)

	t.cleanupTicker = time.NewTicker(cleanupInterval)
	go t.cleanupLoop()

	return t
}

func (t *nearTier) cleanupLoop() {
	for {
		select {
		case <-t.cleanupTicker.C:
			t.evictExpired()
		case <-t.stopCleanup:
			return
		}
	}
}

func (t *nearTier) evictExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UnixNano()
	for t.expirationHeap.Len() > 0 {
		top := t.expirationHeap[0]
		entry, ok := t.data[top.key]
		if !ok || entry.expiration != top.expiration {
			heap.Pop(&t.expirationHeap)
			continue
		}
		if top.expiration > now {
			break
		}
		heap.Pop(&t.expirationHeap)
		t.removeLocked(top.key)
		t.evicted.Add(1)
	}
}

func (t *nearTier) removeLocked(key string) {
	entry, ok := t.data[key]
	if !ok {
		return
	}
	t.lru.Remove(entry.lruElem)
	delete(t.data, key)
	metrics.NearTierEntries.Set(float64(len(t.data)))
}

// get returns the stored entry and whether it is present and unexpired. A
// present-but-expired entry is deleted lazily and reported absent.
func (t *nearTier) get(key string, now time.Time) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.data[key]
	if !ok {
		t.misses.Add(1)
		return Entry{}, false
	}
	if entry.expiration <= now.UnixNano() {
		t.removeLocked(key)
		t.misses.Add(1)
		return Entry{}, false
	}

	t.lru.MoveToFront(entry.lruElem)
	t.hits.Add(1)
	return entry.value, true
}

// set inserts or replaces key with the given TTL, evicting the
// least-recently-used entry if the cache is at capacity.
func (t *nearTier) set(key string, value Entry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	expiration := time.Now().Add(ttl).UnixNano()

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.data[key]; ok {
		existing.value = value
		existing.expiration = expiration
		t.lru.MoveToFront(existing.lruElem)
	} else {
		if len(t.data) >= t.maxSize {
			t.evictLRULocked()
		}
		elem := t.lru.PushFront(key)
		t.data[key] = &nearEntry{key: key, value: value, expiration: expiration, lruElem: elem}
	}

	heap.Push(&t.expirationHeap, &expirationEntry{key: key, expiration: expiration})
	t.sets.Add(1)
	metrics.NearTierEntries.Set(float64(len(t.data)))
}

func (t *nearTier) evictLRULocked() {
	elem := t.lru.Back()
	if elem == nil {
		return
	}
	key := elem.Value.(string)
	t.removeLocked(key)
	t.evicted.Add(1)
}

func (t *nearTier) delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(key)
}

func (t *nearTier) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data)
}

func (t *nearTier) stats() Stats {
	return Stats{
		Hits:    t.hits.Load(),
		Misses:  t.misses.Load(),
		Sets:    t.sets.Load(),
		Evicted: t.evicted.Load(),
	}
}

func (t *nearTier) close() {
	t.cleanupTicker.Stop()
	close(t.stopCleanup)
}
