package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haloreach/cacheproxy/internal/metrics"
)

// call is one in-flight coalesced resolution, grounded on the
// mutex+map+WaitGroup single-flight shape used for in-process fan-in.
type call struct {
	wg    sync.WaitGroup
	entry Entry
	err   error
}

// MissHandler supplies the callbacks the Coalescer needs to run the protocol
// in SPEC_FULL.md §4.4 without itself knowing about the origin client or TTL
// policy; the pipeline (C5) wires those in.
type MissHandler struct {
	LeaseSeconds time.Duration
	LoserMaxWait time.Duration

	// Recheck re-reads the Store; used for the winner's double-checked
	// lookup and for loser polling.
	Recheck func(ctx context.Context) (Result, error)

	// FetchAndStore fetches from origin, computes the effective TTL, and
	// writes the Store when TTL > 0. Run only by the lock winner.
	FetchAndStore func(ctx context.Context) (Entry, error)

	// FetchOnly fetches from origin without writing the Store. Run by a
	// loser that exhausted its wait budget.
	FetchOnly func(ctx context.Context) (Entry, error)
}

// Coalescer guarantees at most one origin fetch per key within this process
// (via the in-process group below) and, best-effort, across processes (via
// the Store's far-tier lock).
type Coalescer struct {
	store Store
	log   *slog.Logger

	mu       sync.Mutex
	inflight map[string]*call
}

// NewCoalescer constructs a Coalescer backed by store's lock primitives.
func NewCoalescer(store Store, log *slog.Logger) *Coalescer {
	if log == nil {
		log = slog.Default()
	}
	return &Coalescer{store: store, log: log, inflight: make(map[string]*call)}
}

// Resolve runs the miss protocol for key, fanning in concurrent in-process
// callers onto a single execution.
func (c *Coalescer) Resolve(ctx context.Context, key string, h MissHandler) (Entry, error) {
	c.mu.Lock()
	if inflight, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		inflight.wg.Wait()
		return inflight.entry, inflight.err
	}

	leader := &call{}
	leader.wg.Add(1)
	c.inflight[key] = leader
	c.mu.Unlock()

	leader.entry, leader.err = c.run(ctx, key, h)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	leader.wg.Done()

	return leader.entry, leader.err
}

func (c *Coalescer) run(ctx context.Context, key string, h MissHandler) (Entry, error) {
	token := uuid.NewString()

	acquired, err := c.store.AcquireLock(ctx, key, token, h.LeaseSeconds)
	if err != nil {
		c.log.Warn("lock acquire error, treating as loser", "key", key, "error", err)
	}

	if acquired {
		defer func() {
			if _, err := c.store.ReleaseLock(ctx, key, token); err != nil {
				c.log.Warn("lock release error", "key", key, "error", err)
			}
		}()

		metrics.CoalesceOutcomesTotal.WithLabelValues("leader").Inc()
		if res, err := h.Recheck(ctx); err == nil && res.Kind != Miss {
			return res.Entry, nil
		}
		return h.FetchAndStore(ctx)
	}

	return c.loserPath(ctx, key, h)
}

func (c *Coalescer) loserPath(ctx context.Context, key string, h MissHandler) (Entry, error) {
	const backoff = 20 * time.Millisecond
	deadline := time.Now().Add(h.LoserMaxWait)

	for time.Now().Before(deadline) {
		if res, err := h.Recheck(ctx); err == nil && res.Kind != Miss {
			metrics.CoalesceOutcomesTotal.WithLabelValues("loser_hit").Inc()
			return res.Entry, nil
		}

		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	metrics.CoalesceOutcomesTotal.WithLabelValues("loser_fallback").Inc()
	return h.FetchOnly(ctx)
}
