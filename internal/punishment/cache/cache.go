// Package cache keeps resolved active punishments per lookup key in memory.
//
// Entries are bounded by an LRU capacity and swept when idle. Concurrent
// misses for one key share a single store load; different keys never wait
// on each other. A failed load is never cached: the previous entry, if any,
// stays available through Peek.
//
// Entries keep the candidate records of a load and are resolved again on
// every read, so an expired winner gives way to an older record that is
// still in force.
//
// Invalidate bumps a per-key generation. A load only populates the cache if
// the generation it started under is still current, so a load that raced a
// write cannot reinstate pre-write state.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"github.com/Proximyst/ban/internal/punishment/metrics"
	"github.com/Proximyst/ban/internal/punishment/models"
	"github.com/Proximyst/ban/internal/punishment/resolver"
)

// Loader reads candidate records for one key.
type Loader interface {
	FindActiveCandidates(ctx context.Context, key models.Key, asOf time.Time) ([]*models.Punishment, error)
}

// Config tunes capacity and freshness.
type Config struct {
	MaxEntries int
	// FreshFor is how long a loaded entry is served without reloading.
	FreshFor time.Duration
	// IdleTTL evicts entries not read for this long.
	IdleTTL time.Duration
	// LoadTimeout bounds a store load independently of any caller.
	LoadTimeout time.Duration
	// SweepInterval is the idle sweep period; zero disables the janitor.
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxEntries:    512,
		FreshFor:      30 * time.Second,
		IdleTTL:       5 * time.Minute,
		LoadTimeout:   5 * time.Second,
		SweepInterval: time.Minute,
	}
}

type entry struct {
	candidates  []*models.Punishment
	active      resolver.Active // resolved at fetchedAt
	fetchedAt   time.Time
	freshUntil  time.Time // fetchedAt+FreshFor, or an earlier resolved expiry
	lastAccess  time.Time
	invalidated bool
}

// keyState outlives its entry while loads are in flight so invalidations
// that happen before a load completes are not lost.
type keyState struct {
	generation uint64
	loading    int
}

// Cache is safe for concurrent use.
type Cache struct {
	loader  Loader
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.Mutex
	lru    *simplelru.LRU[models.Key, *entry]
	states map[models.Key]*keyState

	group singleflight.Group

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Cache)

func WithConfig(cfg Config) Option {
	return func(c *Cache) {
		c.cfg = cfg
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithClock overrides the time source used for freshness and as the asOf
// of loads.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New builds a cache and starts its idle janitor. Call Close to stop it.
func New(loader Loader, opts ...Option) (*Cache, error) {
	if loader == nil {
		return nil, errors.New("loader is required")
	}
	c := &Cache{
		loader:  loader,
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
		metrics: metrics.New(nil),
		now:     time.Now,
		states:  make(map[models.Key]*keyState),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("max entries must be positive, got %d", c.cfg.MaxEntries)
	}
	if c.cfg.FreshFor <= 0 || c.cfg.IdleTTL <= 0 || c.cfg.LoadTimeout <= 0 {
		return nil, errors.New("cache durations must be positive")
	}

	lru, err := simplelru.NewLRU[models.Key, *entry](c.cfg.MaxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c.lru = lru

	if c.cfg.SweepInterval > 0 {
		go c.janitor()
	} else {
		close(c.done)
	}
	return c, nil
}

// GetActive returns the resolved active punishments for key. Fresh entries
// are served from memory; anything else is loaded from the store, with
// concurrent callers sharing one load. Cancelling ctx abandons the wait but
// not the load.
func (c *Cache) GetActive(ctx context.Context, key models.Key) (resolver.Active, error) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.lru.Get(key); ok {
		e.lastAccess = now
		if !e.invalidated && now.Before(e.freshUntil) {
			active := e.resolve(now)
			c.mu.Unlock()
			c.metrics.ObserveLookup("hit")
			return active, nil
		}
	}
	gen := c.generation(key)
	c.mu.Unlock()

	c.metrics.ObserveLookup("miss")
	return c.wait(ctx, key, gen)
}

// GetActiveStale is GetActive for latency-sensitive callers: an entry that is
// merely stale is returned immediately while a refresh runs in the
// background. Invalidated or missing entries still load synchronously.
func (c *Cache) GetActiveStale(ctx context.Context, key models.Key) (resolver.Active, error) {
	now := c.now()

	c.mu.Lock()
	if e, ok := c.lru.Get(key); ok && !e.invalidated {
		e.lastAccess = now
		active := e.resolve(now)
		fresh := now.Before(e.freshUntil)
		gen := c.generation(key)
		c.mu.Unlock()

		if fresh {
			c.metrics.ObserveLookup("hit")
		} else {
			c.metrics.ObserveLookup("stale")
			c.metrics.CacheStaleServed.Inc()
			c.refresh(ctx, key, gen)
		}
		return active, nil
	}
	gen := c.generation(key)
	c.mu.Unlock()

	c.metrics.ObserveLookup("miss")
	return c.wait(ctx, key, gen)
}

// Peek resolves the last loaded candidates of key at the current time
// without loading, even when stale or invalidated. It does not count as an
// access.
func (c *Cache) Peek(key models.Key) (resolver.Active, time.Time, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(key)
	if !ok {
		return nil, time.Time{}, false
	}
	return e.resolve(now), e.fetchedAt, true
}

// Invalidate forces the next read of key to reload. The current entry is
// kept only as a fallback for Peek.
func (c *Cache) Invalidate(key models.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(key)
	st.generation++
	if e, ok := c.lru.Peek(key); ok {
		e.invalidated = true
	}
	c.prune(key)
}

// InvalidateTarget invalidates every key of t.
func (c *Cache) InvalidateTarget(t models.Target) {
	for _, key := range t.Keys() {
		c.Invalidate(key)
	}
}

// Len reports the number of cached keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close stops the janitor. It is safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
}

func (c *Cache) flightKey(key models.Key, gen uint64) string {
	return fmt.Sprintf("%s#%d", key, gen)
}

func (c *Cache) wait(ctx context.Context, key models.Key, gen uint64) (resolver.Active, error) {
	ch := c.group.DoChan(c.flightKey(key, gen), func() (any, error) {
		return c.load(key, gen)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(resolver.Active).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh starts a background load unless one is already in flight.
func (c *Cache) refresh(ctx context.Context, key models.Key, gen uint64) {
	ch := c.group.DoChan(c.flightKey(key, gen), func() (any, error) {
		return c.load(key, gen)
	})
	go func() {
		if res := <-ch; res.Err != nil {
			c.logger.WarnContext(ctx, "background refresh failed, serving stale entry", "key", key, "error", res.Err)
		}
	}()
}

// load runs detached from any caller so abandoned waits do not cancel it.
func (c *Cache) load(key models.Key, gen uint64) (resolver.Active, error) {
	c.mu.Lock()
	c.state(key).loading++
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.LoadTimeout)
	defer cancel()

	start := time.Now()
	asOf := c.now()
	candidates, err := c.loader.FindActiveCandidates(ctx, key, asOf)
	c.metrics.CacheLoads.Inc()
	c.metrics.CacheLoadSeconds.Observe(time.Since(start).Seconds())

	var active resolver.Active
	if err == nil {
		active = resolver.Resolve(candidates, asOf)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(key)
	st.loading--

	if err != nil {
		c.metrics.CacheLoadErrors.Inc()
		c.prune(key)
		return nil, fmt.Errorf("load active punishments for %s: %w", key, err)
	}

	if st.generation == gen {
		kept := make([]*models.Punishment, 0, len(candidates))
		for _, p := range candidates {
			if p != nil {
				kept = append(kept, p.Clone())
			}
		}
		e := &entry{
			candidates: kept,
			active:     active,
			fetchedAt:  asOf,
			freshUntil: freshUntil(active, asOf.Add(c.cfg.FreshFor)),
			lastAccess: asOf,
		}
		if evicted := c.lru.Add(key, e); evicted {
			c.metrics.ObserveEviction("capacity")
		}
		c.metrics.CacheEntries.Set(float64(c.lru.Len()))
	}
	c.prune(key)
	return active, nil
}

// resolve returns a copy of the entry's active set as of now. Callers hold
// mu.
func (e *entry) resolve(now time.Time) resolver.Active {
	if now.Equal(e.fetchedAt) {
		return e.active.Clone()
	}
	return resolver.Resolve(e.candidates, now).Clone()
}

func freshUntil(active resolver.Active, until time.Time) time.Time {
	for _, p := range active {
		if p.ExpiresAt != nil && p.ExpiresAt.Before(until) {
			until = *p.ExpiresAt
		}
	}
	return until
}

// state returns the key's state, creating it. Callers hold mu.
func (c *Cache) state(key models.Key) *keyState {
	st, ok := c.states[key]
	if !ok {
		st = &keyState{}
		c.states[key] = st
	}
	return st
}

// generation is the current generation of key. Callers hold mu.
func (c *Cache) generation(key models.Key) uint64 {
	if st, ok := c.states[key]; ok {
		return st.generation
	}
	return 0
}

// prune drops state that no entry or load refers to. Callers hold mu.
//
// A dropped state restarts at generation 0. That is safe: with no entry and
// no load in flight there is nothing an old generation could guard against.
func (c *Cache) prune(key models.Key) {
	st, ok := c.states[key]
	if !ok || st.loading > 0 || c.lru.Contains(key) {
		return
	}
	delete(c.states, key)
}

func (c *Cache) onEvict(key models.Key, _ *entry) {
	if st, ok := c.states[key]; ok && st.loading == 0 {
		delete(c.states, key)
	}
}

// Sweep removes entries idle for longer than IdleTTL and reports how many
// were removed.
func (c *Cache) Sweep() int {
	cutoff := c.now().Add(-c.cfg.IdleTTL)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if e.lastAccess.After(cutoff) {
			continue
		}
		c.lru.Remove(key)
		removed++
	}
	if removed > 0 {
		c.metrics.CacheEvictions.WithLabelValues("idle").Add(float64(removed))
	}
	c.metrics.CacheEntries.Set(float64(c.lru.Len()))
	return removed
}

func (c *Cache) janitor() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("swept idle cache entries", "removed", n)
			}
		case <-c.stop:
			return
		}
	}
}
