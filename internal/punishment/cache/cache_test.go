package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/Proximyst/ban/internal/platform/logger"
	"github.com/Proximyst/ban/internal/punishment/cache"
	"github.com/Proximyst/ban/internal/punishment/models"
	"github.com/Proximyst/ban/internal/punishment/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingLoader wraps a store, counts loads and lets a test hook in.
type countingLoader struct {
	inner *store.InMemoryStore
	loads atomic.Int32
	hook  func(ctx context.Context, key models.Key) error
}

func (l *countingLoader) FindActiveCandidates(ctx context.Context, key models.Key, asOf time.Time) ([]*models.Punishment, error) {
	l.loads.Add(1)
	// Read first so a blocked hook holds a snapshot taken before any
	// concurrent write.
	candidates, err := l.inner.FindActiveCandidates(ctx, key, asOf)
	if err != nil {
		return nil, err
	}
	if l.hook != nil {
		if err := l.hook(ctx, key); err != nil {
			return nil, err
		}
	}
	return candidates, nil
}

// CacheSuite exercises freshness, invalidation, coalescing and failure
// handling with a fake clock.
//
// Justification: cache correctness decides whether a ban is enforced, and
// the interesting cases are concurrency and timing dependent.
type CacheSuite struct {
	suite.Suite
	clock  *fakeClock
	store  *store.InMemoryStore
	loader *countingLoader
	cache  *cache.Cache
	ctx    context.Context
	player models.Target
	key    models.Key
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupTest() {
	s.clock = &fakeClock{now: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)}
	s.store = store.NewInMemory()
	s.loader = &countingLoader{inner: s.store}
	s.cache = s.newCache(cache.DefaultConfig())
	s.ctx = context.Background()
	s.player = models.PlayerTarget(uuid.New())
	s.key = models.PlayerKey(s.player.PlayerID)
}

func (s *CacheSuite) newCache(cfg cache.Config) *cache.Cache {
	cfg.SweepInterval = 0
	c, err := cache.New(s.loader,
		cache.WithConfig(cfg),
		cache.WithClock(s.clock.Now),
		cache.WithLogger(logger.Discard()),
	)
	s.Require().NoError(err)
	s.T().Cleanup(c.Close)
	return c
}

func (s *CacheSuite) ban() *models.Punishment {
	p, err := models.New(models.TypeBan, s.player, "console", "cheating", s.clock.Now().Add(-time.Minute), nil)
	s.Require().NoError(err)
	stored, err := s.store.Insert(s.ctx, p)
	s.Require().NoError(err)
	return stored
}

func (s *CacheSuite) TestFreshEntryIsServedFromMemory() {
	ban := s.ban()

	first, err := s.cache.GetActive(s.ctx, s.key)
	s.Require().NoError(err)
	s.Require().NotNil(first.Ban())
	s.Equal(ban.ID, first.Ban().ID)

	s.clock.Advance(29 * time.Second)
	second, err := s.cache.GetActive(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal(ban.ID, second.Ban().ID)
	s.Equal(int32(1), s.loader.loads.Load())

	s.clock.Advance(time.Second)
	_, err = s.cache.GetActive(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal(int32(2), s.loader.loads.Load(), "entry older than FreshFor must reload")
}

func (s *CacheSuite) TestReturnedValuesAreCopies() {
	s.ban()
	first, err := s.cache.GetActive(s.ctx, s.key)
	s.Require().NoError(err)
	first.Ban().Reason = "tampered"
	delete(first, models.TypeBan)

	second, err := s.cache.GetActive(s.ctx, s.key)
	s.Require().NoError(err)
	s.Require().NotNil(second.Ban())
	s.Equal("cheating", second.Ban().Reason)
}

// TestInsertThenInvalidateIsVisible covers the write path: a cached absence
// must never outlive an invalidation.
func (s *CacheSuite) TestInsertThenInvalidateIsVisible() {
	before, err := s.cache.GetActive(s.ctx, s.key)
	s.Require().NoError(err)
	s.Nil(before.Ban())

	ban := s.ban()
	s.cache.InvalidateTarget(s.player)

	after, err := s.cache.GetActive(s.ctx, s.key)
	s.Require().NoError(err)
	s.Require().NotNil(after.Ban())
	s.Equal(ban.ID, after.Ban().ID)
}

func (s *CacheSuite) TestConcurrentMissesShareOneLoad() {
	release := make(chan struct{})
	s.loader.hook = func(context.Context, models.Key) error {
		<-release
		return nil
	}
	ban := s.ban()

	const callers = 50
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		hits    atomic.Int32
	)
	started.Add(callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			active, err := s.cache.GetActive(s.ctx, s.key)
			if err == nil && active.Ban() != nil && active.Ban().ID == ban.ID {
				hits.Add(1)
			}
		}()
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	s.Equal(int32(1), s.loader.loads.Load())
	s.Equal(int32(callers), hits.Load())
}

func (s *CacheSuite) TestDifferentKeysDoNotBlockEachOther() {
	blocked := models.PlayerKey(uuid.New())
	release := make(chan struct{})
	defer close(release)
	s.loader.hook = func(_ context.Context, key models.Key) error {
		if key == blocked {
			<-release
		}
		return nil
	}

	go func() { _, _ = s.cache.GetActive(context.Background(), blocked) }()

	done := make(chan struct{})
	go func() {
		_, _ = s.cache.GetActive(s.ctx, s.key)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.Fail("lookup of an unrelated key waited on a blocked load")
	}
}

func (s *CacheSuite) TestFailedLoadIsNotCached() {
	ban := s.ban()
	_, err := s.cache.GetActive(s.ctx, s.key)
	s.Require().NoError(err)

	boom := errors.New("connection refused")
	s.loader.hook = func(context.Context, models.Key) error { return boom }
	s.clock.Advance(time.Minute)

	_, err = s.cache.GetActive(s.ctx, s.key)
	s.Require().ErrorIs(err, boom)

	stale, _, ok := s.cache.Peek(s.key)
	s.Require().True(ok, "previous entry must survive a failed load")
	s.Equal(ban.ID, stale.Ban().ID)

	_, err = s.cache.GetActive(s.ctx, s.key)
	s.Require().ErrorIs(err, boom)
	s.Equal(int32(3), s.loader.loads.Load(), "failures must not be cached")

	s.loader.hook = nil
	active, err := s.cache.GetActive(s.ctx, s.key)
	s.Require().NoError(err)
	s.Equal(ban.ID, active.Ban().ID)
}

func (s *CacheSuite) TestColdFailureLeavesNothingBehind() {
	s.loader.hook = func(context.Context, models.Key) error { return errors.New("down") }

	_, err := s.cache.GetActive(s.ctx, s.key)
	s.Require().Error(err)
	_, _, ok := s.cache.Peek(s.key)
	s.False(ok, "a failure must not be cached as an absence")
	s.Zero(s.cache.Len())
}

// TestInvalidationDuringLoadDiscardsResult guards against a load that read
// pre-write state repopulating the cache after the write invalidated it.
func (s *CacheSuite) TestInvalidationDuringLoadDiscardsResult() {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.loader.hook = func(context.Context, models.Key) error {
		first := false
		once.Do(func() { first = true })
		if first {
			close(entered)
			<-release
		}
		return nil
	}

	result := make(chan error, 1)
	go func() {
		_, err := s.cache.GetActive(s.ctx, s.key)
		result <- err
	}()
	<-entered

	// The in-flight load read before this write; the write invalidates.
	ban := s.ban()
	s.cache.Invalidate(s.key)
	close(release)
	s.Require().NoError(<-result)

	active, err := s.cache.GetActive(s.ctx, s.key)
	s.Require().NoError(err)
	s.Require().NotNil(active.Ban(), "stale load must not have been cached")
	s.Equal(ban.ID, active.Ban().ID)
	s.Equal(int32(2), s.loader.loads.Load())
}

func (s *CacheSuite) TestCallerTimeoutDoesNotCancelLoad() {
	release := make(chan struct{})
	loadErr := make(chan error, 1)
	s.loader.hook = func(ctx context.Context, _ models.Key) error {
		<-release
		loadErr <- ctx.Err()
		return nil
	}
	s.ban()

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Millisecond)
	defer cancel()
	_, err := s.cache.GetActive(ctx, s.key)
	s.Require().ErrorIs(err, context.DeadlineExceeded)

	close(release)
	s.NoError(<-loadErr, "abandoned wait must not cancel the shared load")
	s.Eventually(func() bool { return s.cache.Len() == 1 }, time.Second, 5*time.Millisecond)

	s.loader.hook = nil
	active, err := s.cache.GetActive(s.ctx, s.key)
	s.Require().NoError(err)
	s.NotNil(active.Ban())
	s.Equal(int32(1), s.loader.loads.Load(), "next caller benefits from the finished load")
}

func (s *CacheSuite) TestStaleReadReturnsImmediatelyAndRefreshes() {
	ban := s.ban()
	_, err := s.cache.GetActiveStale(s.ctx, s.key)
	s.Require().NoError(err)

	_, before, _ := s.cache.Peek(s.key)
	s.clock.Advance(time.Minute)

	release := make(chan struct{})
	s.loader.hook = func(context.Context, models.Key) error {
		<-release
		return nil
	}

	start := time.Now()
	active, err := s.cache.GetActiveStale(s.ctx, s.key)
	s.Require().NoError(err)
	s.Less(time.Since(start), 500*time.Millisecond)
	s.Equal(ban.ID, active.Ban().ID)

	close(release)
	s.Eventually(func() bool {
		_, fetched, ok := s.cache.Peek(s.key)
		return ok && fetched.After(before)
	}, time.Second, 5*time.Millisecond)
	s.Equal(int32(2), s.loader.loads.Load())
}

func (s *CacheSuite) TestStaleReadLoadsInvalidatedEntrySynchronously() {
	_, err := s.cache.GetActiveStale(s.ctx, s.key)
	s.Require().NoError(err)

	ban := s.ban()
	s.cache.Invalidate(s.key)

	active, err := s.cache.GetActiveStale(s.ctx, s.key)
	s.Require().NoError(err)
	s.Require().NotNil(active.Ban())
	s.Equal(ban.ID, active.Ban().ID)
}

func (s *CacheSuite) TestCapacityEvictsLeastRecentlyUsed() {
	cfg := cache.DefaultConfig()
	cfg.MaxEntries = 2
	c := s.newCache(cfg)

	a, b, d := models.PlayerKey(uuid.New()), models.PlayerKey(uuid.New()), models.PlayerKey(uuid.New())
	for _, key := range []models.Key{a, b} {
		_, err := c.GetActive(s.ctx, key)
		s.Require().NoError(err)
	}
	_, err := c.GetActive(s.ctx, a) // a becomes most recent
	s.Require().NoError(err)
	_, err = c.GetActive(s.ctx, d)
	s.Require().NoError(err)

	s.Equal(2, c.Len())
	_, _, ok := c.Peek(b)
	s.False(ok, "least recently used key must be evicted")
	_, _, ok = c.Peek(a)
	s.True(ok)
}

func (s *CacheSuite) TestSweepRemovesIdleEntries() {
	idle := models.PlayerKey(uuid.New())
	_, err := s.cache.GetActive(s.ctx, idle)
	s.Require().NoError(err)

	s.clock.Advance(4 * time.Minute)
	_, err = s.cache.GetActive(s.ctx, s.key)
	s.Require().NoError(err)

	s.clock.Advance(90 * time.Second)
	s.Equal(1, s.cache.Sweep())
	_, _, ok := s.cache.Peek(idle)
	s.False(ok)
	_, _, ok = s.cache.Peek(s.key)
	s.True(ok)
}

func (s *CacheSuite) TestNewValidatesConfig() {
	_, err := cache.New(nil)
	s.Error(err)

	cfg := cache.DefaultConfig()
	cfg.MaxEntries = 0
	_, err = cache.New(s.loader, cache.WithConfig(cfg))
	s.Error(err)
}

func TestJanitorStopsOnClose(t *testing.T) {
	cfg := cache.DefaultConfig()
	cfg.SweepInterval = time.Millisecond
	c, err := cache.New(store.NewInMemory(), cache.WithConfig(cfg), cache.WithLogger(logger.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	c.Close()
	c.Close()
}

func (s *CacheSuite) TestEntryGoesStaleWhenAResolvedRecordExpires() {
	expires := s.clock.Now().Add(10 * time.Second)
	p, err := models.New(models.TypeBan, s.player, "console", "", s.clock.Now().Add(-time.Minute), &expires)
	s.Require().NoError(err)
	_, err = s.store.Insert(s.ctx, p)
	s.Require().NoError(err)

	active, err := s.cache.GetActive(s.ctx, s.key)
	s.Require().NoError(err)
	s.Require().NotNil(active.Ban())

	s.clock.Advance(10 * time.Second)
	active, err = s.cache.GetActive(s.ctx, s.key)
	s.Require().NoError(err)
	s.Nil(active.Ban(), "expired ban is not served from a still-fresh entry")
	s.Equal(int32(2), s.loader.loads.Load())
}

func (s *CacheSuite) TestExpiredWinnerGivesWayToOlderRecord() {
	now := s.clock.Now()
	permanent, err := models.New(models.TypeMute, s.player, "console", "spam", now.Add(-2*time.Minute), nil)
	s.Require().NoError(err)
	permanent, err = s.store.Insert(s.ctx, permanent)
	s.Require().NoError(err)

	expires := now.Add(time.Minute)
	temporary, err := models.New(models.TypeMute, s.player, "console", "caps", now.Add(-time.Minute), &expires)
	s.Require().NoError(err)
	temporary, err = s.store.Insert(s.ctx, temporary)
	s.Require().NoError(err)

	active, err := s.cache.GetActiveStale(s.ctx, s.key)
	s.Require().NoError(err)
	s.Require().NotNil(active.Mute())
	s.Equal(temporary.ID, active.Mute().ID)

	// Refreshes fail from here on, so only the cached candidates can answer.
	s.loader.hook = func(context.Context, models.Key) error { return errors.New("store down") }
	s.clock.Advance(2 * time.Minute)

	active, err = s.cache.GetActiveStale(s.ctx, s.key)
	s.Require().NoError(err)
	s.Require().NotNil(active.Mute(), "older permanent mute is still in force")
	s.Equal(permanent.ID, active.Mute().ID)

	peeked, _, ok := s.cache.Peek(s.key)
	s.Require().True(ok)
	s.Require().NotNil(peeked.Mute())
	s.Equal(permanent.ID, peeked.Mute().ID)
}
