//go:build integration

package redis_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/Proximyst/ban/internal/platform/logger"
	"github.com/Proximyst/ban/internal/punishment/models"
	"github.com/Proximyst/ban/internal/punishment/store"
	sharedredis "github.com/Proximyst/ban/internal/punishment/store/redis"
	"github.com/Proximyst/ban/pkg/testutil/containers"
)

type countingBackend struct {
	*store.InMemoryStore
	finds atomic.Int32
	// afterRead runs once the candidates are read, before they are returned.
	afterRead func()
}

func (c *countingBackend) FindActiveCandidates(ctx context.Context, key models.Key, asOf time.Time) ([]*models.Punishment, error) {
	c.finds.Add(1)
	out, err := c.InMemoryStore.FindActiveCandidates(ctx, key, asOf)
	if c.afterRead != nil {
		c.afterRead()
	}
	return out, err
}

// RedisStoreSuite verifies the shared layer against a real Redis.
type RedisStoreSuite struct {
	suite.Suite
	redis   *containers.RedisContainer
	backend *countingBackend
	store   *sharedredis.Store
	ctx     context.Context
	t0      time.Time
	target  models.Target
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.Require().NoError(s.redis.FlushAll(s.ctx))
	s.backend = &countingBackend{InMemoryStore: store.NewInMemory()}
	var err error
	s.store, err = sharedredis.New(s.backend, s.redis.Client,
		sharedredis.WithLogger(logger.Discard()),
		sharedredis.WithTTL(time.Minute),
	)
	s.Require().NoError(err)
	s.t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	s.target = models.PlayerTarget(uuid.New())
}

func (s *RedisStoreSuite) issue(typ models.Type, expires *time.Time) *models.Punishment {
	p, err := models.New(typ, s.target, "console", "", s.t0, expires)
	s.Require().NoError(err)
	stored, err := s.store.Insert(s.ctx, p)
	s.Require().NoError(err)
	return stored
}

func (s *RedisStoreSuite) TestSecondLookupIsShared() {
	s.issue(models.TypeBan, nil)
	key := s.target.Keys()[0]

	first, err := s.store.FindActiveCandidates(s.ctx, key, s.t0.Add(time.Minute))
	s.Require().NoError(err)
	second, err := s.store.FindActiveCandidates(s.ctx, key, s.t0.Add(time.Minute))
	s.Require().NoError(err)

	s.Equal(int32(1), s.backend.finds.Load())
	s.Require().Len(second, 1)
	s.Equal(first[0].ID, second[0].ID)
	s.True(first[0].IssuedAt.Equal(second[0].IssuedAt))
}

func (s *RedisStoreSuite) TestWritesInvalidate() {
	key := s.target.Keys()[0]
	_, err := s.store.FindActiveCandidates(s.ctx, key, s.t0)
	s.Require().NoError(err)

	ban := s.issue(models.TypeBan, nil)
	got, err := s.store.FindActiveCandidates(s.ctx, key, s.t0.Add(time.Minute))
	s.Require().NoError(err)
	s.Len(got, 1, "insert must drop the cached empty list")

	_, err = s.store.Lift(s.ctx, ban.ID, "console", "appeal", s.t0.Add(2*time.Minute))
	s.Require().NoError(err)
	got, err = s.store.FindActiveCandidates(s.ctx, key, s.t0.Add(3*time.Minute))
	s.Require().NoError(err)
	s.Empty(got, "lift must drop the cached list")
}

func (s *RedisStoreSuite) TestCachedListIsRefilteredByTime() {
	exp := s.t0.Add(time.Hour)
	s.issue(models.TypeMute, &exp)
	key := s.target.Keys()[0]

	got, err := s.store.FindActiveCandidates(s.ctx, key, s.t0.Add(time.Minute))
	s.Require().NoError(err)
	s.Len(got, 1)

	got, err = s.store.FindActiveCandidates(s.ctx, key, s.t0.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Empty(got)
	s.Equal(int32(1), s.backend.finds.Load())
}

func (s *RedisStoreSuite) TestWriteDuringReadIsNotShared() {
	key := s.target.Keys()[0]
	var ban *models.Punishment
	s.backend.afterRead = func() {
		s.backend.afterRead = nil
		ban = s.issue(models.TypeBan, nil)
	}

	got, err := s.store.FindActiveCandidates(s.ctx, key, s.t0.Add(time.Minute))
	s.Require().NoError(err)
	s.Empty(got, "the racing read saw the pre-write state")

	got, err = s.store.FindActiveCandidates(s.ctx, key, s.t0.Add(time.Minute))
	s.Require().NoError(err)
	s.Require().Len(got, 1, "the pre-write list must not have been shared")
	s.Equal(ban.ID, got[0].ID)
}
