// Package redis shares active candidate lists between server instances.
//
// Store decorates the authoritative SQL store: FindActiveCandidates is served
// from Redis when present and written back on a miss; every write bumps the
// version of the affected keys and deletes their lists. A write-back only
// lands if the version it read before the backend query is still current,
// so a reader that raced a write cannot publish the pre-write list. Redis
// failures never fail a lookup, the backend is consulted instead.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Proximyst/ban/internal/punishment/metrics"
	"github.com/Proximyst/ban/internal/punishment/models"
	"github.com/Proximyst/ban/pkg/platform/circuit"
)

const (
	// versionTTL outlives any backend read a write-back could be racing.
	versionTTL = 24 * time.Hour
	// forgetTimeout bounds invalidation once it is detached from the caller.
	forgetTimeout = 2 * time.Second
)

// writeBack sets KEYS[1] only while KEYS[2] still holds ARGV[1].
var writeBack = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// bumpVersion invalidates KEYS[1] and moves the version in KEYS[2] forward.
var bumpVersion = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[1])
return 1
`)

// Backend is the authoritative store being decorated.
type Backend interface {
	Insert(ctx context.Context, p *models.Punishment) (*models.Punishment, error)
	FindActiveCandidates(ctx context.Context, key models.Key, asOf time.Time) ([]*models.Punishment, error)
	Lift(ctx context.Context, id int64, by, reason string, at time.Time) (bool, error)
	History(ctx context.Context, key models.Key, limit, offset int) ([]*models.Punishment, error)
	Get(ctx context.Context, id int64) (*models.Punishment, error)
}

// Store is a read-through Redis layer over a Backend.
type Store struct {
	backend Backend
	client  redis.UniversalClient
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	breaker *circuit.Breaker
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithTTL bounds how long another instance may serve a list after a write
// it did not see the invalidation for.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithBreaker replaces the breaker that skips Redis reads after repeated
// failures.
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Store) {
		s.breaker = b
	}
}

func New(backend Backend, client redis.UniversalClient, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("backend store is required")
	}
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	s := &Store{
		backend: backend,
		client:  client,
		ttl:     30 * time.Second,
		logger:  slog.Default(),
		metrics: metrics.New(nil),
		breaker: circuit.New("redis", circuit.WithFailureThreshold(5), circuit.WithCooldown(10*time.Second)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// The hash tag keeps a list and its version in one cluster slot so the
// scripts can touch both.
func redisKey(key models.Key) string {
	return "ban:{" + key.String() + "}:candidates"
}

func versionKey(key models.Key) string {
	return "ban:{" + key.String() + "}:version"
}

// Insert writes through and drops the shared lists of the new record's keys.
func (s *Store) Insert(ctx context.Context, p *models.Punishment) (*models.Punishment, error) {
	stored, err := s.backend.Insert(ctx, p)
	if err != nil {
		return nil, err
	}
	s.forget(ctx, stored.Target.Keys())
	return stored, nil
}

// Lift writes through and drops the shared lists of the lifted record.
func (s *Store) Lift(ctx context.Context, id int64, by, reason string, at time.Time) (bool, error) {
	changed, err := s.backend.Lift(ctx, id, by, reason, at)
	if err != nil || !changed {
		return changed, err
	}
	getCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), forgetTimeout)
	defer cancel()
	p, err := s.backend.Get(getCtx, id)
	if err != nil {
		// The list expires on its own; log so the window is visible.
		s.logger.ErrorContext(ctx, "shared candidate lists not invalidated after lift",
			"punishment_id", id, "error", err)
		return changed, nil
	}
	s.forget(ctx, p.Target.Keys())
	return changed, nil
}

func (s *Store) History(ctx context.Context, key models.Key, limit, offset int) ([]*models.Punishment, error) {
	return s.backend.History(ctx, key, limit, offset)
}

func (s *Store) Get(ctx context.Context, id int64) (*models.Punishment, error) {
	return s.backend.Get(ctx, id)
}

// FindActiveCandidates serves the shared list when present. Cached lists are
// re-filtered against asOf since records may have expired since they were
// stored.
func (s *Store) FindActiveCandidates(ctx context.Context, key models.Key, asOf time.Time) ([]*models.Punishment, error) {
	if !s.breaker.Allow() {
		s.metrics.ObserveSharedLookup("bypass")
		return s.backend.FindActiveCandidates(ctx, key, asOf)
	}

	raw, err := s.client.Get(ctx, redisKey(key)).Bytes()
	s.record(ctx, err)
	switch {
	case err == nil:
		var cached []*models.Punishment
		jsonErr := json.Unmarshal(raw, &cached)
		if jsonErr == nil {
			s.metrics.ObserveSharedLookup("hit")
			return filterOpen(cached, asOf), nil
		}
		s.logger.WarnContext(ctx, "discarding undecodable shared candidate list", "key", key, "error", jsonErr)
	case errors.Is(err, redis.Nil):
		s.metrics.ObserveSharedLookup("miss")
	default:
		s.metrics.ObserveSharedLookup("error")
		s.logger.WarnContext(ctx, "shared candidate lookup failed, using backend", "key", key, "error", err)
	}

	version, verErr := s.client.Get(ctx, versionKey(key)).Result()
	switch {
	case errors.Is(verErr, redis.Nil):
		version, verErr = "0", nil
	case verErr != nil:
		s.logger.WarnContext(ctx, "failed to read shared list version", "key", key, "error", verErr)
	}

	candidates, err := s.backend.FindActiveCandidates(ctx, key, asOf)
	if err != nil {
		return nil, err
	}
	if verErr != nil {
		return candidates, nil
	}

	payload, err := json.Marshal(candidates)
	if err != nil {
		return nil, fmt.Errorf("encode candidates: %w", err)
	}
	stored, err := writeBack.Run(ctx, s.client,
		[]string{redisKey(key), versionKey(key)},
		version, payload, s.ttl.Milliseconds(),
	).Int()
	switch {
	case err != nil:
		s.logger.WarnContext(ctx, "failed to share candidate list", "key", key, "error", err)
	case stored == 0:
		s.metrics.ObserveSharedLookup("superseded")
		s.logger.DebugContext(ctx, "candidate list changed during load, not sharing", "key", key)
	}
	return candidates, nil
}

func (s *Store) record(ctx context.Context, err error) {
	if err == nil || errors.Is(err, redis.Nil) {
		if _, change := s.breaker.RecordSuccess(); change.Closed {
			s.logger.InfoContext(ctx, "shared candidate lookups resumed")
		}
		return
	}
	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.logger.WarnContext(ctx, "shared candidate lookups suspended", "error", err)
	}
}

// forget runs detached from the caller: once the backend write succeeded the
// shared lists must be invalidated even if the request was cancelled.
func (s *Store) forget(ctx context.Context, keys []models.Key) {
	if len(keys) == 0 {
		return
	}
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), forgetTimeout)
	defer cancel()

	for _, key := range keys {
		err := bumpVersion.Run(bg, s.client,
			[]string{redisKey(key), versionKey(key)},
			versionTTL.Milliseconds(),
		).Err()
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to invalidate shared candidate list",
				"key", key, "ttl", s.ttl, "error", err)
		}
	}
}

func filterOpen(ps []*models.Punishment, asOf time.Time) []*models.Punishment {
	out := make([]*models.Punishment, 0, len(ps))
	for _, p := range ps {
		if p == nil || p.Lifted || p.IssuedAt.After(asOf) {
			continue
		}
		if p.ExpiresAt != nil && !p.ExpiresAt.After(asOf) {
			continue
		}
		out = append(out, p)
	}
	return out
}
