// Package service is the engine facade used by command layers: it records
// and lifts punishments, keeps the lookup cache consistent with the store,
// and announces every change.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Proximyst/ban/internal/notify"
	"github.com/Proximyst/ban/internal/punishment/metrics"
	"github.com/Proximyst/ban/internal/punishment/models"
	"github.com/Proximyst/ban/internal/punishment/ports"
	"github.com/Proximyst/ban/pkg/domain"
	dErrors "github.com/Proximyst/ban/pkg/domain-errors"
	"github.com/Proximyst/ban/pkg/platform/sentinel"
	"github.com/Proximyst/ban/pkg/requestcontext"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)

// RetryConfig bounds how long Issue keeps retrying an unavailable store.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	MaxTries        uint
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsed:      10 * time.Second,
		MaxTries:        6,
	}
}

func (r RetryConfig) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.InitialInterval
	b.MaxInterval = r.MaxInterval
	return b
}

// IssueRequest describes a new punishment. ExpiresAt is absolute; nil means
// permanent. An empty Actor falls back to the actor in the context.
type IssueRequest struct {
	Type      models.Type
	Target    models.Target
	Actor     string
	Reason    string
	ExpiresAt *time.Time
}

type Service struct {
	store     ports.Store
	cache     ports.CacheInvalidator
	publisher ports.EventPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	retry     RetryConfig
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithCache sets the cache invalidated after every write.
func WithCache(c ports.CacheInvalidator) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithPublisher(p ports.EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithRetry(cfg RetryConfig) Option {
	return func(s *Service) {
		s.retry = cfg
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(store ports.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("punishment store is required")
	}
	s := &Service{
		store:   store,
		logger:  slog.Default(),
		metrics: metrics.New(nil),
		retry:   DefaultRetryConfig(),
		tracer:  otel.Tracer("github.com/Proximyst/ban/internal/punishment/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue validates, persists and announces a punishment. The cache entries
// of every key of the target are invalidated before Issue returns, so the
// next enforcement check observes the new record.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (_ *models.Punishment, err error) {
	ctx, span := s.tracer.Start(ctx, "punishment.Issue", trace.WithAttributes(
		attribute.String("punishment.type", req.Type.String()),
		attribute.String("punishment.target", req.Target.String()),
	))
	defer func() { endSpan(span, err) }()

	actor := req.Actor
	if actor == "" {
		actor = requestcontext.Actor(ctx)
	}
	now := requestcontext.Now(ctx)

	p, err := models.New(req.Type, req.Target, actor, req.Reason, now, req.ExpiresAt)
	if err != nil {
		return nil, err
	}

	stored, err := s.insert(ctx, p)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record punishment",
			"type", p.Type.String(), "target", p.Target.String(), "error", err)
		return nil, translate(err, "record punishment")
	}
	span.SetAttributes(attribute.Int64("punishment.id", stored.ID))

	s.invalidate(stored.Target)
	s.metrics.IncrementIssued(stored.Type.String())
	ports.LogAudit(ctx, s.logger, s.publisher, notify.NewEvent(notify.KindCreated, stored, now),
		"actor", stored.Actor, "reason", stored.Reason)

	return stored, nil
}

func (s *Service) insert(ctx context.Context, p *models.Punishment) (*models.Punishment, error) {
	op := func() (*models.Punishment, error) {
		stored, err := s.store.Insert(ctx, p)
		if err != nil && !errors.Is(err, sentinel.ErrUnavailable) {
			return nil, backoff.Permanent(err)
		}
		return stored, err
	}
	notifyRetry := func(err error, wait time.Duration) {
		s.metrics.StoreRetries.Inc()
		s.logger.WarnContext(ctx, "punishment store unavailable, retrying insert",
			"wait", wait, "error", err)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(s.retry.backOff()),
		backoff.WithMaxElapsedTime(s.retry.MaxElapsed),
		backoff.WithMaxTries(s.retry.MaxTries),
		backoff.WithNotify(notifyRetry),
	)
}

// Lift revokes a punishment. It reports false without error when the record
// was already lifted.
func (s *Service) Lift(ctx context.Context, id int64, by, reason string) (bool, error) {
	changed, _, err := s.lift(ctx, id, by, reason)
	return changed, err
}

// LiftStrict is Lift but fails with models.ErrAlreadyLifted when the record
// was lifted before.
func (s *Service) LiftStrict(ctx context.Context, id int64, by, reason string) error {
	changed, _, err := s.lift(ctx, id, by, reason)
	if err != nil {
		return err
	}
	if !changed {
		return models.ErrAlreadyLifted
	}
	return nil
}

func (s *Service) lift(ctx context.Context, id int64, by, reason string) (changed bool, p *models.Punishment, err error) {
	ctx, span := s.tracer.Start(ctx, "punishment.Lift", trace.WithAttributes(
		attribute.Int64("punishment.id", id),
	))
	defer func() { endSpan(span, err) }()

	if by == "" {
		by = requestcontext.Actor(ctx)
	}
	by, err = domain.ParseActor(by)
	if err != nil {
		return false, nil, err
	}

	p, err = s.store.Get(ctx, id)
	if err != nil {
		return false, nil, translate(err, "load punishment")
	}
	if !p.Type.CanLift() {
		return false, nil, dErrors.New(dErrors.CodeInvalidPunishment, p.Type.String()+" cannot be lifted")
	}

	now := requestcontext.Now(ctx)
	changed, err = s.store.Lift(ctx, id, by, reason, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to lift punishment", "punishment_id", id, "error", err)
		return false, nil, translate(err, "lift punishment")
	}
	// Invalidate even when unchanged: another instance may have lifted it
	// while this cache still holds the record.
	s.invalidate(p.Target)
	if !changed {
		return false, p, nil
	}

	p.Lift(by, reason, now)
	s.metrics.IncrementLifted(p.Type.String())
	ports.LogAudit(ctx, s.logger, s.publisher, notify.NewEvent(notify.KindLifted, p, now),
		"actor", by, "reason", reason)
	return true, p, nil
}

// History pages through the records of a target, newest first. A target
// with both a player and an address returns the records of either.
func (s *Service) History(ctx context.Context, target models.Target, limit, offset int) ([]*models.Punishment, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "offset must not be negative")
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	keys := target.Keys()
	if len(keys) == 1 {
		out, err := s.store.History(ctx, keys[0], limit, offset)
		if err != nil {
			return nil, translate(err, "load history")
		}
		return out, nil
	}

	// Each page of the union lies within the first offset+limit records of
	// each key.
	var merged []*models.Punishment
	for _, key := range keys {
		page, err := s.store.History(ctx, key, offset+limit, 0)
		if err != nil {
			return nil, translate(err, "load history")
		}
		merged = mergeNewestFirst(merged, page)
	}
	if offset >= len(merged) {
		return []*models.Punishment{}, nil
	}
	return merged[offset:min(offset+limit, len(merged))], nil
}

// Get returns a single record.
func (s *Service) Get(ctx context.Context, id int64) (*models.Punishment, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, translate(err, "load punishment")
	}
	return p, nil
}

func (s *Service) invalidate(t models.Target) {
	if s.cache != nil {
		s.cache.InvalidateTarget(t)
	}
}

// mergeNewestFirst merges two newest-first lists, dropping duplicate ids.
func mergeNewestFirst(a, b []*models.Punishment) []*models.Punishment {
	out := make([]*models.Punishment, 0, len(a)+len(b))
	seen := make(map[int64]struct{}, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var next *models.Punishment
		if j >= len(b) || (i < len(a) && newerFirst(a[i], b[j])) {
			next, i = a[i], i+1
		} else {
			next, j = b[j], j+1
		}
		if _, dup := seen[next.ID]; dup {
			continue
		}
		seen[next.ID] = struct{}{}
		out = append(out, next)
	}
	return out
}

func newerFirst(a, b *models.Punishment) bool {
	if !a.IssuedAt.Equal(b.IssuedAt) {
		return a.IssuedAt.After(b.IssuedAt)
	}
	return a.ID > b.ID
}

// translate maps store facts onto domain error codes.
func translate(err error, op string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "punishment not found")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "punishment store unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, op+" timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("failed to %s", op))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
