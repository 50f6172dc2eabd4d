package service

//go:generate mockgen -source=../ports/ports.go -destination=mocks/mocks.go -package=mocks Store,CacheInvalidator,EventPublisher

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/Proximyst/ban/internal/notify"
	"github.com/Proximyst/ban/internal/platform/logger"
	"github.com/Proximyst/ban/internal/punishment/metrics"
	"github.com/Proximyst/ban/internal/punishment/models"
	"github.com/Proximyst/ban/internal/punishment/service/mocks"
	"github.com/Proximyst/ban/pkg/domain"
	dErrors "github.com/Proximyst/ban/pkg/domain-errors"
	"github.com/Proximyst/ban/pkg/platform/sentinel"
	"github.com/Proximyst/ban/pkg/requestcontext"
)

// =============================================================================
// Service Test Suite
// =============================================================================
// The service owns write ordering (store, then cache, then event), retry of
// an unavailable store and error translation. Collaborators are mocked so
// each of those steps can be asserted on its own.

var t0 = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	store     *mocks.MockStore
	cache     *mocks.MockCacheInvalidator
	publisher *mocks.MockEventPublisher
	metrics   *metrics.Metrics
	service   *Service
	ctx       context.Context
	player    uuid.UUID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.cache = mocks.NewMockCacheInvalidator(s.ctrl)
	s.publisher = mocks.NewMockEventPublisher(s.ctrl)
	s.metrics = metrics.New(nil)
	s.player = uuid.New()

	var err error
	s.service, err = New(s.store,
		WithCache(s.cache),
		WithPublisher(s.publisher),
		WithLogger(logger.Discard()),
		WithMetrics(s.metrics),
		WithRetry(RetryConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			MaxElapsed:      time.Second,
			MaxTries:        3,
		}),
	)
	s.Require().NoError(err)
	s.ctx = requestcontext.WithTime(context.Background(), t0)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) stored(typ models.Type, id int64) *models.Punishment {
	p, err := models.New(typ, models.PlayerTarget(s.player), domain.ActorConsole, "reason", t0.Add(-time.Hour), nil)
	s.Require().NoError(err)
	p.ID = id
	return p
}

func assignID(id int64) func(context.Context, *models.Punishment) (*models.Punishment, error) {
	return func(_ context.Context, p *models.Punishment) (*models.Punishment, error) {
		out := p.Clone()
		out.ID = id
		return out, nil
	}
}

func (s *ServiceSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil)
		s.ErrorContains(err, "punishment store is required")
	})

	s.Run("options are applied", func() {
		log := logger.Discard()
		svc, err := New(s.store, WithLogger(log), WithPublisher(s.publisher))
		s.Require().NoError(err)
		s.Equal(log, svc.logger)
		s.Equal(s.publisher, svc.publisher)
		s.Nil(svc.cache)
	})
}

func (s *ServiceSuite) TestIssue() {
	s.Run("persists then invalidates then announces", func() {
		target := models.Target{PlayerID: s.player, IP: netip.MustParseAddr("198.51.100.4")}
		expires := t0.Add(time.Hour)

		var event notify.Event
		gomock.InOrder(
			s.store.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(assignID(11)),
			s.cache.EXPECT().InvalidateTarget(target),
			s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, e notify.Event) error {
					event = e
					return nil
				}),
		)

		p, err := s.service.Issue(s.ctx, IssueRequest{
			Type:      models.TypeBan,
			Target:    target,
			Actor:     domain.ActorConsole,
			Reason:    "x-ray",
			ExpiresAt: &expires,
		})
		s.Require().NoError(err)
		s.Equal(int64(11), p.ID)
		s.Equal(t0, p.IssuedAt)
		s.Equal(expires, *p.ExpiresAt)

		s.Equal(notify.KindCreated, event.Kind)
		s.Equal(int64(11), event.Punishment.ID)
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.PunishmentsIssued.WithLabelValues("BAN")))
	})

	s.Run("actor defaults to the request actor", func() {
		admin := uuid.New()
		ctx := requestcontext.WithActor(s.ctx, admin.String())
		s.store.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(assignID(12))
		s.cache.EXPECT().InvalidateTarget(gomock.Any())
		s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		p, err := s.service.Issue(ctx, IssueRequest{Type: models.TypeWarn, Target: models.PlayerTarget(s.player)})
		s.Require().NoError(err)
		s.Equal(admin.String(), p.Actor)
	})

	s.Run("invalid punishment never reaches the store", func() {
		past := t0.Add(-time.Minute)
		cases := []IssueRequest{
			{Type: models.TypeBan, Actor: domain.ActorConsole},
			{Type: models.TypeBan, Target: models.PlayerTarget(s.player), Actor: domain.ActorConsole, ExpiresAt: &past},
			{Type: models.TypeKick, Target: models.PlayerTarget(s.player), Actor: domain.ActorConsole, ExpiresAt: &past},
			{Type: models.Type(42), Target: models.PlayerTarget(s.player), Actor: domain.ActorConsole},
		}
		for _, req := range cases {
			_, err := s.service.Issue(s.ctx, req)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidPunishment), "got %v", err)
		}
	})

	s.Run("unavailable store is retried", func() {
		unavailable := fmt.Errorf("insert punishment: %w", sentinel.ErrUnavailable)
		gomock.InOrder(
			s.store.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil, unavailable).Times(2),
			s.store.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(assignID(13)),
		)
		s.cache.EXPECT().InvalidateTarget(gomock.Any())
		s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		p, err := s.service.Issue(s.ctx, IssueRequest{Type: models.TypeMute, Target: models.PlayerTarget(s.player), Actor: domain.ActorSystem})
		s.Require().NoError(err)
		s.Equal(int64(13), p.ID)
		s.Positive(testutil.ToFloat64(s.metrics.StoreRetries))
	})

	s.Run("exhausted retries surface unavailable", func() {
		unavailable := fmt.Errorf("insert punishment: %w", sentinel.ErrUnavailable)
		s.store.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil, unavailable).Times(3)

		_, err := s.service.Issue(s.ctx, IssueRequest{Type: models.TypeBan, Target: models.PlayerTarget(s.player), Actor: domain.ActorConsole})
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.ErrorIs(err, sentinel.ErrUnavailable)
	})

	s.Run("other store errors are not retried", func() {
		s.store.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil, errors.New("check constraint")).Times(1)

		_, err := s.service.Issue(s.ctx, IssueRequest{Type: models.TypeBan, Target: models.PlayerTarget(s.player), Actor: domain.ActorConsole})
		s.Equal(dErrors.CodeInternal, dErrors.CodeOf(err))
	})

	s.Run("event failure does not fail the write", func() {
		s.store.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(assignID(14))
		s.cache.EXPECT().InvalidateTarget(gomock.Any())
		s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(notify.ErrBufferFull)

		_, err := s.service.Issue(s.ctx, IssueRequest{Type: models.TypeNote, Target: models.PlayerTarget(s.player), Actor: domain.ActorConsole})
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestLift() {
	s.Run("lifts and announces", func() {
		ban := s.stored(models.TypeBan, 21)
		s.store.EXPECT().Get(gomock.Any(), int64(21)).Return(ban, nil)
		s.store.EXPECT().Lift(gomock.Any(), int64(21), domain.ActorConsole, "appeal", t0).Return(true, nil)
		s.cache.EXPECT().InvalidateTarget(ban.Target)

		var event notify.Event
		s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, e notify.Event) error {
				event = e
				return nil
			})

		changed, err := s.service.Lift(s.ctx, 21, domain.ActorConsole, "appeal")
		s.Require().NoError(err)
		s.True(changed)
		s.Equal(notify.KindLifted, event.Kind)
		s.True(event.Punishment.Lifted)
		s.Equal("appeal", *event.Punishment.LiftReason)
	})

	s.Run("already lifted is not an error", func() {
		ban := s.stored(models.TypeBan, 22)
		s.store.EXPECT().Get(gomock.Any(), int64(22)).Return(ban, nil)
		s.store.EXPECT().Lift(gomock.Any(), int64(22), gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil)
		s.cache.EXPECT().InvalidateTarget(ban.Target)

		changed, err := s.service.Lift(s.ctx, 22, domain.ActorConsole, "")
		s.NoError(err)
		s.False(changed)
	})

	s.Run("strict lift reports already lifted", func() {
		mute := s.stored(models.TypeMute, 23)
		s.store.EXPECT().Get(gomock.Any(), int64(23)).Return(mute, nil)
		s.store.EXPECT().Lift(gomock.Any(), int64(23), gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil)
		s.cache.EXPECT().InvalidateTarget(gomock.Any())

		err := s.service.LiftStrict(s.ctx, 23, domain.ActorConsole, "")
		s.ErrorIs(err, models.ErrAlreadyLifted)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown id", func() {
		s.store.EXPECT().Get(gomock.Any(), int64(99)).Return(nil, fmt.Errorf("get punishment: %w", sentinel.ErrNotFound))

		_, err := s.service.Lift(s.ctx, 99, domain.ActorConsole, "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("instantaneous types cannot be lifted", func() {
		s.store.EXPECT().Get(gomock.Any(), int64(24)).Return(s.stored(models.TypeKick, 24), nil)

		_, err := s.service.Lift(s.ctx, 24, domain.ActorConsole, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidPunishment))
	})

	s.Run("lifter defaults to the request actor", func() {
		ctx := requestcontext.WithActor(s.ctx, domain.ActorSystem)
		ban := s.stored(models.TypeBan, 25)
		s.store.EXPECT().Get(gomock.Any(), int64(25)).Return(ban, nil)
		s.store.EXPECT().Lift(gomock.Any(), int64(25), domain.ActorSystem, "", t0).Return(true, nil)
		s.cache.EXPECT().InvalidateTarget(gomock.Any())
		s.publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

		_, err := s.service.Lift(ctx, 25, "", "")
		s.NoError(err)
	})

	s.Run("invalid lifter", func() {
		_, err := s.service.Lift(s.ctx, 25, "nobody", "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("store unavailable", func() {
		ban := s.stored(models.TypeBan, 26)
		s.store.EXPECT().Get(gomock.Any(), int64(26)).Return(ban, nil)
		s.store.EXPECT().Lift(gomock.Any(), int64(26), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(false, fmt.Errorf("lift punishment: %w", sentinel.ErrUnavailable))

		_, err := s.service.Lift(s.ctx, 26, domain.ActorConsole, "")
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	})
}

func (s *ServiceSuite) TestGet() {
	s.store.EXPECT().Get(gomock.Any(), int64(5)).Return(nil, fmt.Errorf("get: %w", sentinel.ErrNotFound))
	_, err := s.service.Get(s.ctx, 5)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestHistoryLimits() {
	key := models.PlayerKey(s.player)

	s.Run("default limit", func() {
		s.store.EXPECT().History(gomock.Any(), key, DefaultHistoryLimit, 0).Return(nil, nil)
		_, err := s.service.History(s.ctx, models.PlayerTarget(s.player), 0, 0)
		s.NoError(err)
	})

	s.Run("limit is capped", func() {
		s.store.EXPECT().History(gomock.Any(), key, MaxHistoryLimit, 10).Return(nil, nil)
		_, err := s.service.History(s.ctx, models.PlayerTarget(s.player), 10_000, 10)
		s.NoError(err)
	})

	s.Run("negative offset", func() {
		_, err := s.service.History(s.ctx, models.PlayerTarget(s.player), 5, -1)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("empty target", func() {
		_, err := s.service.History(s.ctx, models.Target{}, 5, 0)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidPunishment))
	})
}
