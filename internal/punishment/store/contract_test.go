package store_test

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/Proximyst/ban/internal/punishment/models"
	"github.com/Proximyst/ban/pkg/platform/sentinel"
)

// Store is the behaviour every backend shares.
type Store interface {
	Insert(ctx context.Context, p *models.Punishment) (*models.Punishment, error)
	FindActiveCandidates(ctx context.Context, key models.Key, asOf time.Time) ([]*models.Punishment, error)
	Lift(ctx context.Context, id int64, by, reason string, at time.Time) (bool, error)
	History(ctx context.Context, key models.Key, limit, offset int) ([]*models.Punishment, error)
	Get(ctx context.Context, id int64) (*models.Punishment, error)
}

// ContractSuite runs the same assertions against every store backend.
//
// Justification: the cache and the service depend only on these semantics,
// so each backend must agree on filtering, ordering and lift atomicity.
type ContractSuite struct {
	suite.Suite
	newStore func() Store
	store    Store
	ctx      context.Context
	t0       time.Time
	player   models.Target
	ip       netip.Addr
}

func (s *ContractSuite) SetupTest() {
	s.store = s.newStore()
	s.ctx = context.Background()
	s.t0 = time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	s.player = models.PlayerTarget(uuid.New())
	s.ip = netip.MustParseAddr("198.51.100.23")
}

func (s *ContractSuite) insert(typ models.Type, target models.Target, issued time.Time, expires *time.Time) *models.Punishment {
	p, err := models.New(typ, target, "console", "reason "+typ.String(), issued, expires)
	s.Require().NoError(err)
	stored, err := s.store.Insert(s.ctx, p)
	s.Require().NoError(err)
	return stored
}

func (s *ContractSuite) after(d time.Duration) *time.Time {
	t := s.t0.Add(d)
	return &t
}

func ids(ps []*models.Punishment) []int64 {
	out := make([]int64, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func (s *ContractSuite) TestInsert() {
	s.Run("assigns increasing ids and returns the canonical copy", func() {
		p, err := models.New(models.TypeBan, s.player, "console", "", s.t0, s.after(time.Hour))
		s.Require().NoError(err)

		first, err := s.store.Insert(s.ctx, p)
		s.Require().NoError(err)
		second := s.insert(models.TypeNote, s.player, s.t0, nil)

		s.Positive(first.ID)
		s.Greater(second.ID, first.ID)
		s.Zero(p.ID, "caller's record must not be mutated")

		got, err := s.store.Get(s.ctx, first.ID)
		s.Require().NoError(err)
		s.Equal(models.TypeBan, got.Type)
		s.Equal(s.player, got.Target)
		s.True(s.t0.Equal(got.IssuedAt))
		s.Require().NotNil(got.ExpiresAt)
		s.True(s.t0.Add(time.Hour).Equal(*got.ExpiresAt))
		s.False(got.Lifted)
		s.Nil(got.LiftedAt)
	})
}

func (s *ContractSuite) TestFindActiveCandidates() {
	asOf := s.t0.Add(2 * time.Hour)
	permanent := s.insert(models.TypeBan, s.player, s.t0, nil)
	mute := s.insert(models.TypeMute, s.player, s.t0, s.after(3*time.Hour))
	s.insert(models.TypeBan, s.player, s.t0, s.after(time.Hour))       // expired
	s.insert(models.TypeBan, s.player, s.t0, s.after(2*time.Hour))     // expires exactly at asOf
	s.insert(models.TypeBan, s.player, s.t0.Add(3*time.Hour), nil)    // issued in the future
	lifted := s.insert(models.TypeBan, s.player, s.t0, nil)
	kick := s.insert(models.TypeKick, s.player, s.t0, nil)
	s.insert(models.TypeBan, models.PlayerTarget(uuid.New()), s.t0, nil) // another player

	changed, err := s.store.Lift(s.ctx, lifted.ID, "console", "appeal", s.t0.Add(time.Minute))
	s.Require().NoError(err)
	s.Require().True(changed)

	s.Run("returns unlifted unexpired records of every type", func() {
		got, err := s.store.FindActiveCandidates(s.ctx, models.PlayerKey(s.player.PlayerID), asOf)
		s.Require().NoError(err)
		s.ElementsMatch([]int64{permanent.ID, mute.ID, kick.ID}, ids(got))
	})

	s.Run("unknown key yields an empty result", func() {
		got, err := s.store.FindActiveCandidates(s.ctx, models.IPKey(netip.MustParseAddr("192.0.2.1")), asOf)
		s.Require().NoError(err)
		s.Empty(got)
	})

	s.Run("records with both components match either key", func() {
		both := models.Target{PlayerID: uuid.New(), IP: s.ip}
		rec := s.insert(models.TypeBan, both, s.t0, nil)

		byIP, err := s.store.FindActiveCandidates(s.ctx, models.IPKey(s.ip), asOf)
		s.Require().NoError(err)
		s.Equal([]int64{rec.ID}, ids(byIP))

		byPlayer, err := s.store.FindActiveCandidates(s.ctx, models.PlayerKey(both.PlayerID), asOf)
		s.Require().NoError(err)
		s.Equal([]int64{rec.ID}, ids(byPlayer))
	})
}

func (s *ContractSuite) TestLift() {
	s.Run("first lift changes, second is a no-op", func() {
		rec := s.insert(models.TypeBan, s.player, s.t0, nil)
		first := s.t0.Add(time.Minute)

		changed, err := s.store.Lift(s.ctx, rec.ID, "console", "appeal", first)
		s.Require().NoError(err)
		s.True(changed)

		changed, err = s.store.Lift(s.ctx, rec.ID, "system", "again", first.Add(time.Hour))
		s.Require().NoError(err)
		s.False(changed)

		got, err := s.store.Get(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.True(got.Lifted)
		s.Require().NotNil(got.LiftedAt)
		s.True(first.Equal(*got.LiftedAt))
		s.Equal("console", *got.LiftedBy)
		s.Equal("appeal", *got.LiftReason)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.Lift(s.ctx, 987654, "console", "", s.t0)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("concurrent lifts change the record exactly once", func() {
		rec := s.insert(models.TypeMute, s.player, s.t0, nil)
		var (
			wg      sync.WaitGroup
			changes atomic.Int32
		)
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				changed, err := s.store.Lift(s.ctx, rec.ID, "console", "race", s.t0.Add(time.Duration(i)*time.Second))
				if err == nil && changed {
					changes.Add(1)
				}
			}()
		}
		wg.Wait()
		s.Equal(int32(1), changes.Load())
	})
}

func (s *ContractSuite) TestHistory() {
	key := models.PlayerKey(s.player.PlayerID)
	a := s.insert(models.TypeWarn, s.player, s.t0, nil)
	b := s.insert(models.TypeBan, s.player, s.t0.Add(time.Hour), s.after(2*time.Hour))
	c := s.insert(models.TypeNote, s.player, s.t0.Add(time.Hour), nil) // same instant as b, higher id
	d := s.insert(models.TypeKick, s.player, s.t0.Add(3*time.Hour), nil)
	_, err := s.store.Lift(s.ctx, b.ID, "console", "", s.t0.Add(90*time.Minute))
	s.Require().NoError(err)

	s.Run("newest first including lifted and expired", func() {
		got, err := s.store.History(s.ctx, key, 10, 0)
		s.Require().NoError(err)
		s.Equal([]int64{d.ID, c.ID, b.ID, a.ID}, ids(got))
		s.True(got[2].Lifted)
	})

	s.Run("paginates", func() {
		page, err := s.store.History(s.ctx, key, 2, 1)
		s.Require().NoError(err)
		s.Equal([]int64{c.ID, b.ID}, ids(page))

		page, err = s.store.History(s.ctx, key, 2, 4)
		s.Require().NoError(err)
		s.Empty(page)
	})

	s.Run("zero limit returns nothing", func() {
		page, err := s.store.History(s.ctx, key, 0, 0)
		s.Require().NoError(err)
		s.Empty(page)
	})
}

func (s *ContractSuite) TestGetNotFound() {
	_, err := s.store.Get(s.ctx, 424242)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
