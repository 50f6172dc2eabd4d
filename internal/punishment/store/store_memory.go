package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Proximyst/ban/internal/punishment/models"
	"github.com/Proximyst/ban/pkg/platform/sentinel"
)

// InMemoryStore keeps punishments in process memory. It serves tests and
// throwaway dev servers; records are lost on restart.
type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]*models.Punishment
	byKey   map[models.Key][]int64
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[int64]*models.Punishment),
		byKey:   make(map[models.Key][]int64),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, p *models.Punishment) (*models.Punishment, error) {
	if p == nil {
		return nil, errors.New("punishment is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	stored := p.Clone()
	stored.ID = s.nextID
	stored.Lifted = false
	stored.LiftedAt, stored.LiftedBy, stored.LiftReason = nil, nil, nil

	s.records[stored.ID] = stored
	for _, key := range stored.Target.Keys() {
		s.byKey[key] = append(s.byKey[key], stored.ID)
	}
	return stored.Clone(), nil
}

func (s *InMemoryStore) FindActiveCandidates(_ context.Context, key models.Key, asOf time.Time) ([]*models.Punishment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Punishment, 0)
	for _, id := range s.byKey[key] {
		p := s.records[id]
		if p.Lifted || p.IssuedAt.After(asOf) {
			continue
		}
		if p.ExpiresAt != nil && !p.ExpiresAt.After(asOf) {
			continue
		}
		out = append(out, p.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) Lift(_ context.Context, id int64, by, reason string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.records[id]
	if !ok {
		return false, fmt.Errorf("punishment %d: %w", id, sentinel.ErrNotFound)
	}
	return p.Lift(by, reason, at), nil
}

func (s *InMemoryStore) History(_ context.Context, key models.Key, limit, offset int) ([]*models.Punishment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.Punishment, 0, len(s.byKey[key]))
	for _, id := range s.byKey[key] {
		all = append(all, s.records[id].Clone())
	}
	sortNewestFirst(all)

	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= len(all) {
		return []*models.Punishment{}, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (s *InMemoryStore) Get(_ context.Context, id int64) (*models.Punishment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("punishment %d: %w", id, sentinel.ErrNotFound)
	}
	return p.Clone(), nil
}

func sortNewestFirst(ps []*models.Punishment) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].IssuedAt.Equal(ps[j].IssuedAt) {
			return ps[i].IssuedAt.After(ps[j].IssuedAt)
		}
		return ps[i].ID > ps[j].ID
	})
}
