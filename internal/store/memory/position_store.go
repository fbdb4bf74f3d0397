// Package memory implements every store interface with in-memory maps.
// Used for tests and for paper mode without a database. Not suitable for
// live trading (no persistence across restarts).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// PositionStore is an in-memory position ledger.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
}

// NewPositionStore creates an empty in-memory ledger.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]*domain.Position)}
}

func (s *PositionStore) Create(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	copy := p
	s.positions[p.ID] = &copy
	return nil
}

func (s *PositionStore) Settle(_ context.Context, id string, status domain.PositionStatus, pnlCents int64, settledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status.Terminal() {
		return domain.ErrAlreadySettled
	}
	p.Status = status
	pnl := pnlCents
	p.PnLCents = &pnl
	t := settledAt
	p.SettledAt = &t
	return nil
}

func (s *PositionStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status.Terminal() {
		return domain.ErrAlreadySettled
	}
	p.Status = domain.PositionCancelled
	return nil
}

func (s *PositionStore) SetOrderID(_ context.Context, id, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.OrderID = orderID
	return nil
}

func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return *p, nil
}

func (s *PositionStore) ListOpen(_ context.Context) ([]domain.Position, error) {
	return s.filter(func(p *domain.Position) bool {
		return p.Status == domain.PositionOpen
	}), nil
}

func (s *PositionStore) ListOpenByGroup(_ context.Context, group string) ([]domain.Position, error) {
	return s.filter(func(p *domain.Position) bool {
		return p.Status == domain.PositionOpen && p.CorrelationGroup == group
	}), nil
}

func (s *PositionStore) ListOpenByLocationDate(_ context.Context, key string) ([]domain.Position, error) {
	return s.filter(func(p *domain.Position) bool {
		return p.Status == domain.PositionOpen && p.LocationDateKey() == key
	}), nil
}

func (s *PositionStore) RealizedPnLSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, p := range s.positions {
		if p.SettledAt != nil && !p.SettledAt.Before(since) && p.PnLCents != nil {
			total += *p.PnLCents
		}
	}
	return total, nil
}

func (s *PositionStore) CountOpenedSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, p := range s.positions {
		if !p.OpenedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// ListSettledBefore returns settled positions with a settlement time before
// the cutoff, for archival export.
func (s *PositionStore) ListSettledBefore(_ context.Context, before time.Time) ([]domain.Position, error) {
	return s.filter(func(p *domain.Position) bool {
		return p.SettledAt != nil && p.SettledAt.Before(before)
	}), nil
}

func (s *PositionStore) filter(keep func(*domain.Position) bool) []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Position
	for _, p := range s.positions {
		if keep(p) {
			out = append(out, *p)
		}
	}
	return out
}
