package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// RiskStateStore keeps the latest risk-state snapshot in memory.
type RiskStateStore struct {
	mu    sync.RWMutex
	state *domain.RiskState
}

func NewRiskStateStore() *RiskStateStore { return &RiskStateStore{} }

func (s *RiskStateStore) Save(_ context.Context, st *domain.RiskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st.Clone()
	return nil
}

func (s *RiskStateStore) Load(_ context.Context) (*domain.RiskState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil, domain.ErrNotFound
	}
	return s.state.Clone(), nil
}

// SampleStore keeps forecast samples in memory.
type SampleStore struct {
	mu      sync.RWMutex
	samples []domain.ForecastSample
}

func NewSampleStore() *SampleStore { return &SampleStore{} }

func (s *SampleStore) Insert(_ context.Context, samples []domain.ForecastSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, samples...)
	return nil
}

func (s *SampleStore) Latest(_ context.Context, location string, date time.Time, asOf time.Time) ([]domain.ForecastSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := date.UTC().Format("2006-01-02")
	latest := make(map[string]domain.ForecastSample)
	for _, sm := range s.samples {
		if sm.Location != location || sm.ValidDate.UTC().Format("2006-01-02") != day {
			continue
		}
		if sm.IssuedAt.After(asOf) {
			continue
		}
		if prev, ok := latest[sm.Provider]; !ok || sm.IssuedAt.After(prev.IssuedAt) {
			latest[sm.Provider] = sm
		}
	}

	out := make([]domain.ForecastSample, 0, len(latest))
	for _, sm := range latest {
		out = append(out, sm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

// BiasStore keeps provider bias profiles in memory.
type BiasStore struct {
	mu       sync.RWMutex
	profiles map[string]domain.BiasProfile
}

func NewBiasStore() *BiasStore {
	return &BiasStore{profiles: make(map[string]domain.BiasProfile)}
}

func biasKey(provider, location string, season domain.Season) string {
	return fmt.Sprintf("%s|%s|%s", provider, location, season)
}

func (s *BiasStore) Get(_ context.Context, provider, location string, season domain.Season) (domain.BiasProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[biasKey(provider, location, season)]
	if !ok {
		return domain.BiasProfile{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *BiasStore) GetAll(_ context.Context, location string, season domain.Season) ([]domain.BiasProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.BiasProfile
	for _, p := range s.profiles {
		if p.Location == location && p.Season == season {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *BiasStore) Upsert(_ context.Context, p domain.BiasProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[biasKey(p.Provider, p.Location, p.Season)] = p
	return nil
}

// AuditStore keeps audit entries in memory.
type AuditStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries []domain.AuditEntry
}

func NewAuditStore() *AuditStore { return &AuditStore{nextID: 1} }

func (s *AuditStore) Log(_ context.Context, e domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.nextID
	s.nextID++
	s.entries = append(s.entries, e)
	return nil
}

func (s *AuditStore) ListSince(_ context.Context, since time.Time, limit int) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListBefore returns entries created before the cutoff, for archival export.
func (s *AuditStore) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AuditEntry
	for _, e := range s.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *AuditStore) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var removed int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}
