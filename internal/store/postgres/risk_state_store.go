package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// RiskStateStore persists the risk-state snapshot as a single JSONB row.
type RiskStateStore struct {
	pool *pgxpool.Pool
}

func NewRiskStateStore(pool *pgxpool.Pool) *RiskStateStore {
	return &RiskStateStore{pool: pool}
}

func (s *RiskStateStore) Save(ctx context.Context, state *domain.RiskState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("postgres: encode risk state: %w", err)
	}

	const query = `
		INSERT INTO risk_state (id, state, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, payload); err != nil {
		return fmt.Errorf("postgres: save risk state: %w", err)
	}
	return nil
}

func (s *RiskStateStore) Load(ctx context.Context) (*domain.RiskState, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, "SELECT state FROM risk_state WHERE id = 1").Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load risk state: %w", err)
	}

	var state domain.RiskState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("postgres: decode risk state: %w", err)
	}
	if state.GroupOpen == nil {
		state.GroupOpen = make(map[string]int)
	}
	if state.LocationDateOpen == nil {
		state.LocationDateOpen = make(map[string]int)
	}
	return &state, nil
}
