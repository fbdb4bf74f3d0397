package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// SampleStore persists raw forecast samples.
type SampleStore struct {
	pool *pgxpool.Pool
}

func NewSampleStore(pool *pgxpool.Pool) *SampleStore {
	return &SampleStore{pool: pool}
}

func (s *SampleStore) Insert(ctx context.Context, samples []domain.ForecastSample) error {
	if len(samples) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, sm := range samples {
		batch.Queue(`
			INSERT INTO forecast_samples (provider, location, valid_date, predicted, issued_at)
			VALUES ($1, $2, $3, $4, $5)`,
			sm.Provider, sm.Location, sm.ValidDate, sm.Predicted, sm.IssuedAt)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range samples {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: insert forecast samples: %w", err)
		}
	}
	return nil
}

// Latest returns the most recent sample per provider for the location/date,
// considering only samples issued at or before asOf.
func (s *SampleStore) Latest(ctx context.Context, location string, date time.Time, asOf time.Time) ([]domain.ForecastSample, error) {
	const query = `
		SELECT DISTINCT ON (provider) provider, location, valid_date, predicted, issued_at
		FROM forecast_samples
		WHERE location = $1 AND valid_date = $2 AND issued_at <= $3
		ORDER BY provider, issued_at DESC`

	rows, err := s.pool.Query(ctx, query, location, date, asOf)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest samples: %w", err)
	}
	defer rows.Close()

	var out []domain.ForecastSample
	for rows.Next() {
		var sm domain.ForecastSample
		if err := rows.Scan(&sm.Provider, &sm.Location, &sm.ValidDate, &sm.Predicted, &sm.IssuedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan sample: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}
