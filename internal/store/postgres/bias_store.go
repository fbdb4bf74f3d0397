package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// BiasStore persists learned provider bias profiles.
type BiasStore struct {
	pool *pgxpool.Pool
}

func NewBiasStore(pool *pgxpool.Pool) *BiasStore {
	return &BiasStore{pool: pool}
}

func (s *BiasStore) Get(ctx context.Context, provider, location string, season domain.Season) (domain.BiasProfile, error) {
	const query = `
		SELECT provider, location, season, correction, avg_abs_err, samples, updated_at
		FROM bias_profiles
		WHERE provider = $1 AND location = $2 AND season = $3`

	p, err := scanBiasProfile(s.pool.QueryRow(ctx, query, provider, location, string(season)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BiasProfile{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BiasProfile{}, fmt.Errorf("postgres: get bias profile: %w", err)
	}
	return p, nil
}

func (s *BiasStore) GetAll(ctx context.Context, location string, season domain.Season) ([]domain.BiasProfile, error) {
	const query = `
		SELECT provider, location, season, correction, avg_abs_err, samples, updated_at
		FROM bias_profiles
		WHERE location = $1 AND season = $2
		ORDER BY provider`

	rows, err := s.pool.Query(ctx, query, location, string(season))
	if err != nil {
		return nil, fmt.Errorf("postgres: list bias profiles: %w", err)
	}
	defer rows.Close()

	var out []domain.BiasProfile
	for rows.Next() {
		p, err := scanBiasProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bias profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *BiasStore) Upsert(ctx context.Context, p domain.BiasProfile) error {
	const query = `
		INSERT INTO bias_profiles (provider, location, season, correction, avg_abs_err, samples, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider, location, season) DO UPDATE SET
			correction  = EXCLUDED.correction,
			avg_abs_err = EXCLUDED.avg_abs_err,
			samples     = EXCLUDED.samples,
			updated_at  = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		p.Provider, p.Location, string(p.Season), p.Correction, p.AvgAbsErr, p.Samples, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert bias profile: %w", err)
	}
	return nil
}

func scanBiasProfile(row pgx.Row) (domain.BiasProfile, error) {
	var (
		p      domain.BiasProfile
		season string
	)
	err := row.Scan(&p.Provider, &p.Location, &season, &p.Correction, &p.AvgAbsErr, &p.Samples, &p.UpdatedAt)
	if err != nil {
		return domain.BiasProfile{}, err
	}
	p.Season = domain.Season(season)
	return p, nil
}
