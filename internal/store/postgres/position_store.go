package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// PositionStore implements domain.PositionStore on PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, market_id, order_id, location, settlement_date,
	correlation_group, side, contracts, entry_price_cents, entry_cost_cents,
	status, mode, pnl_cents, samples, opened_at, settled_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p            domain.Position
		side, status string
		mode         string
		samplesJSON  []byte
	)
	err := row.Scan(
		&p.ID, &p.MarketID, &p.OrderID, &p.Location, &p.SettlementDate,
		&p.CorrelationGroup, &side, &p.Contracts, &p.EntryPriceCents, &p.EntryCostCents,
		&status, &mode, &p.PnLCents, &samplesJSON, &p.OpenedAt, &p.SettledAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	p.Mode = domain.TradeMode(mode)
	if len(samplesJSON) > 0 {
		if err := json.Unmarshal(samplesJSON, &p.Samples); err != nil {
			return domain.Position{}, fmt.Errorf("decode samples for %s: %w", p.ID, err)
		}
	}
	return p, nil
}

func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	samplesJSON, err := json.Marshal(p.Samples)
	if err != nil {
		return fmt.Errorf("postgres: encode samples: %w", err)
	}

	const query = `
		INSERT INTO positions (
			id, market_id, order_id, location, settlement_date,
			correlation_group, side, contracts, entry_price_cents, entry_cost_cents,
			status, mode, pnl_cents, samples, opened_at, settled_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16
		)`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.MarketID, p.OrderID, p.Location, p.SettlementDate,
		p.CorrelationGroup, string(p.Side), p.Contracts, p.EntryPriceCents, p.EntryCostCents,
		string(p.Status), string(p.Mode), p.PnLCents, samplesJSON, p.OpenedAt, p.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Settle performs the open -> terminal transition exactly once. The status
// guard in the WHERE clause makes concurrent or replayed settlements
// harmless: the second caller sees ErrAlreadySettled.
func (s *PositionStore) Settle(ctx context.Context, id string, status domain.PositionStatus, pnlCents int64, settledAt time.Time) error {
	const query = `
		UPDATE positions
		SET status = $2, pnl_cents = $3, settled_at = $4
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, string(status), pnlCents, settledAt)
	if err != nil {
		return fmt.Errorf("postgres: settle position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissedUpdate(ctx, id)
	}
	return nil
}

func (s *PositionStore) Cancel(ctx context.Context, id string) error {
	const query = `
		UPDATE positions
		SET status = 'cancelled'
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: cancel position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMissedUpdate(ctx, id)
	}
	return nil
}

func (s *PositionStore) SetOrderID(ctx context.Context, id, orderID string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE positions SET order_id = $2 WHERE id = $1", id, orderID)
	if err != nil {
		return fmt.Errorf("postgres: set order id for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// classifyMissedUpdate distinguishes a missing row from one already in a
// terminal state.
func (s *PositionStore) classifyMissedUpdate(ctx context.Context, id string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM positions WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check position %s: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrAlreadySettled
}

func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := "SELECT " + positionSelectCols + " FROM positions WHERE id = $1"
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	query := "SELECT " + positionSelectCols + " FROM positions WHERE status = 'open' ORDER BY opened_at"
	return s.list(ctx, query)
}

func (s *PositionStore) ListOpenByGroup(ctx context.Context, group string) ([]domain.Position, error) {
	query := "SELECT " + positionSelectCols + ` FROM positions
		WHERE status = 'open' AND correlation_group = $1 ORDER BY opened_at`
	return s.list(ctx, query, group)
}

func (s *PositionStore) ListOpenByLocationDate(ctx context.Context, key string) ([]domain.Position, error) {
	// Key layout is "<location>_<yyyy-mm-dd>", see domain.LocationDateKey.
	i := strings.LastIndex(key, "_")
	if i < 1 || i == len(key)-1 {
		return nil, fmt.Errorf("postgres: malformed location-date key %q", key)
	}
	date, err := time.Parse("2006-01-02", key[i+1:])
	if err != nil {
		return nil, fmt.Errorf("postgres: malformed location-date key %q: %w", key, err)
	}
	query := "SELECT " + positionSelectCols + ` FROM positions
		WHERE status = 'open' AND location = $1 AND settlement_date = $2 ORDER BY opened_at`
	return s.list(ctx, query, key[:i], date)
}

func (s *PositionStore) RealizedPnLSince(ctx context.Context, since time.Time) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(pnl_cents), 0) FROM positions
		WHERE settled_at IS NOT NULL AND settled_at >= $1`

	var total int64
	if err := s.pool.QueryRow(ctx, query, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: realized pnl since %s: %w", since, err)
	}
	return total, nil
}

// ListSettledBefore returns settled positions with a settlement time before
// the cutoff, for archival export.
func (s *PositionStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	query := "SELECT " + positionSelectCols + ` FROM positions
		WHERE settled_at IS NOT NULL AND settled_at < $1 ORDER BY settled_at`
	return s.list(ctx, query, before)
}

func (s *PositionStore) CountOpenedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM positions WHERE opened_at >= $1", since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count opened since %s: %w", since, err)
	}
	return n, nil
}

func (s *PositionStore) list(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
