package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// AuditStore persists the append-only decision audit trail.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func (s *AuditStore) Log(ctx context.Context, e domain.AuditEntry) error {
	detail := e.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: encode audit detail: %w", err)
	}

	const query = `
		INSERT INTO audit_log (market_id, kind, reason, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = s.pool.Exec(ctx, query, e.MarketID, string(e.Kind), e.Reason, payload, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: log audit entry: %w", err)
	}
	return nil
}

func (s *AuditStore) ListSince(ctx context.Context, since time.Time, limit int) ([]domain.AuditEntry, error) {
	const query = `
		SELECT id, market_id, kind, reason, detail, created_at
		FROM audit_log
		WHERE created_at >= $1
		ORDER BY id
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			kind    string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.MarketID, &kind, &e.Reason, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		e.Kind = domain.RejectionKind(kind)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: decode audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListBefore returns entries created before the cutoff, for archival export.
func (s *AuditStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	const query = `
		SELECT id, market_id, kind, reason, detail, created_at
		FROM audit_log
		WHERE created_at < $1
		ORDER BY id`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries before: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			kind    string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.MarketID, &kind, &e.Reason, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		e.Kind = domain.RejectionKind(kind)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: decode audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *AuditStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM audit_log WHERE created_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
