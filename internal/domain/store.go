package domain

import (
	"context"
	"time"
)

// PositionStore is the append-only position lifecycle ledger. Positions are
// created open, transition to a terminal status exactly once, and are never
// deleted. Open exposure must be reconstructable from this ledger alone.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	// Settle applies the terminal win/loss transition. It returns
	// ErrAlreadySettled when the position is already terminal, making
	// settlement replay a no-op for callers that check the error.
	Settle(ctx context.Context, id string, status PositionStatus, pnlCents int64, settledAt time.Time) error
	// Cancel marks a tentatively created position cancelled after an
	// execution failure. Same exactly-once contract as Settle.
	Cancel(ctx context.Context, id string) error
	// SetOrderID attaches the venue order id once the fill is confirmed.
	SetOrderID(ctx context.Context, id, orderID string) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListOpenByGroup(ctx context.Context, group string) ([]Position, error)
	ListOpenByLocationDate(ctx context.Context, key string) ([]Position, error)
	RealizedPnLSince(ctx context.Context, since time.Time) (int64, error)
	// CountOpenedSince counts positions opened at or after since, cancelled
	// ones included. Used to rebuild trade-count caps after a restart.
	CountOpenedSince(ctx context.Context, since time.Time) (int, error)
}

// RiskStateStore persists RiskState snapshots so a restart resumes with the
// last known loss-limit accounting. The snapshot is advisory: the position
// ledger stays the source of truth for open exposure and the loaded snapshot
// is cross-checked against it at startup.
type RiskStateStore interface {
	Save(ctx context.Context, s *RiskState) error
	Load(ctx context.Context) (*RiskState, error) // ErrNotFound when empty
}

// SampleStore persists raw forecast samples for bias learning and audit.
type SampleStore interface {
	Insert(ctx context.Context, samples []ForecastSample) error
	// Latest returns, per provider, the most recent sample for the
	// location/date at or before asOf.
	Latest(ctx context.Context, location string, date time.Time, asOf time.Time) ([]ForecastSample, error)
}

// BiasStore persists learned provider bias profiles.
type BiasStore interface {
	Get(ctx context.Context, provider, location string, season Season) (BiasProfile, error)
	GetAll(ctx context.Context, location string, season Season) ([]BiasProfile, error)
	Upsert(ctx context.Context, p BiasProfile) error
}

// AuditEntry is one append-only audit row: every admitted, rejected or
// errored candidate produces exactly one.
type AuditEntry struct {
	ID        int64
	MarketID  string
	Kind      RejectionKind
	Reason    string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists the decision audit trail.
type AuditStore interface {
	Log(ctx context.Context, e AuditEntry) error
	ListSince(ctx context.Context, since time.Time, limit int) ([]AuditEntry, error)
	// DeleteBefore removes rows older than cutoff after archival.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// QuoteCache caches venue quotes between the WebSocket feed and the scanner.
type QuoteCache interface {
	Set(ctx context.Context, q MarketQuote) error
	Get(ctx context.Context, marketID string) (MarketQuote, error) // ErrNotFound on miss
}

// CycleLockKey serializes evaluation and settlement passes. Both the
// scanner and the settlement processor acquire it, so the two never
// interleave within a process or across instances.
const CycleLockKey = "weatherbot:eval-cycle"

// LockManager provides a distributed mutex so only one bot instance runs an
// evaluation or settlement pass at a time.
type LockManager interface {
	// Acquire returns an unlock function, or ErrLockHeld.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
