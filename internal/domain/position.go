package domain

import "time"

// Side is the contract side a position holds.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// PositionStatus tracks the position lifecycle. A position is created open
// and transitions exactly once to a terminal status; records are never
// deleted.
type PositionStatus string

const (
	PositionOpen        PositionStatus = "open"
	PositionSettledWin  PositionStatus = "settled_win"
	PositionSettledLoss PositionStatus = "settled_loss"
	PositionCancelled   PositionStatus = "cancelled"
)

// Terminal reports whether s is a terminal status.
func (s PositionStatus) Terminal() bool {
	return s != PositionOpen
}

// TradeMode distinguishes live positions from paper-simulated ones.
type TradeMode string

const (
	ModeLive  TradeMode = "live"
	ModePaper TradeMode = "paper"
)

// Position is the durable record of one admitted trade. Contracts and
// EntryCostCents are immutable after creation; only Status (and the
// settlement fields) change, via a single terminal transition.
type Position struct {
	ID               string // uuid
	MarketID         string
	OrderID          string // venue or paper order id for the entry fill
	Location         string
	SettlementDate   time.Time
	CorrelationGroup string
	Side             Side
	Contracts        int64
	EntryPriceCents  int64 // per contract
	EntryCostCents   int64 // Contracts * EntryPriceCents
	Status           PositionStatus
	Mode             TradeMode
	OpenedAt         time.Time
	SettledAt        *time.Time
	PnLCents         *int64 // realized, set on settlement
	// Evaluation context captured at admission, kept for bias feedback
	// and audit. Samples are the exact forecast samples the edge was
	// computed from.
	Samples []ForecastSample
}

// LocationDateKey identifies the one-position-per-city-per-day bucket.
func (p Position) LocationDateKey() string {
	return LocationDateKey(p.Location, p.SettlementDate)
}

// LocationDateKey builds the dedup key for a location and settlement date.
func LocationDateKey(location string, date time.Time) string {
	return location + "_" + date.UTC().Format("2006-01-02")
}

// SettlementPnLCents returns the realized P&L for a binary contract position
// given the venue result: the full payout minus cost on a win, the full cost
// on a loss.
func SettlementPnLCents(p Position, result MarketResult) int64 {
	if string(result) == string(p.Side) {
		return (100 - p.EntryPriceCents) * p.Contracts
	}
	return -p.EntryPriceCents * p.Contracts
}
