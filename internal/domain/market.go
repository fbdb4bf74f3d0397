package domain

import "time"

// StrikeType describes the payout geometry of a binary weather contract.
type StrikeType string

const (
	StrikeLess    StrikeType = "less"    // pays YES when observed < CapStrike
	StrikeGreater StrikeType = "greater" // pays YES when observed > FloorStrike
	StrikeBetween StrikeType = "between" // pays YES when Floor < observed <= Cap
)

// MarketQuote is the current venue view of one contract. It is external
// input and read-only to the trading core. Prices are integer cents of a
// 100¢ payout.
type MarketQuote struct {
	MarketID       string // venue ticker
	EventID        string // venue event ticker (one city/date)
	Location       string
	SettlementDate time.Time
	StrikeType     StrikeType
	FloorStrike    *float64 // °F, nil when the side is unbounded
	CapStrike      *float64
	YesBid         int64
	YesAsk         int64
	LastPrice      int64
	Volume         int64
	FetchedAt      time.Time
}

// Spread returns yes_ask − yes_bid when both sides are quoted, else 0.
func (q MarketQuote) Spread() int64 {
	if q.YesAsk > 0 && q.YesBid > 0 {
		return q.YesAsk - q.YesBid
	}
	return 0
}

// StrikeDistance returns the distance from v to the nearest strike, or -1
// when the quote carries no strikes at all.
func (q MarketQuote) StrikeDistance(v float64) float64 {
	abs := func(f float64) float64 {
		if f < 0 {
			return -f
		}
		return f
	}
	switch {
	case q.FloorStrike != nil && q.CapStrike != nil:
		df, dc := abs(v-*q.FloorStrike), abs(v-*q.CapStrike)
		if df < dc {
			return df
		}
		return dc
	case q.CapStrike != nil:
		return abs(v - *q.CapStrike)
	case q.FloorStrike != nil:
		return abs(v - *q.FloorStrike)
	default:
		return -1
	}
}

// MarketResult is the venue's settlement outcome for a contract.
type MarketResult string

const (
	MarketResultYes  MarketResult = "yes"
	MarketResultNo   MarketResult = "no"
	MarketResultVoid MarketResult = "void" // venue voided the market, entry cost returned
	MarketResultOpen MarketResult = ""     // not settled yet
)

// SettlementOutcome is what the settlement collaborator reports for one
// market once the venue has resolved it.
type SettlementOutcome struct {
	MarketID   string
	Result     MarketResult
	ObservedAt time.Time
	// ActualHigh is the observed ground-truth temperature when available,
	// used for provider bias feedback. Nil when the observation fetch
	// failed; settlement still proceeds without it.
	ActualHigh *float64
}
