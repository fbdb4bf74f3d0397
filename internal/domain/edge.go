package domain

import "time"

// EdgeSignal is the priced output of the edge calculator for one market
// side. Transient: one per evaluation per market, recorded in the audit log
// but never treated as durable state.
type EdgeSignal struct {
	MarketID          string
	Location          string
	SettlementDate    time.Time
	Side              Side
	PriceCents        int64 // executable market price for this side
	ModelFairCents    int64 // model-only fair value
	BlendedFairCents  int64 // after market blending
	RawEdgeCents      float64
	AdjustedEdgeCents float64 // raw edge × confidence
	Confidence        float64
	ForecastMean      float64
}

// Candidate bundles everything the risk manager needs to admit one trade:
// the priced signal, its sizing, and the evaluation context that produced it.
type Candidate struct {
	Quote     MarketQuote
	Signal    EdgeSignal
	Forecast  AggregatedForecast
	Samples   []ForecastSample
	Contracts int64
	CostCents int64
	Mode      TradeMode
}
