package domain

import (
	"context"
	"time"
)

// OrderRequest is a buy order for a binary contract, priced in cents.
type OrderRequest struct {
	MarketID   string
	Side       Side
	Contracts  int64
	PriceCents int64
}

// Fill confirms an executed order.
type Fill struct {
	OrderID    string
	MarketID   string
	Side       Side
	Contracts  int64
	PriceCents int64
	FilledAt   time.Time
	Paper      bool
}

// Executor is the order-execution capability. The risk manager, sizer and
// scanner depend only on this interface; the live and paper implementations
// are swappable without touching their code paths.
type Executor interface {
	// SubmitOrder places a buy order and returns the fill. An error means
	// no fill happened and any tentatively created position must be
	// cancelled.
	SubmitOrder(ctx context.Context, req OrderRequest) (Fill, error)
	// FetchSettlement reports the settlement outcome for a market, or nil
	// when the market has not resolved yet.
	FetchSettlement(ctx context.Context, marketID string) (*SettlementOutcome, error)
	// Mode identifies which lifecycle records this executor produces.
	Mode() TradeMode
}
