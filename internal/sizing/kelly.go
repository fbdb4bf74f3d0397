// Package sizing converts accepted edge signals into contract quantities
// using fractional-Kelly sizing under hard per-trade caps.
package sizing

import (
	"github.com/kaelweather/weatherbot/internal/domain"
)

// Config holds the sizing parameters.
type Config struct {
	// KellyFraction scales the full-Kelly bet down; quarter-Kelly trades
	// growth rate for much lower variance.
	KellyFraction float64
	// MaxContracts is the hard per-trade contract-count ceiling.
	MaxContracts int64
	// MaxCostCents is the hard per-trade cost ceiling.
	MaxCostCents int64
}

// Sizer sizes positions from edges and available capital.
type Sizer struct {
	cfg Config
}

// NewSizer creates a Sizer from cfg.
func NewSizer(cfg Config) *Sizer {
	if cfg.KellyFraction <= 0 {
		cfg.KellyFraction = 0.25
	}
	return &Sizer{cfg: cfg}
}

// KellyContracts returns the fractional-Kelly contract count for a binary
// contract costing priceCents with fair win probability fairP, given
// bankrollCents of available capital. A non-positive Kelly fraction means
// the bet is not worth taking and zero is returned; no short or hedge side
// is implied.
func (s *Sizer) KellyContracts(fairP float64, priceCents, bankrollCents int64) int64 {
	if fairP <= 0 || fairP >= 1 || priceCents <= 0 || priceCents >= 100 || bankrollCents <= 0 {
		return 0
	}

	payout := float64(100 - priceCents)
	b := payout / float64(priceCents) // odds ratio: payout per unit cost
	q := 1 - fairP

	fStar := (fairP*b - q) / b
	fSafe := fStar * s.cfg.KellyFraction
	if fSafe <= 0 {
		return 0
	}

	return int64(fSafe * float64(bankrollCents) / float64(priceCents))
}

// Size converts an accepted signal into (contracts, total cost). Sizing uses
// the model's own fair value rather than the market-blended one, so position
// size reflects the model's actual conviction. Zero contracts means no
// trade.
func (s *Sizer) Size(sig domain.EdgeSignal, bankrollCents int64) (contracts, costCents int64) {
	fairP := float64(sig.ModelFairCents) / 100
	contracts = s.KellyContracts(fairP, sig.PriceCents, bankrollCents)

	if s.cfg.MaxContracts > 0 && contracts > s.cfg.MaxContracts {
		contracts = s.cfg.MaxContracts
	}
	if s.cfg.MaxCostCents > 0 && contracts*sig.PriceCents > s.cfg.MaxCostCents {
		contracts = s.cfg.MaxCostCents / sig.PriceCents
	}
	if contracts <= 0 {
		return 0, 0
	}
	return contracts, contracts * sig.PriceCents
}
