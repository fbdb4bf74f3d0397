// Package edge blends model probabilities with market-implied prices and
// derives executable trade edges, subject to a chain of named sanity
// filters. Every rejected market side carries the specific filter name for
// the audit trail; nothing is dropped silently.
package edge

import (
	"fmt"
	"math"

	"github.com/kaelweather/weatherbot/internal/domain"
	"github.com/kaelweather/weatherbot/internal/forecast"
)

// Filter reason names, stable identifiers recorded in the audit log.
const (
	ReasonVolumeFloor          = "volume-floor"
	ReasonSpreadCap            = "spread-cap"
	ReasonStrikeProximity      = "strike-proximity"
	ReasonPriceFloor           = "price-floor"
	ReasonProviderDisagreement = "provider-disagreement"
	ReasonModelDisagreement    = "model-market-disagreement"
	ReasonFairMarketRatio      = "fair-market-ratio"
	ReasonEdgeTooSmall         = "edge-too-small"
	ReasonEdgeCap              = "edge-cap"
	ReasonLowConfidence        = "low-confidence"
)

// Config holds the filter thresholds and blend weights.
type Config struct {
	// ModelWeight is the model share of the fair-probability blend; the
	// market gets 1−ModelWeight. Must be in (0,1).
	ModelWeight float64

	MinVolume            int64
	MaxSpreadCents       int64
	StrikeProximityF     float64 // °F tolerance band around the strike
	MinYesPriceCents     int64
	MinNoPriceCents      int64
	MaxProviderSpreadF   float64 // °F max ensemble disagreement
	MaxDisagreementCents int64   // model vs market, pre- and post-blend
	MaxFairMarketRatio   float64
	MinEdgeCents         float64
	MaxEdgeCents         float64 // sanity cap: beyond this the input is suspect
	MinConfidence        float64
}

// Calculator derives edge signals from aggregated forecasts and quotes.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a Calculator from cfg.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Blend linearly combines the model fair probability with the
// market-implied probability using the configured model weight.
func (c *Calculator) Blend(modelP, marketP float64) float64 {
	marketP = clampProb(marketP)
	modelP = clampProb(modelP)
	return c.cfg.ModelWeight*modelP + (1-c.cfg.ModelWeight)*marketP
}

func clampProb(p float64) float64 {
	return math.Min(0.98, math.Max(0.02, p))
}

// Evaluate prices both sides of one market against the aggregated forecast.
// It returns at most one EdgeSignal (the YES side is evaluated first; a NO
// signal is only produced when YES yielded none). A *domain.FilterRejection
// explains every non-signal outcome.
func (c *Calculator) Evaluate(f domain.AggregatedForecast, q domain.MarketQuote) (domain.EdgeSignal, error) {
	// Market-level filters run once, before either side is priced.
	if (q.YesAsk == 0 && q.YesBid == 0) || q.Volume < c.cfg.MinVolume {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonVolumeFloor,
			Detail: fmt.Sprintf("volume=%d min=%d", q.Volume, c.cfg.MinVolume),
		}
	}
	if spread := q.Spread(); spread > c.cfg.MaxSpreadCents {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonSpreadCap,
			Detail: fmt.Sprintf("spread=%d¢ max=%d¢", spread, c.cfg.MaxSpreadCents),
		}
	}
	if d := q.StrikeDistance(f.Mean); d >= 0 && d < c.cfg.StrikeProximityF {
		// Probability is inherently unstable when the forecast sits on
		// top of the strike.
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonStrikeProximity,
			Detail: fmt.Sprintf("distance=%.1f°F tolerance=%.1f°F", d, c.cfg.StrikeProximityF),
		}
	}
	if f.ProviderCount >= 2 && f.ProviderSpread > c.cfg.MaxProviderSpreadF {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonProviderDisagreement,
			Detail: fmt.Sprintf("spread=%.1f°F max=%.1f°F", f.ProviderSpread, c.cfg.MaxProviderSpreadF),
		}
	}
	if f.Confidence < c.cfg.MinConfidence {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonLowConfidence,
			Detail: fmt.Sprintf("confidence=%.2f min=%.2f", f.Confidence, c.cfg.MinConfidence),
		}
	}

	modelP, err := forecast.FairProbability(f, q)
	if err != nil {
		return domain.EdgeSignal{}, err
	}

	halfSpread := float64(q.Spread()) / 2

	sig, yesErr := c.evaluateYes(f, q, modelP, halfSpread)
	if yesErr == nil {
		return sig, nil
	}
	if _, ok := domain.AsFilterRejection(yesErr); !ok {
		return domain.EdgeSignal{}, yesErr
	}

	sig, noErr := c.evaluateNo(f, q, modelP, halfSpread)
	if noErr == nil {
		return sig, nil
	}
	// Both sides rejected: surface the YES-side reason, it is the primary
	// evaluation path.
	return domain.EdgeSignal{}, yesErr
}

func (c *Calculator) evaluateYes(f domain.AggregatedForecast, q domain.MarketQuote, modelP, halfSpread float64) (domain.EdgeSignal, error) {
	price := q.YesAsk
	if price <= 0 || price >= 95 {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonPriceFloor,
			Detail: fmt.Sprintf("yes_ask=%d¢ outside (0,95)", price),
		}
	}
	if price < c.cfg.MinYesPriceCents {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonPriceFloor,
			Detail: fmt.Sprintf("yes_ask=%d¢ min=%d¢", price, c.cfg.MinYesPriceCents),
		}
	}

	modelFair := int64(math.Round(modelP * 100))
	if d := absInt(modelFair - price); d > c.cfg.MaxDisagreementCents {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonModelDisagreement,
			Detail: fmt.Sprintf("model=%d¢ market=%d¢ gap=%d¢", modelFair, price, d),
		}
	}

	blended := c.Blend(modelP, float64(price)/100)
	blendedFair := int64(math.Round(blended * 100))
	if d := absInt(blendedFair - price); d > c.cfg.MaxDisagreementCents {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonModelDisagreement,
			Detail: fmt.Sprintf("blended=%d¢ market=%d¢ gap=%d¢", blendedFair, price, d),
		}
	}
	if ratio := float64(blendedFair) / float64(price); ratio > c.cfg.MaxFairMarketRatio {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonFairMarketRatio,
			Detail: fmt.Sprintf("ratio=%.1fx max=%.1fx", ratio, c.cfg.MaxFairMarketRatio),
		}
	}

	raw := float64(blendedFair-price) - halfSpread
	return c.finish(f, q, domain.SideYes, price, modelFair, blendedFair, raw)
}

// evaluateNo prices the NO side. Buying NO is selling YES at the bid, so
// yes_bid is the market-implied probability relevant here.
func (c *Calculator) evaluateNo(f domain.AggregatedForecast, q domain.MarketQuote, modelP, halfSpread float64) (domain.EdgeSignal, error) {
	if q.YesBid <= 5 {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonPriceFloor,
			Detail: fmt.Sprintf("yes_bid=%d¢ too low for no side", q.YesBid),
		}
	}
	noPrice := 100 - q.YesBid
	if noPrice < c.cfg.MinNoPriceCents {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonPriceFloor,
			Detail: fmt.Sprintf("no_price=%d¢ min=%d¢", noPrice, c.cfg.MinNoPriceCents),
		}
	}

	modelFairYes := int64(math.Round(modelP * 100))
	modelFairNo := 100 - modelFairYes
	if d := absInt(modelFairNo - noPrice); d > c.cfg.MaxDisagreementCents {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonModelDisagreement,
			Detail: fmt.Sprintf("model_no=%d¢ market_no=%d¢ gap=%d¢", modelFairNo, noPrice, d),
		}
	}

	blended := c.Blend(modelP, float64(q.YesBid)/100)
	blendedFairYes := int64(math.Round(blended * 100))
	blendedFairNo := 100 - blendedFairYes
	if d := absInt(blendedFairNo - noPrice); d > c.cfg.MaxDisagreementCents {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonModelDisagreement,
			Detail: fmt.Sprintf("blended_no=%d¢ market_no=%d¢ gap=%d¢", blendedFairNo, noPrice, d),
		}
	}
	if ratio := float64(blendedFairNo) / float64(noPrice); ratio > c.cfg.MaxFairMarketRatio {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonFairMarketRatio,
			Detail: fmt.Sprintf("ratio=%.1fx max=%.1fx", ratio, c.cfg.MaxFairMarketRatio),
		}
	}

	raw := float64(blendedFairNo-noPrice) - halfSpread
	return c.finish(f, q, domain.SideNo, noPrice, modelFairNo, blendedFairNo, raw)
}

// finish applies the edge-size filters and the sanity cap, then assembles
// the signal.
func (c *Calculator) finish(
	f domain.AggregatedForecast,
	q domain.MarketQuote,
	side domain.Side,
	price, modelFair, blendedFair int64,
	rawEdge float64,
) (domain.EdgeSignal, error) {
	adjusted := rawEdge * f.Confidence

	if adjusted < c.cfg.MinEdgeCents {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonEdgeTooSmall,
			Detail: fmt.Sprintf("edge=%.1f¢ min=%.1f¢", adjusted, c.cfg.MinEdgeCents),
		}
	}
	// An edge this large almost always means a stale forecast or a broken
	// quote, not free money.
	if adjusted > c.cfg.MaxEdgeCents {
		return domain.EdgeSignal{}, &domain.FilterRejection{
			Filter: ReasonEdgeCap,
			Detail: fmt.Sprintf("edge=%.1f¢ cap=%.1f¢", adjusted, c.cfg.MaxEdgeCents),
		}
	}

	return domain.EdgeSignal{
		MarketID:          q.MarketID,
		Location:          q.Location,
		SettlementDate:    q.SettlementDate,
		Side:              side,
		PriceCents:        price,
		ModelFairCents:    modelFair,
		BlendedFairCents:  blendedFair,
		RawEdgeCents:      rawEdge,
		AdjustedEdgeCents: adjusted,
		Confidence:        f.Confidence,
		ForecastMean:      f.Mean,
	}, nil
}

func absInt(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
