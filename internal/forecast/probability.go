package forecast

import (
	"fmt"
	"math"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// NormalCDF is the standard normal cumulative distribution function.
func NormalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// FairProbability converts an aggregated forecast into the probability that
// the quoted contract settles YES, using the forecast mean and adjusted σ
// against the contract's strike geometry.
func FairProbability(f domain.AggregatedForecast, q domain.MarketQuote) (float64, error) {
	std := f.StdDev
	if std <= 0 {
		return 0, fmt.Errorf("forecast: non-positive adjusted stddev %.4f for %s", std, q.MarketID)
	}

	switch q.StrikeType {
	case domain.StrikeLess:
		if q.CapStrike == nil {
			return 0, fmt.Errorf("forecast: %s: strike_type less without cap strike", q.MarketID)
		}
		return NormalCDF((*q.CapStrike - f.Mean) / std), nil
	case domain.StrikeGreater:
		if q.FloorStrike == nil {
			return 0, fmt.Errorf("forecast: %s: strike_type greater without floor strike", q.MarketID)
		}
		return 1.0 - NormalCDF((*q.FloorStrike-f.Mean)/std), nil
	case domain.StrikeBetween:
		if q.FloorStrike == nil || q.CapStrike == nil {
			return 0, fmt.Errorf("forecast: %s: strike_type between needs both strikes", q.MarketID)
		}
		z1 := (*q.FloorStrike - f.Mean) / std
		z2 := (*q.CapStrike - f.Mean) / std
		return NormalCDF(z2) - NormalCDF(z1), nil
	default:
		return 0, fmt.Errorf("forecast: %s: unknown strike_type %q", q.MarketID, q.StrikeType)
	}
}

// leadTimeDecay widens the forecast error σ as settlement recedes. Same-day
// forecasts are much tighter than multi-day leads.
func leadTimeDecay(daysAhead int) float64 {
	switch {
	case daysAhead <= 0:
		return 0.5
	case daysAhead == 1:
		return 0.75
	default:
		return 1.0 + 0.35*float64(daysAhead-1)
	}
}

// leadTimeScore scores confidence by lead time: near 1.0 same-day, decaying
// toward a floor as the settlement date recedes.
func leadTimeScore(daysAhead int) float64 {
	s := 1.0 - 0.12*float64(daysAhead)
	if s < 0.4 {
		return 0.4
	}
	if s > 1.0 {
		return 1.0
	}
	return s
}
