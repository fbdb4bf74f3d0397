package domain

import "time"

// Season buckets forecast error statistics and bias profiles by time of year.
type Season string

const (
	SeasonWinter Season = "winter"
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonFall   Season = "fall"
)

// SeasonOf returns the season bucket for a date.
func SeasonOf(t time.Time) Season {
	switch t.Month() {
	case time.December, time.January, time.February:
		return SeasonWinter
	case time.March, time.April, time.May:
		return SeasonSpring
	case time.June, time.July, time.August:
		return SeasonSummer
	default:
		return SeasonFall
	}
}

// ForecastSample is a single raw forecast from one provider for one
// (location, valid date) pair. Samples are immutable once received; a
// provider may issue several per day and only the most recent is used.
type ForecastSample struct {
	Provider  string
	Location  string
	ValidDate time.Time // settlement date the forecast targets (UTC midnight)
	Predicted float64   // forecast daily high, °F
	IssuedAt  time.Time // when the provider issued this run
}

// ProviderContribution records how one provider entered an ensemble.
type ProviderContribution struct {
	Provider  string
	Predicted float64 // raw predicted value
	Corrected float64 // after bias correction
	Weight    float64 // final weight used in the ensemble mean
}

// AggregatedForecast is the fused output of the forecast ensemble for one
// (location, settlement date). It is recomputed every evaluation cycle and
// never persisted as authoritative truth, only logged for audit.
type AggregatedForecast struct {
	Location       string
	SettlementDate time.Time
	Mean           float64 // weighted mean predicted high, °F
	StdDev         float64 // lead-time and confidence adjusted σ, °F
	Confidence     float64 // in [0,1]
	ProviderSpread float64 // max−min corrected predicted value, °F
	ProviderCount  int
	Contributions  []ProviderContribution
	ComputedAt     time.Time
}

// BiasProfile is the learned per-provider forecast bias for one location and
// season. Correction is additive in °F: positive means the provider runs warm
// and its forecasts are adjusted down. Profiles are updated only by
// settlement feedback, never during evaluation.
type BiasProfile struct {
	Provider   string
	Location   string
	Season     Season
	Correction float64 // °F, exponentially averaged signed error
	AvgAbsErr  float64 // °F, exponentially averaged |error| for weighting
	Samples    int
	UpdatedAt  time.Time
}
