// Package forecast fuses raw per-provider forecast samples into one
// calibrated probability distribution per (location, settlement date).
// Aggregation is fully deterministic: identical samples and bias profiles
// always yield bit-identical output, which is what makes paper/live parity
// testing possible.
package forecast

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// Config holds the ensemble tuning parameters.
type Config struct {
	// BaseWeights assigns each provider its configured base weight.
	// Providers not listed default to 1.0.
	BaseWeights map[string]float64
	// RefreshIntervals is the expected refresh cadence per provider, used
	// by the staleness curve. Zero means staleness is not penalised.
	RefreshIntervals map[string]time.Duration
	// StalenessFloor is the minimum staleness multiplier.
	StalenessFloor float64
	// DefaultStdDev is the baseline forecast RMSE in °F when no
	// location/season entry exists.
	DefaultStdDev float64
	// StdDevs maps location -> season -> forecast σ in °F.
	StdDevs map[string]map[domain.Season]float64
	// MinProviders is the minimum ensemble size; below it aggregation
	// fails rather than producing a low-information forecast.
	MinProviders int
	// MinBiasSamples is how many settled observations a bias profile needs
	// before its accuracy multiplier is trusted.
	MinBiasSamples int
}

// Aggregator implements the forecast ensemble.
type Aggregator struct {
	cfg Config
}

// NewAggregator creates an Aggregator from cfg.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.StalenessFloor <= 0 {
		cfg.StalenessFloor = 0.25
	}
	if cfg.DefaultStdDev <= 0 {
		cfg.DefaultStdDev = 1.1
	}
	if cfg.MinProviders <= 0 {
		cfg.MinProviders = 1
	}
	if cfg.MinBiasSamples <= 0 {
		cfg.MinBiasSamples = 5
	}
	return &Aggregator{cfg: cfg}
}

// StdDevFor returns the location×season forecast σ, falling back to the
// configured default.
func (a *Aggregator) StdDevFor(location string, date time.Time) float64 {
	if seasons, ok := a.cfg.StdDevs[location]; ok {
		if sd, ok := seasons[domain.SeasonOf(date)]; ok {
			return sd
		}
	}
	return a.cfg.DefaultStdDev
}

// Aggregate fuses the given samples for one (location, settlement date) into
// an AggregatedForecast. profiles carry the learned bias corrections for the
// matching location and season; missing profiles mean no correction. now
// anchors staleness and lead-time scoring.
//
// Only the most recent sample per provider is used. Providers with no sample
// are excluded, never zero-filled.
func (a *Aggregator) Aggregate(
	samples []domain.ForecastSample,
	profiles []domain.BiasProfile,
	now time.Time,
) (domain.AggregatedForecast, error) {
	if len(samples) == 0 {
		return domain.AggregatedForecast{}, fmt.Errorf("forecast: no samples to aggregate")
	}

	location := samples[0].Location
	date := samples[0].ValidDate
	season := domain.SeasonOf(date)

	latest := latestPerProvider(samples)
	if len(latest) < a.cfg.MinProviders {
		return domain.AggregatedForecast{}, fmt.Errorf(
			"forecast: %d provider(s) for %s %s, need %d",
			len(latest), location, date.Format("2006-01-02"), a.cfg.MinProviders)
	}

	byKey := make(map[string]domain.BiasProfile, len(profiles))
	for _, p := range profiles {
		if p.Location == location && p.Season == season {
			byKey[p.Provider] = p
		}
	}

	contributions := make([]domain.ProviderContribution, 0, len(latest))
	var weightSum, meanSum float64
	for _, s := range latest {
		corrected := s.Predicted
		weight := a.baseWeight(s.Provider)

		if prof, ok := byKey[s.Provider]; ok {
			corrected -= prof.Correction
			weight *= a.accuracyMultiplier(prof)
		}

		age := now.Sub(s.IssuedAt)
		weight *= StalenessWeight(age, a.cfg.RefreshIntervals[s.Provider], a.cfg.StalenessFloor)

		contributions = append(contributions, domain.ProviderContribution{
			Provider:  s.Provider,
			Predicted: s.Predicted,
			Corrected: corrected,
			Weight:    weight,
		})
		weightSum += weight
		meanSum += corrected * weight
	}
	if weightSum <= 0 {
		return domain.AggregatedForecast{}, fmt.Errorf("forecast: ensemble weight collapsed to zero for %s", location)
	}
	mean := meanSum / weightSum

	spread, agreementStd := spreadStats(contributions)
	daysAhead := daysUntil(now, date)
	confidence := confidenceScore(len(contributions), agreementStd, daysAhead)

	baseStd := a.StdDevFor(location, date)
	// Low-confidence ensembles widen the distribution, mirroring how a
	// forecaster would distrust a noisy model consensus.
	adjustedStd := baseStd * (1.2 - 0.2*confidence) * leadTimeDecay(daysAhead)

	return domain.AggregatedForecast{
		Location:       location,
		SettlementDate: date,
		Mean:           mean,
		StdDev:         adjustedStd,
		Confidence:     confidence,
		ProviderSpread: spread,
		ProviderCount:  len(contributions),
		Contributions:  contributions,
		ComputedAt:     now,
	}, nil
}

func (a *Aggregator) baseWeight(provider string) float64 {
	if w, ok := a.cfg.BaseWeights[provider]; ok {
		return w
	}
	return 1.0
}

// accuracyMultiplier turns a profile's trailing mean absolute error into a
// weight multiplier: an error of 1°F keeps weight 1.0, 3°F drops it to
// about a third. Capped at 2.0 so one hot streak cannot dominate the
// ensemble, floored at 0.25 so a cold streak cannot silence a provider.
func (a *Aggregator) accuracyMultiplier(p domain.BiasProfile) float64 {
	if p.Samples < a.cfg.MinBiasSamples || p.AvgAbsErr <= 0 {
		return 1.0
	}
	m := 1.0 / math.Max(p.AvgAbsErr, 0.5)
	return math.Min(2.0, math.Max(0.25, m))
}

// latestPerProvider keeps the most recent sample per provider, sorted by
// provider name so iteration order (and therefore float accumulation) is
// deterministic.
func latestPerProvider(samples []domain.ForecastSample) []domain.ForecastSample {
	byProvider := make(map[string]domain.ForecastSample, len(samples))
	for _, s := range samples {
		cur, ok := byProvider[s.Provider]
		if !ok || s.IssuedAt.After(cur.IssuedAt) {
			byProvider[s.Provider] = s
		}
	}
	out := make([]domain.ForecastSample, 0, len(byProvider))
	for _, s := range byProvider {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// spreadStats returns (max−min, population σ) of the corrected values.
func spreadStats(cs []domain.ProviderContribution) (spread, std float64) {
	if len(cs) == 0 {
		return 0, 0
	}
	minV, maxV := cs[0].Corrected, cs[0].Corrected
	var sum float64
	for _, c := range cs {
		sum += c.Corrected
		if c.Corrected < minV {
			minV = c.Corrected
		}
		if c.Corrected > maxV {
			maxV = c.Corrected
		}
	}
	mean := sum / float64(len(cs))
	var varSum float64
	for _, c := range cs {
		d := c.Corrected - mean
		varSum += d * d
	}
	return maxV - minV, math.Sqrt(varSum / float64(len(cs)))
}

// confidenceScore combines provider agreement, ensemble size and lead time
// into a [0,1] score. Wide disagreement lowers confidence even when the
// mean is unchanged.
func confidenceScore(providerCount int, agreementStd float64, daysAhead int) float64 {
	var raw float64
	if providerCount < 2 {
		raw = 0.7 // single-provider base confidence
	} else {
		agreement := math.Max(0.5, 1.0-agreementStd/5.0)
		provScore := math.Min(1.0, float64(providerCount)/3.0)
		raw = 0.7*agreement + 0.3*provScore
	}
	c := raw * leadTimeScore(daysAhead)
	return math.Min(1.0, math.Max(0.0, c))
}

// daysUntil counts whole calendar days from now to date, floored at zero.
func daysUntil(now, date time.Time) int {
	n := now.UTC().Truncate(24 * time.Hour)
	d := date.UTC().Truncate(24 * time.Hour)
	days := int(d.Sub(n).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
