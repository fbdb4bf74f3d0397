package forecast

import (
	"math"
	"time"
)

// StalenessWeight converts the age of a provider's forecast run into a
// weight multiplier relative to the provider's expected refresh cadence.
//
// The curve is a stepped exponential: full weight while the run is within
// one refresh interval, then halved for every fully missed interval, floored
// so a provider that keeps reporting is degraded but never silenced. A
// provider that did not report at all is excluded upstream, not weighted
// here.
func StalenessWeight(age, refreshInterval time.Duration, floor float64) float64 {
	if refreshInterval <= 0 || age <= refreshInterval {
		return 1.0
	}
	missed := int(age / refreshInterval)
	w := math.Pow(0.5, float64(missed))
	if w < floor {
		return floor
	}
	return w
}
