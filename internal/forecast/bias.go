package forecast

import (
	"math"
	"time"

	"github.com/kaelweather/weatherbot/internal/domain"
)

// biasAlpha is the exponential-averaging factor for bias learning. Small
// enough that one bad observation cannot whipsaw a profile.
const biasAlpha = 0.15

// UpdateProfile folds one settled observation into a bias profile and
// returns the new profile. It is a pure function of (old profile, predicted,
// actual), which makes bias learning replayable: feeding the same settlement
// stream always produces the same profiles.
//
// The stored correction is the exponentially averaged signed error
// (predicted − actual): positive means the provider runs warm. AvgAbsErr
// tracks the unsigned error for accuracy weighting.
func UpdateProfile(old domain.BiasProfile, predicted, actual float64, observedAt time.Time) domain.BiasProfile {
	err := predicted - actual

	p := old
	if p.Samples == 0 {
		p.Correction = err
		p.AvgAbsErr = math.Abs(err)
	} else {
		p.Correction = (1-biasAlpha)*p.Correction + biasAlpha*err
		p.AvgAbsErr = (1-biasAlpha)*p.AvgAbsErr + biasAlpha*math.Abs(err)
	}
	p.Samples++
	p.UpdatedAt = observedAt
	return p
}

// NewProfile returns an empty profile for the given key.
func NewProfile(provider, location string, season domain.Season) domain.BiasProfile {
	return domain.BiasProfile{
		Provider: provider,
		Location: location,
		Season:   season,
	}
}
