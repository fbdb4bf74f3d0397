package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// ProviderNOAA is the sample key for the NWS forecast.
const ProviderNOAA = "NOAA"

// NOAA fetches forecasts from the National Weather Service gridpoint API
// and observed highs from station observation history. No API key; the
// NWS only asks for a descriptive User-Agent.
type NOAA struct {
	baseURL string
	http    *httpGetter
}

// NewNOAA creates an NWS client against https://api.weather.gov.
func NewNOAA() *NOAA {
	return &NOAA{
		baseURL: "https://api.weather.gov",
		http:    newHTTPGetter(15 * time.Second),
	}
}

func (n *NOAA) Name() string { return ProviderNOAA }

// ForecastHigh returns the daytime-period high for the date from the
// gridpoint forecast, with the response's updateTime as the issue time so
// the aggregator can weigh staleness.
func (n *NOAA) ForecastHigh(ctx context.Context, loc Location, date time.Time) (float64, time.Time, error) {
	u := fmt.Sprintf("%s/gridpoints/%s/%d,%d/forecast", n.baseURL, url.PathEscape(loc.NOAAOffice), loc.GridX, loc.GridY)

	var resp struct {
		Properties struct {
			UpdateTime time.Time `json:"updateTime"`
			Periods    []struct {
				StartTime       time.Time `json:"startTime"`
				IsDaytime       bool      `json:"isDaytime"`
				Temperature     float64   `json:"temperature"`
				TemperatureUnit string    `json:"temperatureUnit"`
			} `json:"periods"`
		} `json:"properties"`
	}
	if err := n.http.getJSON(ctx, u, &resp); err != nil {
		return 0, time.Time{}, fmt.Errorf("noaa: gridpoint forecast %s: %w", loc.Code, err)
	}

	day := date.UTC().Format("2006-01-02")
	for _, p := range resp.Properties.Periods {
		// Only daytime periods carry the daily high.
		if !p.IsDaytime {
			continue
		}
		if p.StartTime.UTC().Format("2006-01-02") != day {
			continue
		}
		temp := p.Temperature
		if p.TemperatureUnit == "C" {
			temp = celsiusToFahrenheit(temp)
		}
		issued := resp.Properties.UpdateTime
		if issued.IsZero() {
			issued = time.Now().UTC()
		}
		return temp, issued, nil
	}
	return 0, time.Time{}, fmt.Errorf("noaa: no daytime forecast for %s on %s", loc.Code, day)
}

// ObservedHigh returns the maximum observed temperature for the date from
// the location's station, in °F. Ground truth for settlement feedback.
func (n *NOAA) ObservedHigh(ctx context.Context, loc Location, date time.Time) (float64, error) {
	if loc.Station == "" {
		return 0, fmt.Errorf("noaa: no station configured for %s", loc.Code)
	}

	day := date.UTC().Format("2006-01-02")
	params := url.Values{}
	params.Set("start", day+"T00:00:00Z")
	params.Set("end", day+"T23:59:59Z")
	u := fmt.Sprintf("%s/stations/%s/observations?%s", n.baseURL, url.PathEscape(loc.Station), params.Encode())

	var resp struct {
		Features []struct {
			Properties struct {
				Temperature struct {
					Value *float64 `json:"value"` // celsius, null when missing
				} `json:"temperature"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := n.http.getJSON(ctx, u, &resp); err != nil {
		return 0, fmt.Errorf("noaa: observations %s/%s: %w", loc.Station, day, err)
	}

	var high float64
	found := false
	for _, f := range resp.Features {
		if f.Properties.Temperature.Value == nil {
			continue
		}
		t := celsiusToFahrenheit(*f.Properties.Temperature.Value)
		if !found || t > high {
			high = t
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("noaa: no valid observations for %s on %s", loc.Station, day)
	}
	return high, nil
}
