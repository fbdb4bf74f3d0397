// Package provider fetches daily-high temperature forecasts from public
// weather APIs. Each provider returns the same sample shape so the
// aggregator can treat them interchangeably.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const userAgent = "weatherbot/2.0 (github.com/kaelweather/weatherbot)"

// Location describes one tradable city: coordinates for model APIs, the
// NOAA gridpoint for the NWS forecast, and the observation station used to
// settle against ground truth.
type Location struct {
	Code       string // short code used in market tickers, e.g. "PHX"
	Name       string
	Lat        float64
	Lon        float64
	NOAAOffice string
	GridX      int
	GridY      int
	Timezone   string // IANA name, e.g. "America/Phoenix"
	Station    string // NOAA observation station, e.g. "KPHX"
}

// Forecaster fetches the predicted daily high for a location and date.
type Forecaster interface {
	Name() string
	// ForecastHigh returns the predicted high in °F and the time the
	// forecast was issued by the provider.
	ForecastHigh(ctx context.Context, loc Location, date time.Time) (float64, time.Time, error)
}

// httpGetter is the shared HTTP plumbing: one client, a per-provider
// courtesy delay between requests, and JSON decoding.
type httpGetter struct {
	client *http.Client

	mu   sync.Mutex
	last time.Time
	gap  time.Duration
}

func newHTTPGetter(timeout time.Duration) *httpGetter {
	return &httpGetter{
		client: &http.Client{Timeout: timeout},
		gap:    300 * time.Millisecond,
	}
}

// getJSON performs a GET and decodes the JSON response into out.
func (g *httpGetter) getJSON(ctx context.Context, rawURL string, out any) error {
	if err := g.throttle(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 200))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (g *httpGetter) throttle(ctx context.Context) error {
	g.mu.Lock()
	wait := g.gap - time.Since(g.last)
	g.last = time.Now()
	g.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func celsiusToFahrenheit(c float64) float64 { return c*9/5 + 32 }
