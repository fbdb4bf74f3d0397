package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Sample keys for the four Open-Meteo model endpoints.
const (
	ProviderOpenMeteoGFS   = "OpenMeteo_GFS"
	ProviderOpenMeteoICON  = "OpenMeteo_ICON"
	ProviderOpenMeteoECMWF = "OpenMeteo_ECMWF"
	ProviderOpenMeteoGEM   = "OpenMeteo_GEM"
)

// OpenMeteo fetches the daily high from one Open-Meteo model endpoint.
// Free, no API key. The same query shape works for every model; only the
// endpoint path differs.
type OpenMeteo struct {
	name     string
	endpoint string
	http     *httpGetter
}

func newOpenMeteo(name, endpoint string) *OpenMeteo {
	return &OpenMeteo{
		name:     name,
		endpoint: endpoint,
		http:     newHTTPGetter(15 * time.Second),
	}
}

// NewOpenMeteoGFS returns the NOAA GFS model client.
func NewOpenMeteoGFS() *OpenMeteo {
	return newOpenMeteo(ProviderOpenMeteoGFS, "https://api.open-meteo.com/v1/gfs")
}

// NewOpenMeteoICON returns the DWD ICON model client.
func NewOpenMeteoICON() *OpenMeteo {
	return newOpenMeteo(ProviderOpenMeteoICON, "https://api.open-meteo.com/v1/dwd-icon")
}

// NewOpenMeteoECMWF returns the ECMWF IFS model client.
func NewOpenMeteoECMWF() *OpenMeteo {
	return newOpenMeteo(ProviderOpenMeteoECMWF, "https://api.open-meteo.com/v1/ecmwf")
}

// NewOpenMeteoGEM returns the Canadian GEM model client.
func NewOpenMeteoGEM() *OpenMeteo {
	return newOpenMeteo(ProviderOpenMeteoGEM, "https://api.open-meteo.com/v1/gem")
}

func (o *OpenMeteo) Name() string { return o.name }

// ForecastHigh returns temperature_2m_max for the date in °F. Open-Meteo
// does not expose a model run timestamp on this endpoint, so the fetch
// time stands in as the issue time.
func (o *OpenMeteo) ForecastHigh(ctx context.Context, loc Location, date time.Time) (float64, time.Time, error) {
	day := date.UTC().Format("2006-01-02")

	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(loc.Lat, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(loc.Lon, 'f', 4, 64))
	params.Set("daily", "temperature_2m_max")
	params.Set("temperature_unit", "fahrenheit")
	params.Set("start_date", day)
	params.Set("end_date", day)
	tz := loc.Timezone
	if tz == "" {
		tz = "auto"
	}
	params.Set("timezone", tz)

	var resp struct {
		Daily struct {
			TemperatureMax []*float64 `json:"temperature_2m_max"`
		} `json:"daily"`
	}
	if err := o.http.getJSON(ctx, o.endpoint+"?"+params.Encode(), &resp); err != nil {
		return 0, time.Time{}, fmt.Errorf("openmeteo: %s forecast %s: %w", o.name, loc.Code, err)
	}

	temps := resp.Daily.TemperatureMax
	if len(temps) == 0 || temps[0] == nil {
		return 0, time.Time{}, fmt.Errorf("openmeteo: %s returned no high for %s on %s", o.name, loc.Code, day)
	}
	return *temps[0], time.Now().UTC(), nil
}
