// Package weather looks up observed hourly conditions from the
// Open-Meteo archive API for the get_weather tool and for enriching
// spray records.
package weather

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/furrow/internal/httpkit"
)

// DefaultArchiveURL is the public Open-Meteo archive endpoint.
const DefaultArchiveURL = "https://archive-api.open-meteo.com/v1/archive"

// Source identifies the data provider in observations.
const Source = "open-meteo"

// Observation is the weather at one location for the hour nearest the
// requested time. Values are nil when the archive has no data for that
// hour (the archive lags real time by several days).
type Observation struct {
	Lat          float64  `json:"lat"`
	Lon          float64  `json:"lon"`
	ObservedAt   string   `json:"observed_at"`
	WindSpeedMPH *float64 `json:"wind_speed_mph"`
	TempF        *float64 `json:"temp_f"`
	HumidityPct  *float64 `json:"humidity_pct"`
	PrecipIn     *float64 `json:"precip_in"`
	Source       string   `json:"source"`
}

// Client queries the archive API.
type Client struct {
	archiveURL string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a weather client. An empty archiveURL uses
// DefaultArchiveURL.
func NewClient(archiveURL string) *Client {
	if archiveURL == "" {
		archiveURL = DefaultArchiveURL
	}
	return &Client{
		archiveURL: archiveURL,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
		now:        time.Now,
	}
}

type archiveResponse struct {
	Hourly struct {
		Time          []string   `json:"time"`
		Temperature   []*float64 `json:"temperature_2m"`
		Humidity      []*float64 `json:"relative_humidity_2m"`
		WindSpeed     []*float64 `json:"wind_speed_10m"`
		Precipitation []*float64 `json:"precipitation"`
	} `json:"hourly"`
}

// Observe returns conditions at lat/lon for the hour containing at.
// A zero at means now. When the archive has no entry for that hour the
// last hour of the day is used.
func (c *Client) Observe(ctx context.Context, lat, lon float64, at time.Time) (*Observation, error) {
	if at.IsZero() {
		at = c.now()
	}
	at = at.UTC()
	day := at.Format("2006-01-02")

	params := url.Values{
		"latitude":        {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude":       {strconv.FormatFloat(lon, 'f', -1, 64)},
		"start_date":      {day},
		"end_date":        {day},
		"hourly":          {"temperature_2m,relative_humidity_2m,wind_speed_10m,precipitation"},
		"wind_speed_unit": {"mph"},
		"timezone":        {"UTC"},
	}

	var ar archiveResponse
	if err := httpkit.GetJSON(ctx, c.httpClient, c.archiveURL+"?"+params.Encode(), &ar); err != nil {
		return nil, fmt.Errorf("weather archive: %w", err)
	}

	obs := &Observation{
		Lat:        lat,
		Lon:        lon,
		ObservedAt: at.Format(time.RFC3339),
		Source:     Source,
	}

	times := ar.Hourly.Time
	if len(times) == 0 {
		return obs, nil
	}

	target := at.Format("2006-01-02T15")
	idx := len(times) - 1
	for i, t := range times {
		if strings.HasPrefix(t, target) {
			idx = i
			break
		}
	}

	obs.ObservedAt = times[idx]
	obs.WindSpeedMPH = valueAt(ar.Hourly.WindSpeed, idx)
	obs.HumidityPct = valueAt(ar.Hourly.Humidity, idx)
	if celsius := valueAt(ar.Hourly.Temperature, idx); celsius != nil {
		f := round(*celsius*9/5+32, 1)
		obs.TempF = &f
	}
	if mm := valueAt(ar.Hourly.Precipitation, idx); mm != nil {
		in := round(*mm/25.4, 2)
		obs.PrecipIn = &in
	}
	return obs, nil
}

func valueAt(series []*float64, i int) *float64 {
	if i < 0 || i >= len(series) {
		return nil
	}
	return series[i]
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// ParseTimestamp accepts RFC 3339, a minute-resolution local form
// ("2026-04-02T15:04"), or a bare date.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
