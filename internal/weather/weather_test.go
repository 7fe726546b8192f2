package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const archiveDay = `{
  "hourly": {
    "time": ["2026-04-02T14:00", "2026-04-02T15:00", "2026-04-02T16:00"],
    "temperature_2m": [18.0, 20.0, null],
    "relative_humidity_2m": [55, 50, 48],
    "wind_speed_10m": [6.5, 8.2, 9.0],
    "precipitation": [0, 2.54, 0]
  }
}`

func newTestClient(t *testing.T, body string, check func(*http.Request)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestObserve_MatchesHour(t *testing.T) {
	c := newTestClient(t, archiveDay, func(r *http.Request) {
		q := r.URL.Query()
		if q.Get("start_date") != "2026-04-02" || q.Get("end_date") != "2026-04-02" {
			t.Errorf("dates = %s..%s", q.Get("start_date"), q.Get("end_date"))
		}
		if q.Get("wind_speed_unit") != "mph" {
			t.Errorf("wind_speed_unit = %q, want mph", q.Get("wind_speed_unit"))
		}
		if q.Get("latitude") != "41.6" {
			t.Errorf("latitude = %q", q.Get("latitude"))
		}
	})

	at := time.Date(2026, 4, 2, 15, 30, 0, 0, time.UTC)
	obs, err := c.Observe(context.Background(), 41.6, -93.6, at)
	if err != nil {
		t.Fatalf("Observe error: %v", err)
	}

	if obs.ObservedAt != "2026-04-02T15:00" {
		t.Errorf("ObservedAt = %q", obs.ObservedAt)
	}
	if obs.TempF == nil || *obs.TempF != 68 {
		t.Errorf("TempF = %v, want 68", obs.TempF)
	}
	if obs.WindSpeedMPH == nil || *obs.WindSpeedMPH != 8.2 {
		t.Errorf("WindSpeedMPH = %v, want 8.2", obs.WindSpeedMPH)
	}
	if obs.PrecipIn == nil || *obs.PrecipIn != 0.1 {
		t.Errorf("PrecipIn = %v, want 0.1", obs.PrecipIn)
	}
	if obs.Source != "open-meteo" {
		t.Errorf("Source = %q", obs.Source)
	}
}

func TestObserve_FallsBackToLastHour(t *testing.T) {
	c := newTestClient(t, archiveDay, nil)

	obs, err := c.Observe(context.Background(), 0, 0, time.Date(2026, 4, 2, 23, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if obs.ObservedAt != "2026-04-02T16:00" {
		t.Errorf("ObservedAt = %q, want last hour", obs.ObservedAt)
	}
	if obs.TempF != nil {
		t.Errorf("TempF = %v, want nil for missing value", *obs.TempF)
	}
}

func TestObserve_EmptyArchive(t *testing.T) {
	c := newTestClient(t, `{"hourly":{"time":[]}}`, nil)
	c.now = func() time.Time { return time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC) }

	obs, err := c.Observe(context.Background(), 1, 2, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if obs.ObservedAt != "2026-01-05T08:00:00Z" {
		t.Errorf("ObservedAt = %q, want requested time", obs.ObservedAt)
	}
	if obs.WindSpeedMPH != nil {
		t.Error("expected nil values with no data")
	}
}

func TestObserve_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":true,"reason":"bad date"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).Observe(context.Background(), 1, 2, time.Now()); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseTimestamp(t *testing.T) {
	for _, s := range []string{"2026-04-02T15:04:05Z", "2026-04-02T15:04:05-05:00", "2026-04-02T15:04", "2026-04-02"} {
		if _, err := ParseTimestamp(s); err != nil {
			t.Errorf("ParseTimestamp(%q) error: %v", s, err)
		}
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("ParseTimestamp(yesterday) should fail")
	}
}

func TestToolHandler(t *testing.T) {
	c := newTestClient(t, archiveDay, nil)
	h := ToolHandler(c)

	out, err := h(context.Background(), map[string]any{"lat": 41.6, "lon": -93.6, "timestamp": "2026-04-02T14:10:00Z"})
	if err != nil {
		t.Fatal(err)
	}
	if obs := out.(*Observation); obs.ObservedAt != "2026-04-02T14:00" {
		t.Errorf("ObservedAt = %q", obs.ObservedAt)
	}

	if _, err := h(context.Background(), map[string]any{"lat": 1.0, "lon": 2.0, "timestamp": "soon"}); err == nil {
		t.Error("expected error for bad timestamp")
	}
}
