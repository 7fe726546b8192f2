package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nugget/furrow/internal/search"
	"github.com/nugget/furrow/internal/weather"
)

func newBuiltinRegistry(t *testing.T) *Registry {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hourly":{"time":["2026-04-02T15:00"],"temperature_2m":[20],"relative_humidity_2m":[50],"wind_speed_10m":[5],"precipitation":[0]}}`))
	}))
	t.Cleanup(srv.Close)

	r := NewRegistry()
	if err := RegisterBuiltins(r, search.NewManager(""), weather.NewClient(srv.URL)); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	return r
}

func TestDispatch_UnknownTool(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register(&Tool{
		Name:       "noop",
		Parameters: json.RawMessage(`{"type":"object"}`),
		Handler: func(context.Context, map[string]any) (any, error) {
			called = true
			return nil, nil
		},
	})

	_, err := r.Dispatch(context.Background(), "unknown_tool_xyz", map[string]any{})
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}
	var ute *UnknownToolError
	if !errors.As(err, &ute) || ute.Name != "unknown_tool_xyz" {
		t.Errorf("errors.As = %+v", ute)
	}
	if called {
		t.Error("no implementation should run for an unknown tool")
	}
}

func TestDispatch_InvalidArguments(t *testing.T) {
	r := newBuiltinRegistry(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"weather lat wrong type", "get_weather", map[string]any{"lat": "not a number", "lon": 1.0}},
		{"weather missing lon", "get_weather", map[string]any{"lat": 1.0}},
		{"weather lat out of range", "get_weather", map[string]any{"lat": 91.0, "lon": 1.0}},
		{"weather extra property", "get_weather", map[string]any{"lat": 1.0, "lon": 1.0, "units": "metric"}},
		{"search missing query", "web_search", map[string]any{}},
		{"search empty query", "web_search", map[string]any{"query": ""}},
		{"search max_results too high", "web_search", map[string]any{"query": "q", "max_results": 50.0}},
		{"search max_results fractional", "web_search", map[string]any{"query": "q", "max_results": 2.5}},
		{"search max_results zero", "web_search", map[string]any{"query": "q", "max_results": 0.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Dispatch(context.Background(), tt.tool, tt.args)
			if !errors.Is(err, ErrInvalidArguments) {
				t.Fatalf("err = %v, want ErrInvalidArguments", err)
			}
			if ErrorCode(err) != "invalid_arguments" {
				t.Errorf("ErrorCode = %q", ErrorCode(err))
			}
		})
	}
}

func TestDispatch_ValidCalls(t *testing.T) {
	r := newBuiltinRegistry(t)

	out, err := r.Dispatch(context.Background(), "get_weather", map[string]any{"lat": 41.6, "lon": -93.6})
	if err != nil {
		t.Fatalf("get_weather: %v", err)
	}
	if obs := out.(*weather.Observation); obs.Source != "open-meteo" {
		t.Errorf("Source = %q", obs.Source)
	}

	out, err = r.Dispatch(context.Background(), "web_search", map[string]any{"query": "label rate"})
	if err != nil {
		t.Fatalf("web_search: %v", err)
	}
	res := out.(search.ToolResult)
	if res.MaxResults != 5 {
		t.Errorf("max_results default = %d, want 5", res.MaxResults)
	}
}

func TestDispatch_DefaultsDoNotMutateArgs(t *testing.T) {
	r := newBuiltinRegistry(t)
	args := map[string]any{"query": "q"}
	r.Dispatch(context.Background(), "web_search", args)
	if _, ok := args["max_results"]; ok {
		t.Error("Dispatch must not write defaults into the caller's map")
	}
}

func TestDispatch_HandlerFailure(t *testing.T) {
	boom := errors.New("upstream 503")
	r := NewRegistry()
	r.Register(&Tool{
		Name:       "flaky",
		Parameters: json.RawMessage(`{"type":"object","additionalProperties":false}`),
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, boom
		},
	})

	_, err := r.Dispatch(context.Background(), "flaky", nil)
	if !errors.Is(err, ErrToolFailed) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrToolFailed wrapping cause", err)
	}

	res := ErrorResult("flaky", err)
	e := res["error"].(map[string]any)
	if e["code"] != "tool_failed" || !strings.Contains(e["message"].(string), "upstream 503") {
		t.Errorf("ErrorResult = %+v", res)
	}
	if res["tool"] != "flaky" {
		t.Errorf("tool = %v", res["tool"])
	}
}

func TestRegister_Rejects(t *testing.T) {
	h := func(context.Context, map[string]any) (any, error) { return nil, nil }
	r := NewRegistry()

	if err := r.Register(&Tool{Name: "a", Parameters: json.RawMessage(`{"type":"object"}`), Handler: h}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&Tool{Name: "a", Parameters: json.RawMessage(`{"type":"object"}`), Handler: h}); err == nil {
		t.Error("duplicate name should be rejected")
	}
	if err := r.Register(&Tool{Name: "b", Parameters: json.RawMessage(`not json`), Handler: h}); err == nil {
		t.Error("bad schema should be rejected")
	}
	if err := r.Register(&Tool{Name: "c", Parameters: json.RawMessage(`{"type":"object"}`)}); err == nil {
		t.Error("nil handler should be rejected")
	}
}

func TestDefinitions_OrderAndContent(t *testing.T) {
	r := newBuiltinRegistry(t)
	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "web_search" || defs[1].Name != "get_weather" {
		t.Fatalf("Definitions = %+v", defs)
	}
	if !json.Valid(defs[1].Parameters) {
		t.Error("parameters should be valid JSON")
	}
	if got := r.Names(); got[0] != "get_weather" {
		t.Errorf("Names not sorted: %v", got)
	}
}

func TestParseArguments(t *testing.T) {
	tests := []struct {
		raw      string
		wantKeys int
	}{
		{"", 0},
		{"   ", 0},
		{"{not json", 0},
		{"[1,2]", 0},
		{"null", 0},
		{`"string"`, 0},
		{`{"lat": 1, "lon": 2}`, 2},
	}
	for _, tt := range tests {
		got := ParseArguments(tt.raw)
		if got == nil {
			t.Errorf("ParseArguments(%q) = nil, want empty map", tt.raw)
			continue
		}
		if len(got) != tt.wantKeys {
			t.Errorf("ParseArguments(%q) has %d keys, want %d", tt.raw, len(got), tt.wantKeys)
		}
	}
}
