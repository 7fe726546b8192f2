package tools

import (
	"encoding/json"
	"fmt"

	"github.com/nugget/furrow/internal/search"
	"github.com/nugget/furrow/internal/weather"
)

// RegisterBuiltins declares web_search and get_weather.
func RegisterBuiltins(r *Registry, mgr *search.Manager, wx *weather.Client) error {
	builtins := []*Tool{
		{
			Name:        "web_search",
			Description: "Search the web for current information such as product labels, regulations, or agronomy guidance. Returns titles, URLs, and snippets.",
			Parameters:  json.RawMessage(search.ToolParameters),
			Handler:     search.ToolHandler(mgr),
		},
		{
			Name:        "get_weather",
			Description: "Get observed hourly weather (wind, temperature, humidity, precipitation) at a location and time. Use for spray drift checks and activity records.",
			Parameters:  json.RawMessage(weather.ToolParameters),
			Handler:     weather.ToolHandler(wx),
		},
	}
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("register builtins: %w", err)
		}
	}
	return nil
}
