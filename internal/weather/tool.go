package weather

import (
	"context"
	"fmt"
	"time"
)

// ToolParameters is the JSON Schema for get_weather arguments.
const ToolParameters = `{
  "type": "object",
  "properties": {
    "lat": {
      "type": "number",
      "minimum": -90,
      "maximum": 90,
      "description": "Latitude in decimal degrees."
    },
    "lon": {
      "type": "number",
      "minimum": -180,
      "maximum": 180,
      "description": "Longitude in decimal degrees."
    },
    "timestamp": {
      "type": "string",
      "description": "ISO 8601 time of interest. Omit for now."
    }
  },
  "required": ["lat", "lon"],
  "additionalProperties": false
}`

// ToolHandler returns the get_weather implementation. Arguments have
// already been validated against ToolParameters.
func ToolHandler(c *Client) func(ctx context.Context, args map[string]any) (any, error) {
	return func(ctx context.Context, args map[string]any) (any, error) {
		lat, _ := args["lat"].(float64)
		lon, _ := args["lon"].(float64)

		var at time.Time
		if ts, ok := args["timestamp"].(string); ok && ts != "" {
			t, err := ParseTimestamp(ts)
			if err != nil {
				return nil, fmt.Errorf("get_weather: %w", err)
			}
			at = t
		}
		return c.Observe(ctx, lat, lon, at)
	}
}
