package activity

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema is the JSON schema every extracted activity must satisfy.
// Data keys are optional (absent ones belong in missing_fields) but
// typed per activity type when present. Null marks an unknown value.
const Schema = `{
  "type": "object",
  "required": ["type", "occurred_at", "data", "missing_fields", "confidence", "normalization_notes"],
  "properties": {
    "type": {"enum": ["spray", "fertilizer", "irrigation", "harvest", "labor", "other"]},
    "occurred_at": {"type": "string", "minLength": 1},
    "field": {
      "type": "object",
      "properties": {
        "field_id": {"type": ["string", "null"]},
        "field_name": {"type": ["string", "null"]}
      }
    },
    "gps": {
      "type": "object",
      "properties": {
        "lat": {"type": ["number", "null"], "minimum": -90, "maximum": 90},
        "lon": {"type": ["number", "null"], "minimum": -180, "maximum": 180}
      }
    },
    "entities": {
      "type": "object",
      "properties": {
        "product_mention": {"type": ["string", "null"]},
        "applicator_name": {"type": ["string", "null"]},
        "crop": {"type": ["string", "null"]}
      }
    },
    "data": {"type": "object"},
    "missing_fields": {"type": "array", "items": {"type": "string"}},
    "confidence": {
      "type": "object",
      "additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}
    },
    "normalization_notes": {"type": "array", "items": {"type": "string"}}
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "spray"}}},
      "then": {"properties": {"data": {"properties": {
        "applicator_name": {"type": ["string", "null"]},
        "product_name": {"type": ["string", "null"]},
        "epa_reg_no": {"type": ["string", "null"]},
        "rate_value": {"type": ["number", "null"], "exclusiveMinimum": 0},
        "rate_unit": {"type": ["string", "null"]},
        "area_treated_acres": {"type": ["number", "null"], "exclusiveMinimum": 0},
        "method": {"type": ["string", "null"]},
        "start_time": {"type": ["string", "null"]},
        "field_name": {"type": ["string", "null"]},
        "weather": {"type": ["object", "null"], "properties": {
          "wind_mph": {"type": ["number", "null"]},
          "temp_f": {"type": ["number", "null"]},
          "humidity_pct": {"type": ["number", "null"]},
          "precip_in": {"type": ["number", "null"]}
        }}
      }}}}
    },
    {
      "if": {"properties": {"type": {"const": "fertilizer"}}},
      "then": {"properties": {"data": {"properties": {
        "product_name": {"type": ["string", "null"]},
        "total_amount": {"type": ["number", "null"], "exclusiveMinimum": 0},
        "unit": {"type": ["string", "null"]},
        "area_treated_acres": {"type": ["number", "null"], "exclusiveMinimum": 0},
        "method": {"type": ["string", "null"]}
      }}}}
    },
    {
      "if": {"properties": {"type": {"const": "irrigation"}}},
      "then": {"properties": {"data": {"properties": {
        "duration_minutes": {"type": ["number", "null"], "exclusiveMinimum": 0},
        "method": {"type": ["string", "null"]},
        "estimated_inches": {"type": ["number", "null"], "exclusiveMinimum": 0},
        "estimated_gallons": {"type": ["number", "null"], "exclusiveMinimum": 0}
      }}}}
    },
    {
      "if": {"properties": {"type": {"const": "harvest"}}},
      "then": {"properties": {"data": {"properties": {
        "crop": {"type": ["string", "null"]},
        "quantity": {"type": ["number", "null"], "exclusiveMinimum": 0},
        "unit": {"type": ["string", "null"]},
        "destination": {"type": ["string", "null"]}
      }}}}
    },
    {
      "if": {"properties": {"type": {"const": "labor"}}},
      "then": {"properties": {"data": {"properties": {
        "task": {"type": ["string", "null"]},
        "duration_hours": {"type": ["number", "null"], "exclusiveMinimum": 0},
        "worker_count": {"type": ["integer", "null"], "minimum": 1}
      }}}}
    }
  ]
}`

// compileSchema resolves Schema once for reuse by every Parser.
func compileSchema() (*jsonschema.Resolved, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal([]byte(Schema), &s); err != nil {
		return nil, fmt.Errorf("parse activity schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve activity schema: %w", err)
	}
	return resolved, nil
}
