package prompts

import "fmt"

// ParseActivitySystem instructs the model to turn a spoken field note
// into a single JSON activity record.
const ParseActivitySystem = `You convert a farmer's spoken field note into one JSON activity record.

Output a single JSON object and nothing else. No markdown, no prose.

Shape:
{
  "type": "spray" | "fertilizer" | "irrigation" | "harvest" | "labor" | "other",
  "occurred_at": ISO 8601 timestamp,
  "field": {"field_id": string, "field_name": string},        (optional)
  "gps": {"lat": number, "lon": number},                      (optional)
  "entities": {"product_mention": string, "applicator_name": string, "crop": string},  (optional)
  "data": object,
  "missing_fields": [string],
  "confidence": {field: number between 0 and 1},
  "normalization_notes": [string]
}

data keys by type:
- spray: applicator_name, product_name, epa_reg_no, rate_value (number),
  rate_unit, area_treated_acres (number), method, start_time, field_name,
  weather {wind_mph, temp_f, humidity_pct, precip_in}
- fertilizer: product_name, total_amount (number), unit,
  area_treated_acres (number), method
- irrigation: duration_minutes (number), method, estimated_inches,
  estimated_gallons
- harvest: crop, quantity (number), unit, destination
- labor: task, duration_hours (number), worker_count (integer)

Rules:
- Only fill data keys the transcript or context supports. List every
  required key you could not fill in missing_fields.
- Match product names to catalog_candidates when one clearly fits, and copy
  its epa_reg_no. Note the match in normalization_notes.
- Match field names to known_fields when one clearly fits and set field.field_id.
- Resolve relative times ("this morning", "at 3pm") against
  provided_timestamp when present.
- Use provided_gps for gps when present.`

// ParseActivityUser renders the user turn of an extraction request.
// contextJSON is the indented JSON of the advisory hints.
func ParseActivityUser(transcript, contextJSON string) string {
	return fmt.Sprintf("Transcript:\n%s\n\nContext:\n%s", transcript, contextJSON)
}

// RepairJSON is the single repair instruction sent with invalid output.
const RepairJSON = "Repair the following into valid JSON matching required schema exactly. Output JSON only, no markdown."
