// Package fieldlog holds the farm record domain: farms, fields, the
// product catalog, and the post-hoc checks applied to parsed activities.
package fieldlog

import (
	"strconv"
	"strings"
)

// Activity types.
const (
	TypeSpray      = "spray"
	TypeFertilizer = "fertilizer"
	TypeIrrigation = "irrigation"
	TypeHarvest    = "harvest"
	TypeLabor      = "labor"
	TypeOther      = "other"
)

// ActivityTypes lists every accepted activity type.
var ActivityTypes = []string{TypeSpray, TypeFertilizer, TypeIrrigation, TypeHarvest, TypeLabor, TypeOther}

// Activity is a structured field activity record as extracted from a
// transcript. Data is free-form by type.
type Activity struct {
	Type               string             `json:"type"`
	OccurredAt         string             `json:"occurred_at"`
	Field              *FieldRef          `json:"field,omitempty"`
	GPS                *GPS               `json:"gps,omitempty"`
	Entities           *Entities          `json:"entities,omitempty"`
	Data               map[string]any     `json:"data"`
	MissingFields      []string           `json:"missing_fields"`
	Confidence         map[string]float64 `json:"confidence"`
	NormalizationNotes []string           `json:"normalization_notes"`
}

// FieldRef identifies the field an activity happened on.
type FieldRef struct {
	FieldID   string `json:"field_id,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

// GPS is an optional position.
type GPS struct {
	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`
}

// Entities are raw mentions pulled from the transcript.
type Entities struct {
	ProductMention string `json:"product_mention,omitempty"`
	ApplicatorName string `json:"applicator_name,omitempty"`
	Crop           string `json:"crop,omitempty"`
}

// Number returns a numeric data value. JSON numbers and numeric
// strings are accepted.
func (a *Activity) Number(key string) (float64, bool) {
	switch v := a.Data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Text returns a string data value, or "".
func (a *Activity) Text(key string) string {
	s, _ := a.Data[key].(string)
	return s
}
