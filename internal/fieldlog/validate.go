package fieldlog

import (
	"fmt"
	"strings"
)

// fieldRefKey is the required-field entry satisfied by either a field
// id or a field name.
const fieldRefKey = "field.field_id|field.field_name"

var requiredByType = map[string][]string{
	TypeSpray: {
		"data.applicator_name",
		"data.product_name",
		"data.epa_reg_no",
		"data.rate_value",
		"data.rate_unit",
		"data.area_treated_acres",
		"data.method",
		"occurred_at",
		fieldRefKey,
	},
	TypeFertilizer: {"data.product_name", "data.total_amount", "data.unit", "data.area_treated_acres", "data.method", "occurred_at"},
	TypeIrrigation: {"data.duration_minutes", "data.method", "occurred_at"},
	TypeHarvest:    {"data.crop", "data.quantity", "data.unit", "occurred_at"},
	TypeLabor:      {"data.task", "data.duration_hours", "data.worker_count", "occurred_at"},
	TypeOther:      {"occurred_at"},
}

// RequiredFields returns the required field paths for an activity type.
func RequiredFields(activityType string) []string {
	return append([]string(nil), requiredByType[activityType]...)
}

// ValidateRequired returns the required fields that are absent or empty
// for the activity's type.
func ValidateRequired(a *Activity) []string {
	var missing []string
	for _, key := range requiredByType[a.Type] {
		switch {
		case key == fieldRefKey:
			if a.Field == nil || (a.Field.FieldID == "" && a.Field.FieldName == "") {
				missing = append(missing, key)
			}
		case key == "occurred_at":
			if a.OccurredAt == "" {
				missing = append(missing, key)
			}
		case strings.HasPrefix(key, "data."):
			if isEmpty(a.Data[strings.TrimPrefix(key, "data.")]) {
				missing = append(missing, key)
			}
		}
	}
	return missing
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}

// RangeResult holds advisory flags and blocking errors.
type RangeResult struct {
	Flags      []string `json:"flags"`
	HardErrors []string `json:"hard_errors"`
}

// Area above this multiple of the known field acreage is an error.
const maxAreaRatio = 1.2

// ValidateRanges checks an activity against its matched catalog product
// and the known acreage of its field. A nil match or zero acreage skips
// the checks that need them.
func ValidateRanges(a *Activity, match *Product, fieldAcreage float64) RangeResult {
	res := RangeResult{Flags: []string{}, HardErrors: []string{}}

	if area, ok := a.Number("area_treated_acres"); ok && fieldAcreage > 0 && area > fieldAcreage*maxAreaRatio {
		res.HardErrors = append(res.HardErrors,
			fmt.Sprintf("area_treated_acres exceeds known field acreage (%g).", fieldAcreage))
	}

	if a.Type != TypeSpray {
		return res
	}

	if match != nil && match.RestrictedUse {
		res.Flags = append(res.Flags, "Product is marked restricted-use; confirm licensed applicator and permit context.")
	}

	rate, hasRate := a.Number("rate_value")
	if match != nil && match.LabelRateMin != nil && match.LabelRateMax != nil && hasRate && rate > 0 {
		unit := a.Text("rate_unit")
		switch {
		case match.LabelRateUnit != "" && unit != "" && match.LabelRateUnit != unit:
			res.Flags = append(res.Flags, fmt.Sprintf(
				"Rate unit differs from catalog (%s vs %s); verify conversion manually.", unit, match.LabelRateUnit))
		case rate < *match.LabelRateMin || rate > *match.LabelRateMax:
			res.Flags = append(res.Flags, "Rate outside catalog label range; override reason is required to finalize.")
		}
	}

	if strings.EqualFold(a.Text("epa_reg_no"), "unknown") {
		res.Flags = append(res.Flags, "EPA registration number is unknown and must be confirmed before compliance use.")
	}

	return res
}
