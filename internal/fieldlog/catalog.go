package fieldlog

import (
	"regexp"
	"sort"
	"strings"
)

// Product is one catalog entry.
type Product struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Manufacturer  string   `json:"manufacturer,omitempty"`
	EPARegNo      string   `json:"epa_reg_no,omitempty"`
	ProductType   string   `json:"product_type"`
	RestrictedUse bool     `json:"restricted_use"`
	REIHours      *int     `json:"rei_hours,omitempty"`
	PHIDays       *int     `json:"phi_days,omitempty"`
	LabelRateMin  *float64 `json:"label_rate_min,omitempty"`
	LabelRateMax  *float64 `json:"label_rate_max,omitempty"`
	LabelRateUnit string   `json:"label_rate_unit,omitempty"`
	AllowedCrops  []string `json:"allowed_crops,omitempty"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Candidate is a catalog product scored against a mention.
type Candidate struct {
	Product
	Score int `json:"score"`
}

// Match scores.
const (
	ScoreExactName    = 100
	ScoreNameContains = 80
	ScoreAlias        = 75
	ScoreBrandWord    = 60
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9 ]+`)

// Normalize lowercases s and reduces it to single-spaced alphanumeric
// words.
func Normalize(s string) string {
	s = nonAlnum.ReplaceAllString(strings.ToLower(s), " ")
	return strings.Join(strings.Fields(s), " ")
}

// ScoreProduct rates how well a normalized query names p. Zero means
// no match. Short queries match by containment in the name or aliases;
// long ones (whole transcripts) match when they contain the name, an
// alias, or the product's leading brand word.
func ScoreProduct(p Product, query string) int {
	if query == "" {
		return 0
	}
	name := Normalize(p.Name)
	switch {
	case name == query:
		return ScoreExactName
	case strings.Contains(name, query) || containsPhrase(query, name):
		return ScoreNameContains
	}
	for _, a := range p.Aliases {
		alias := Normalize(a)
		if alias == "" {
			continue
		}
		if strings.Contains(alias, query) || containsPhrase(query, alias) {
			return ScoreAlias
		}
	}
	if brand := strings.Fields(name); len(brand) > 0 && len(brand[0]) >= 4 && containsPhrase(query, brand[0]) {
		return ScoreBrandWord
	}
	return 0
}

// containsPhrase reports whether phrase appears in text on word
// boundaries.
func containsPhrase(text, phrase string) bool {
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

// RankCandidates scores products against raw, best first, ties by name.
func RankCandidates(products []Product, raw string, limit int) []Candidate {
	query := Normalize(raw)
	var out []Candidate
	for _, p := range products {
		if score := ScoreProduct(p, query); score > 0 {
			out = append(out, Candidate{Product: p, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func ptr[T any](v T) *T { return &v }

// SeedProducts is the demo catalog loaded on first start.
var SeedProducts = []Product{
	{Name: "ClearField Herbicide", Manufacturer: "AgriNova", EPARegNo: "EPA-FAKE-1001", ProductType: "herbicide", REIHours: ptr(12), PHIDays: ptr(30), LabelRateMin: ptr(12.0), LabelRateMax: ptr(32.0), LabelRateUnit: "oz/acre", AllowedCrops: []string{"corn", "soybean"}, Aliases: []string{"clear field", "cf herb"}},
	{Name: "RustGuard 480", Manufacturer: "AgriNova", EPARegNo: "EPA-FAKE-1002", ProductType: "fungicide", REIHours: ptr(24), PHIDays: ptr(14), LabelRateMin: ptr(8.0), LabelRateMax: ptr(16.0), LabelRateUnit: "oz/acre", AllowedCrops: []string{"wheat", "barley"}, Aliases: []string{"rust guard"}},
	{Name: "WeedStop Max", Manufacturer: "GreenChem", EPARegNo: "EPA-FAKE-1003", ProductType: "herbicide", RestrictedUse: true, REIHours: ptr(48), PHIDays: ptr(45), LabelRateMin: ptr(10.0), LabelRateMax: ptr(24.0), LabelRateUnit: "oz/acre", AllowedCrops: []string{"cotton"}, Aliases: []string{"weed stop"}},
	{Name: "MildewBlock S", Manufacturer: "GreenChem", EPARegNo: "EPA-FAKE-1004", ProductType: "fungicide", REIHours: ptr(12), PHIDays: ptr(7), LabelRateMin: ptr(1.0), LabelRateMax: ptr(3.0), LabelRateUnit: "qt/acre", AllowedCrops: []string{"grape", "berry"}, Aliases: []string{"mildew block"}},
	{Name: "NitroPlus 28-0-0", Manufacturer: "SoilWorks", ProductType: "fertilizer", LabelRateMin: ptr(5.0), LabelRateMax: ptr(30.0), LabelRateUnit: "gal/acre", AllowedCrops: []string{"corn"}, Aliases: []string{"np 28"}},
	{Name: "PhosBoost 10-34-0", Manufacturer: "SoilWorks", ProductType: "fertilizer", LabelRateMin: ptr(3.0), LabelRateMax: ptr(20.0), LabelRateUnit: "gal/acre", AllowedCrops: []string{"corn", "soybean"}, Aliases: []string{"phos boost"}},
	{Name: "YieldSure K", Manufacturer: "SoilWorks", ProductType: "fertilizer", LabelRateMin: ptr(50.0), LabelRateMax: ptr(300.0), LabelRateUnit: "lb/acre", AllowedCrops: []string{"potato", "alfalfa"}, Aliases: []string{"ysk"}},
	{Name: "InsectAway Pro", Manufacturer: "CropDefend", EPARegNo: "EPA-FAKE-1005", ProductType: "insecticide", RestrictedUse: true, REIHours: ptr(24), PHIDays: ptr(21), LabelRateMin: ptr(4.0), LabelRateMax: ptr(12.0), LabelRateUnit: "oz/acre", AllowedCrops: []string{"vegetable"}, Aliases: []string{"insect away"}},
	{Name: "LeafShield", Manufacturer: "CropDefend", EPARegNo: "EPA-FAKE-1006", ProductType: "fungicide", REIHours: ptr(4), PHIDays: ptr(3), LabelRateMin: ptr(6.0), LabelRateMax: ptr(18.0), LabelRateUnit: "oz/acre", AllowedCrops: []string{"tomato", "pepper"}, Aliases: []string{"leaf shield"}},
	{Name: "AquaWet Surfactant", Manufacturer: "CropDefend", ProductType: "adjuvant", LabelRateMin: ptr(0.1), LabelRateMax: ptr(1.0), LabelRateUnit: "% v/v", Aliases: []string{"aquawet"}},
	{Name: "FieldClean Burndown", Manufacturer: "TerraLine", EPARegNo: "EPA-FAKE-1007", ProductType: "herbicide", RestrictedUse: true, REIHours: ptr(24), PHIDays: ptr(30), LabelRateMin: ptr(16.0), LabelRateMax: ptr(40.0), LabelRateUnit: "oz/acre", AllowedCrops: []string{"fallow"}, Aliases: []string{"burndown"}},
	{Name: "RootRise Bio", Manufacturer: "TerraLine", ProductType: "biological", LabelRateMin: ptr(1.0), LabelRateMax: ptr(4.0), LabelRateUnit: "qt/acre", AllowedCrops: []string{"all"}, Aliases: []string{"root rise"}},
}
