package fieldlog

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStoreWithDB(db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"ClearField®  Herbicide!", "clearfield herbicide"},
		{"  NP-28 ", "np 28"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRankCandidates(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantFirst string
		wantScore int
	}{
		{"exact name", "LeafShield", "LeafShield", ScoreExactName},
		{"name substring", "rustguard", "RustGuard 480", ScoreNameContains},
		{"alias substring", "weed stop", "WeedStop Max", ScoreAlias},
		{"transcript with brand word", "sprayed 10 acres of corn with ClearField at 3pm", "ClearField Herbicide", ScoreBrandWord},
		{"transcript with full name", "put down MildewBlock S on the grapes", "MildewBlock S", ScoreNameContains},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RankCandidates(SeedProducts, tt.query, 8)
			if len(got) == 0 {
				t.Fatal("no candidates")
			}
			if got[0].Name != tt.wantFirst || got[0].Score != tt.wantScore {
				t.Errorf("first = %s (%d), want %s (%d)", got[0].Name, got[0].Score, tt.wantFirst, tt.wantScore)
			}
		})
	}

	if got := RankCandidates(SeedProducts, "checked the irrigation pivot", 8); len(got) != 0 {
		t.Errorf("unrelated text matched %+v", got)
	}
	if got := RankCandidates(SeedProducts, "", 8); len(got) != 0 {
		t.Errorf("empty query matched %d products", len(got))
	}
}

func TestCatalogStore(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n, err := s.SeedCatalog(ctx, SeedProducts)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(SeedProducts) {
		t.Errorf("seeded %d, want %d", n, len(SeedProducts))
	}
	if n, _ := s.SeedCatalog(ctx, SeedProducts); n != 0 {
		t.Errorf("reseed added %d, want 0", n)
	}

	products, err := s.ListCatalog(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if products[0].Name != "AquaWet Surfactant" {
		t.Errorf("first product = %q, want name order", products[0].Name)
	}

	cands, err := s.FindCatalogCandidates(ctx, "clear field", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) == 0 {
		t.Fatal("no candidates")
	}
	p := cands[0]
	if p.Name != "ClearField Herbicide" || p.EPARegNo != "EPA-FAKE-1001" {
		t.Errorf("candidate = %+v", p)
	}
	if p.LabelRateMin == nil || *p.LabelRateMin != 12 || p.LabelRateUnit != "oz/acre" {
		t.Errorf("label rate not round-tripped: %+v", p)
	}
	if !reflect.DeepEqual(p.Aliases, []string{"clear field", "cf herb"}) {
		t.Errorf("aliases = %v", p.Aliases)
	}
}

func TestFarmsAndFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	farm, err := s.CreateFarm(ctx, "u1", "Prairie Acres", "", "IA")
	if err != nil {
		t.Fatal(err)
	}
	farms, _ := s.ListFarms(ctx, "u1")
	if len(farms) != 1 || farms[0].State != "IA" {
		t.Errorf("farms = %+v", farms)
	}

	lat := 41.6
	f, err := s.CreateField(ctx, Field{FarmID: farm.ID, Name: "North 40", Acreage: 40, CentroidLat: &lat})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetField(ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "North 40" || got.Acreage != 40 || got.CentroidLat == nil || *got.CentroidLat != 41.6 || got.CentroidLon != nil {
		t.Errorf("field = %+v", got)
	}

	fields, _ := s.ListFields(ctx, farm.ID)
	if len(fields) != 1 {
		t.Errorf("fields = %+v", fields)
	}

	if _, err := s.CreateField(ctx, Field{FarmID: "missing", Name: "x", Acreage: 1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown farm err = %v", err)
	}
	if _, err := s.CreateField(ctx, Field{FarmID: farm.ID, Name: "x"}); err == nil {
		t.Error("zero acreage should be rejected")
	}
	if _, err := s.GetField(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing field err = %v", err)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name string
		act  Activity
		want []string
	}{
		{
			name: "spray from short transcript",
			act: Activity{Type: TypeSpray, OccurredAt: "2026-04-02T15:00:00Z", Data: map[string]any{
				"product_name": "ClearField", "area_treated_acres": 10.0, "method": "",
			}},
			want: []string{"data.applicator_name", "data.epa_reg_no", "data.rate_value", "data.rate_unit", "data.method", fieldRefKey},
		},
		{
			name: "field name satisfies field ref",
			act:  Activity{Type: TypeOther, OccurredAt: "x", Field: &FieldRef{FieldName: "North 40"}},
		},
		{
			name: "labor missing occurred_at",
			act:  Activity{Type: TypeLabor, Data: map[string]any{"task": "scouting", "duration_hours": 2.0, "worker_count": 1.0}},
			want: []string{"occurred_at"},
		},
		{
			name: "unknown type has no requirements",
			act:  Activity{Type: "mystery"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateRequired(&tt.act)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateRanges(t *testing.T) {
	clearField := SeedProducts[0]
	weedStop := SeedProducts[2]

	tests := []struct {
		name       string
		act        Activity
		match      *Product
		acreage    float64
		wantFlags  int
		wantErrors int
	}{
		{
			name:  "in range",
			act:   Activity{Type: TypeSpray, Data: map[string]any{"rate_value": 20.0, "rate_unit": "oz/acre"}},
			match: &clearField,
		},
		{
			name:      "rate above label",
			act:       Activity{Type: TypeSpray, Data: map[string]any{"rate_value": 40.0, "rate_unit": "oz/acre"}},
			match:     &clearField,
			wantFlags: 1,
		},
		{
			name:      "unit mismatch",
			act:       Activity{Type: TypeSpray, Data: map[string]any{"rate_value": 40.0, "rate_unit": "qt/acre"}},
			match:     &clearField,
			wantFlags: 1,
		},
		{
			name:      "restricted use and unknown epa",
			act:       Activity{Type: TypeSpray, Data: map[string]any{"epa_reg_no": "unknown"}},
			match:     &weedStop,
			wantFlags: 2,
		},
		{
			name:       "area over field acreage",
			act:        Activity{Type: TypeFertilizer, Data: map[string]any{"area_treated_acres": "50"}},
			acreage:    40,
			wantErrors: 1,
		},
		{
			name:    "area within tolerance",
			act:     Activity{Type: TypeFertilizer, Data: map[string]any{"area_treated_acres": 48.0}},
			acreage: 40,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateRanges(&tt.act, tt.match, tt.acreage)
			if len(res.Flags) != tt.wantFlags || len(res.HardErrors) != tt.wantErrors {
				t.Errorf("flags=%v errors=%v", res.Flags, res.HardErrors)
			}
		})
	}
}
