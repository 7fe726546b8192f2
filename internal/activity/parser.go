// Package activity turns a spoken field note into a validated activity
// record with a single model call and at most one repair.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nugget/furrow/internal/events"
	"github.com/nugget/furrow/internal/fieldlog"
	"github.com/nugget/furrow/internal/llm"
	"github.com/nugget/furrow/internal/prompts"
	"github.com/nugget/furrow/internal/usage"
	"github.com/nugget/furrow/internal/weather"
)

// MaxCandidates bounds the catalog candidates offered as hints and
// returned with a result.
const MaxCandidates = 8

// Catalog finds catalog products matching free text.
type Catalog interface {
	FindCatalogCandidates(ctx context.Context, raw string, limit int) ([]fieldlog.Candidate, error)
}

// FieldLister lists the known fields of a farm.
type FieldLister interface {
	ListFields(ctx context.Context, farmID string) ([]fieldlog.Field, error)
}

// ContextRetriever returns retrieved memory and document text.
type ContextRetriever interface {
	RetrieveContext(ctx context.Context, userID, query string) (string, error)
}

// WeatherSource looks up historical conditions at a point.
type WeatherSource interface {
	Observe(ctx context.Context, lat, lon float64, at time.Time) (*weather.Observation, error)
}

// UsageRecorder persists per-call token usage.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Request is one extraction request.
type Request struct {
	Transcript string
	UserID     string
	FarmID     string
	Lat        *float64
	Lon        *float64
	Timestamp  string
}

// Result is a validated activity with the hints that informed it.
type Result struct {
	Activity   *fieldlog.Activity   `json:"activity"`
	Candidates []fieldlog.Candidate `json:"product_candidates"`
	// Clarification asks the user to name the product when the
	// mentioned one matched nothing in the catalog.
	Clarification string `json:"clarification_question,omitempty"`
	Repaired      bool   `json:"repaired"`
}

// Parser extracts activities. Catalog, fields, retriever and weather
// are optional hint sources; a nil one is skipped.
type Parser struct {
	client    llm.Client
	model     string
	catalog   Catalog
	fields    FieldLister
	retriever ContextRetriever
	weather   WeatherSource
	bus       *events.Bus
	usage     UsageRecorder
	pricer    usage.Pricer
	schema    *jsonschema.Resolved
	logger    *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithCatalog sets the catalog used for product hints.
func WithCatalog(c Catalog) Option { return func(p *Parser) { p.catalog = c } }

// WithFields sets the source of known fields.
func WithFields(f FieldLister) Option { return func(p *Parser) { p.fields = f } }

// WithRetriever sets the memory/document retriever.
func WithRetriever(r ContextRetriever) Option { return func(p *Parser) { p.retriever = r } }

// WithWeather enables best-effort weather enrichment of spray records.
func WithWeather(w WeatherSource) Option { return func(p *Parser) { p.weather = w } }

// WithEventBus publishes activity_parsed and activity_failed events.
func WithEventBus(bus *events.Bus) Option { return func(p *Parser) { p.bus = bus } }

// WithUsage records token usage of extraction calls.
func WithUsage(rec UsageRecorder, pricer usage.Pricer) Option {
	return func(p *Parser) {
		p.usage = rec
		p.pricer = pricer
	}
}

// NewParser creates a parser calling model through client.
func NewParser(client llm.Client, model string, logger *slog.Logger, opts ...Option) (*Parser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	p := &Parser{client: client, model: model, schema: schema, logger: logger}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// hints is the advisory context sent alongside the transcript.
type hints struct {
	KnownFields       []knownField  `json:"known_fields"`
	CatalogCandidates []catalogHint `json:"catalog_candidates"`
	ProvidedGPS       *fieldlog.GPS `json:"provided_gps"`
	ProvidedTimestamp *string       `json:"provided_timestamp"`
	RetrievedContext  *string       `json:"retrieved_context"`
}

type knownField struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Acreage float64 `json:"acreage"`
}

type catalogHint struct {
	Name          string   `json:"name"`
	EPARegNo      string   `json:"epa_reg_no,omitempty"`
	LabelRateMin  *float64 `json:"label_rate_min,omitempty"`
	LabelRateMax  *float64 `json:"label_rate_max,omitempty"`
	LabelRateUnit string   `json:"label_rate_unit,omitempty"`
	RestrictedUse bool     `json:"restricted_use"`
}

// Parse extracts one activity from req.Transcript. A failed first
// answer gets exactly one repair call; a failed repair returns
// *ExtractionFailedError.
func (p *Parser) Parse(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return nil, errors.New("transcript is empty")
	}

	res, err := p.parse(ctx, req)
	if err != nil {
		p.bus.Emit(events.SourceActivity, events.KindActivityFailed, map[string]any{"error": err.Error()})
		return nil, err
	}
	p.bus.Emit(events.SourceActivity, events.KindActivityParsed, map[string]any{
		"type":             res.Activity.Type,
		"repaired":         res.Repaired,
		"candidates":       len(res.Candidates),
		"missing_required": fieldlog.ValidateRequired(res.Activity),
	})
	return res, nil
}

func (p *Parser) parse(ctx context.Context, req Request) (*Result, error) {
	h, offered := p.gatherHints(ctx, req)
	contextJSON, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal hints: %w", err)
	}

	raw, err := p.complete(ctx, prompts.ParseActivitySystem, prompts.ParseActivityUser(req.Transcript, string(contextJSON)))
	if err != nil {
		return nil, err
	}

	result := &Result{}
	act, verr := p.decode(raw)
	if verr != nil {
		p.logger.Warn("activity output invalid, requesting repair", "error", verr)
		raw, err = p.complete(ctx, prompts.RepairJSON, raw)
		if err != nil {
			return nil, err
		}
		act, verr = p.decode(raw)
		if verr != nil {
			return nil, &ExtractionFailedError{Raw: raw, Err: verr}
		}
		result.Repaired = true
	}

	result.Activity = act
	result.Candidates, result.Clarification = p.mergeMentionCandidates(ctx, act, offered)
	p.enrichWeather(ctx, req, act)
	return result, nil
}

func (p *Parser) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := p.client.Chat(ctx, p.model, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("activity extraction call: %w", err)
	}
	p.recordUsage(ctx, resp)
	return resp.Message.Content, nil
}

// decode extracts, defaults, validates and converts model output.
func (p *Parser) decode(raw string) (*fieldlog.Activity, error) {
	span, err := firstObject(raw)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(span), &m); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}
	applyListDefaults(m)

	if err := p.schema.Validate(m); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	normalized, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var act fieldlog.Activity
	if err := json.Unmarshal(normalized, &act); err != nil {
		return nil, fmt.Errorf("convert activity: %w", err)
	}
	if act.Data == nil {
		act.Data = map[string]any{}
	}
	return &act, nil
}

// applyListDefaults fills the bookkeeping collections models most often
// omit. Everything else must be present.
func applyListDefaults(m map[string]any) {
	if _, ok := m["missing_fields"]; !ok {
		m["missing_fields"] = []any{}
	}
	if _, ok := m["confidence"]; !ok {
		m["confidence"] = map[string]any{}
	}
	if _, ok := m["normalization_notes"]; !ok {
		m["normalization_notes"] = []any{}
	}
}

func (p *Parser) gatherHints(ctx context.Context, req Request) (hints, []fieldlog.Candidate) {
	h := hints{
		KnownFields:       []knownField{},
		CatalogCandidates: []catalogHint{},
	}

	var offered []fieldlog.Candidate
	if p.catalog != nil {
		cands, err := p.catalog.FindCatalogCandidates(ctx, req.Transcript, MaxCandidates)
		if err != nil {
			p.logger.Warn("catalog hints unavailable", "error", err)
		}
		offered = cands
		for _, c := range cands {
			h.CatalogCandidates = append(h.CatalogCandidates, catalogHint{
				Name:          c.Name,
				EPARegNo:      c.EPARegNo,
				LabelRateMin:  c.LabelRateMin,
				LabelRateMax:  c.LabelRateMax,
				LabelRateUnit: c.LabelRateUnit,
				RestrictedUse: c.RestrictedUse,
			})
		}
	}

	if p.fields != nil && req.FarmID != "" {
		fields, err := p.fields.ListFields(ctx, req.FarmID)
		if err != nil {
			p.logger.Warn("field hints unavailable", "farm_id", req.FarmID, "error", err)
		}
		for _, f := range fields {
			h.KnownFields = append(h.KnownFields, knownField{ID: f.ID, Name: f.Name, Acreage: f.Acreage})
		}
	}

	if req.Lat != nil && req.Lon != nil {
		h.ProvidedGPS = &fieldlog.GPS{Lat: req.Lat, Lon: req.Lon}
	}
	if req.Timestamp != "" {
		h.ProvidedTimestamp = &req.Timestamp
	}

	if p.retriever != nil {
		text, err := p.retriever.RetrieveContext(ctx, req.UserID, req.Transcript)
		if err != nil {
			p.logger.Warn("retrieved context unavailable", "error", err)
		}
		if text != "" {
			h.RetrievedContext = &text
		}
	}

	return h, offered
}

// mergeMentionCandidates adds catalog matches for the model's product
// mention to the offered candidates, keeping each product's best score.
func (p *Parser) mergeMentionCandidates(ctx context.Context, act *fieldlog.Activity, offered []fieldlog.Candidate) ([]fieldlog.Candidate, string) {
	byName := make(map[string]fieldlog.Candidate, len(offered))
	for _, c := range offered {
		byName[c.Name] = c
	}

	var clarification string
	mention := ""
	if act.Entities != nil {
		mention = strings.TrimSpace(act.Entities.ProductMention)
	}
	if mention != "" && p.catalog != nil {
		cands, err := p.catalog.FindCatalogCandidates(ctx, mention, MaxCandidates)
		if err != nil {
			p.logger.Warn("catalog lookup for mention failed", "mention", mention, "error", err)
		} else if len(cands) == 0 {
			clarification = fmt.Sprintf("I couldn't find %q in the product catalog. Which product was applied, and what is its EPA registration number?", mention)
		}
		for _, c := range cands {
			if prev, ok := byName[c.Name]; !ok || c.Score > prev.Score {
				byName[c.Name] = c
			}
		}
	}

	out := make([]fieldlog.Candidate, 0, len(byName))
	for _, c := range byName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > MaxCandidates {
		out = out[:MaxCandidates]
	}
	return out, clarification
}

// enrichWeather attaches observed conditions to a spray record when a
// position is known and the record has no weather yet.
func (p *Parser) enrichWeather(ctx context.Context, req Request, act *fieldlog.Activity) {
	if p.weather == nil || act.Type != fieldlog.TypeSpray {
		return
	}
	if _, ok := act.Data["weather"].(map[string]any); ok {
		return
	}

	lat, lon := req.Lat, req.Lon
	if (lat == nil || lon == nil) && act.GPS != nil {
		lat, lon = act.GPS.Lat, act.GPS.Lon
	}
	if lat == nil || lon == nil {
		return
	}

	at := time.Now().UTC()
	for _, s := range []string{act.OccurredAt, req.Timestamp} {
		if t, err := weather.ParseTimestamp(s); err == nil {
			at = t
			break
		}
	}

	obs, err := p.weather.Observe(ctx, *lat, *lon, at)
	if err != nil {
		p.logger.Warn("weather enrichment failed", "error", err)
		return
	}

	wx := map[string]any{"source": obs.Source, "observed_at": obs.ObservedAt}
	setIf := func(key string, v *float64) {
		if v != nil {
			wx[key] = *v
		}
	}
	setIf("wind_mph", obs.WindSpeedMPH)
	setIf("temp_f", obs.TempF)
	setIf("humidity_pct", obs.HumidityPct)
	setIf("precip_in", obs.PrecipIn)
	act.Data["weather"] = wx
	act.NormalizationNotes = append(act.NormalizationNotes, "Weather filled from "+obs.Source+" archive for the recorded time and position.")
}

func (p *Parser) recordUsage(ctx context.Context, resp *llm.ChatResponse) {
	if p.usage == nil {
		return
	}
	model := resp.Model
	if model == "" {
		model = p.model
	}
	var cost float64
	if p.pricer != nil {
		cost = usage.ComputeCost(p.pricer, model, resp.InputTokens, resp.OutputTokens)
	}
	err := p.usage.Record(ctx, usage.Record{
		Model:        model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CostUSD:      cost,
		Role:         usage.RoleExtraction,
	})
	if err != nil {
		p.logger.Warn("failed to record extraction usage", "error", err)
	}
}
