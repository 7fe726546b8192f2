package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nugget/furrow/internal/activity"
	"github.com/nugget/furrow/internal/fieldlog"
)

// ParseRequest is the body of POST /v1/activity/parse.
type ParseRequest struct {
	Transcript string   `json:"transcript"`
	FarmID     string   `json:"farm_id,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lon        *float64 `json:"lon,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
	Email      string   `json:"email,omitempty"`
}

func (s *Server) handleActivityParse(w http.ResponseWriter, r *http.Request) {
	if s.parser == nil {
		s.fail(w, http.StatusServiceUnavailable, CodeUnavailable, "activity parsing not configured", nil)
		return
	}

	var req ParseRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		s.fail(w, http.StatusBadRequest, CodeInvalidRequest, "transcript is required", nil)
		return
	}

	res, err := s.parser.Parse(r.Context(), activity.Request{
		Transcript: req.Transcript,
		UserID:     s.resolveUser(r.Context(), req.Email),
		FarmID:     req.FarmID,
		Lat:        req.Lat,
		Lon:        req.Lon,
		Timestamp:  req.Timestamp,
	})
	if err != nil {
		s.logger.Warn("activity parse failed", "error", err)
		details := map[string]any{"manual_entry": true, "reason": err.Error()}
		status := http.StatusBadGateway
		if errors.Is(err, activity.ErrExtractionFailed) {
			status = http.StatusUnprocessableEntity
		}
		s.fail(w, status, CodeParseFailed, "Unable to parse activity", details)
		return
	}

	act := res.Activity
	ranges := fieldlog.ValidateRanges(act, bestMatch(res.Candidates), s.fieldAcreage(r, act))

	s.ok(w, http.StatusOK, map[string]any{
		"activity":               act,
		"missing_fields":         act.MissingFields,
		"confidence":             act.Confidence,
		"normalization_notes":    act.NormalizationNotes,
		"product_candidates":     res.Candidates,
		"clarification_question": nullable(res.Clarification),
		"repaired":               res.Repaired,
		"missing_required":       fieldlog.ValidateRequired(act),
		"flags":                  ranges.Flags,
		"hard_errors":            ranges.HardErrors,
	})
}

// bestMatch returns the top candidate when it is at least an alias
// match; weaker matches are only suggestions.
func bestMatch(cands []fieldlog.Candidate) *fieldlog.Product {
	if len(cands) == 0 || cands[0].Score < fieldlog.ScoreAlias {
		return nil
	}
	p := cands[0].Product
	return &p
}

// fieldAcreage looks up the acreage of the activity's field, or 0 when
// unknown.
func (s *Server) fieldAcreage(r *http.Request, act *fieldlog.Activity) float64 {
	if s.fields == nil || act.Field == nil || act.Field.FieldID == "" {
		return 0
	}
	f, err := s.fields.GetField(r.Context(), act.Field.FieldID)
	if err != nil {
		if !errors.Is(err, fieldlog.ErrNotFound) {
			s.logger.Warn("field lookup failed", "field_id", act.Field.FieldID, "error", err)
		}
		return 0
	}
	return f.Acreage
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
