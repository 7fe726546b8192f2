package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nugget/furrow/internal/fieldlog"
)

type farmRequest struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	State   string `json:"state,omitempty"`
	Email   string `json:"email,omitempty"`
}

type fieldRequest struct {
	Name        string   `json:"name"`
	Acreage     float64  `json:"acreage"`
	CentroidLat *float64 `json:"centroid_lat,omitempty"`
	CentroidLon *float64 `json:"centroid_lon,omitempty"`
}

func (s *Server) requireFields(w http.ResponseWriter) bool {
	if s.fields == nil {
		s.fail(w, http.StatusServiceUnavailable, CodeUnavailable, "field store not configured", nil)
		return false
	}
	return true
}

func (s *Server) handleFarmList(w http.ResponseWriter, r *http.Request) {
	if !s.requireFields(w) {
		return
	}
	farms, err := s.fields.ListFarms(r.Context(), s.resolveUser(r.Context(), r.URL.Query().Get("email")))
	if err != nil {
		s.logger.Error("list farms failed", "error", err)
		s.fail(w, http.StatusInternalServerError, CodeInternal, "failed to list farms", nil)
		return
	}
	if farms == nil {
		farms = []fieldlog.Farm{}
	}
	s.ok(w, http.StatusOK, map[string]any{"farms": farms})
}

func (s *Server) handleFarmCreate(w http.ResponseWriter, r *http.Request) {
	if !s.requireFields(w) {
		return
	}
	var req farmRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.fail(w, http.StatusBadRequest, CodeInvalidRequest, "name is required", nil)
		return
	}

	farm, err := s.fields.CreateFarm(r.Context(), s.resolveUser(r.Context(), req.Email), req.Name, req.Address, req.State)
	if err != nil {
		s.logger.Error("create farm failed", "error", err)
		s.fail(w, http.StatusInternalServerError, CodeInternal, "failed to create farm", nil)
		return
	}
	s.ok(w, http.StatusCreated, map[string]any{"farm": farm})
}

func (s *Server) handleFieldList(w http.ResponseWriter, r *http.Request) {
	if !s.requireFields(w) {
		return
	}
	fields, err := s.fields.ListFields(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("list fields failed", "error", err)
		s.fail(w, http.StatusInternalServerError, CodeInternal, "failed to list fields", nil)
		return
	}
	if fields == nil {
		fields = []fieldlog.Field{}
	}
	s.ok(w, http.StatusOK, map[string]any{"fields": fields})
}

func (s *Server) handleFieldCreate(w http.ResponseWriter, r *http.Request) {
	if !s.requireFields(w) {
		return
	}
	var req fieldRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" || req.Acreage <= 0 {
		s.fail(w, http.StatusBadRequest, CodeInvalidRequest, "name and positive acreage are required", nil)
		return
	}

	field, err := s.fields.CreateField(r.Context(), fieldlog.Field{
		FarmID:      r.PathValue("id"),
		Name:        req.Name,
		Acreage:     req.Acreage,
		CentroidLat: req.CentroidLat,
		CentroidLon: req.CentroidLon,
	})
	switch {
	case errors.Is(err, fieldlog.ErrNotFound):
		s.fail(w, http.StatusNotFound, CodeNotFound, "farm not found", nil)
	case err != nil:
		s.logger.Error("create field failed", "error", err)
		s.fail(w, http.StatusInternalServerError, CodeInternal, "failed to create field", nil)
	default:
		s.ok(w, http.StatusCreated, map[string]any{"field": field})
	}
}
