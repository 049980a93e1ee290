package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"fieldroute/internal/assign"
	"fieldroute/internal/model"
	"fieldroute/internal/store"
)

// POST /v1/assignments/bulk
func (s *Server) bulkAssign(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	req, err := decodeAssignRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.Assign.BulkAssign(r.Context(), p.BusinessID, req)
	switch {
	case errors.Is(err, assign.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		log.Error().Err(err).Str("business", p.BusinessID).Str("user", p.UserID).Msg("bulk assign failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /v1/route-plans?date=YYYY-MM-DD[&userId=]
func (s *Server) listRoutePlans(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	plans, err := s.Store.ListRoutePlans(r.Context(), p.BusinessID, date, r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if plans == nil {
		plans = []model.RoutePlan{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": plans})
}

// GET /v1/route-plans/{id}
func (s *Server) getRoutePlan(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	plan, err := s.Store.GetRoutePlan(r.Context(), p.BusinessID, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "route plan not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ready checks DB connectivity when the store supports it.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if pg, ok := s.Store.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
