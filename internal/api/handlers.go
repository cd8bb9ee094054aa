// v2
// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/atmos"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/breaker"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/notify"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/observability"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/pipeline"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/sites"
)

// dashboardSource is the slice of the pipeline controller the API needs.
type dashboardSource interface {
	Snapshot() pipeline.Snapshot
	Params() pipeline.QueryParams
	SetParams(pipeline.QueryParams) error
	Evaluate(ctx context.Context, p pipeline.QueryParams) (pipeline.Snapshot, error)
}

type siteSource interface {
	Sites(ctx context.Context) []sites.Site
}

type noticeSource interface {
	Recent(n int) []notify.Notice
	Dismiss(id string) bool
}

type breakerSource interface {
	BreakerState() breaker.State
}

type Server struct {
	log     *slog.Logger
	dash    dashboardSource
	sites   siteSource
	notices noticeSource
	health  breakerSource
	metrics *observability.Metrics
	hub     *Hub
}

func NewServer(log *slog.Logger, dash dashboardSource, catalog siteSource, notices noticeSource, health breakerSource, metrics *observability.Metrics, hub *Hub) *Server {
	return &Server{
		log:     log.With(slog.String("component", "api")),
		dash:    dash,
		sites:   catalog,
		notices: notices,
		health:  health,
		metrics: metrics,
		hub:     hub,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response_encode_err", slog.Any("err", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports whether the pipeline has published at least one
// cycle. The breaker state rides along for operators.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	snap := s.dash.Snapshot()
	body := map[string]any{
		"ready":      snap.Generation > 0,
		"generation": snap.Generation,
	}
	if s.health != nil {
		body["upstream"] = s.health.BreakerState().String()
	}
	status := http.StatusOK
	if snap.Generation == 0 {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, body)
}

func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sites.Sites(r.Context()))
}

// handleDashboard returns the current published snapshot.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dash.Snapshot())
}

// handleSetParams replaces the dashboard query parameters. The stored
// set is returned so the caller sees exactly what took effect.
func (s *Server) handleSetParams(w http.ResponseWriter, r *http.Request) {
	var p pipeline.QueryParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	// tolerate upstream param-key spellings like "pm2.5cnc"
	if !p.Pollutant.Valid() {
		if pol, err := atmos.ParsePollutant(string(p.Pollutant)); err == nil {
			p.Pollutant = pol
		}
	}
	if err := s.dash.SetParams(p); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.dash.Params())
}

// handleSeries runs a one-shot fetch for the query parameters without
// touching the published dashboard state. Query keys follow the UI
// form fields (site, pollutant, from, to); the snapshot JSON spellings
// are accepted as aliases.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pol := atmos.PM25
	if raw := q.Get("pollutant"); raw != "" {
		var err error
		if pol, err = atmos.ParsePollutant(raw); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	p := pipeline.QueryParams{
		SiteID:    firstOf(q.Get("site"), q.Get("siteId")),
		Pollutant: pol,
		StartDate: firstOf(q.Get("from"), q.Get("startDate")),
		EndDate:   firstOf(q.Get("to"), q.Get("endDate")),
	}
	if p.StartDate == "" && p.EndDate == "" {
		today := time.Now().UTC().Format(pipeline.DateLayout)
		p.StartDate, p.EndDate = today, today
	}
	if err := p.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.dash.Evaluate(r.Context(), p)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, s.notices.Recent(limit))
}

func (s *Server) handleDismissNotification(w http.ResponseWriter, r *http.Request) {
	id := muxVar(r, "id")
	if !s.notices.Dismiss(id) {
		s.writeError(w, http.StatusNotFound, "no such notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
