package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/andresmejia3/greeter/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.health)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/tracks", s.tracks)
		r.Get("/events", s.events)
		r.Get("/speech", s.speechStats)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if s.state != nil {
		body["pipeline"] = s.state.Stats()
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) tracks(w http.ResponseWriter, r *http.Request) {
	var snap *pipeline.Snapshot
	if s.state != nil {
		snap = s.state.Latest()
	}
	if snap == nil {
		respondJSON(w, http.StatusOK, pipeline.Snapshot{Tracks: []pipeline.TrackView{}})
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": s.feed.Recent(limit)})
}

func (s *Server) speechStats(w http.ResponseWriter, r *http.Request) {
	if s.speech == nil {
		respondError(w, http.StatusServiceUnavailable, "speech dispatcher not running")
		return
	}
	respondJSON(w, http.StatusOK, s.speech.Stats())
}
