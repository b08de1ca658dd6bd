package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/rewired-gh/metroevents/internal/logger"
	"github.com/rewired-gh/metroevents/internal/models"
	"github.com/rewired-gh/metroevents/internal/search"
	"github.com/rewired-gh/metroevents/internal/storage"
)

// Filters echoes the filters a listing was produced with.
type Filters struct {
	Categories []string   `json:"categories"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
}

// EventsResponse is the body of GET /events.
type EventsResponse struct {
	Filters             Filters        `json:"filters"`
	AvailableCategories []string       `json:"available_categories"`
	Events              []models.Event `json:"events"`
	ShowRecommendations bool           `json:"show_recommendations"`
	Recommendations     []models.Event `json:"recommendations,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string    `json:"status"`
	IndexedCount int       `json:"indexed_events"`
	IndexBuiltAt time.Time `json:"index_built_at"`
	Uptime       string    `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		IndexedCount: s.index.Len(),
		IndexBuiltAt: s.index.BuiltAt(),
		Uptime:       time.Since(s.startUTC).Truncate(time.Second).String(),
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	categories, err := s.store.FetchDistinctCategories(r.Context())
	if err != nil {
		logger.Error("Failed to fetch categories: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to fetch categories")
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"categories": categories})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query()
	categories := normalizeCategories(query["category"])

	from, err := parseDateParam(query.Get("from"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseDateParam(query.Get("to"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := s.ident.Resolve(w, r)
	events, err := s.search.Search(r.Context(), search.Request{
		Categories:        categories,
		From:              from,
		To:                to,
		ClientFingerprint: id.Fingerprint,
		UserID:            id.UserID,
	})
	if err != nil {
		logger.Error("Search failed: %v", err)
		respondError(w, http.StatusBadGateway, "event index unavailable")
		return
	}

	available, err := s.store.FetchDistinctCategories(r.Context())
	if err != nil {
		logger.Error("Failed to fetch categories: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to fetch categories")
		return
	}

	resp := EventsResponse{
		Filters:             Filters{Categories: categories, From: from, To: to},
		AvailableCategories: available,
		Events:              events,
		ShowRecommendations: id.Authenticated(),
	}
	if resp.ShowRecommendations {
		resp.Recommendations = s.recs.Recommend(0)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	eventID, ok := parseID(w, ps)
	if !ok {
		return
	}

	ev, err := s.store.Get(r.Context(), eventID)
	if errors.Is(err, storage.ErrEventNotFound) {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		logger.Error("Failed to load event %d: %v", eventID, err)
		respondError(w, http.StatusInternalServerError, "failed to load event")
		return
	}

	if s.ident.Resolve(w, r).Authenticated() {
		s.index.PushRecentlyViewed(ev.ID)
	}
	respondJSON(w, http.StatusOK, ev)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	take := 0
	if raw := r.URL.Query().Get("take"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "take must be an integer")
			return
		}
		take = n
	}
	respondJSON(w, http.StatusOK, map[string][]models.Event{"events": s.recs.Recommend(take)})
}

func parseID(w http.ResponseWriter, ps httprouter.Params) (int64, bool) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid event id")
		return 0, false
	}
	return id, true
}

// normalizeCategories splits comma-separated values, trims them and drops
// blanks and case-insensitive duplicates, keeping the first spelling.
func normalizeCategories(values []string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, v := range values {
		for _, c := range strings.Split(v, ",") {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			key := strings.ToLower(c)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// parseDateParam accepts a calendar date or an RFC 3339 timestamp.
func parseDateParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC 3339", raw)
	}
	return &t, nil
}
