package api

import (
	"net/http"
	"strconv"
	"time"

	"sentrynet/internal/apperr"
)

// listAlerts serves GET /api/alerts, optionally filtered by
// ?source_id=&since=<RFC3339>&limit=.
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		respondJSON(w, http.StatusOK, []any{})
		return
	}

	q := r.URL.Query()
	sourceID := q.Get("source_id")

	var since *time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, apperr.Invalid("since must be RFC3339"))
			return
		}
		since = &t
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, apperr.Invalid("limit must be a positive integer"))
			return
		}
		limit = n
	}

	events, err := s.DB.ListEvents(sourceID, since, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}
