package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"sentrynet/internal/apperr"
	"sentrynet/internal/model"
)

// listRecordings serves GET /api/recordings, optionally filtered by
// ?source_id=&limit=. Only events carrying a video_path are returned.
func (s *Server) listRecordings(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		respondJSON(w, http.StatusOK, []any{})
		return
	}

	q := r.URL.Query()
	sourceID := q.Get("source_id")

	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, apperr.Invalid("limit must be a positive integer"))
			return
		}
		limit = n
	}

	recordings, err := s.DB.ListRecordings(sourceID, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, recordings)
}

// getRecording serves GET /api/recordings/{id}: the event metadata for
// one recording, without its video bytes.
func (s *Server) getRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ev, err := s.recordingByID(id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

// downloadRecording serves GET /api/recordings/{id}/download: streams the
// clip's bytes from disk.
func (s *Server) downloadRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ev, err := s.recordingByID(id)
	if err != nil {
		respondError(w, err)
		return
	}
	http.ServeFile(w, r, ev.VideoPath)
}

func (s *Server) recordingByID(id string) (*model.Event, error) {
	if s.DB == nil {
		return nil, apperr.NotFound("recording", id)
	}
	ev, err := s.DB.GetEvent(id)
	if err != nil {
		return nil, err
	}
	if ev == nil || ev.VideoPath == "" {
		return nil, apperr.NotFound("recording", id)
	}
	return ev, nil
}
