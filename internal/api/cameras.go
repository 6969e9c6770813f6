package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sentrynet/internal/apperr"
	"sentrynet/internal/decoder"
	"sentrynet/internal/model"
	"sentrynet/internal/pipeline"
)

// cameraRecord is the persisted shape of a camera's configuration,
// including the credentials StreamSource deliberately omits from its own
// JSON encoding (model.StreamSource.Password carries json:"-").
type cameraRecord struct {
	model.StreamSource
	Password string `json:"password,omitempty"`
}

// cameraResponse is what the control plane hands back to clients: the
// Stream Source plus its lifecycle state, latest stats, and ROIs, folded
// in per this package's routing decision (spec.md §6 has no standalone
// ROI route; see DESIGN.md).
type cameraResponse struct {
	model.StreamSource
	State model.PipelineState `json:"state"`
	Stats *pipeline.Stats     `json:"stats,omitempty"`
	ROIs  []model.ROI         `json:"rois,omitempty"`
}

func (s *Server) toCameraResponse(src model.StreamSource) cameraResponse {
	resp := cameraResponse{StreamSource: src, State: model.StateStopped}
	if handle, ok := s.TaskManager.GetPipeline(src.ID); ok {
		resp.State = handle.State()
		stats := handle.Stats()
		resp.Stats = &stats
	}
	if s.DB != nil {
		if rois, err := s.DB.ListROIs(src.ID); err == nil {
			resp.ROIs = rois
		}
	}
	return resp
}

// listCameras serves GET /api/cameras.
func (s *Server) listCameras(w http.ResponseWriter, r *http.Request) {
	sources := s.TaskManager.Sources()
	out := make([]cameraResponse, 0, len(sources))
	for _, src := range sources {
		out = append(out, s.toCameraResponse(src))
	}
	respondJSON(w, http.StatusOK, out)
}

// getCamera serves GET /api/cameras/{id}.
func (s *Server) getCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	src, ok := s.TaskManager.Source(id)
	if !ok {
		respondError(w, apperr.NotFound("camera", id))
		return
	}
	respondJSON(w, http.StatusOK, s.toCameraResponse(src))
}

type createCameraRequest struct {
	ID               string     `json:"id"`
	URL              string     `json:"url"`
	Protocol         string     `json:"protocol"`
	Width            int        `json:"width"`
	Height           int        `json:"height"`
	FPS              int        `json:"fps"`
	Username         string     `json:"username"`
	Password         string     `json:"password"`
	DetectionEnabled bool       `json:"detection_enabled"`
	DetectionThreads int        `json:"detection_threads"`
	PreferredPort    int        `json:"preferred_mjpeg_port"`
	ROIs             []model.ROI `json:"rois"`
}

// createCamera serves POST /api/cameras: allocates an MJPEG port (lock
// hierarchy level 1), registers the source with the Task Manager (level
// 3), then persists. On any failure after port allocation the port is
// released, leaving no orphaned reservation.
func (s *Server) createCamera(w http.ResponseWriter, r *http.Request) {
	var req createCameraRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.URL == "" {
		respondError(w, apperr.Invalid("url is required"))
		return
	}

	port, err := s.Allocator.AllocatePort(req.ID, req.PreferredPort)
	if err != nil {
		respondError(w, err)
		return
	}

	src := model.StreamSource{
		ID:               req.ID,
		URL:              req.URL,
		Protocol:         model.Protocol(req.Protocol),
		Width:            req.Width,
		Height:           req.Height,
		FPS:              req.FPS,
		Username:         req.Username,
		Password:         req.Password,
		Enabled:          true,
		MJPEGPort:        port,
		DetectionEnabled: req.DetectionEnabled,
		DetectionThreads: req.DetectionThreads,
	}

	if err := s.TaskManager.AddSource(src); err != nil {
		s.Allocator.ReleasePort(req.ID)
		respondError(w, err)
		return
	}

	if err := s.persistCamera(src, req.Password, req.ROIs); err != nil {
		s.TaskManager.RemoveSource(req.ID)
		s.Allocator.ReleasePort(req.ID)
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, s.toCameraResponse(src))
}

func (s *Server) persistCamera(src model.StreamSource, password string, rois []model.ROI) error {
	if s.DB == nil {
		return nil
	}
	rec := cameraRecord{StreamSource: src, Password: password}
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.DB.SaveCameraConfig(src.ID, blob); err != nil {
		return err
	}
	for _, roi := range rois {
		roi.SourceID = src.ID
		if roi.ID == "" {
			roi.ID = uuid.NewString()
		}
		if err := s.DB.SaveROI(roi); err != nil {
			return err
		}
	}
	return nil
}

type updateCameraRequest struct {
	URL              *string     `json:"url"`
	Width            *int        `json:"width"`
	Height           *int        `json:"height"`
	FPS              *int        `json:"fps"`
	Username         *string     `json:"username"`
	Password         *string     `json:"password"`
	DetectionEnabled *bool       `json:"detection_enabled"`
	DetectionThreads *int        `json:"detection_threads"`
	ROIs             []model.ROI `json:"rois"`
}

// updateCamera serves PUT /api/cameras/{id}. StreamSource is immutable
// once a Pipeline owns it, so an update restarts the Pipeline with the
// merged fields under the same id and MJPEG port.
func (s *Server) updateCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, ok := s.TaskManager.Source(id)
	if !ok {
		respondError(w, apperr.NotFound("camera", id))
		return
	}

	var req updateCameraRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	updated := existing
	password := ""
	if req.URL != nil {
		updated.URL = *req.URL
	}
	if req.Width != nil {
		updated.Width = *req.Width
	}
	if req.Height != nil {
		updated.Height = *req.Height
	}
	if req.FPS != nil {
		updated.FPS = *req.FPS
	}
	if req.Username != nil {
		updated.Username = *req.Username
	}
	if req.Password != nil {
		updated.Password = *req.Password
		password = *req.Password
	}
	if req.DetectionEnabled != nil {
		updated.DetectionEnabled = *req.DetectionEnabled
	}
	if req.DetectionThreads != nil {
		updated.DetectionThreads = *req.DetectionThreads
	}

	if err := s.TaskManager.RemoveSource(id); err != nil {
		respondError(w, err)
		return
	}
	if err := s.TaskManager.AddSource(updated); err != nil {
		respondError(w, err)
		return
	}

	if req.ROIs != nil {
		if err := s.replaceROIs(id, req.ROIs); err != nil {
			respondError(w, err)
			return
		}
	}
	if err := s.persistCamera(updated, password, nil); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, s.toCameraResponse(updated))
}

func (s *Server) replaceROIs(sourceID string, rois []model.ROI) error {
	if s.DB == nil {
		return nil
	}
	existing, err := s.DB.ListROIs(sourceID)
	if err != nil {
		return err
	}
	for _, old := range existing {
		if err := s.DB.DeleteROI(old.ID); err != nil {
			return err
		}
	}
	for _, roi := range rois {
		roi.SourceID = sourceID
		if roi.ID == "" {
			roi.ID = uuid.NewString()
		}
		if err := s.DB.SaveROI(roi); err != nil {
			return err
		}
	}
	if handle, ok := s.TaskManager.GetPipeline(sourceID); ok {
		handle.SetROIs(rois)
	}
	return nil
}

// deleteCamera serves DELETE /api/cameras/{id}. Idempotent: removing an
// unknown id is not an error.
func (s *Server) deleteCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.TaskManager.RemoveSource(id); err != nil {
		respondError(w, err)
		return
	}
	s.Allocator.ReleasePort(id)
	if s.DB != nil {
		s.DB.DeleteCameraConfig(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

type testConnectionRequest struct {
	URL      string `json:"url"`
	Protocol string `json:"protocol"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type testConnectionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// testConnection serves POST /api/cameras/test-connection: probes the
// source with ffprobe without registering it, bounded to 10s so a
// hanging RTSP handshake cannot stall the control plane.
func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.URL == "" {
		respondError(w, apperr.Invalid("url is required"))
		return
	}

	src := model.StreamSource{
		ID:       "probe",
		URL:      req.URL,
		Protocol: model.Protocol(req.Protocol),
		Username: req.Username,
		Password: req.Password,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := decoder.Probe(ctx, src); err != nil {
		respondJSON(w, http.StatusOK, testConnectionResponse{OK: false, Message: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, testConnectionResponse{OK: true})
}

type personStatsResponse struct {
	Enabled bool `json:"enabled"`
}

// getPersonStats serves GET /api/cameras/{id}/person-stats.
func (s *Server) getPersonStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	handle, ok := s.TaskManager.GetPipeline(id)
	if !ok {
		respondError(w, apperr.NotFound("camera", id))
		return
	}
	enabled := true
	if toggler, ok := handle.(interface{ AttributeAnalysisEnabled() bool }); ok {
		enabled = toggler.AttributeAnalysisEnabled()
	}
	respondJSON(w, http.StatusOK, personStatsResponse{Enabled: enabled})
}

// enablePersonStats serves POST /api/cameras/{id}/person-stats/enable.
func (s *Server) enablePersonStats(w http.ResponseWriter, r *http.Request) {
	s.setPersonStats(w, r, true)
}

// disablePersonStats serves POST /api/cameras/{id}/person-stats/disable.
func (s *Server) disablePersonStats(w http.ResponseWriter, r *http.Request) {
	s.setPersonStats(w, r, false)
}

func (s *Server) setPersonStats(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")
	handle, ok := s.TaskManager.GetPipeline(id)
	if !ok {
		respondError(w, apperr.NotFound("camera", id))
		return
	}
	handle.SetAttributeAnalysisEnabled(enabled)
	respondJSON(w, http.StatusOK, personStatsResponse{Enabled: enabled})
}

type configurePersonStatsRequest struct {
	Enabled bool `json:"enabled"`
}

// configurePersonStats serves POST /api/cameras/{id}/person-stats/config,
// a single endpoint equivalent to enable/disable for clients that prefer
// a body over two distinct routes.
func (s *Server) configurePersonStats(w http.ResponseWriter, r *http.Request) {
	var req configurePersonStatsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	s.setPersonStats(w, r, req.Enabled)
}
