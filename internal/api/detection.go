package api

import (
	"net/http"

	"sentrynet/internal/apperr"
	"sentrynet/internal/model"
)

// getDetectionConfig serves GET /api/detection/config.
func (s *Server) getDetectionConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.globalCfg.Get())
}

// putDetectionConfig serves PUT /api/detection/config: updates the
// process-wide defaults and pushes the thresholds/cap down into the
// running Detector Pool, which takes effect on the next frame it
// postprocesses (no pipeline restart required).
func (s *Server) putDetectionConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.GlobalDetectionConfig
	if err := decodeJSON(r, &cfg); err != nil {
		respondError(w, err)
		return
	}
	if cfg.Confidence < 0 || cfg.Confidence > 1 {
		respondError(w, apperr.Invalid("confidence must be in [0, 1]"))
		return
	}
	if cfg.NMSIoU < 0 || cfg.NMSIoU > 1 {
		respondError(w, apperr.Invalid("nms_iou must be in [0, 1]"))
		return
	}

	s.globalCfg.Set(cfg)
	if s.Detect != nil {
		s.Detect.SetThresholds(cfg.Confidence, cfg.NMSIoU)
		s.Detect.SetMaxDetections(cfg.MaxDetections)
		s.Detect.SetCategoryFilter(cfg.EnabledCategories)
	}

	respondJSON(w, http.StatusOK, cfg)
}

type categoriesResponse struct {
	EnabledCategories []int `json:"enabled_categories"`
}

// getCategories serves GET /api/detection/categories.
func (s *Server) getCategories(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, categoriesResponse{EnabledCategories: s.globalCfg.Get().EnabledCategories})
}

// postCategories serves POST /api/detection/categories.
func (s *Server) postCategories(w http.ResponseWriter, r *http.Request) {
	var req categoriesResponse
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	cfg := s.globalCfg.Get()
	cfg.EnabledCategories = req.EnabledCategories
	s.globalCfg.Set(cfg)
	if s.Detect != nil {
		s.Detect.SetCategoryFilter(req.EnabledCategories)
	}

	respondJSON(w, http.StatusOK, req)
}
