package api

import (
	"net/http"
)

type systemStatusResponse struct {
	CPUPercent         float64  `json:"cpu_percent"`
	ActiveCameras      int      `json:"active_cameras"`
	HealthyCycles      uint64   `json:"healthy_cycles"`
	UptimeSeconds      float64  `json:"uptime_seconds"`
	SelfUnhealthy      bool     `json:"self_unhealthy"`
	PortsUsed          int      `json:"mjpeg_ports_used"`
	PortsTotal         int      `json:"mjpeg_ports_total"`
	ContextsUsed       int      `json:"accelerator_contexts_used"`
	ContextsBudget     int      `json:"accelerator_contexts_budget"`
	CrossCameraTracks  int      `json:"cross_camera_tracks"`
	CrossCameraMatches uint64   `json:"cross_camera_matches_total"`
	QuarantinedWorkers []int    `json:"quarantined_detector_workers"`
	DroppedTasks       uint64   `json:"detector_dropped_tasks"`
	ActiveSourceIDs    []string `json:"active_source_ids"`
}

// getSystemStatus serves GET /api/system/status: an aggregate snapshot of
// Task Manager, Allocator, Cross-Camera Registry and Detector Pool state.
func (s *Server) getSystemStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.TaskManager.SystemStats()
	resp := systemStatusResponse{
		CPUPercent:      stats.CPUPercent,
		ActiveCameras:   stats.ActiveCount,
		HealthyCycles:   stats.HealthyCycles,
		UptimeSeconds:   stats.Uptime.Seconds(),
		SelfUnhealthy:   stats.SelfUnhealthy,
		ActiveSourceIDs: s.TaskManager.ListActive(),
	}

	if s.Allocator != nil {
		a := s.Allocator.Snapshot()
		resp.PortsUsed = a.PortsUsed
		resp.PortsTotal = a.PortsTotal
		resp.ContextsUsed = a.ContextsUsed
		resp.ContextsBudget = a.ContextsBudget
	}
	if s.Registry != nil {
		resp.CrossCameraTracks = s.Registry.Size()
		resp.CrossCameraMatches = s.Registry.CrossCameraMatches()
	}
	if s.Detect != nil {
		resp.QuarantinedWorkers = s.Detect.QuarantinedWorkers()
		resp.DroppedTasks = s.Detect.DroppedTasks()
	}

	respondJSON(w, http.StatusOK, resp)
}
