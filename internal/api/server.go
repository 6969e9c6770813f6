// Package api implements the REST control plane (spec.md §6) with
// github.com/go-chi/chi/v5, replacing the teacher's goa-generated
// transport now that no codegen output is available (see DESIGN.md).
// Handler shape — a struct holding its service collaborators, a
// respondJSON/respondError pair, chi.URLParam for path params — is
// grounded on the sibling ts-vms example's internal/api/camera_handlers.go.
package api

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sentrynet/internal/alarm"
	"sentrynet/internal/allocator"
	"sentrynet/internal/attributes"
	"sentrynet/internal/auth"
	"sentrynet/internal/database"
	"sentrynet/internal/detectorpool"
	"sentrynet/internal/model"
	"sentrynet/internal/reid"
	"sentrynet/internal/taskmanager"
	"sentrynet/internal/ws"
)

// Server bundles the control plane's collaborators and builds the chi
// router over them.
type Server struct {
	TaskManager *taskmanager.Manager
	Registry    *reid.Registry
	AlarmRouter *alarm.Router
	Allocator   *allocator.Allocator
	Detect      *detectorpool.Pool
	Attrs       *attributes.Analyzer
	DB          *database.Database
	Auth        *auth.Manager

	// AlarmHub and MQTTClient back the websocket/mqtt alarm channel
	// methods; either may be nil if the process was not configured for
	// that transport, in which case registering such a channel fails.
	AlarmHub   alarm.Broadcaster
	MQTTClient mqtt.Client

	// DetectionHub backs the live per-camera detection telemetry socket,
	// distinct from AlarmHub's alarm delivery channel. Nil disables the
	// /ws/detections/{id} route.
	DetectionHub *ws.Hub

	globalCfg *globalConfigStore
}

// NewServer constructs a Server. global is the process-wide detection
// default, mutated in place as GET/PUT /api/detection/config calls land.
func NewServer(tm *taskmanager.Manager, registry *reid.Registry, router *alarm.Router, alloc *allocator.Allocator, detect *detectorpool.Pool, attrs *attributes.Analyzer, db *database.Database, authMgr *auth.Manager, global model.GlobalDetectionConfig) *Server {
	return &Server{
		TaskManager: tm,
		Registry:    registry,
		AlarmRouter: router,
		Allocator:   alloc,
		Detect:      detect,
		Attrs:       attrs,
		DB:          db,
		Auth:        authMgr,
		globalCfg:   newGlobalConfigStore(global),
	}
}

// Router builds the full route table from spec.md §6, with CORS preflight
// answered for every path and bearer auth required for mutating routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(corsMiddleware)

	r.Get("/api/system/status", s.getSystemStatus)

	r.Route("/api/cameras", func(r chi.Router) {
		r.Get("/", s.listCameras)
		r.With(s.requireAuth).Post("/", s.createCamera)
		r.With(s.requireAuth).Post("/test-connection", s.testConnection)
		r.Get("/{id}", s.getCamera)
		r.With(s.requireAuth).Put("/{id}", s.updateCamera)
		r.With(s.requireAuth).Delete("/{id}", s.deleteCamera)
		r.Get("/{id}/person-stats", s.getPersonStats)
		r.With(s.requireAuth).Post("/{id}/person-stats/enable", s.enablePersonStats)
		r.With(s.requireAuth).Post("/{id}/person-stats/disable", s.disablePersonStats)
		r.With(s.requireAuth).Post("/{id}/person-stats/config", s.configurePersonStats)
	})

	r.Route("/api/detection", func(r chi.Router) {
		r.Get("/config", s.getDetectionConfig)
		r.With(s.requireAuth).Put("/config", s.putDetectionConfig)
		r.Get("/categories", s.getCategories)
		r.With(s.requireAuth).Post("/categories", s.postCategories)
	})

	r.Route("/api/alarms", func(r chi.Router) {
		r.Get("/config", s.listAlarmConfigs)
		r.With(s.requireAuth).Post("/config", s.createAlarmConfig)
		r.With(s.requireAuth).Put("/config/{id}", s.updateAlarmConfig)
		r.With(s.requireAuth).Delete("/config/{id}", s.deleteAlarmConfig)
		r.With(s.requireAuth).Post("/test", s.testAlarm)
		r.Get("/status", s.getAlarmStatus)
	})

	r.Get("/api/alerts", s.listAlerts)

	r.Route("/api/recordings", func(r chi.Router) {
		r.Get("/", s.listRecordings)
		r.Get("/{id}", s.getRecording)
		r.Get("/{id}/download", s.downloadRecording)
	})

	if s.DetectionHub != nil {
		r.Get("/ws/detections/{id}", ws.NewHandler(s.DetectionHub).ServeHTTP)
	}

	return r
}

// requireAuth narrows auth.RequireBearer to a chi middleware, a no-op when
// no auth.Manager was configured (e.g. in tests).
func (s *Server) requireAuth(next http.Handler) http.Handler {
	if s.Auth == nil {
		return next
	}
	return auth.RequireBearer(s.Auth)(next)
}

// corsMiddleware answers preflight OPTIONS for every path, grounded on the
// sibling ts-vms example's internal/middleware/cors.go.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// globalConfigStore guards the mutable process-wide detection defaults
// independent of detectorpool's own runtime overrides, so GET reflects
// exactly what the last PUT set even for fields detectorpool does not
// track (e.g. EnabledCategories' human-facing shape).
type globalConfigStore struct {
	mu  sync.Mutex
	cfg model.GlobalDetectionConfig
}

func newGlobalConfigStore(cfg model.GlobalDetectionConfig) *globalConfigStore {
	return &globalConfigStore{cfg: cfg}
}

func (s *globalConfigStore) Get() model.GlobalDetectionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *globalConfigStore) Set(cfg model.GlobalDetectionConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}
