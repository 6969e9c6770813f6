// Package taskmanager implements the server-wide Task Manager singleton
// (spec.md §4.1): it owns the set of live Video Pipelines, the
// Cross-Camera Registry, and the 1Hz monitoring loop that aggregates
// system and per-pipeline stats. Grounded on the teacher's
// internal/pipeline/detection_pipeline.go DetectionPipelineManager
// (RWMutex-guarded map of per-camera state, Start/Stop/UpdateConfig/
// GetStats shape), generalized with an in_flight reservation set for
// race-free add_source per spec.md §4.1's concurrency contract and a
// precise-next-tick monitoring goroutine in place of the teacher's
// absent one.
package taskmanager

import (
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"sentrynet/internal/apperr"
	"sentrynet/internal/lockhier"
	"sentrynet/internal/model"
	"sentrynet/internal/pipeline"
	"sentrynet/internal/reid"
)

// PipelineFactory constructs and starts a Pipeline for a source. Kept as
// a function value (rather than a concrete constructor call) so tests
// can substitute a lightweight fake pipeline without real decoders.
type PipelineFactory func(source model.StreamSource) (PipelineHandle, error)

// PipelineHandle is the narrow slice of *pipeline.Pipeline the Task
// Manager depends on.
type PipelineHandle interface {
	State() model.PipelineState
	Stats() pipeline.Stats
	SetROIs(rois []model.ROI)
	SetAttributeAnalysisEnabled(enabled bool)
	Stop()
}

// Config tunes the Task Manager.
type Config struct {
	MaxActivePipelines int
	MonitorInterval    time.Duration
	UnhealthyGrace     time.Duration
}

// DefaultConfig mirrors spec.md §4.1's 1Hz monitor and a generous
// unhealthy grace window.
func DefaultConfig() Config {
	return Config{
		MaxActivePipelines: 64,
		MonitorInterval:    time.Second,
		UnhealthyGrace:     30 * time.Second,
	}
}

// SystemStats is the monitor loop's published snapshot.
type SystemStats struct {
	CPUPercent    float64
	ActiveCount   int
	HealthyCycles uint64
	Uptime        time.Duration
	SelfUnhealthy bool
}

type pipelineEntry struct {
	handle       PipelineHandle
	source       model.StreamSource
	unhealthyAt  time.Time
	isUnhealthy  bool
}

// Manager is the Task Manager singleton.
type Manager struct {
	cfg     Config
	factory PipelineFactory
	lock    *lockhier.Guard

	mu       sync.RWMutex
	entries  map[string]*pipelineEntry
	inFlight map[string]struct{}

	registry *reid.Registry

	startedAt time.Time

	statsMu       sync.RWMutex
	systemStats   SystemStats
	healthyCycles uint64
	selfUnhealthy bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Task Manager. factory is called (without the Task
// Manager lock held) to build and start each Pipeline.
func New(cfg Config, factory PipelineFactory, registry *reid.Registry) *Manager {
	return &Manager{
		cfg:      cfg,
		factory:  factory,
		lock:     lockhier.NewGuard(lockhier.LevelTaskMgr),
		entries:  make(map[string]*pipelineEntry),
		inFlight: make(map[string]struct{}),
		registry: registry,
		startedAt: time.Now(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// AddSource registers and starts a Pipeline for src. Returns
// apperr.CodeConflict if id already exists or is mid-registration,
// apperr.CodeUnavailable if at capacity, apperr.CodeInvalid on
// validation failure. Blocking pipeline initialization happens without
// the Task Manager lock held (spec.md §4.1's in_flight reservation).
func (m *Manager) AddSource(src model.StreamSource) error {
	if err := validateSource(src); err != nil {
		return err
	}

	m.lock.Lock()
	if _, exists := m.entries[src.ID]; exists {
		m.lock.Unlock()
		return apperr.New(apperr.CodeConflict, "source already exists").WithTag(src.ID)
	}
	if _, reserved := m.inFlight[src.ID]; reserved {
		m.lock.Unlock()
		return apperr.New(apperr.CodeConflict, "source already being added").WithTag(src.ID)
	}
	if len(m.entries) >= m.cfg.MaxActivePipelines {
		m.lock.Unlock()
		return apperr.New(apperr.CodeUnavailable, "active pipeline capacity exceeded")
	}
	m.inFlight[src.ID] = struct{}{}
	m.lock.Unlock()

	handle, err := m.factory(src)

	m.lock.Lock()
	delete(m.inFlight, src.ID)
	if err != nil {
		m.lock.Unlock()
		return fmt.Errorf("taskmanager: start pipeline %s: %w", src.ID, err)
	}
	m.entries[src.ID] = &pipelineEntry{handle: handle, source: src}
	m.lock.Unlock()

	log.Printf("[TaskManager] added source %s", src.ID)
	return nil
}

// RemoveSource stops and removes the Pipeline for id. Idempotent.
func (m *Manager) RemoveSource(id string) error {
	m.lock.Lock()
	entry, exists := m.entries[id]
	if !exists {
		m.lock.Unlock()
		return nil
	}
	delete(m.entries, id)
	m.lock.Unlock()

	entry.handle.Stop()
	log.Printf("[TaskManager] removed source %s", id)
	return nil
}

// GetPipeline returns a shared read handle for id, never transferring
// ownership.
func (m *Manager) GetPipeline(id string) (PipelineHandle, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	return entry.handle, true
}

// ListActive returns the source ids of all currently registered
// pipelines (regardless of lifecycle state).
func (m *Manager) ListActive() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

// Source returns the registered Stream Source for id.
func (m *Manager) Source(id string) (model.StreamSource, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	entry, ok := m.entries[id]
	if !ok {
		return model.StreamSource{}, false
	}
	return entry.source, true
}

// Sources returns every registered Stream Source.
func (m *Manager) Sources() []model.StreamSource {
	m.lock.Lock()
	defer m.lock.Unlock()
	out := make([]model.StreamSource, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.source)
	}
	return out
}

// PipelineStats returns the named pipeline's stats snapshot.
func (m *Manager) PipelineStats(id string) (pipeline.Stats, bool) {
	m.lock.Lock()
	entry, ok := m.entries[id]
	m.lock.Unlock()
	if !ok {
		return pipeline.Stats{}, false
	}
	return entry.handle.Stats(), true
}

// SystemStats returns the most recently published aggregate snapshot.
func (m *Manager) SystemStats() SystemStats {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	return m.systemStats
}

// StartMonitor launches the 1Hz (±20%) monitoring loop.
func (m *Manager) StartMonitor() {
	go m.monitorLoop()
}

// StopMonitor signals the monitor loop to exit and waits for it.
func (m *Manager) StopMonitor() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Manager) monitorLoop() {
	defer close(m.doneCh)

	next := time.Now().Add(m.cfg.MonitorInterval)
	for {
		select {
		case <-m.stopCh:
			return
		case <-time.After(time.Until(next)):
		}

		cycleStart := time.Now()
		m.runCycle()
		cycleDur := time.Since(cycleStart)

		m.statsMu.Lock()
		m.selfUnhealthy = cycleDur > (m.cfg.MonitorInterval*4)/5
		m.healthyCycles++
		m.statsMu.Unlock()

		next = next.Add(m.cfg.MonitorInterval)
		if time.Now().After(next) {
			// Missed a whole tick (e.g. system was suspended); resync
			// instead of firing a burst of catch-up cycles.
			next = time.Now().Add(m.cfg.MonitorInterval)
		}
	}
}

func (m *Manager) runCycle() {
	m.lock.Lock()
	entries := make([]*pipelineEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.lock.Unlock()

	active := 0
	now := time.Now()
	var toForceRemove []string

	for _, e := range entries {
		state := e.handle.State()
		if state != model.StateStopped {
			active++
		}

		unhealthy := state == model.StateDegraded || state == model.StateStopped
		if unhealthy {
			if !e.isUnhealthy {
				e.isUnhealthy = true
				e.unhealthyAt = now
			} else if now.Sub(e.unhealthyAt) > m.cfg.UnhealthyGrace {
				toForceRemove = append(toForceRemove, e.source.ID)
			}
		} else {
			e.isUnhealthy = false
		}
	}

	for _, id := range toForceRemove {
		log.Printf("[TaskManager] force-removing unhealthy pipeline %s after grace window", id)
		m.RemoveSource(id)
	}

	if m.registry != nil {
		if removed := m.registry.Cleanup(); removed > 0 {
			log.Printf("[TaskManager] cross-camera registry expired %d stale identities", removed)
		}
	}

	m.statsMu.Lock()
	m.systemStats = SystemStats{
		CPUPercent:    cpuPercentStub(),
		ActiveCount:   active,
		HealthyCycles: m.healthyCycles,
		Uptime:        time.Since(m.startedAt),
		SelfUnhealthy: m.selfUnhealthy,
	}
	m.statsMu.Unlock()
}

// cpuPercentStub reports goroutine count as a cheap proxy in the absence
// of a platform-specific CPU sampler in the retrieved examples; real
// deployments wire internal/metrics to a proper sampler.
func cpuPercentStub() float64 {
	return float64(runtime.NumGoroutine())
}

func validateSource(src model.StreamSource) error {
	if src.ID == "" {
		return apperr.Invalid("source id is required")
	}
	if src.URL == "" {
		return apperr.Invalid("source url is required")
	}
	switch src.Protocol {
	case model.ProtocolRTSP, model.ProtocolONVIF, model.ProtocolHTTP:
	default:
		return apperr.Invalid(fmt.Sprintf("unsupported protocol %q", src.Protocol))
	}
	return nil
}
