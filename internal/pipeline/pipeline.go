// Package pipeline implements the per-stream Video Pipeline state machine
// (spec.md §4.2): decode, detect, track, analyze, annotate, stream,
// record, and alert, one worker goroutine per camera. Grounded on the
// teacher's internal/pipeline/detection_pipeline.go (DetectionPipeline's
// run/processFrame/runSequential loop and its RWMutex-guarded
// config/stats snapshotting), generalized from the teacher's "chain of
// conditional detectors" shape to this spec's fixed ten-step per-frame
// cycle against a shared Detector Pool, Tracker, Cross-Camera Registry,
// ROI Evaluator, Encoder, Recorder, and Alarm Router.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sentrynet/internal/attributes"
	"sentrynet/internal/decoder"
	"sentrynet/internal/detectorpool"
	"sentrynet/internal/encoder"
	"sentrynet/internal/lockhier"
	"sentrynet/internal/model"
	"sentrynet/internal/recorder"
	"sentrynet/internal/roi"
	"sentrynet/internal/tracker"
)

// DetectSubmitter is the narrow slice of *detectorpool.Pool a pipeline
// needs; satisfied directly by *detectorpool.Pool, abstracted here so
// unit tests can substitute a fake without spinning up real workers.
type DetectSubmitter interface {
	Submit(frame model.FrameData, pipelineHint string) Future
}

// Future is the narrow slice of *detectorpool.Future a pipeline needs.
type Future interface {
	Wait(ctx context.Context) ([]model.Detection, error)
}

// ReIDReporter is the narrow slice of *reid.Registry a pipeline needs.
type ReIDReporter interface {
	Report(sourceID string, localID int, features []float32, box model.BBox, confidence float32) uint64
}

// AlarmSubmitter is the narrow slice of *alarm.Router a pipeline needs.
type AlarmSubmitter interface {
	Submit(payload model.AlarmPayload)
}

// EventStore persists Events; adapted by internal/database.
type EventStore interface {
	SaveEvent(event model.Event) error
}

// DetectionBroadcaster pushes a frame's detections to live subscribers of
// one source, adapted by internal/ws.Hub for the per-camera detection
// telemetry socket.
type DetectionBroadcaster interface {
	BroadcastDetections(sourceID string, dets []model.Detection, ts time.Time)
}

// FeatureExtractor computes a ReID embedding for a person-class crop.
// No concrete accelerator-backed implementation exists in this module;
// callers inject one, or omit it to disable ReID entirely.
type FeatureExtractor interface {
	Extract(frameJPEG []byte, box model.BBox) ([]float32, error)
}

// Deps bundles a pipeline's collaborators. Only DetectPool and
// AlarmRouter are required; the rest are optional (nil disables that
// step of the per-frame cycle).
type Deps struct {
	DetectPool   DetectSubmitter
	ReIDRegistry ReIDReporter
	AlarmRouter  AlarmSubmitter
	EventStore   EventStore
	FeatureExtr  FeatureExtractor
	AttrAnalyzer *attributes.Analyzer
	Encoder      *encoder.Encoder
	Recorder     *recorder.Recorder
	DetectionHub DetectionBroadcaster
}

// Config tunes one pipeline's per-frame cycle.
type Config struct {
	DetectSubmitDeadline time.Duration
	ReIDInterval         time.Duration
	TrackerConfig        tracker.Config
	ReconnectBackoff     decoder.BackoffConfig
	MaxFatalRetries      int
}

// DefaultConfig mirrors spec.md §4.2's backpressure and backoff figures.
func DefaultConfig() Config {
	return Config{
		DetectSubmitDeadline: 200 * time.Millisecond,
		ReIDInterval:         2 * time.Second,
		TrackerConfig:        tracker.DefaultConfig(),
		ReconnectBackoff:     decoder.DefaultBackoff(),
		MaxFatalRetries:      3,
	}
}

// Stats is a point-in-time snapshot of one pipeline's counters.
type Stats struct {
	SourceID        string
	State           model.PipelineState
	FramesProcessed uint64
	DroppedFrames   uint64
	LastFrameTime   time.Time
}

// Pipeline drives one camera end to end. One worker goroutine per
// pipeline, owning its own Decoder, Tracker, ROI Evaluator, Encoder, and
// Recorder (spec.md §3 Ownership summary).
type Pipeline struct {
	source model.StreamSource
	cfg    Config
	deps   Deps

	dec     *decoder.Decoder
	tracker *tracker.Tracker
	roiEval *roi.Evaluator

	state atomic.Value // model.PipelineState

	roisGuard *lockhier.RWGuard
	rois      []model.ROI

	lastReIDGuard *lockhier.Guard
	lastReID      map[int]time.Time

	globalIDsGuard *lockhier.Guard
	globalIDs      map[int]uint64

	framesProcessed atomic.Uint64
	droppedFrames   atomic.Uint64
	lastFrameTime   atomic.Value // time.Time

	attrAnalysisEnabled atomic.Bool

	stopCh chan struct{}
	doneCh chan struct{}

	fatalRetries int
}

// New constructs a pipeline in the Created state. Call Start to bring
// it up.
func New(source model.StreamSource, cfg Config, deps Deps) *Pipeline {
	p := &Pipeline{
		source:         source,
		cfg:            cfg,
		deps:           deps,
		tracker:        tracker.New(source.ID, cfg.TrackerConfig),
		roiEval:        roi.NewEvaluator(),
		roisGuard:      lockhier.NewRWGuard(lockhier.LevelPipeline),
		lastReIDGuard:  lockhier.NewGuard(lockhier.LevelPipeline),
		lastReID:       make(map[int]time.Time),
		globalIDsGuard: lockhier.NewGuard(lockhier.LevelPipeline),
		globalIDs:      make(map[int]uint64),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	p.state.Store(model.StateCreated)
	p.attrAnalysisEnabled.Store(true)
	return p
}

// SetAttributeAnalysisEnabled toggles whether person-class tracks are
// submitted to the Attribute Analyzer, without affecting detection,
// tracking, or ROI evaluation. Backs the per-camera person-stats
// enable/disable/config control-plane endpoints.
func (p *Pipeline) SetAttributeAnalysisEnabled(enabled bool) {
	p.attrAnalysisEnabled.Store(enabled)
}

// AttributeAnalysisEnabled reports the current person-stats toggle state.
func (p *Pipeline) AttributeAnalysisEnabled() bool {
	return p.attrAnalysisEnabled.Load()
}

// SetROIs replaces the active ROI set evaluated each cycle.
func (p *Pipeline) SetROIs(rois []model.ROI) {
	p.roisGuard.Lock()
	p.rois = rois
	p.roisGuard.Unlock()
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() model.PipelineState {
	return p.state.Load().(model.PipelineState)
}

func (p *Pipeline) setState(s model.PipelineState) {
	p.state.Store(s)
}

// Stats returns a snapshot of this pipeline's counters.
func (p *Pipeline) Stats() Stats {
	last, _ := p.lastFrameTime.Load().(time.Time)
	return Stats{
		SourceID:        p.source.ID,
		State:           p.State(),
		FramesProcessed: p.framesProcessed.Load(),
		DroppedFrames:   p.droppedFrames.Load(),
		LastFrameTime:   last,
	}
}

// Start opens the decoder and begins the per-frame worker loop. It passes
// through Initializing, sets state Running and returns nil without
// waiting for a first frame; it never reports an initialization failure.
// A source that cannot be reached shows up afterwards as Degraded
// (transient decoder errors) or Stopped (the decoder exited for good).
func (p *Pipeline) Start() error {
	p.setState(model.StateInitializing)

	p.dec = decoder.New(p.source, p.cfg.ReconnectBackoff)
	p.dec.Start()

	p.setState(model.StateRunning)
	go p.run()
	return nil
}

// Stop signals the worker loop to exit and blocks until it has,
// tearing down the decoder and encoder. The recorder is not stopped; a
// recording in progress ends on its own post-event timer.
func (p *Pipeline) Stop() {
	select {
	case <-p.doneCh:
		return // already stopped
	default:
	}
	close(p.stopCh)
	<-p.doneCh
}

func (p *Pipeline) run() {
	defer close(p.doneCh)
	defer p.teardown()

	for {
		select {
		case <-p.stopCh:
			p.setState(model.StateStopped)
			return

		case err, ok := <-p.dec.Errors():
			if !ok {
				continue
			}
			if p.State() == model.StateRunning {
				p.setState(model.StateDegraded)
			}
			log.Printf("[Pipeline] %s transient decoder error: %v", p.source.ID, err)

		case frame, ok := <-p.dec.Frames():
			if !ok {
				// Decoder exited for good (fatal or stopped); pipeline follows.
				p.setState(model.StateStopped)
				return
			}
			if p.State() == model.StateDegraded {
				p.setState(model.StateRunning) // reset on any successful frame
			}
			p.processFrame(frame)
		}
	}
}

func (p *Pipeline) teardown() {
	p.dec.Stop()
	if p.deps.Encoder != nil {
		p.deps.Encoder.Stop(context.Background())
	}
}

func (p *Pipeline) processFrame(frame model.FrameData) {
	p.framesProcessed.Add(1)
	p.lastFrameTime.Store(frame.CaptureTS)

	var detections []model.Detection
	if p.source.DetectionEnabled && p.deps.DetectPool != nil {
		detections = p.detect(frame)
	}

	if p.deps.DetectionHub != nil {
		p.deps.DetectionHub.BroadcastDetections(p.source.ID, detections, frame.CaptureTS)
	}

	tracks := p.tracker.Update(detections, frame.CaptureTS)

	if p.deps.AttrAnalyzer != nil && p.attrAnalysisEnabled.Load() {
		p.analyzeAttributes(frame, tracks)
	}

	p.reportReID(frame, tracks)

	events := p.evaluateROIs(tracks)

	annotated := p.annotate(frame, tracks)
	if p.deps.Encoder != nil {
		p.deps.Encoder.Push(annotated)
	}
	if p.deps.Recorder != nil {
		p.deps.Recorder.Push(frame)
	}

	for _, ev := range events {
		p.raiseEvent(ev)
	}
}

// detect submits the frame to the shared Detector Pool and waits up to
// DetectSubmitDeadline for a result; a timeout or inference error skips
// detection for this frame without stopping the pipeline (spec.md §4.2
// Failure semantics).
func (p *Pipeline) detect(frame model.FrameData) []model.Detection {
	future := p.deps.DetectPool.Submit(frame, p.source.ID)

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DetectSubmitDeadline)
	defer cancel()

	detections, err := future.Wait(ctx)
	if err != nil {
		p.droppedFrames.Add(1)
		return nil
	}
	return detections
}

func (p *Pipeline) analyzeAttributes(frame model.FrameData, tracks []model.LocalTrack) {
	for _, t := range tracks {
		if t.ClassName != "person" || !t.Confirmed {
			continue
		}
		// Crop extraction is the caller's concern in a full accelerator
		// pipeline; here the whole frame is handed to the analyzer without
		// the track's box, so the analyzer sees the full frame, not a crop.
		if _, err := p.deps.AttrAnalyzer.Analyze(frame.Data); err != nil && err != attributes.ErrDisabled {
			log.Printf("[Pipeline] %s attribute analysis failed for track %d: %v", p.source.ID, t.LocalTrackID, err)
		}
	}
}

func (p *Pipeline) reportReID(frame model.FrameData, tracks []model.LocalTrack) {
	if p.deps.ReIDRegistry == nil {
		return
	}
	now := frame.CaptureTS

	for _, t := range tracks {
		if !t.Confirmed {
			continue
		}

		p.lastReIDGuard.Lock()
		last, seen := p.lastReID[t.LocalTrackID]
		due := !seen || now.Sub(last) >= p.cfg.ReIDInterval
		if due {
			p.lastReID[t.LocalTrackID] = now
		}
		p.lastReIDGuard.Unlock()

		if !due {
			continue
		}

		var features []float32
		if p.deps.FeatureExtr != nil {
			f, err := p.deps.FeatureExtr.Extract(frame.Data, t.Box)
			if err != nil {
				continue
			}
			features = f
		}
		if features == nil {
			continue
		}

		globalID := p.deps.ReIDRegistry.Report(p.source.ID, t.LocalTrackID, features, t.Box, t.Confidence)
		p.globalIDsGuard.Lock()
		p.globalIDs[t.LocalTrackID] = globalID
		p.globalIDsGuard.Unlock()
	}
}

func (p *Pipeline) evaluateROIs(tracks []model.LocalTrack) []model.Event {
	p.roisGuard.RLock()
	rois := p.rois
	p.roisGuard.RUnlock()
	if len(rois) == 0 {
		return nil
	}

	var events []model.Event
	now := time.Now()

	for _, t := range tracks {
		center := model.Point{
			X: float64(t.Box.X) + float64(t.Box.W)/2,
			Y: float64(t.Box.Y) + float64(t.Box.H)/2,
		}
		objectID := fmt.Sprintf("%s:%d", p.source.ID, t.LocalTrackID)

		for _, r := range rois {
			if r.SourceID != p.source.ID {
				continue
			}
			if ev := p.roiEval.Evaluate(r, p.source.ID, objectID, center, now); ev != nil {
				ev.ID = uuid.NewString()
				box := t.Box
				ev.Box = &box
				localID := t.LocalTrackID
				ev.LocalTrackID = &localID
				ev.Confidence = t.Confidence
				events = append(events, *ev)
			}
		}
	}
	return events
}

func (p *Pipeline) annotate(frame model.FrameData, tracks []model.LocalTrack) []byte {
	if len(tracks) == 0 {
		return frame.Data
	}

	overlays := make([]encoder.Overlay, 0, len(tracks))
	p.globalIDsGuard.Lock()
	for _, t := range tracks {
		ov := encoder.Overlay{
			Box:        t.Box,
			ClassName:  t.ClassName,
			Confidence: t.Confidence,
			LocalID:    t.LocalTrackID,
		}
		if gid, ok := p.globalIDs[t.LocalTrackID]; ok {
			g := gid
			ov.GlobalID = &g
		}
		overlays = append(overlays, ov)
	}
	p.globalIDsGuard.Unlock()

	return encoder.Annotate(frame.Data, overlays)
}

func (p *Pipeline) raiseEvent(ev model.Event) {
	if p.deps.EventStore != nil {
		if err := p.deps.EventStore.SaveEvent(ev); err != nil {
			log.Printf("[Pipeline] %s failed to persist event %s: %v", p.source.ID, ev.ID, err)
		}
	}

	if p.deps.Recorder != nil {
		if path, err := p.deps.Recorder.TriggerEvent(context.Background(), ev.Timestamp); err == nil {
			ev.VideoPath = path
		}
	}

	if p.deps.AlarmRouter == nil {
		return
	}
	p.deps.AlarmRouter.Submit(p.toAlarmPayload(ev))
}

func (p *Pipeline) toAlarmPayload(ev model.Event) model.AlarmPayload {
	priority := 2
	switch ev.Severity {
	case model.SeverityCritical:
		priority = 5
	case model.SeverityWarning:
		priority = 3
	case model.SeverityInfo:
		priority = 1
	}

	return model.AlarmPayload{
		AlarmID:       uuid.NewString(),
		Event:         ev,
		EventType:     ev.Type,
		CameraID:      ev.SourceID,
		RuleID:        ev.RuleID,
		ObjectID:      ev.ObjectID,
		LocalTrackID:  ev.LocalTrackID,
		GlobalTrackID: ev.GlobalTrackID,
		Confidence:    ev.Confidence,
		Timestamp:     ev.Timestamp,
		BoundingBox:   ev.Box,
		Priority:      priority,
	}
}

// PoolAdapter wraps a *detectorpool.Pool so it satisfies DetectSubmitter.
// detectorpool.Pool.Submit returns a concrete *detectorpool.Future, which
// Go does not treat as satisfying an interface-typed return on its own.
type PoolAdapter struct {
	Pool *detectorpool.Pool
}

// Submit implements DetectSubmitter.
func (a PoolAdapter) Submit(frame model.FrameData, pipelineHint string) Future {
	return a.Pool.Submit(frame, pipelineHint)
}

