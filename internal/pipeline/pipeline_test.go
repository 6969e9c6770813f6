package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"sentrynet/internal/model"
)

type fakeFuture struct {
	detections []model.Detection
	err        error
	delay      time.Duration
}

func (f fakeFuture) Wait(ctx context.Context) ([]model.Detection, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.detections, f.err
}

type fakePool struct {
	mu      sync.Mutex
	submits int
	future  fakeFuture
}

func (p *fakePool) Submit(frame model.FrameData, hint string) Future {
	p.mu.Lock()
	p.submits++
	p.mu.Unlock()
	return p.future
}

type fakeRegistry struct {
	mu       sync.Mutex
	reports  int
	returnID uint64
}

func (r *fakeRegistry) Report(sourceID string, localID int, features []float32, box model.BBox, confidence float32) uint64 {
	r.mu.Lock()
	r.reports++
	r.mu.Unlock()
	return r.returnID
}

type fakeRouter struct {
	mu       sync.Mutex
	payloads []model.AlarmPayload
}

func (r *fakeRouter) Submit(payload model.AlarmPayload) {
	r.mu.Lock()
	r.payloads = append(r.payloads, payload)
	r.mu.Unlock()
}

func (r *fakeRouter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

type fakeStore struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *fakeStore) SaveEvent(ev model.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(jpeg []byte, box model.BBox) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func newTestPipeline(t *testing.T, pool *fakePool, registry *fakeRegistry, router *fakeRouter, store *fakeStore, extractor FeatureExtractor) *Pipeline {
	t.Helper()
	source := model.StreamSource{ID: "cam_1", DetectionEnabled: true}
	cfg := DefaultConfig()
	cfg.DetectSubmitDeadline = 50 * time.Millisecond
	cfg.ReIDInterval = 0

	deps := Deps{
		DetectPool:   pool,
		ReIDRegistry: registry,
		AlarmRouter:  router,
		EventStore:   store,
		FeatureExtr:  extractor,
	}
	return New(source, cfg, deps)
}

func TestProcessFrameRunsDetectionTrackingAndReID(t *testing.T) {
	pool := &fakePool{future: fakeFuture{detections: []model.Detection{
		{ClassID: 1, ClassName: "person", Confidence: 0.9, Box: model.BBox{X: 1, Y: 1, W: 10, H: 10}},
	}}}
	registry := &fakeRegistry{returnID: 42}
	router := &fakeRouter{}
	store := &fakeStore{}
	p := newTestPipeline(t, pool, registry, router, store, fakeExtractor{})

	frame := model.FrameData{SourceID: "cam_1", Data: sampleJPEGBytes(), CaptureTS: time.Now()}
	p.processFrame(frame)
	// Confirmation typically requires a few consecutive detections; run a
	// handful more frames so the track is confirmed before ReID fires.
	for i := 0; i < 5; i++ {
		p.processFrame(model.FrameData{SourceID: "cam_1", Data: sampleJPEGBytes(), CaptureTS: time.Now()})
	}

	pool.mu.Lock()
	submits := pool.submits
	pool.mu.Unlock()
	if submits == 0 {
		t.Fatalf("expected at least one detection submission")
	}

	registry.mu.Lock()
	reports := registry.reports
	registry.mu.Unlock()
	if reports == 0 {
		t.Fatalf("expected at least one ReID report once a track is confirmed")
	}
}

func TestDetectDropsFrameOnFutureTimeout(t *testing.T) {
	pool := &fakePool{future: fakeFuture{delay: 200 * time.Millisecond}}
	p := newTestPipeline(t, pool, &fakeRegistry{}, &fakeRouter{}, &fakeStore{}, nil)

	got := p.detect(model.FrameData{SourceID: "cam_1"})
	if got != nil {
		t.Fatalf("expected nil detections on timeout, got %v", got)
	}
	if p.Stats().DroppedFrames != 1 {
		t.Fatalf("expected dropped frame counter to increment")
	}
}

func TestEvaluateROIsRaisesEventForPointInPolygon(t *testing.T) {
	pool := &fakePool{future: fakeFuture{}}
	p := newTestPipeline(t, pool, &fakeRegistry{}, &fakeRouter{}, &fakeStore{}, nil)
	p.SetROIs([]model.ROI{{
		ID:       "r1",
		SourceID: "cam_1",
		Enabled:  true,
		Rule:     model.RuleIntrusion,
		Points: []model.Point{
			{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100},
		},
	}})

	tracks := []model.LocalTrack{{
		LocalTrackID: 1,
		ClassName:    "person",
		Confidence:   0.8,
		Box:          model.BBox{X: 10, Y: 10, W: 5, H: 5},
		Confirmed:    true,
	}}

	events := p.evaluateROIs(tracks)
	if len(events) != 1 {
		t.Fatalf("expected one intrusion event, got %d", len(events))
	}
	if events[0].LocalTrackID == nil || *events[0].LocalTrackID != 1 {
		t.Fatalf("expected event to reference the triggering track")
	}
}

func TestRaiseEventSubmitsAlarmAndPersistsEvent(t *testing.T) {
	store := &fakeStore{}
	router := &fakeRouter{}
	p := newTestPipeline(t, &fakePool{}, &fakeRegistry{}, router, store, nil)

	ev := model.Event{ID: "e1", SourceID: "cam_1", Type: model.EventIntrusion, Severity: model.SeverityCritical, Timestamp: time.Now()}
	p.raiseEvent(ev)

	if len(store.events) != 1 {
		t.Fatalf("expected event to be persisted")
	}
	if router.count() != 1 {
		t.Fatalf("expected alarm payload to be submitted")
	}
	if router.payloads[0].Priority != 5 {
		t.Fatalf("expected critical severity to map to priority 5, got %d", router.payloads[0].Priority)
	}
}

func TestNewPipelineStartsInCreatedState(t *testing.T) {
	p := newTestPipeline(t, &fakePool{}, &fakeRegistry{}, &fakeRouter{}, &fakeStore{}, nil)
	if p.State() != model.StateCreated {
		t.Fatalf("expected initial state Created, got %v", p.State())
	}
}

func TestEvaluateROIsSkipsOtherSourceROIs(t *testing.T) {
	p := newTestPipeline(t, &fakePool{}, &fakeRegistry{}, &fakeRouter{}, &fakeStore{}, nil)
	p.SetROIs([]model.ROI{{
		ID: "other", SourceID: "cam_other", Enabled: true, Rule: model.RuleIntrusion,
		Points: []model.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}},
	}})

	tracks := []model.LocalTrack{{LocalTrackID: 1, Box: model.BBox{X: 10, Y: 10, W: 5, H: 5}, Confirmed: true}}
	if events := p.evaluateROIs(tracks); len(events) != 0 {
		t.Fatalf("expected no events for an ROI on a different source, got %d", len(events))
	}
}

func sampleJPEGBytes() []byte {
	// A minimal but structurally invalid JPEG is fine here: Annotate fails
	// to decode it and returns the bytes unchanged, and the fake detector
	// pool never decodes frame.Data.
	return []byte{0xFF, 0xD8, 0xFF, 0xD9}
}
