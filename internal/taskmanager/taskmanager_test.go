package taskmanager

import (
	"sync"
	"testing"
	"time"

	"sentrynet/internal/apperr"
	"sentrynet/internal/model"
	"sentrynet/internal/pipeline"
)

type fakeHandle struct {
	mu            sync.Mutex
	state         model.PipelineState
	stats         pipeline.Stats
	rois          []model.ROI
	attrAnalysis  bool
	stopped       bool
}

func (f *fakeHandle) State() model.PipelineState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeHandle) Stats() pipeline.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeHandle) SetROIs(rois []model.ROI) {
	f.mu.Lock()
	f.rois = rois
	f.mu.Unlock()
}

func (f *fakeHandle) SetAttributeAnalysisEnabled(enabled bool) {
	f.mu.Lock()
	f.attrAnalysis = enabled
	f.mu.Unlock()
}

func (f *fakeHandle) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.state = model.StateStopped
	f.mu.Unlock()
}

func (f *fakeHandle) setState(s model.PipelineState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func fakeFactory(handles map[string]*fakeHandle) PipelineFactory {
	var mu sync.Mutex
	return func(src model.StreamSource) (PipelineHandle, error) {
		h := &fakeHandle{state: model.StateRunning}
		mu.Lock()
		handles[src.ID] = h
		mu.Unlock()
		return h, nil
	}
}

func validSource(id string) model.StreamSource {
	return model.StreamSource{ID: id, URL: "rtsp://cam/" + id, Protocol: model.ProtocolRTSP}
}

func TestAddSourceRejectsDuplicateID(t *testing.T) {
	handles := map[string]*fakeHandle{}
	m := New(DefaultConfig(), fakeFactory(handles), nil)

	if err := m.AddSource(validSource("cam_1")); err != nil {
		t.Fatalf("unexpected error on first add: %v", err)
	}
	err := m.AddSource(validSource("cam_1"))
	if err == nil {
		t.Fatalf("expected error on duplicate add")
	}
	appErr, ok := apperr.As(err)
	if !ok || appErr.Code != apperr.CodeConflict {
		t.Fatalf("expected CodeConflict, got %v", err)
	}
}

func TestAddSourceRejectsInvalidSource(t *testing.T) {
	handles := map[string]*fakeHandle{}
	m := New(DefaultConfig(), fakeFactory(handles), nil)

	err := m.AddSource(model.StreamSource{ID: "cam_1"})
	if err == nil {
		t.Fatalf("expected validation error for missing url/protocol")
	}
}

func TestAddSourceRejectsOverCapacity(t *testing.T) {
	handles := map[string]*fakeHandle{}
	cfg := DefaultConfig()
	cfg.MaxActivePipelines = 1
	m := New(cfg, fakeFactory(handles), nil)

	if err := m.AddSource(validSource("cam_1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := m.AddSource(validSource("cam_2"))
	if err == nil {
		t.Fatalf("expected capacity error")
	}
	appErr, ok := apperr.As(err)
	if !ok || appErr.Code != apperr.CodeUnavailable {
		t.Fatalf("expected CodeUnavailable, got %v", err)
	}
}

func TestRemoveSourceIsIdempotent(t *testing.T) {
	handles := map[string]*fakeHandle{}
	m := New(DefaultConfig(), fakeFactory(handles), nil)
	_ = m.AddSource(validSource("cam_1"))

	if err := m.RemoveSource("cam_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.RemoveSource("cam_1"); err != nil {
		t.Fatalf("expected idempotent remove, got error: %v", err)
	}
	if err := m.RemoveSource("never_added"); err != nil {
		t.Fatalf("expected idempotent remove of unknown id, got error: %v", err)
	}
}

func TestListActiveAndGetPipeline(t *testing.T) {
	handles := map[string]*fakeHandle{}
	m := New(DefaultConfig(), fakeFactory(handles), nil)
	_ = m.AddSource(validSource("cam_1"))
	_ = m.AddSource(validSource("cam_2"))

	active := m.ListActive()
	if len(active) != 2 {
		t.Fatalf("expected 2 active sources, got %d", len(active))
	}
	if _, ok := m.GetPipeline("cam_1"); !ok {
		t.Fatalf("expected to find cam_1")
	}
	if _, ok := m.GetPipeline("missing"); ok {
		t.Fatalf("expected missing pipeline lookup to fail")
	}
}

func TestMonitorForceRemovesPipelineUnhealthyPastGrace(t *testing.T) {
	handles := map[string]*fakeHandle{}
	cfg := DefaultConfig()
	cfg.MonitorInterval = 10 * time.Millisecond
	cfg.UnhealthyGrace = 15 * time.Millisecond
	m := New(cfg, fakeFactory(handles), nil)
	_ = m.AddSource(validSource("cam_1"))
	handles["cam_1"].setState(model.StateDegraded)

	m.StartMonitor()
	defer m.StopMonitor()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := m.GetPipeline("cam_1"); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected cam_1 to be force-removed after exceeding the unhealthy grace window")
}
