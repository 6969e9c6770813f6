package reid

import (
	"testing"
	"time"

	"sentrynet/internal/model"
)

func TestCosineSimilaritySymmetryAndBounds(t *testing.T) {
	u := []float32{1, 0, 0}
	v := []float32{0, 1, 0}
	if sim := CosineSimilarity(u, v); sim != 0 {
		t.Fatalf("orthogonal vectors expected similarity 0, got %f", sim)
	}
	if sim := CosineSimilarity(u, u); sim < 0.999 || sim > 1.001 {
		t.Fatalf("identical vectors expected similarity ~1, got %f", sim)
	}
	if CosineSimilarity(u, v) != CosineSimilarity(v, u) {
		t.Fatalf("expected symmetric similarity")
	}
	if sim := CosineSimilarity([]float32{}, []float32{}); sim != 0 {
		t.Fatalf("empty vectors expected similarity 0, got %f", sim)
	}
	if sim := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); sim != 0 {
		t.Fatalf("mismatched dims expected similarity 0, got %f", sim)
	}
}

func TestReportCreatesNewGlobalTrackOnFirstSighting(t *testing.T) {
	r := New(DefaultConfig())
	gid := r.Report("cam_1", 1, []float32{1, 0, 0}, model.BBox{}, 0.9)
	if gid == 0 {
		t.Fatalf("expected non-zero global id")
	}
	if r.Size() != 1 {
		t.Fatalf("expected one global track, got %d", r.Size())
	}
}

func TestReportReusesMappingForSameLocalTrack(t *testing.T) {
	r := New(DefaultConfig())
	g1 := r.Report("cam_1", 1, []float32{1, 0, 0}, model.BBox{}, 0.9)
	g2 := r.Report("cam_1", 1, []float32{0.9, 0.1, 0}, model.BBox{}, 0.9)
	if g1 != g2 {
		t.Fatalf("expected same global id for repeated local track, got %d and %d", g1, g2)
	}
	if r.Size() != 1 {
		t.Fatalf("expected still one global track, got %d", r.Size())
	}
}

func TestReportMatchesAcrossCamerasAboveThreshold(t *testing.T) {
	r := New(DefaultConfig())
	feat := []float32{1, 0, 0}
	g1 := r.Report("cam_1", 1, feat, model.BBox{}, 0.9)
	g2 := r.Report("cam_2", 7, feat, model.BBox{}, 0.9)
	if g1 != g2 {
		t.Fatalf("expected cross-camera match to reuse global id, got %d and %d", g1, g2)
	}
	if got := r.CrossCameraMatches(); got != 1 {
		t.Fatalf("expected 1 cross-camera match counted, got %d", got)
	}
}

func TestReportDoesNotMatchSameSourceTwiceAsDifferentLocalTrack(t *testing.T) {
	r := New(DefaultConfig())
	feat := []float32{1, 0, 0}
	g1 := r.Report("cam_1", 1, feat, model.BBox{}, 0.9)
	g2 := r.Report("cam_1", 2, feat, model.BBox{}, 0.9)
	if g1 == g2 {
		t.Fatalf("expected distinct global ids for distinct local tracks on the same camera, got %d for both", g1)
	}
}

func TestReportBelowThresholdCreatesSeparateIdentity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 0.99
	r := New(cfg)
	g1 := r.Report("cam_1", 1, []float32{1, 0, 0}, model.BBox{}, 0.9)
	g2 := r.Report("cam_2", 1, []float32{0, 1, 0}, model.BBox{}, 0.9)
	if g1 == g2 {
		t.Fatalf("expected distinct identities below similarity threshold")
	}
}

func TestCleanupExpiresStaleTracks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTrackAge = time.Second
	r := New(cfg)

	fakeNow := time.Now()
	r.now = func() time.Time { return fakeNow }

	r.Report("cam_1", 1, []float32{1, 0, 0}, model.BBox{}, 0.9)
	if r.Size() != 1 {
		t.Fatalf("expected one track before expiry")
	}

	fakeNow = fakeNow.Add(2 * time.Second)
	removed := r.Cleanup()
	if removed != 1 {
		t.Fatalf("expected one track removed, got %d", removed)
	}
	if r.Size() != 0 {
		t.Fatalf("expected registry empty after cleanup, got %d", r.Size())
	}

	g2 := r.Report("cam_1", 1, []float32{1, 0, 0}, model.BBox{}, 0.9)
	if g2 == 0 {
		t.Fatalf("expected a fresh global id to be assignable after expiry")
	}
}
