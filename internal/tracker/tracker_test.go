package tracker

import (
	"testing"
	"time"

	"sentrynet/internal/model"
)

func box(x, y, w, h int) model.BBox { return model.BBox{X: x, Y: y, W: w, H: h} }

func TestIoUIdenticalBoxesIsOne(t *testing.T) {
	b := box(10, 10, 50, 50)
	if got := IoU(b, b); got < 0.999 {
		t.Fatalf("expected IoU 1 for identical boxes, got %f", got)
	}
}

func TestIoUDisjointBoxesIsZero(t *testing.T) {
	if got := IoU(box(0, 0, 10, 10), box(100, 100, 10, 10)); got != 0 {
		t.Fatalf("expected IoU 0 for disjoint boxes, got %f", got)
	}
}

func TestUpdateAssignsMonotonicIDsAndRetiresIdleTracks(t *testing.T) {
	tr := New("cam_1", Config{IoUThreshold: 0.3, MaxIdleAge: 100 * time.Millisecond})
	base := time.Now()

	live := tr.Update([]model.Detection{
		{ClassID: 0, ClassName: "person", Confidence: 0.9, Box: box(10, 10, 20, 40)},
	}, base)
	if len(live) != 1 || live[0].LocalTrackID != 1 {
		t.Fatalf("expected track 1 created, got %+v", live)
	}

	// Same object, slightly moved: should re-associate to id 1, not spawn a new one.
	live = tr.Update([]model.Detection{
		{ClassID: 0, ClassName: "person", Confidence: 0.92, Box: box(12, 11, 20, 40)},
	}, base.Add(33*time.Millisecond))
	if len(live) != 1 || live[0].LocalTrackID != 1 {
		t.Fatalf("expected re-association to track 1, got %+v", live)
	}

	// A second, disjoint object spawns a new id (2), never reusing 1.
	live = tr.Update([]model.Detection{
		{ClassID: 0, ClassName: "person", Confidence: 0.9, Box: box(12, 11, 20, 40)},
		{ClassID: 0, ClassName: "person", Confidence: 0.8, Box: box(500, 500, 20, 40)},
	}, base.Add(66*time.Millisecond))
	if len(live) != 2 {
		t.Fatalf("expected two live tracks, got %d", len(live))
	}
	ids := map[int]bool{}
	for _, tk := range live {
		ids[tk.LocalTrackID] = true
	}
	if !ids[1] || !ids[2] {
		t.Fatalf("expected track ids {1,2}, got %+v", ids)
	}

	// Let both tracks go idle past MaxIdleAge: they must be retired, and a
	// fresh detection afterward must get a new id (3), never reusing 1 or 2.
	live = tr.Update(nil, base.Add(500*time.Millisecond))
	if len(live) != 0 {
		t.Fatalf("expected all tracks retired after idle window, got %d", len(live))
	}
	live = tr.Update([]model.Detection{
		{ClassID: 0, ClassName: "person", Confidence: 0.9, Box: box(10, 10, 20, 40)},
	}, base.Add(600*time.Millisecond))
	if len(live) != 1 || live[0].LocalTrackID != 3 {
		t.Fatalf("expected fresh track id 3 (no reuse), got %+v", live)
	}
}

func TestUpdateDoesNotAssociateDifferentClasses(t *testing.T) {
	tr := New("cam_1", DefaultConfig())
	base := time.Now()
	tr.Update([]model.Detection{{ClassID: 0, ClassName: "person", Box: box(10, 10, 20, 40), Confidence: 0.9}}, base)
	live := tr.Update([]model.Detection{{ClassID: 2, ClassName: "car", Box: box(10, 10, 20, 40), Confidence: 0.9}}, base.Add(33*time.Millisecond))
	if len(live) != 2 {
		t.Fatalf("expected distinct tracks for distinct classes sharing the same box, got %d", len(live))
	}
}
