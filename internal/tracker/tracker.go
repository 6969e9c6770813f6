// Package tracker assigns per-pipeline local track identities to
// successive frames of detections by IoU association with simple linear
// motion prediction (spec.md §4.4). One Tracker instance is owned by a
// single Video Pipeline; it never talks to another pipeline's tracker —
// cross-camera identity is the Cross-Camera Registry's job
// (sentrynet/internal/reid).
package tracker

import (
	"sync"
	"time"

	"sentrynet/internal/model"
)

// Config tunes association behavior.
type Config struct {
	IoUThreshold float64       // minimum IoU to associate a detection with a track
	MaxIdleAge   time.Duration // retire a track after this long unseen
}

// DefaultConfig mirrors model.DefaultGlobalDetectionConfig's MaxIdleAge.
func DefaultConfig() Config {
	return Config{
		IoUThreshold: 0.3,
		MaxIdleAge:   5 * time.Second,
	}
}

type trackState struct {
	track    model.LocalTrack
	velocity model.Point // pixels per second, from the last two observed boxes
}

// Tracker holds live local tracks for one pipeline. Update and Live are
// serialized by an internal mutex; in practice the owning pipeline's
// per-frame loop is the only caller of Update.
type Tracker struct {
	mu         sync.Mutex
	pipelineID string
	cfg        Config
	nextID     int
	tracks     map[int]*trackState
	now        func() time.Time
}

// New creates a tracker scoped to pipelineID.
func New(pipelineID string, cfg Config) *Tracker {
	return &Tracker{
		pipelineID: pipelineID,
		cfg:        cfg,
		nextID:     1,
		tracks:     make(map[int]*trackState),
		now:        time.Now,
	}
}

// Update associates det against live tracks by greedy best-IoU matching,
// predicting each track's box forward by elapsed time before comparing.
// Unmatched detections spawn new tracks with monotonically increasing
// LocalTrackIDs (never reused, even after retirement). Returns the
// updated set of live tracks, including ones not seen this frame (until
// they age out).
func (t *Tracker) Update(detections []model.Detection, frameTime time.Time) []model.LocalTrack {
	t.mu.Lock()
	defer t.mu.Unlock()

	matchedTrack := make(map[int]bool, len(t.tracks))
	matchedDet := make(map[int]bool, len(detections))

	type candidate struct {
		trackID int
		detIdx  int
		iou     float64
	}
	var candidates []candidate

	for id, ts := range t.tracks {
		predicted := predictBox(ts, frameTime)
		for di, d := range detections {
			if d.ClassID != ts.track.ClassID {
				continue
			}
			iou := IoU(predicted, d.Box)
			if iou >= t.cfg.IoUThreshold {
				candidates = append(candidates, candidate{trackID: id, detIdx: di, iou: iou})
			}
		}
	}

	// Greedy: highest IoU first.
	for i := 0; i < len(candidates); i++ {
		best := i
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].iou > candidates[best].iou {
				best = j
			}
		}
		candidates[i], candidates[best] = candidates[best], candidates[i]
	}

	for _, c := range candidates {
		if matchedTrack[c.trackID] || matchedDet[c.detIdx] {
			continue
		}
		matchedTrack[c.trackID] = true
		matchedDet[c.detIdx] = true

		ts := t.tracks[c.trackID]
		d := detections[c.detIdx]
		ts.velocity = instantVelocity(ts.track.Box, ts.track.LastSeen, d.Box, frameTime)
		ts.track.Box = d.Box
		ts.track.Confidence = d.Confidence
		ts.track.LastSeen = frameTime
		ts.track.Confirmed = true
		if d.ReID != nil {
			ts.track.ReID = d.ReID
		}
	}

	for di, d := range detections {
		if matchedDet[di] {
			continue
		}
		id := t.nextID
		t.nextID++
		t.tracks[id] = &trackState{
			track: model.LocalTrack{
				PipelineID:   t.pipelineID,
				LocalTrackID: id,
				Box:          d.Box,
				ClassID:      d.ClassID,
				ClassName:    d.ClassName,
				Confidence:   d.Confidence,
				LastSeen:     frameTime,
				ReID:         d.ReID,
				Confirmed:    false,
			},
		}
	}

	t.retireIdleLocked(frameTime)

	out := make([]model.LocalTrack, 0, len(t.tracks))
	for _, ts := range t.tracks {
		out = append(out, ts.track)
	}
	return out
}

func (t *Tracker) retireIdleLocked(now time.Time) {
	for id, ts := range t.tracks {
		if now.Sub(ts.track.LastSeen) > t.cfg.MaxIdleAge {
			delete(t.tracks, id)
		}
	}
}

// Live returns the currently-held tracks without mutating state.
func (t *Tracker) Live() []model.LocalTrack {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.LocalTrack, 0, len(t.tracks))
	for _, ts := range t.tracks {
		out = append(out, ts.track)
	}
	return out
}

func predictBox(ts *trackState, at time.Time) model.BBox {
	if ts.track.LastSeen.IsZero() {
		return ts.track.Box
	}
	dt := at.Sub(ts.track.LastSeen).Seconds()
	if dt <= 0 {
		return ts.track.Box
	}
	return model.BBox{
		X: ts.track.Box.X + int(ts.velocity.X*dt),
		Y: ts.track.Box.Y + int(ts.velocity.Y*dt),
		W: ts.track.Box.W,
		H: ts.track.Box.H,
	}
}

func instantVelocity(prev model.BBox, prevTime time.Time, cur model.BBox, curTime time.Time) model.Point {
	dt := curTime.Sub(prevTime).Seconds()
	if dt <= 0 || prevTime.IsZero() {
		return model.Point{}
	}
	return model.Point{
		X: float64(cur.X-prev.X) / dt,
		Y: float64(cur.Y-prev.Y) / dt,
	}
}

// IoU computes the intersection-over-union of two pixel-space boxes.
func IoU(a, b model.BBox) float64 {
	ax2, ay2 := a.X+a.W, a.Y+a.H
	bx2, by2 := b.X+b.W, b.Y+b.H

	ix1, iy1 := max(a.X, b.X), max(a.Y, b.Y)
	ix2, iy2 := min(ax2, bx2), min(ay2, by2)

	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float64(iw * ih)
	areaA := float64(a.W * a.H)
	areaB := float64(b.W * b.H)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
