// Package roi implements the Behavior/ROI Analyzer (spec.md §4.2 step 7):
// polygon validation and intrusion/loitering rule evaluation with
// cooldown-gated event de-duplication.
//
// Open question resolved (spec.md §9): polygons are treated as implicitly
// closed for all geometric tests — the stored Points never need to repeat
// the first vertex, and point-in-polygon/self-intersection checks close
// the ring themselves.
package roi

import (
	"fmt"
	"sync"
	"time"

	"sentrynet/internal/model"
)

const (
	minPoints  = 3
	minAreaPx2 = 100.0
)

// Validate checks min-points, self-intersection, and area bounds
// (spec.md §3 ROI).
func Validate(r model.ROI) error {
	if len(r.Points) < minPoints {
		return fmt.Errorf("roi: polygon needs at least %d points, got %d", minPoints, len(r.Points))
	}
	if selfIntersects(r.Points) {
		return fmt.Errorf("roi: polygon is self-intersecting")
	}
	area := polygonArea(r.Points)
	if area < minAreaPx2 {
		return fmt.Errorf("roi: polygon area %.1f below minimum %.1f", area, minAreaPx2)
	}
	if r.Rule != model.RuleIntrusion && r.Rule != model.RuleLoitering {
		return fmt.Errorf("roi: unknown rule kind %q", r.Rule)
	}
	if r.Rule == model.RuleLoitering && r.MinDwellSec <= 0 {
		return fmt.Errorf("roi: loitering rule requires min_dwell_sec > 0")
	}
	return nil
}

// polygonArea uses the shoelace formula over the implicitly-closed ring.
func polygonArea(pts []model.Point) float64 {
	n := len(pts)
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	if sum < 0 {
		sum = -sum
	}
	return sum / 2
}

// selfIntersects checks every pair of non-adjacent edges of the
// implicitly-closed ring for intersection.
func selfIntersects(pts []model.Point) bool {
	n := len(pts)
	if n < 4 {
		return false // a triangle can never self-intersect
	}
	for i := 0; i < n; i++ {
		a1, a2 := pts[i], pts[(i+1)%n]
		for j := i + 1; j < n; j++ {
			if j == i || (j+1)%n == i || j == (i+1)%n {
				continue // adjacent edges share a vertex, not a crossing
			}
			b1, b2 := pts[j], pts[(j+1)%n]
			if segmentsIntersect(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, p3, p4 model.Point) bool {
	d1 := cross(p4, p3, p1)
	d2 := cross(p4, p3, p2)
	d3 := cross(p2, p1, p3)
	d4 := cross(p2, p1, p4)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return false
}

func cross(a, b, c model.Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// Contains reports whether pt lies within the implicitly-closed polygon,
// via a standard ray-casting test.
func Contains(pts []model.Point, pt model.Point) bool {
	n := len(pts)
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := pts[i], pts[j]
		if (pi.Y > pt.Y) != (pj.Y > pt.Y) &&
			pt.X < (pj.X-pi.X)*(pt.Y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
	}
	return inside
}

// InTimeWindow reports whether "now" falls within the ROI's configured
// time-of-day validity window. A nil Start or End means no bound on that
// side; a window that wraps past midnight (Start > End) is treated as
// spanning the wrap.
func InTimeWindow(r model.ROI, now time.Time) bool {
	if r.StartTOD == nil && r.EndTOD == nil {
		return true
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	offset := now.Sub(midnight)
	if r.EndTOD == nil {
		return offset >= time.Duration(*r.StartTOD)
	}
	if r.StartTOD == nil {
		return offset <= time.Duration(*r.EndTOD)
	}
	start := time.Duration(*r.StartTOD)
	end := time.Duration(*r.EndTOD)

	if start <= end {
		return offset >= start && offset <= end
	}
	return offset >= start || offset <= end
}

// dedupKey identifies one triggerable event instance (source, rule,
// object) for cooldown de-duplication (spec.md §4.2 step 7).
type dedupKey struct {
	sourceID string
	ruleID   string
	objectID string
}

// Evaluator tracks per-(source,rule,object) state across frames: dwell
// start time for loitering, and last-fired time for cooldown
// de-duplication. One Evaluator is owned by a single pipeline.
type Evaluator struct {
	mu         sync.Mutex
	dwellStart map[dedupKey]time.Time
	lastFired  map[dedupKey]time.Time
}

// NewEvaluator creates an empty rule evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		dwellStart: make(map[dedupKey]time.Time),
		lastFired:  make(map[dedupKey]time.Time),
	}
}

// Evaluate checks one ROI against one tracked object's current position
// and returns a triggered Event, or nil if no rule fired (either the
// condition isn't met, the ROI isn't currently valid, or the cooldown
// window is still active).
func (e *Evaluator) Evaluate(r model.ROI, sourceID, objectID string, center model.Point, now time.Time) *model.Event {
	if !r.Enabled || !InTimeWindow(r, now) {
		return nil
	}
	inside := Contains(r.Points, center)
	key := dedupKey{sourceID: sourceID, ruleID: r.ID, objectID: objectID}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !inside {
		delete(e.dwellStart, key)
		return nil
	}

	switch r.Rule {
	case model.RuleIntrusion:
		return e.fireIfNotCoolingDown(key, r, sourceID, objectID, now, model.EventIntrusion)

	case model.RuleLoitering:
		start, tracking := e.dwellStart[key]
		if !tracking {
			e.dwellStart[key] = now
			return nil
		}
		if now.Sub(start) < time.Duration(r.MinDwellSec)*time.Second {
			return nil
		}
		return e.fireIfNotCoolingDown(key, r, sourceID, objectID, now, model.EventLoitering)
	}
	return nil
}

func (e *Evaluator) fireIfNotCoolingDown(key dedupKey, r model.ROI, sourceID, objectID string, now time.Time, evType model.EventType) *model.Event {
	if last, ok := e.lastFired[key]; ok {
		cooldown := time.Duration(r.CooldownSec) * time.Second
		if cooldown <= 0 {
			cooldown = 30 * time.Second
		}
		if now.Sub(last) < cooldown {
			return nil
		}
	}
	e.lastFired[key] = now

	return &model.Event{
		SourceID:  sourceID,
		Type:      evType,
		Severity:  model.SeverityWarning,
		Timestamp: now,
		RuleID:    r.ID,
		ObjectID:  objectID,
	}
}
