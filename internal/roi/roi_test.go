package roi

import (
	"testing"
	"time"

	"sentrynet/internal/model"
)

func square(x0, y0, side float64) []model.Point {
	return []model.Point{
		{X: x0, Y: y0},
		{X: x0 + side, Y: y0},
		{X: x0 + side, Y: y0 + side},
		{X: x0, Y: y0 + side},
	}
}

func TestValidateRejectsTooFewPoints(t *testing.T) {
	r := model.ROI{Points: []model.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}, Rule: model.RuleIntrusion}
	if err := Validate(r); err == nil {
		t.Fatalf("expected error for fewer than 3 points")
	}
}

func TestValidateRejectsSelfIntersecting(t *testing.T) {
	// A bowtie: points ordered so two opposite (non-adjacent) edges cross.
	r := model.ROI{
		Points: []model.Point{{X: 0, Y: 0}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 10}},
		Rule:   model.RuleIntrusion,
	}
	if err := Validate(r); err == nil {
		t.Fatalf("expected error for self-intersecting polygon")
	}
}

func TestValidateAcceptsSimpleSquare(t *testing.T) {
	r := model.ROI{Points: square(0, 0, 50), Rule: model.RuleIntrusion}
	if err := Validate(r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsTinyArea(t *testing.T) {
	r := model.ROI{Points: square(0, 0, 1), Rule: model.RuleIntrusion}
	if err := Validate(r); err == nil {
		t.Fatalf("expected error for area below minimum")
	}
}

func TestValidateLoiteringRequiresMinDwell(t *testing.T) {
	r := model.ROI{Points: square(0, 0, 50), Rule: model.RuleLoitering, MinDwellSec: 0}
	if err := Validate(r); err == nil {
		t.Fatalf("expected error for loitering rule with MinDwellSec <= 0")
	}
}

func TestContainsPointInsideAndOutside(t *testing.T) {
	pts := square(0, 0, 100)
	if !Contains(pts, model.Point{X: 50, Y: 50}) {
		t.Fatalf("expected center point to be inside")
	}
	if Contains(pts, model.Point{X: 200, Y: 200}) {
		t.Fatalf("expected far point to be outside")
	}
}

func TestEvaluateIntrusionFiresOnceThenCoolsDown(t *testing.T) {
	e := NewEvaluator()
	r := model.ROI{ID: "r1", Enabled: true, Points: square(0, 0, 100), Rule: model.RuleIntrusion, CooldownSec: 60}

	now := time.Now()
	inside := model.Point{X: 50, Y: 50}

	ev := e.Evaluate(r, "cam_1", "obj_1", inside, now)
	if ev == nil {
		t.Fatalf("expected intrusion event on first entry")
	}
	if ev.Type != model.EventIntrusion {
		t.Fatalf("expected EventIntrusion, got %s", ev.Type)
	}

	ev2 := e.Evaluate(r, "cam_1", "obj_1", inside, now.Add(5*time.Second))
	if ev2 != nil {
		t.Fatalf("expected no event during cooldown window, got %+v", ev2)
	}

	ev3 := e.Evaluate(r, "cam_1", "obj_1", inside, now.Add(90*time.Second))
	if ev3 == nil {
		t.Fatalf("expected event to fire again after cooldown elapses")
	}
}

func TestEvaluateLoiteringRequiresMinDwellBeforeFiring(t *testing.T) {
	e := NewEvaluator()
	r := model.ROI{ID: "r1", Enabled: true, Points: square(0, 0, 100), Rule: model.RuleLoitering, MinDwellSec: 10, CooldownSec: 60}

	now := time.Now()
	inside := model.Point{X: 50, Y: 50}

	if ev := e.Evaluate(r, "cam_1", "obj_1", inside, now); ev != nil {
		t.Fatalf("expected no event on first sighting, got %+v", ev)
	}
	if ev := e.Evaluate(r, "cam_1", "obj_1", inside, now.Add(5*time.Second)); ev != nil {
		t.Fatalf("expected no event before min dwell elapses, got %+v", ev)
	}
	ev := e.Evaluate(r, "cam_1", "obj_1", inside, now.Add(11*time.Second))
	if ev == nil || ev.Type != model.EventLoitering {
		t.Fatalf("expected loitering event once min dwell elapses, got %+v", ev)
	}
}

func TestEvaluateLeavingROIResetsDwell(t *testing.T) {
	e := NewEvaluator()
	r := model.ROI{ID: "r1", Enabled: true, Points: square(0, 0, 100), Rule: model.RuleLoitering, MinDwellSec: 10, CooldownSec: 60}

	now := time.Now()
	inside := model.Point{X: 50, Y: 50}
	outside := model.Point{X: 500, Y: 500}

	e.Evaluate(r, "cam_1", "obj_1", inside, now)
	e.Evaluate(r, "cam_1", "obj_1", outside, now.Add(5*time.Second)) // leaves, resets dwell
	ev := e.Evaluate(r, "cam_1", "obj_1", inside, now.Add(12*time.Second))
	if ev != nil {
		t.Fatalf("expected dwell clock to restart after leaving the ROI, got %+v", ev)
	}
}

func TestEvaluateDisabledROINeverFires(t *testing.T) {
	e := NewEvaluator()
	r := model.ROI{ID: "r1", Enabled: false, Points: square(0, 0, 100), Rule: model.RuleIntrusion}
	if ev := e.Evaluate(r, "cam_1", "obj_1", model.Point{X: 50, Y: 50}, time.Now()); ev != nil {
		t.Fatalf("expected disabled ROI to never fire, got %+v", ev)
	}
}
