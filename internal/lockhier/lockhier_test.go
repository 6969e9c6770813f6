package lockhier

import (
	"sync"
	"testing"
)

func TestAscendingOrderNoViolation(t *testing.T) {
	var violations []*Violation
	var mu sync.Mutex
	SetReporter(func(v *Violation) {
		mu.Lock()
		violations = append(violations, v)
		mu.Unlock()
	})
	defer SetReporter(nil)

	alloc := NewGuard(LevelAllocator)
	crossCam := NewGuard(LevelCrossCam)
	task := NewGuard(LevelTaskMgr)

	alloc.Lock()
	crossCam.Lock()
	task.Lock()
	task.Unlock()
	crossCam.Unlock()
	alloc.Unlock()

	if len(violations) != 0 {
		t.Fatalf("expected no violations, got %d", len(violations))
	}
}

func TestDescendingOrderReportsViolation(t *testing.T) {
	var violations []*Violation
	var mu sync.Mutex
	SetReporter(func(v *Violation) {
		mu.Lock()
		violations = append(violations, v)
		mu.Unlock()
	})
	defer SetReporter(nil)

	task := NewGuard(LevelTaskMgr)
	alloc := NewGuard(LevelAllocator)

	task.Lock()
	alloc.Lock() // descending: level 1 acquired while holding level 3
	alloc.Unlock()
	task.Unlock()

	mu.Lock()
	defer mu.Unlock()
	if len(violations) != 1 {
		t.Fatalf("expected exactly one violation, got %d", len(violations))
	}
	if violations[0].Attempted != LevelAllocator || violations[0].HeldMax != LevelTaskMgr {
		t.Fatalf("unexpected violation detail: %+v", violations[0])
	}
}

func TestHeldLevelsEmptyAfterUnlock(t *testing.T) {
	g := NewGuard(LevelPipeline)
	g.Lock()
	if len(HeldLevels()) != 1 {
		t.Fatalf("expected one held level")
	}
	g.Unlock()
	if len(HeldLevels()) != 0 {
		t.Fatalf("expected no held levels after unlock, got %v", HeldLevels())
	}
}

func TestRWGuardReadersParticipateInHierarchy(t *testing.T) {
	var violations []*Violation
	var mu sync.Mutex
	SetReporter(func(v *Violation) {
		mu.Lock()
		violations = append(violations, v)
		mu.Unlock()
	})
	defer SetReporter(nil)

	task := NewRWGuard(LevelTaskMgr)
	alloc := NewRWGuard(LevelAllocator)

	task.RLock()
	alloc.RLock()
	alloc.RUnlock()
	task.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if len(violations) != 1 {
		t.Fatalf("expected one violation from descending RLock order, got %d", len(violations))
	}
}
