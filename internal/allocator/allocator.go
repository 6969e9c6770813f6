// Package allocator hands out unique MJPEG listener ports and accounts
// the system-wide accelerator-context budget (spec.md §4.7). It sits at
// lock hierarchy level 1, the lowest rung, since nothing else needs to be
// held while allocating a port or a context slot.
package allocator

import (
	"fmt"

	"sentrynet/internal/lockhier"
)

// Allocator tracks MJPEG port assignments and inference-context budget.
type Allocator struct {
	guard *lockhier.Guard

	portLow, portHigh int
	usedPorts         map[int]string // port -> source id

	maxContexts  int
	usedContexts int
}

// New creates an allocator over the given MJPEG port range (inclusive)
// with a budget of maxContexts private accelerator contexts.
func New(portLow, portHigh, maxContexts int) *Allocator {
	return &Allocator{
		guard:       lockhier.NewGuard(lockhier.LevelAllocator),
		portLow:     portLow,
		portHigh:    portHigh,
		usedPorts:   make(map[int]string),
		maxContexts: maxContexts,
	}
}

// ErrPortRangeExhausted is returned when no free MJPEG port remains.
var ErrPortRangeExhausted = fmt.Errorf("allocator: no free MJPEG port in configured range")

// AllocatePort reserves a free port for sourceID, preferring the
// source's previously-assigned port if still free (stable across
// restarts of the same camera).
func (a *Allocator) AllocatePort(sourceID string, preferred int) (int, error) {
	a.guard.Lock()
	defer a.guard.Unlock()

	if preferred >= a.portLow && preferred <= a.portHigh {
		if owner, ok := a.usedPorts[preferred]; !ok || owner == sourceID {
			a.usedPorts[preferred] = sourceID
			return preferred, nil
		}
	}

	for p := a.portLow; p <= a.portHigh; p++ {
		if _, taken := a.usedPorts[p]; !taken {
			a.usedPorts[p] = sourceID
			return p, nil
		}
	}
	return 0, ErrPortRangeExhausted
}

// ReleasePort frees the port held by sourceID, if any. Idempotent.
func (a *Allocator) ReleasePort(sourceID string) {
	a.guard.Lock()
	defer a.guard.Unlock()
	for p, owner := range a.usedPorts {
		if owner == sourceID {
			delete(a.usedPorts, p)
		}
	}
}

// AcquireContext reserves one of the system-wide private accelerator
// contexts. ok is false when the budget is exhausted — the caller falls
// back to the shared sequential inference path per spec.md §4.7.
func (a *Allocator) AcquireContext() (ok bool) {
	a.guard.Lock()
	defer a.guard.Unlock()
	if a.usedContexts >= a.maxContexts {
		return false
	}
	a.usedContexts++
	return true
}

// ReleaseContext returns a previously acquired context to the budget.
func (a *Allocator) ReleaseContext() {
	a.guard.Lock()
	defer a.guard.Unlock()
	if a.usedContexts > 0 {
		a.usedContexts--
	}
}

// Stats is a point-in-time snapshot for observability.
type Stats struct {
	PortsUsed       int
	PortsTotal      int
	ContextsUsed    int
	ContextsBudget  int
}

// Snapshot returns current allocator usage.
func (a *Allocator) Snapshot() Stats {
	a.guard.Lock()
	defer a.guard.Unlock()
	return Stats{
		PortsUsed:      len(a.usedPorts),
		PortsTotal:     a.portHigh - a.portLow + 1,
		ContextsUsed:   a.usedContexts,
		ContextsBudget: a.maxContexts,
	}
}
