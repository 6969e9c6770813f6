package alarm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sentrynet/internal/model"
)

// recordingDeliverer appends the camera id of every payload it delivers,
// in delivery order. If gate is non-nil, the very first delivery blocks
// until gate is closed, letting a test submit several payloads before the
// single draining worker starts consuming them.
type recordingDeliverer struct {
	mu      sync.Mutex
	order   []string
	gate    chan struct{}
	gated   bool
	failOn  map[string]bool
}

var errDelivery = errors.New("delivery failed")

func (d *recordingDeliverer) Deliver(ctx context.Context, cfg model.AlarmChannelConfig, payload model.AlarmPayload) error {
	d.mu.Lock()
	if d.gate != nil && !d.gated {
		d.gated = true
		gate := d.gate
		d.mu.Unlock()
		<-gate
	} else {
		d.mu.Unlock()
	}

	d.mu.Lock()
	d.order = append(d.order, payload.CameraID)
	fail := d.failOn != nil && d.failOn[payload.CameraID]
	d.mu.Unlock()
	if fail {
		return errDelivery
	}
	return nil
}

func waitForOrderLen(t *testing.T, d *recordingDeliverer, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		l := len(d.order)
		d.mu.Unlock()
		if l >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d delivered payloads", n)
}

func TestPriorityOrderingWithFIFOTiebreak(t *testing.T) {
	// Scenario E4: submit pri1 and let the worker block on it at the gate,
	// then submit priorities [3,3,2]; delivery order must be
	// [pri1, pri3a, pri3b, pri2] — pri1 was already in flight, the rest
	// come highest priority first, FIFO among equal priority.
	gate := make(chan struct{})
	rec := &recordingDeliverer{gate: gate}
	r := New(DefaultConfig())
	defer r.Stop()

	r.RegisterChannel(ChannelRegistration{
		Config:    model.AlarmChannelConfig{ID: "c1", Method: model.ChannelHTTPPost, Enabled: true},
		Deliverer: rec,
	})

	r.Submit(model.AlarmPayload{CameraID: "pri1", Priority: 1})
	time.Sleep(10 * time.Millisecond) // let the worker dequeue pri1 and block on the gate
	r.Submit(model.AlarmPayload{CameraID: "pri3a", Priority: 3})
	r.Submit(model.AlarmPayload{CameraID: "pri3b", Priority: 3})
	r.Submit(model.AlarmPayload{CameraID: "pri2", Priority: 2})
	close(gate)

	waitForOrderLen(t, rec, 4)

	rec.mu.Lock()
	order := append([]string(nil), rec.order...)
	rec.mu.Unlock()

	want := []string{"pri1", "pri3a", "pri3b", "pri2"}
	if len(order) != len(want) {
		t.Fatalf("expected %d deliveries, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected delivery order %v, got %v", want, order)
		}
	}
}

func TestDeliveryRespectsChannelPriorityFloor(t *testing.T) {
	rec := &recordingDeliverer{}
	r := New(DefaultConfig())
	defer r.Stop()

	r.RegisterChannel(ChannelRegistration{
		Config:    model.AlarmChannelConfig{ID: "high-only", Enabled: true, PriorityFloor: 4},
		Deliverer: rec,
	})

	r.Submit(model.AlarmPayload{CameraID: "low", Priority: 2})
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	n := len(rec.order)
	rec.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected channel with priority floor 4 to skip a priority-2 payload, got %d deliveries", n)
	}

	r.Submit(model.AlarmPayload{CameraID: "high", Priority: 5})
	waitForOrderLen(t, rec, 1)
}

func TestSnapshotTracksDeliveredAndFailed(t *testing.T) {
	rec := &recordingDeliverer{failOn: map[string]bool{"bad": true}}
	r := New(DefaultConfig())
	defer r.Stop()

	r.RegisterChannel(ChannelRegistration{
		Config:    model.AlarmChannelConfig{ID: "c1", Enabled: true},
		Deliverer: rec,
	})

	r.Submit(model.AlarmPayload{CameraID: "good", Priority: 1})
	r.Submit(model.AlarmPayload{CameraID: "bad", Priority: 1})
	waitForOrderLen(t, rec, 2)
	time.Sleep(20 * time.Millisecond)

	stats := r.Snapshot()
	if stats.Delivered != 1 || stats.Failed != 1 {
		t.Fatalf("expected 1 delivered and 1 failed, got %+v", stats)
	}
}

func TestStopDoesNotStartNewDeliveries(t *testing.T) {
	rec := &recordingDeliverer{}
	r := New(DefaultConfig())
	r.RegisterChannel(ChannelRegistration{
		Config:    model.AlarmChannelConfig{ID: "c1", Enabled: true},
		Deliverer: rec,
	})

	gate := make(chan struct{})
	rec.mu.Lock()
	rec.gate = gate
	rec.mu.Unlock()

	r.Submit(model.AlarmPayload{CameraID: "a", Priority: 1})
	time.Sleep(20 * time.Millisecond) // ensure it's picked up and blocked on the gate
	r.Submit(model.AlarmPayload{CameraID: "b", Priority: 1})

	stopDone := make(chan struct{})
	go func() {
		r.Stop()
		close(stopDone)
	}()

	time.Sleep(20 * time.Millisecond) // Stop is now waiting on "a" to finish
	close(gate)
	<-stopDone

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.order) != 1 || rec.order[0] != "a" {
		t.Fatalf("expected only the in-flight delivery to complete, got %v", rec.order)
	}
}
