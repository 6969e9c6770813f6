package encoder

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPushUpdatesSnapshot(t *testing.T) {
	e := New("cam_1", DefaultConfig())
	if e.Snapshot() != nil {
		t.Fatalf("expected nil snapshot before any push")
	}
	e.Push([]byte("frame-1"))
	if string(e.Snapshot()) != "frame-1" {
		t.Fatalf("expected snapshot to reflect last pushed frame")
	}
	e.Push([]byte("frame-2"))
	if string(e.Snapshot()) != "frame-2" {
		t.Fatalf("expected snapshot to reflect most recent frame")
	}
}

func TestPushToFullClientChannelDropsRatherThanBlocks(t *testing.T) {
	e := New("cam_1", Config{QueueSize: 1})
	ch := make(chan []byte, 1)
	e.clientsMu.Lock()
	e.clients[ch] = struct{}{}
	e.clientsMu.Unlock()

	e.Push([]byte("a"))
	done := make(chan struct{})
	go func() {
		e.Push([]byte("b")) // channel already full; must not block
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Push blocked on a full client channel")
	}
}

func TestServeSnapshotReturns503BeforeFirstFrame(t *testing.T) {
	e := New("cam_1", DefaultConfig())
	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	rec := httptest.NewRecorder()
	e.serveSnapshot(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no frame yet, got %d", rec.Code)
	}
}

func TestServeSnapshotReturnsLatestFrame(t *testing.T) {
	e := New("cam_1", DefaultConfig())
	e.Push([]byte("jpegbytes"))

	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	rec := httptest.NewRecorder()
	e.serveSnapshot(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Result().Body)
	if string(body) != "jpegbytes" {
		t.Fatalf("expected snapshot body to match pushed frame, got %q", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("expected image/jpeg content type, got %q", ct)
	}
}

func TestStopClosesAllClientChannels(t *testing.T) {
	e := New("cam_1", DefaultConfig())
	ch := make(chan []byte, 1)
	e.clientsMu.Lock()
	e.clients[ch] = struct{}{}
	e.clientsMu.Unlock()

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error from Stop: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected client channel to be closed by Stop")
	}
}
