package decoder

import (
	"testing"
	"time"

	"sentrynet/internal/model"
)

func TestExtractJPEGFrameFindsSingleFrame(t *testing.T) {
	buf := append([]byte{0xFF, 0xD8}, []byte("payload")...)
	buf = append(buf, 0xFF, 0xD9)
	buf = append(buf, []byte("trailingjunk")...)

	frame := extractJPEGFrame(&buf)
	if frame == nil {
		t.Fatalf("expected a frame to be extracted")
	}
	if frame[0] != 0xFF || frame[1] != 0xD8 || frame[len(frame)-2] != 0xFF || frame[len(frame)-1] != 0xD9 {
		t.Fatalf("extracted frame missing JPEG markers: %v", frame)
	}
	if string(buf) != "trailingjunk" {
		t.Fatalf("expected buffer to be left with trailing bytes, got %q", buf)
	}
}

func TestExtractJPEGFrameReturnsNilWithoutEndMarker(t *testing.T) {
	buf := append([]byte{0xFF, 0xD8}, []byte("incomplete")...)
	if frame := extractJPEGFrame(&buf); frame != nil {
		t.Fatalf("expected nil for a frame missing its end marker, got %v", frame)
	}
}

func TestExtractJPEGFrameReturnsNilWithoutStartMarker(t *testing.T) {
	buf := []byte("nothing here")
	if frame := extractJPEGFrame(&buf); frame != nil {
		t.Fatalf("expected nil with no start marker, got %v", frame)
	}
}

func TestNextBackoffDoublesUntilCap(t *testing.T) {
	cfg := DefaultBackoff()
	d := cfg.Initial
	for i := 0; i < 10; i++ {
		d = nextBackoff(d, cfg)
	}
	if d != cfg.Cap {
		t.Fatalf("expected backoff to saturate at cap %s, got %s", cfg.Cap, d)
	}
}

func TestNextBackoffNeverBelowInitial(t *testing.T) {
	cfg := BackoffConfig{Initial: 500 * time.Millisecond, Factor: 2, Cap: 30 * time.Second}
	if got := nextBackoff(0, cfg); got != cfg.Initial {
		t.Fatalf("expected backoff floor to be Initial, got %s", got)
	}
}

func TestFfmpegArgsSelectsRTSPTransportForRTSPAndONVIF(t *testing.T) {
	for _, proto := range []model.Protocol{model.ProtocolRTSP, model.ProtocolONVIF} {
		s := model.StreamSource{URL: "rtsp://cam/1", Protocol: proto, FPS: 10}
		args := ffmpegArgs(s)
		found := false
		for _, a := range args {
			if a == "tcp" {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected -rtsp_transport tcp for protocol %s, got %v", proto, args)
		}
	}
}

func TestFfmpegArgsOmitsRTSPTransportForHTTP(t *testing.T) {
	s := model.StreamSource{URL: "http://cam/snapshot.mjpg", Protocol: model.ProtocolHTTP, FPS: 5}
	args := ffmpegArgs(s)
	for _, a := range args {
		if a == "tcp" {
			t.Fatalf("did not expect -rtsp_transport tcp for HTTP source, got %v", args)
		}
	}
}

func TestStopAfterFailedCaptureJoinsCleanly(t *testing.T) {
	d := New(model.StreamSource{ID: "cam_1", Protocol: model.ProtocolHTTP, URL: "http://example.invalid/x.jpg", FPS: 1}, DefaultBackoff())
	done := make(chan struct{})
	go func() {
		d.Start()
		close(done)
	}()
	<-done
	// captureOnce will fail immediately (ffmpeg absent or host unreachable)
	// and the run loop should observe stopCh during its backoff sleep.
	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return promptly")
	}
}
