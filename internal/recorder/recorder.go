// Package recorder implements the per-camera pre-/post-event circular
// buffer and event-triggered MP4 recording (spec.md §4.2 step 9, §3
// Recorder). It pipes buffered and live JPEG frames into an ffmpeg
// subprocess, mirroring the teacher's subprocess-pipe style from
// internal/pipeline/frame_provider.go and internal/stream/mjpeg.go, but
// writing instead of reading.
package recorder

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"sentrynet/internal/model"
)

// Config tunes one camera's recorder.
type Config struct {
	OutputDir       string
	PreEventFrames  int           // ring capacity (spec.md §4.2: overwrite oldest slot on overflow)
	PostEventWindow time.Duration // how long to keep recording after a trigger
}

// DefaultConfig returns a 5-second pre-event ring at 10fps and a 10s
// post-event tail.
func DefaultConfig(outputDir string) Config {
	return Config{OutputDir: outputDir, PreEventFrames: 50, PostEventWindow: 10 * time.Second}
}

// Recorder owns one camera's pre-event ring buffer and, when triggered,
// an active ffmpeg encode of the surrounding window to MP4.
type Recorder struct {
	sourceID string
	cfg      Config

	mu       sync.Mutex
	ring     []model.FrameData
	ringPos  int
	ringFull bool

	recMu       sync.Mutex
	recording   bool
	cmd         *exec.Cmd
	pipeW       pipeWriter
	currentPath string
}

// pipeWriter abstracts the ffmpeg stdin pipe so tests can substitute a
// buffer instead of spawning a real process.
type pipeWriter interface {
	Write(p []byte) (int, error)
	Close() error
}

// New constructs a recorder for one camera.
func New(sourceID string, cfg Config) *Recorder {
	if cfg.PreEventFrames <= 0 {
		cfg.PreEventFrames = 50
	}
	return &Recorder{
		sourceID: sourceID,
		cfg:      cfg,
		ring:     make([]model.FrameData, cfg.PreEventFrames),
	}
}

// Push appends a frame to the pre-event ring (overwriting the oldest
// slot once full) and, if a recording is in progress, also streams it
// into the active ffmpeg encode.
func (r *Recorder) Push(frame model.FrameData) {
	r.mu.Lock()
	r.ring[r.ringPos] = frame
	r.ringPos = (r.ringPos + 1) % len(r.ring)
	if r.ringPos == 0 {
		r.ringFull = true
	}
	r.mu.Unlock()

	r.recMu.Lock()
	active := r.recording
	w := r.pipeW
	r.recMu.Unlock()
	if active && w != nil {
		w.Write(frame.Data)
	}
}

// snapshotRing returns the buffered pre-event frames in chronological
// order.
func (r *Recorder) snapshotRing() []model.FrameData {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ringFull {
		out := make([]model.FrameData, r.ringPos)
		copy(out, r.ring[:r.ringPos])
		return out
	}
	out := make([]model.FrameData, len(r.ring))
	copy(out, r.ring[r.ringPos:])
	copy(out[len(r.ring)-r.ringPos:], r.ring[:r.ringPos])
	return out
}

// TriggerEvent starts an MP4 recording: the buffered pre-event frames
// are written immediately, then live frames continue to be written via
// Push until PostEventWindow has elapsed since this trigger. A trigger
// while a recording is already in progress returns that recording's path
// and does not extend its window. It returns the path the recording will
// be written to.
func (r *Recorder) TriggerEvent(ctx context.Context, ts time.Time) (string, error) {
	r.recMu.Lock()
	if r.recording {
		r.recMu.Unlock()
		return r.currentPath, nil
	}
	r.recording = true
	path := recordingPath(r.cfg.OutputDir, r.sourceID, ts)
	r.currentPath = path
	r.recMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("recorder: %s: create output dir: %w", r.sourceID, err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-i", "-",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-y", path,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("recorder: %s: stdin pipe: %w", r.sourceID, err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("recorder: %s: start ffmpeg: %w", r.sourceID, err)
	}

	r.recMu.Lock()
	r.cmd = cmd
	r.pipeW = stdin
	r.recMu.Unlock()

	log.Printf("[Recorder] %s event triggered, recording to %s", r.sourceID, path)

	for _, f := range r.snapshotRing() {
		if len(f.Data) > 0 {
			stdin.Write(f.Data)
		}
	}

	go r.stopAfter(r.cfg.PostEventWindow)

	return path, nil
}

func (r *Recorder) stopAfter(d time.Duration) {
	time.Sleep(d)

	r.recMu.Lock()
	if !r.recording {
		r.recMu.Unlock()
		return
	}
	cmd := r.cmd
	w := r.pipeW
	r.recording = false
	r.cmd = nil
	r.pipeW = nil
	path := r.currentPath
	r.recMu.Unlock()

	if w != nil {
		w.Close()
	}
	if cmd != nil {
		cmd.Wait()
	}
	log.Printf("[Recorder] %s finished recording %s", r.sourceID, path)
}

func recordingPath(dir, sourceID string, ts time.Time) string {
	name := fmt.Sprintf("%s_%s.mp4", sourceID, ts.UTC().Format("20060102T150405Z"))
	return filepath.Join(dir, sourceID, name)
}
