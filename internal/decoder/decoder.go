// Package decoder opens a single camera's stream via an ffmpeg subprocess
// and emits timestamped frames, reconnecting with exponential backoff on
// transient failure (spec.md §4.2 Failure semantics). Grounded on the
// teacher's internal/pipeline/frame_provider.go cameraCapture.captureFFmpeg
// loop, narrowed to one decoder per pipeline per spec.md's ownership model
// ("Each Pipeline exclusively owns its decoder") and extended with the
// reconnect/backoff behavior the teacher's version does not have.
package decoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync/atomic"
	"time"

	"sentrynet/internal/model"
)

// BackoffConfig tunes reconnect behavior (spec.md §4.2: "initial 500 ms,
// factor 2, cap 30 s, reset on any successful frame").
type BackoffConfig struct {
	Initial time.Duration
	Factor  float64
	Cap     time.Duration
}

// DefaultBackoff returns the spec.md-mandated reconnect schedule.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Initial: 500 * time.Millisecond, Factor: 2, Cap: 30 * time.Second}
}

// Decoder pulls MJPEG frames from one Stream Source via ffmpeg and
// publishes them on Frames until Stop is called.
type Decoder struct {
	source  model.StreamSource
	backoff BackoffConfig

	frames chan model.FrameData
	errs   chan error
	stopCh chan struct{}
	doneCh chan struct{}
	seq    atomic.Uint64

	cmd *exec.Cmd
}

// New constructs a decoder for source.
func New(source model.StreamSource, backoff BackoffConfig) *Decoder {
	return &Decoder{
		source:  source,
		backoff: backoff,
		frames:  make(chan model.FrameData, 4),
		errs:    make(chan error, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Frames is the channel of successfully captured frames.
func (d *Decoder) Frames() <-chan model.FrameData { return d.frames }

// Errors reports transient capture errors; consumers should not treat
// these as fatal, the decoder retries internally until Stop is called.
func (d *Decoder) Errors() <-chan error { return d.errs }

// Start begins the capture loop in its own goroutine. The caller joins
// via Stop, never detaching this goroutine (spec.md §9: no detached
// worker threads).
func (d *Decoder) Start() {
	go d.run()
}

// Stop requests the capture loop to exit and blocks until it has.
func (d *Decoder) Stop() {
	close(d.stopCh)
	if d.cmd != nil && d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	<-d.doneCh
}

func (d *Decoder) run() {
	defer close(d.doneCh)
	defer close(d.frames)
	defer close(d.errs)

	delay := d.backoff.Initial

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		ok := d.captureOnce()
		if !ok {
			select {
			case d.errs <- fmt.Errorf("decoder: %s: stream ended, reconnecting in %s", d.source.ID, delay):
			default:
			}
			select {
			case <-time.After(delay):
			case <-d.stopCh:
				return
			}
			delay = nextBackoff(delay, d.backoff)
			continue
		}
		delay = d.backoff.Initial // reset on any successful run
	}
}

// captureOnce runs one ffmpeg process to completion (or until stopped),
// returning true if at least one frame was successfully emitted.
func (d *Decoder) captureOnce() bool {
	d.cmd = exec.Command("ffmpeg", ffmpegArgs(d.source)...)

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		log.Printf("[Decoder] %s stdout pipe: %v", d.source.ID, err)
		return false
	}
	stderr, err := d.cmd.StderrPipe()
	if err != nil {
		log.Printf("[Decoder] %s stderr pipe: %v", d.source.ID, err)
		return false
	}
	if err := d.cmd.Start(); err != nil {
		log.Printf("[Decoder] %s start ffmpeg: %v", d.source.ID, err)
		return false
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			// ffmpeg logs its own diagnostics to stderr; consumed silently.
		}
	}()

	framed := false
	frameBuffer := make([]byte, 0, 1<<20)
	chunk := make([]byte, 8192)

	for {
		select {
		case <-d.stopCh:
			return framed
		default:
		}

		n, err := stdout.Read(chunk)
		if n > 0 {
			frameBuffer = append(frameBuffer, chunk[:n]...)
			for {
				jpeg := extractJPEGFrame(&frameBuffer)
				if jpeg == nil {
					break
				}
				framed = true
				d.emit(jpeg)
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("[Decoder] %s read: %v", d.source.ID, err)
			}
			d.cmd.Wait()
			return framed
		}
	}
}

func (d *Decoder) emit(jpeg []byte) {
	frame := model.FrameData{
		SourceID:    d.source.ID,
		Data:        jpeg,
		CaptureTS:   time.Now(),
		SequenceNum: d.seq.Add(1),
		Width:       d.source.Width,
		Height:      d.source.Height,
	}
	select {
	case d.frames <- frame:
	case <-d.stopCh:
	default:
		// Consumer (pipeline) not keeping up: drop this frame rather
		// than block the capture loop.
	}
}

func ffmpegArgs(s model.StreamSource) []string {
	switch s.Protocol {
	case model.ProtocolRTSP, model.ProtocolONVIF:
		return []string{
			"-rtsp_transport", "tcp",
			"-i", s.URL,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", s.FPS),
			"-q:v", "5",
			"-",
		}
	default: // model.ProtocolHTTP
		return []string{
			"-i", s.URL,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", s.FPS),
			"-q:v", "5",
			"-",
		}
	}
}

// extractJPEGFrame pulls one complete JPEG (FFD8...FFD9) out of buffer,
// if present, shrinking buffer past it.
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}
	startIdx := -1
	for i := 0; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil
	}
	endIdx := -1
	for i := startIdx + 2; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		return nil
	}
	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]
	return frame
}

// Probe dials source with ffprobe and reports whether it can be opened,
// without starting a full capture loop. Used by the control plane's
// connection-test endpoint before a camera is registered with the Task
// Manager.
func Probe(ctx context.Context, source model.StreamSource) error {
	args := []string{
		"-v", "error",
		"-rtsp_transport", "tcp",
		"-i", source.URL,
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
	}
	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("decoder: probe %s: %w: %s", source.ID, err, string(out))
	}
	return nil
}

func nextBackoff(cur time.Duration, cfg BackoffConfig) time.Duration {
	next := time.Duration(float64(cur) * cfg.Factor)
	if next > cfg.Cap {
		next = cfg.Cap
	}
	if next < cfg.Initial {
		next = cfg.Initial
	}
	return next
}
