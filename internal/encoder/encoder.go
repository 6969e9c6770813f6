package encoder

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
)

// Config tunes one camera's MJPEG encoder.
type Config struct {
	QueueSize int // bounded client send buffer per connected viewer
}

// DefaultConfig returns the teacher's client buffer size (5), see
// internal/stream/mjpeg.go's clientCh := make(chan []byte, 5).
func DefaultConfig() Config {
	return Config{QueueSize: 5}
}

// Encoder serves the latest annotated frame for one camera as an MJPEG
// multipart stream on its own port, and as single-shot JPEG snapshots.
// Overflow policy: a slow client's channel fills and newer frames are
// dropped for that client only, never blocking the frame producer
// (the pipeline goroutine feeding Push).
type Encoder struct {
	sourceID string
	cfg      Config

	mu           sync.RWMutex
	currentFrame []byte

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	server *http.Server
}

// New constructs an encoder for one camera. Call Serve to bind it to a
// port allocated by internal/allocator.
func New(sourceID string, cfg Config) *Encoder {
	return &Encoder{
		sourceID: sourceID,
		cfg:      cfg,
		clients:  make(map[chan []byte]struct{}),
	}
}

// Push publishes a newly annotated (or raw passthrough) frame. Called
// from the owning pipeline's per-frame cycle; never blocks.
func (e *Encoder) Push(jpegData []byte) {
	if len(jpegData) == 0 {
		return
	}
	e.mu.Lock()
	e.currentFrame = jpegData
	e.mu.Unlock()

	e.clientsMu.RLock()
	for ch := range e.clients {
		select {
		case ch <- jpegData:
		default:
			// Slow client: drop this frame rather than block the pipeline.
		}
	}
	e.clientsMu.RUnlock()
}

// Snapshot returns the most recently pushed frame, or nil if none yet.
func (e *Encoder) Snapshot() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentFrame
}

// Serve binds an HTTP server on port exposing "/stream" (MJPEG) and
// "/snapshot" (single JPEG), and runs it until Stop is called.
func (e *Encoder) Serve(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", e.serveStream)
	mux.HandleFunc("/snapshot", e.serveSnapshot)

	e.server = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	log.Printf("[Encoder] %s serving MJPEG on %s", e.sourceID, e.server.Addr)

	err := e.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("encoder: %s: listen on port %d: %w", e.sourceID, port, err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server and disconnects any
// connected viewers.
func (e *Encoder) Stop(ctx context.Context) error {
	e.clientsMu.Lock()
	for ch := range e.clients {
		close(ch)
		delete(e.clients, ch)
	}
	e.clientsMu.Unlock()

	if e.server == nil {
		return nil
	}
	return e.server.Shutdown(ctx)
}

func (e *Encoder) serveStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	clientCh := make(chan []byte, e.cfg.QueueSize)
	e.clientsMu.Lock()
	e.clients[clientCh] = struct{}{}
	e.clientsMu.Unlock()

	defer func() {
		e.clientsMu.Lock()
		delete(e.clients, clientCh)
		e.clientsMu.Unlock()
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	log.Printf("[Encoder] %s viewer connected", e.sourceID)

	for {
		select {
		case <-r.Context().Done():
			log.Printf("[Encoder] %s viewer disconnected", e.sourceID)
			return
		case frame, ok := <-clientCh:
			if !ok {
				return
			}
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
			w.Write(frame)
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
		}
	}
}

func (e *Encoder) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	frame := e.Snapshot()
	if frame == nil {
		http.Error(w, "no frame available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Write(frame)
}
