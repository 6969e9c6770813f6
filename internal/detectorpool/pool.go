// Package detectorpool implements the Detector Pool (spec.md §4.3), the
// hardest subsystem in the server: a fixed set of worker goroutines, each
// bound to a private inference context, draining a bounded submission
// queue with drop-oldest-on-full semantics. Preprocessing is grounded on
// gocv.io/x/gocv (see preprocess.go), already used for camera frame
// handling in the retrieved pack (MiFaceDEV-miface/pkg/miface/camera_gocv.go).
package detectorpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sentrynet/internal/model"
)

// ContextBudget gates how many workers get a private accelerator
// context, satisfied by *allocator.Allocator's AcquireContext/
// ReleaseContext pair. nil disables the budget: every worker gets its
// own private context unconditionally.
type ContextBudget interface {
	AcquireContext() (ok bool)
	ReleaseContext()
}

// Engine is the pluggable accelerator backend a worker drives. Pool never
// assumes a specific runtime (ONNX, TensorRT, a vendor SDK); it only needs
// something that can be instantiated per worker (NewContext) and run
// inference against a prepared tensor.
type Engine interface {
	// NewContext returns an inference context preloaded with the model.
	// Most accelerator runtimes serialize execution within a single
	// context; Pool gives each worker its own unless the ContextBudget
	// passed to New is exhausted, in which case workers beyond the budget
	// share one context, serialized by a mutex.
	NewContext() (Context, error)
}

// Context is one worker's private, stateful handle into the accelerator
// runtime.
type Context interface {
	// Infer runs the model against a prepared tensor and returns raw,
	// un-postprocessed model output.
	Infer(ctx context.Context, t Tensor) (RawOutput, error)
	// Close releases the context's accelerator resources.
	Close() error
}

// Tensor is a preprocessed, contiguous model input buffer.
type Tensor struct {
	Data          []float32 // or quantized bytes reinterpreted by the engine; Pool treats this opaquely
	Width, Height int       // model input dimensions
	// LetterboxScale and PadX/PadY describe the transform from model
	// input space back to the original frame, used by rescaleBoxes.
	LetterboxScale float64
	PadX, PadY     int
	OrigWidth      int
	OrigHeight     int
}

// RawOutput is the engine's undecoded output; Decode turns it into
// model.Detection values in model-input-tensor space, pre-rescale.
type RawOutput struct {
	Boxes       [][4]float32 // cx, cy, w, h in tensor space
	Scores      []float32
	ClassIDs    []int
	ClassNames  []string
}

// task is one queued inference request.
type task struct {
	frame        model.FrameData
	pipelineHint string
	resultCh     chan taskResult
	enqueuedAt   time.Time
}

type taskResult struct {
	detections []model.Detection
	err        error
}

// Future is returned by Submit; the caller awaits it with its own
// deadline (spec.md §4.2 step 2: "await result (future) with deadline").
type Future struct {
	ch chan taskResult
}

// Wait blocks until the result is available or ctx is done.
func (f *Future) Wait(ctx context.Context) ([]model.Detection, error) {
	select {
	case r := <-f.ch:
		return r.detections, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Config tunes pool sizing and postprocessing.
type Config struct {
	NumWorkers      int
	QueueSize       int // M in spec.md §4.3
	ConfidenceThreshold float32
	NMSIoUThreshold     float32
	InputWidth, InputHeight int
	MaxConsecutiveFailures  int // default 3, spec.md §4.3
}

// DefaultConfig mirrors model.DefaultGlobalDetectionConfig where applicable.
func DefaultConfig() Config {
	return Config{
		NumWorkers:          4,
		QueueSize:           8,
		ConfidenceThreshold: 0.5,
		NMSIoUThreshold:     0.45,
		InputWidth:          640,
		InputHeight:         640,
		MaxConsecutiveFailures: 3,
	}
}

type worker struct {
	id                  int
	ctxHandle           Context // nil when private is false: infer via the pool's shared context
	private             bool    // true if this worker holds its own acquired context budget slot
	consecutiveFailures int     // only ever touched by this worker's own goroutine
	quarantined         atomic.Bool
}

// Pool is the shared, thread-safe Detector Pool collaborator.
type Pool struct {
	cfg Config
	pre Preprocessor
	eng Engine

	queueMu sync.Mutex
	queueCond *sync.Cond
	queue   []*task

	categoryFilter atomic.Value // holds map[int]struct{}

	confidenceOverride atomic.Value // holds float32, absent means use cfg default
	nmsOverride         atomic.Value // holds float32, absent means use cfg default
	maxDetections       atomic.Int64 // 0 means uncapped

	workers []*worker
	wg      sync.WaitGroup

	stopOnce sync.Once
	stopping bool // guarded by queueMu
	stopCh   chan struct{}

	budget    ContextBudget
	sharedMu  sync.Mutex
	sharedCtx Context // lazily created the first time a worker can't get a private context

	droppedTasks uint64
}

// New constructs the pool and spawns cfg.NumWorkers workers. When budget
// is non-nil, each worker first tries to acquire a private context slot
// from it (spec.md §4.7's K_ctx budget); a worker that can't gets no
// private context of its own and instead shares one context across all
// such workers, serialized by a mutex (spec.md §4.7's "fallback to the
// shared sequential path"). budget nil (the common case today, since no
// concrete accelerator imposes a real per-context cost) preserves the
// original behavior: every worker gets its own context unconditionally.
func New(cfg Config, eng Engine, pre Preprocessor, budget ContextBudget) (*Pool, error) {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	p := &Pool{
		cfg:    cfg,
		pre:    pre,
		eng:    eng,
		budget: budget,
		stopCh: make(chan struct{}),
	}
	p.queueCond = sync.NewCond(&p.queueMu)
	p.SetCategoryFilter(nil) // nil means "all categories enabled"

	for i := 0; i < cfg.NumWorkers; i++ {
		w := &worker{id: i, private: true}
		if budget != nil && !budget.AcquireContext() {
			w.private = false
		}

		if w.private {
			c, err := eng.NewContext()
			if err != nil {
				p.closeWorkers()
				return nil, fmt.Errorf("detectorpool: worker %d context init: %w", i, err)
			}
			w.ctxHandle = c
		} else if p.sharedCtx == nil {
			c, err := eng.NewContext()
			if err != nil {
				p.closeWorkers()
				return nil, fmt.Errorf("detectorpool: shared context init: %w", err)
			}
			p.sharedCtx = c
		}

		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go p.runWorker(w)
	}
	return p, nil
}

func (p *Pool) closeWorkers() {
	for _, w := range p.workers {
		if w.ctxHandle != nil {
			w.ctxHandle.Close()
		}
		if w.private && p.budget != nil {
			p.budget.ReleaseContext()
		}
	}
	p.workers = nil
	if p.sharedCtx != nil {
		p.sharedCtx.Close()
		p.sharedCtx = nil
	}
}

// Submit enqueues a frame for inference, keyed by pipelineHint for
// observability only (the queue is shared, not per-pipeline). If the
// queue is already at its configured maximum, the oldest queued task is
// evicted and its future resolves immediately to an empty detection list
// (spec.md §4.3: newer frames preferred over stale backlog).
func (p *Pool) Submit(frame model.FrameData, pipelineHint string) *Future {
	t := &task{
		frame:        frame,
		pipelineHint: pipelineHint,
		resultCh:     make(chan taskResult, 1),
		enqueuedAt:   time.Now(),
	}

	p.queueMu.Lock()
	if len(p.queue) >= p.cfg.QueueSize {
		evicted := p.queue[0]
		p.queue = p.queue[1:]
		atomic.AddUint64(&p.droppedTasks, 1)
		evicted.resultCh <- taskResult{detections: []model.Detection{}}
	}
	p.queue = append(p.queue, t)
	p.queueCond.Signal()
	p.queueMu.Unlock()

	return &Future{ch: t.resultCh}
}

// DroppedTasks returns the running count of queue-full evictions.
func (p *Pool) DroppedTasks() uint64 {
	return atomic.LoadUint64(&p.droppedTasks)
}

// SetCategoryFilter replaces the process-wide enabled-class-id set.
// A nil or empty set means "no filtering" (all classes pass). Reads are
// wait-free via atomic.Value (spec.md §4.3 Category filter).
func (p *Pool) SetCategoryFilter(classIDs []int) {
	set := make(map[int]struct{}, len(classIDs))
	for _, id := range classIDs {
		set[id] = struct{}{}
	}
	p.categoryFilter.Store(set)
}

// SetThresholds overrides the confidence and NMS IoU thresholds applied
// by every worker's postprocessing step, effective on the next frame.
// Backs the runtime-mutable half of GET/PUT /api/detection/config.
func (p *Pool) SetThresholds(confidence, nmsIoU float32) {
	p.confidenceOverride.Store(confidence)
	p.nmsOverride.Store(nmsIoU)
}

// SetMaxDetections caps the number of detections returned per frame after
// NMS; 0 or negative means uncapped.
func (p *Pool) SetMaxDetections(n int) {
	p.maxDetections.Store(int64(n))
}

// Thresholds returns the currently effective confidence and NMS IoU
// thresholds, falling back to the pool's construction-time Config.
func (p *Pool) Thresholds() (confidence, nmsIoU float32) {
	confidence = p.cfg.ConfidenceThreshold
	nmsIoU = p.cfg.NMSIoUThreshold
	if v, ok := p.confidenceOverride.Load().(float32); ok {
		confidence = v
	}
	if v, ok := p.nmsOverride.Load().(float32); ok {
		nmsIoU = v
	}
	return confidence, nmsIoU
}

// MaxDetections returns the currently effective per-frame detection cap,
// 0 meaning uncapped.
func (p *Pool) MaxDetections() int {
	return int(p.maxDetections.Load())
}

func (p *Pool) categoryAllowed(classID int) bool {
	set := p.categoryFilter.Load().(map[int]struct{})
	if len(set) == 0 {
		return true
	}
	_, ok := set[classID]
	return ok
}

// dequeue blocks until a task is available or the pool is stopping, in
// which case it returns nil, false.
func (p *Pool) dequeue() (*task, bool) {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	for len(p.queue) == 0 {
		if p.stopping {
			return nil, false
		}
		p.queueCond.Wait()
	}
	t := p.queue[0]
	p.queue = p.queue[1:]
	return t, true
}

func (p *Pool) runWorker(w *worker) {
	defer p.wg.Done()
	for {
		for w.quarantined.Load() {
			if p.reinitWorker(w) {
				break
			}
			select {
			case <-p.stopCh:
				return
			case <-time.After(time.Second):
			}
		}

		t, ok := p.dequeue()
		if !ok {
			return
		}

		dets, err := p.processOne(w, t)
		if err != nil {
			w.consecutiveFailures++
			if w.consecutiveFailures >= p.cfg.MaxConsecutiveFailures {
				w.quarantined.Store(true)
			}
			t.resultCh <- taskResult{detections: []model.Detection{}, err: err}
			continue
		}
		w.consecutiveFailures = 0
		t.resultCh <- taskResult{detections: dets}
	}
}

// reinitWorker re-creates a quarantined worker's accelerator context,
// taking it out of rotation until re-init succeeds (spec.md §4.3: three
// consecutive failures "take it out of rotation pending re-init"). A
// private worker gets its own fresh context; a worker on the shared
// sequential path re-creates the one context every such worker shares,
// since there is nothing more granular to replace. Only this worker's
// own goroutine calls this for its own w, so ctxHandle needs no
// synchronization beyond what the worker struct already relies on.
func (p *Pool) reinitWorker(w *worker) bool {
	ctxHandle, err := p.eng.NewContext()
	if err != nil {
		return false
	}
	if w.private {
		if w.ctxHandle != nil {
			w.ctxHandle.Close()
		}
		w.ctxHandle = ctxHandle
	} else {
		p.sharedMu.Lock()
		if p.sharedCtx != nil {
			p.sharedCtx.Close()
		}
		p.sharedCtx = ctxHandle
		p.sharedMu.Unlock()
	}
	w.consecutiveFailures = 0
	w.quarantined.Store(false)
	return true
}

func (p *Pool) processOne(w *worker, t *task) ([]model.Detection, error) {
	tensor, err := p.pre.Prepare(t.frame, p.cfg.InputWidth, p.cfg.InputHeight)
	if err != nil {
		return nil, fmt.Errorf("detectorpool: preprocess: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var raw RawOutput
	if w.private {
		raw, err = w.ctxHandle.Infer(ctx, tensor)
	} else {
		p.sharedMu.Lock()
		raw, err = p.sharedCtx.Infer(ctx, tensor)
		p.sharedMu.Unlock()
	}
	if err != nil {
		return nil, fmt.Errorf("detectorpool: infer: %w", err)
	}

	return p.postprocess(raw, tensor), nil
}

// QuarantinedWorkers reports the ids of workers currently taken out of
// rotation after three consecutive failures.
func (p *Pool) QuarantinedWorkers() []int {
	var out []int
	for _, w := range p.workers {
		if w.quarantined.Load() {
			out = append(out, w.id)
		}
	}
	return out
}

// Stop signals all workers to exit and waits for them. A running worker
// keeps dequeuing and processing tasks until the queue is empty before it
// exits; a quarantined worker whose re-init keeps failing exits without
// dequeuing. Tasks still queued once every worker has exited resolve with
// empty results, so no caller is left waiting.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.queueMu.Lock()
		p.stopping = true
		p.queueMu.Unlock()
		p.queueCond.Broadcast()
		close(p.stopCh)
	})
	p.wg.Wait()

	p.queueMu.Lock()
	remaining := p.queue
	p.queue = nil
	p.queueMu.Unlock()
	for _, t := range remaining {
		t.resultCh <- taskResult{detections: []model.Detection{}}
	}

	p.closeWorkers()
}
