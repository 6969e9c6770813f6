// Package alarm implements the Alarm Router (spec.md §4.6): a strict
// priority queue of Alarm Payloads drained by a single worker, fanning
// out each payload to every enabled channel whose priority floor admits
// it, with bounded per-payload concurrency across channels.
package alarm

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"sentrynet/internal/model"
	"sentrynet/internal/workpool"
)

// ChannelRegistration pairs a channel's config with the Deliverer that
// knows how to reach it.
type ChannelRegistration struct {
	Config    model.AlarmChannelConfig
	Deliverer Deliverer
}

// Config tunes the router.
type Config struct {
	MaxConcurrentDeliveries int64 // per-payload fan-out bound
	ResultRingSize          int
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrentDeliveries: 4, ResultRingSize: 200}
}

// Router is the singleton Alarm Router collaborator.
type Router struct {
	cfg Config

	mu       sync.Mutex
	pq       priorityQueue
	nextSeq  uint64
	channels map[string]ChannelRegistration
	cond     *sync.Cond
	stopping bool

	doneWg sync.WaitGroup

	resultsMu sync.Mutex
	results   []DeliveryResult // ring buffer, oldest overwritten
	resultPos int
	delivered uint64
	failed    uint64
	methodTotals map[model.ChannelMethod]*methodStats
}

type methodStats struct {
	count       uint64
	totalMillis uint64
}

// New constructs a Router and starts its single draining worker.
func New(cfg Config) *Router {
	if cfg.MaxConcurrentDeliveries <= 0 {
		cfg.MaxConcurrentDeliveries = 4
	}
	if cfg.ResultRingSize <= 0 {
		cfg.ResultRingSize = 200
	}
	r := &Router{
		cfg:          cfg,
		channels:     make(map[string]ChannelRegistration),
		results:      make([]DeliveryResult, 0, cfg.ResultRingSize),
		methodTotals: make(map[model.ChannelMethod]*methodStats),
	}
	r.cond = sync.NewCond(&r.mu)
	r.doneWg.Add(1)
	go r.run()
	return r
}

// RegisterChannel adds or replaces a channel registration.
func (r *Router) RegisterChannel(reg ChannelRegistration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[reg.Config.ID] = reg
}

// RemoveChannel drops a channel registration.
func (r *Router) RemoveChannel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, id)
}

// Submit enqueues a payload for routing. Never blocks.
func (r *Router) Submit(payload model.AlarmPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopping {
		return
	}
	r.nextSeq++
	heap.Push(&r.pq, &queuedPayload{payload: payload, seq: r.nextSeq})
	r.cond.Signal()
}

// QueueDepth reports the number of payloads currently queued.
func (r *Router) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pq.Len()
}

func (r *Router) run() {
	defer r.doneWg.Done()
	for {
		qp, ok := r.dequeue()
		if !ok {
			return
		}
		r.route(qp.payload)
	}
}

// dequeue blocks for the next payload. Once Stop has been called it
// returns false immediately without starting any further delivery, even
// if payloads remain queued (spec.md §4.6: "drains without starting new
// ones").
func (r *Router) dequeue() (*queuedPayload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopping {
		return nil, false
	}
	for r.pq.Len() == 0 {
		if r.stopping {
			return nil, false
		}
		r.cond.Wait()
	}
	item := heap.Pop(&r.pq).(*queuedPayload)
	return item, true
}

func (r *Router) route(payload model.AlarmPayload) {
	r.mu.Lock()
	var targets []ChannelRegistration
	for _, reg := range r.channels {
		if reg.Config.Enabled && payload.Priority >= reg.Config.PriorityFloor {
			targets = append(targets, reg)
		}
	}
	r.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	pool := workpool.New(context.Background(), r.cfg.MaxConcurrentDeliveries)
	for _, reg := range targets {
		reg := reg
		pool.Submit(func(ctx context.Context) error {
			r.deliverOne(reg, payload)
			return nil
		})
	}
	pool.Wait()
}

func (r *Router) deliverOne(reg ChannelRegistration, payload model.AlarmPayload) {
	start := time.Now()
	err := reg.Deliverer.Deliver(context.Background(), reg.Config, payload)
	dur := time.Since(start)

	res := DeliveryResult{
		ConfigID: reg.Config.ID,
		Method:   reg.Config.Method,
		Success:  err == nil,
		Duration: dur,
		Err:      err,
		At:       start,
	}
	r.recordResult(res)
}

func (r *Router) recordResult(res DeliveryResult) {
	r.resultsMu.Lock()
	defer r.resultsMu.Unlock()

	if len(r.results) < r.cfg.ResultRingSize {
		r.results = append(r.results, res)
	} else {
		r.results[r.resultPos] = res
		r.resultPos = (r.resultPos + 1) % r.cfg.ResultRingSize
	}

	if res.Success {
		r.delivered++
	} else {
		r.failed++
	}
	ms, ok := r.methodTotals[res.Method]
	if !ok {
		ms = &methodStats{}
		r.methodTotals[res.Method] = ms
	}
	ms.count++
	ms.totalMillis += uint64(res.Duration.Milliseconds())
}

// Stats is a point-in-time observability snapshot.
type Stats struct {
	Delivered     uint64
	Failed        uint64
	QueueDepth    int
	MethodAverages map[model.ChannelMethod]time.Duration
}

// Snapshot returns delivered/failed totals, queue depth, and per-method
// average delivery duration.
func (r *Router) Snapshot() Stats {
	r.resultsMu.Lock()
	avgs := make(map[model.ChannelMethod]time.Duration, len(r.methodTotals))
	for method, ms := range r.methodTotals {
		if ms.count == 0 {
			continue
		}
		avgs[method] = time.Duration(ms.totalMillis/ms.count) * time.Millisecond
	}
	delivered, failed := r.delivered, r.failed
	r.resultsMu.Unlock()

	return Stats{
		Delivered:      delivered,
		Failed:         failed,
		QueueDepth:     r.QueueDepth(),
		MethodAverages: avgs,
	}
}

// RecentResults returns up to n most recent delivery results, newest
// last.
func (r *Router) RecentResults(n int) []DeliveryResult {
	r.resultsMu.Lock()
	defer r.resultsMu.Unlock()

	total := len(r.results)
	if total == 0 {
		return nil
	}
	if n <= 0 || n > total {
		n = total
	}

	ordered := make([]DeliveryResult, total)
	if total < r.cfg.ResultRingSize {
		copy(ordered, r.results)
	} else {
		copy(ordered, r.results[r.resultPos:])
		copy(ordered[r.cfg.ResultRingSize-r.resultPos:], r.results[:r.resultPos])
	}
	return ordered[total-n:]
}



// Stop completes all in-flight deliveries, starts no new ones, and
// returns once the worker has exited. Payloads still queued at that point
// are not delivered.
func (r *Router) Stop() {
	r.mu.Lock()
	r.stopping = true
	r.cond.Broadcast()
	r.mu.Unlock()
	r.doneWg.Wait()
}
