// Package batch implements the in-memory event queue that groups
// enriched events into batches before delivery.
package batch

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/pkg/types"
)

// highPriority events flush the queue immediately instead of waiting
// for the timer or size threshold.
var highPriority = map[string]bool{
	"guide_completed":    true,
	"feedback_submitted": true,
	"error_occurred":     true,
}

// Transport is the delivery surface the queue flushes through.
type Transport interface {
	SendBatch(ctx context.Context, events []types.EnrichedEvent) error
	DrainBeacon(events []types.EnrichedEvent) bool
}

// FailureHandler receives events whose delivery keeps failing, so they
// can move to durable retry storage. Typically the retry queue.
type FailureHandler func(events []types.EnrichedEvent)

// maxConsecutiveFailures is how many flushes in a row may fail before
// the leading batch is handed off instead of re-queued.
const maxConsecutiveFailures = 3

// Queue buffers events and flushes them in batches. A single flush is
// in flight at any time; concurrent triggers are coalesced.
type Queue struct {
	cfg       config.BatchConfig
	transport Transport
	onFailure FailureHandler

	mu       sync.Mutex
	queue    []types.EnrichedEvent
	flushing bool
	failures int // consecutive failed flushes

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewQueue creates a batch queue. onFailure may be nil.
func NewQueue(cfg config.BatchConfig, transport Transport, onFailure FailureHandler) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 50
	}
	return &Queue{
		cfg:       cfg,
		transport: transport,
		onFailure: onFailure,
		stop:      make(chan struct{}),
	}
}

// Start launches the periodic flush loop.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				q.Flush(ctx)
			case <-q.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the flush loop and drains remaining events via beacon.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.wg.Wait()
	q.DrainBeacon()
}

// Add enqueues an event. High-priority events and a queue at capacity
// trigger an immediate asynchronous flush; everything else waits for
// the periodic timer.
func (q *Queue) Add(event types.EnrichedEvent) {
	q.mu.Lock()
	q.queue = append(q.queue, event)
	size := len(q.queue)
	q.mu.Unlock()

	if highPriority[event.EventName] || size >= q.cfg.MaxQueueSize {
		go q.Flush(context.Background())
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Flush sends up to one batch of queued events. If another flush is in
// flight the call returns immediately. A failed batch is put back at
// the front of the queue in its original order and handed to the
// failure handler.
func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	if q.flushing || len(q.queue) == 0 {
		q.mu.Unlock()
		return
	}
	q.flushing = true

	n := len(q.queue)
	if n > q.cfg.Size {
		n = q.cfg.Size
	}
	batch := make([]types.EnrichedEvent, n)
	copy(batch, q.queue[:n])
	q.queue = q.queue[n:]
	q.mu.Unlock()

	err := q.transport.SendBatch(ctx, batch)

	q.mu.Lock()
	q.flushing = false
	var handoff []types.EnrichedEvent
	if err != nil {
		q.failures++
		if q.failures >= maxConsecutiveFailures && q.onFailure != nil {
			handoff = batch
			q.failures = 0
		} else {
			// Preserve original order ahead of anything queued meanwhile.
			q.queue = append(batch, q.queue...)
		}
	} else {
		q.failures = 0
	}
	remaining := len(q.queue)
	q.mu.Unlock()

	if err != nil {
		if handoff != nil {
			log.Printf("batch: flush failed repeatedly, moving %d events to retry store: %v", len(handoff), err)
			q.onFailure(handoff)
		} else {
			log.Printf("batch: flush of %d events failed, re-queued: %v", len(batch), err)
		}
		return
	}

	// Keep draining when a backlog built up during the send.
	if remaining >= q.cfg.Size {
		go q.Flush(ctx)
	}
}

// DrainBeacon empties the queue through the beacon path best-effort.
// Events are dropped from the queue whether or not the beacon accepted
// them, matching page-exit semantics.
func (q *Queue) DrainBeacon() {
	q.mu.Lock()
	if len(q.queue) == 0 {
		q.mu.Unlock()
		return
	}
	batch := q.queue
	q.queue = nil
	q.mu.Unlock()

	if !q.transport.DrainBeacon(batch) {
		log.Printf("batch: beacon drain of %d events not accepted", len(batch))
	}
}
