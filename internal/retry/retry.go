// Package retry implements the durable queue of events that failed
// delivery. Entries survive restarts through the key/value store and
// are replayed sequentially when connectivity returns.
package retry

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/waypost/waypost/internal/clock"
	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/internal/storage"
	"github.com/waypost/waypost/pkg/types"
)

// storeKey holds the serialized queue in the key/value store.
const storeKey = "waypost_failed_events"

// Sender redelivers stored events.
type Sender interface {
	SendBatch(ctx context.Context, events []types.EnrichedEvent) error
}

// Queue is the bounded, persisted retry queue. The oldest entry is
// evicted when a save would exceed the cap.
type Queue struct {
	store        storage.KeyValueStore
	sender       Sender
	clock        clock.Clock
	maxSize      int
	maxAttempts  int
	delay        time.Duration
	sleep        func(time.Duration) // overridable in tests

	mu       sync.Mutex
	retrying bool
}

// NewQueue creates a retry queue over the persistent store.
func NewQueue(cfg config.RetryConfig, store storage.KeyValueStore, sender Sender, clk clock.Clock) *Queue {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Queue{
		store:       store,
		sender:      sender,
		clock:       clk,
		maxSize:     cfg.MaxQueueSize,
		maxAttempts: cfg.MaxAttempts,
		delay:       cfg.Delay,
		sleep:       time.Sleep,
	}
}

// Save appends a failed event with a zero retry count, evicting the
// oldest stored entry if the queue is full. Storage errors are logged
// and swallowed: losing a retry entry must never break the send path.
func (q *Queue) Save(event types.EnrichedEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.load()
	entries = append(entries, types.FailedEvent{
		Event:      event,
		FailedAt:   q.clock.Now(),
		RetryCount: 0,
	})
	if len(entries) > q.maxSize {
		entries = entries[len(entries)-q.maxSize:]
	}
	q.persist(entries)
}

// SaveAll stores a batch of failed events.
func (q *Queue) SaveAll(events []types.EnrichedEvent) {
	for _, e := range events {
		q.Save(e)
	}
}

// Size returns the number of stored entries.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.load())
}

// Entries returns a copy of the stored queue, oldest first.
func (q *Queue) Entries() []types.FailedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// RetryAll replays the stored queue sequentially, oldest first, with a
// small delay between sends. Each entry's retry count is incremented;
// entries past the attempt limit are skipped and remain stored until
// removed. Successful entries are deleted, failures keep their
// incremented count. Only one replay runs at a time.
func (q *Queue) RetryAll(ctx context.Context) {
	q.mu.Lock()
	if q.retrying {
		q.mu.Unlock()
		return
	}
	q.retrying = true
	entries := q.load()
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.retrying = false
		q.mu.Unlock()
	}()

	if len(entries) == 0 {
		return
	}
	log.Printf("retry: replaying %d stored events", len(entries))

	var remaining []types.FailedEvent
	sent := 0
	for i, entry := range entries {
		entry.RetryCount++
		if entry.RetryCount > q.maxAttempts {
			remaining = append(remaining, entry)
			continue
		}

		if err := q.sender.SendBatch(ctx, []types.EnrichedEvent{entry.Event}); err != nil {
			remaining = append(remaining, entry)
		} else {
			sent++
		}

		if ctx.Err() != nil {
			// Keep whatever was not attempted, untouched.
			remaining = append(remaining, entries[i+1:]...)
			break
		}
		if q.delay > 0 && i < len(entries)-1 {
			q.sleep(q.delay)
		}
	}

	q.mu.Lock()
	// Entries saved during the replay go behind the survivors.
	current := q.load()
	if len(current) > len(entries) {
		remaining = append(remaining, current[len(entries):]...)
	}
	q.persist(remaining)
	q.mu.Unlock()

	log.Printf("retry: replay finished, %d delivered, %d remaining", sent, len(remaining))
}

// TakeExhausted removes and returns entries past the attempt limit, for
// hand-off to the dead-letter archive.
func (q *Queue) TakeExhausted() []types.FailedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.load()
	var exhausted, keep []types.FailedEvent
	for _, e := range entries {
		if e.RetryCount > q.maxAttempts {
			exhausted = append(exhausted, e)
		} else {
			keep = append(keep, e)
		}
	}
	if len(exhausted) > 0 {
		q.persist(keep)
	}
	return exhausted
}

// load reads the stored queue. Corrupt or missing data yields an empty
// queue rather than an error.
func (q *Queue) load() []types.FailedEvent {
	raw, ok, err := q.store.Get(storeKey)
	if err != nil {
		log.Printf("retry: failed to read store: %v", err)
		return nil
	}
	if !ok || raw == "" {
		return nil
	}
	var entries []types.FailedEvent
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		log.Printf("retry: dropping corrupt store contents: %v", err)
		q.store.Remove(storeKey)
		return nil
	}
	return entries
}

func (q *Queue) persist(entries []types.FailedEvent) {
	if len(entries) == 0 {
		if err := q.store.Remove(storeKey); err != nil {
			log.Printf("retry: failed to clear store: %v", err)
		}
		return
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		log.Printf("retry: failed to encode queue: %v", err)
		return
	}
	if err := q.store.Set(storeKey, string(raw)); err != nil {
		log.Printf("retry: failed to persist queue: %v", err)
	}
}
