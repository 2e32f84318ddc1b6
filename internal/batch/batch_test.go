package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/pkg/types"
)

// fakeTransport records batches and can be told to fail.
type fakeTransport struct {
	mu      sync.Mutex
	batches [][]types.EnrichedEvent
	beacons [][]types.EnrichedEvent
	fail    bool
	block   chan struct{} // when set, SendBatch waits on it
}

func (t *fakeTransport) SendBatch(ctx context.Context, events []types.EnrichedEvent) error {
	t.mu.Lock()
	block := t.block
	t.mu.Unlock()
	if block != nil {
		<-block
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return errors.New("send failed")
	}
	batch := make([]types.EnrichedEvent, len(events))
	copy(batch, events)
	t.batches = append(t.batches, batch)
	return nil
}

func (t *fakeTransport) DrainBeacon(events []types.EnrichedEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.beacons = append(t.beacons, events)
	return true
}

func (t *fakeTransport) batchCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.batches)
}

func (t *fakeTransport) totalSent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.batches {
		n += len(b)
	}
	return n
}

func event(name string) types.EnrichedEvent {
	return types.EnrichedEvent{EventName: name, UserID: "u", SessionID: "s"}
}

func testConfig() config.BatchConfig {
	return config.BatchConfig{Size: 10, Interval: 5 * time.Second, MaxQueueSize: 50}
}

func TestAdd_BelowCapacityWaitsForTimer(t *testing.T) {
	tr := &fakeTransport{}
	q := NewQueue(testConfig(), tr, nil)

	for i := 0; i < 49; i++ {
		q.Add(event(fmt.Sprintf("page_view_%d", i)))
	}

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, tr.batchCount())
	assert.Equal(t, 49, q.Len())
}

func TestAdd_FullQueueTriggersFlush(t *testing.T) {
	tr := &fakeTransport{}
	q := NewQueue(testConfig(), tr, nil)

	for i := 0; i < 50; i++ {
		q.Add(event("page_view"))
	}

	// The overflow flush drains the backlog batch by batch.
	assert.Eventually(t, func() bool { return tr.totalSent() == 50 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, q.Len())
}

func TestAdd_HighPriorityFlushesImmediately(t *testing.T) {
	tr := &fakeTransport{}
	q := NewQueue(testConfig(), tr, nil)

	q.Add(event("page_view"))
	q.Add(event("guide_completed"))

	assert.Eventually(t, func() bool { return tr.totalSent() == 2 }, time.Second, 5*time.Millisecond)
}

func TestFlush_SingleFlight(t *testing.T) {
	block := make(chan struct{})
	tr := &fakeTransport{block: block}
	q := NewQueue(testConfig(), tr, nil)

	for i := 0; i < 5; i++ {
		q.Add(event("page_view"))
	}

	go q.Flush(context.Background())
	time.Sleep(20 * time.Millisecond) // first flush now blocked in SendBatch

	// Concurrent flushes must coalesce, not send a second batch.
	q.Flush(context.Background())
	q.Flush(context.Background())

	close(block)
	assert.Eventually(t, func() bool { return tr.batchCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 5, tr.totalSent())
}

func TestFlush_FailureRequeuesInOrder(t *testing.T) {
	tr := &fakeTransport{fail: true}
	q := NewQueue(testConfig(), tr, nil)

	q.Add(event("first"))
	q.Add(event("second"))
	q.Flush(context.Background())

	require.Equal(t, 2, q.Len())

	tr.mu.Lock()
	tr.fail = false
	tr.mu.Unlock()

	q.Flush(context.Background())
	require.Equal(t, 1, tr.batchCount())
	assert.Equal(t, "first", tr.batches[0][0].EventName)
	assert.Equal(t, "second", tr.batches[0][1].EventName)
}

func TestFlush_RepeatedFailureHandsOffToRetry(t *testing.T) {
	tr := &fakeTransport{fail: true}
	var handed []types.EnrichedEvent
	q := NewQueue(testConfig(), tr, func(events []types.EnrichedEvent) {
		handed = append(handed, events...)
	})

	q.Add(event("stuck"))
	for i := 0; i < maxConsecutiveFailures; i++ {
		q.Flush(context.Background())
	}

	assert.Len(t, handed, 1)
	assert.Equal(t, "stuck", handed[0].EventName)
	assert.Zero(t, q.Len())
}

func TestFlush_CapsBatchAtConfiguredSize(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig()
	cfg.Size = 3
	q := NewQueue(cfg, tr, nil)

	q.mu.Lock()
	for i := 0; i < 7; i++ {
		q.queue = append(q.queue, event("page_view"))
	}
	q.mu.Unlock()

	q.Flush(context.Background())
	require.GreaterOrEqual(t, tr.batchCount(), 1)
	assert.Len(t, tr.batches[0], 3)
}

func TestDrainBeacon_EmptiesQueue(t *testing.T) {
	tr := &fakeTransport{}
	q := NewQueue(testConfig(), tr, nil)

	q.Add(event("page_view"))
	q.Add(event("scroll_depth"))
	q.DrainBeacon()

	assert.Zero(t, q.Len())
	require.Len(t, tr.beacons, 1)
	assert.Len(t, tr.beacons[0], 2)
}

func TestStart_PeriodicFlush(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig()
	cfg.Interval = 30 * time.Millisecond
	q := NewQueue(cfg, tr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	q.Add(event("page_view"))
	assert.Eventually(t, func() bool { return tr.totalSent() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStop_DrainsViaBeacon(t *testing.T) {
	tr := &fakeTransport{}
	q := NewQueue(testConfig(), tr, nil)

	q.Start(context.Background())
	q.Add(event("page_view"))
	q.Stop()

	require.Len(t, tr.beacons, 1)
	assert.Len(t, tr.beacons[0], 1)
}
