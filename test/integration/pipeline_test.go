// Package integration provides end-to-end integration tests for the
// Waypost relay.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/waypost/waypost/internal/analytics"
	"github.com/waypost/waypost/internal/archive"
	"github.com/waypost/waypost/internal/batch"
	"github.com/waypost/waypost/internal/clock"
	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/internal/observability"
	"github.com/waypost/waypost/internal/retry"
	"github.com/waypost/waypost/internal/session"
	"github.com/waypost/waypost/internal/storage"
	"github.com/waypost/waypost/internal/transport"
	"github.com/waypost/waypost/pkg/types"
)

// recordingBackend captures every request body it receives, answering
// with the given status.
type recordingBackend struct {
	mu     sync.Mutex
	bodies [][]byte
	paths  []string
	status int
}

func (b *recordingBackend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.bodies = append(b.bodies, body)
		b.paths = append(b.paths, r.URL.RequestURI())
		b.mu.Unlock()
		w.WriteHeader(b.status)
	}
}

func (b *recordingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bodies)
}

func (b *recordingBackend) lastBody() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.bodies) == 0 {
		return nil
	}
	return b.bodies[len(b.bodies)-1]
}

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "waypost-integration-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := storage.NewSQLiteStore(filepath.Join(dir, "waypost.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newFacade(store *storage.SQLiteStore, chain *transport.Chain, queue *batch.Queue, failures analytics.FailureSink) *analytics.Facade {
	clk := clock.Real{}
	opts := analytics.Options{
		Store:      store,
		Session:    session.NewManager(store, clk),
		Clock:      clk,
		Production: true,
		Failures:   failures,
	}
	if queue != nil {
		opts.Queue = queue
	} else {
		opts.Direct = chain
	}
	return analytics.New(opts)
}

// TestEventDeliveryFlow walks an event through the full pipeline:
// facade enrichment, batch queue, primary transport.
func TestEventDeliveryFlow(t *testing.T) {
	ctx := context.Background()

	primary := &recordingBackend{status: http.StatusCreated}
	primarySrv := httptest.NewServer(primary.handler())
	defer primarySrv.Close()

	store := newStore(t)
	chain := transport.NewChain(
		transport.NewPrimaryClient(config.PrimaryConfig{Enabled: true, BaseURL: primarySrv.URL, APIKey: "test-key"}, nil),
		transport.NewLegacyClient(config.LegacyConfig{}, nil),
		nil,
		observability.NewDeliveryStats(time.Hour),
	)
	queue := batch.NewQueue(config.BatchConfig{Size: 10, Interval: time.Hour}, chain, nil)
	facade := newFacade(store, chain, queue, nil)

	env := analytics.Environment{PagePath: "/guide", UserAgent: "Mozilla/5.0 (Macintosh)"}
	if err := facade.TrackEvent(ctx, "page_view", map[string]interface{}{"page": "/guide"}, env); err != nil {
		t.Fatalf("track failed: %v", err)
	}
	if err := facade.TrackEvent(ctx, "cta_click", map[string]interface{}{"button_text": "Install"}, env); err != nil {
		t.Fatalf("track failed: %v", err)
	}

	if queue.Len() != 2 {
		t.Fatalf("expected 2 queued events, got %d", queue.Len())
	}
	queue.Flush(ctx)

	if primary.count() != 1 {
		t.Fatalf("expected 1 insert request, got %d", primary.count())
	}
	if !strings.Contains(primary.paths[0], "/rest/v1/analytics_events") {
		t.Fatalf("unexpected insert path: %s", primary.paths[0])
	}

	var rows []types.EnrichedEvent
	if err := json.Unmarshal(primary.lastBody(), &rows); err != nil {
		t.Fatalf("failed to decode insert body: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].EventName != "page_view" || rows[1].EventName != "cta_click" {
		t.Fatalf("unexpected event order: %s, %s", rows[0].EventName, rows[1].EventName)
	}
	if !strings.HasPrefix(rows[0].UserID, "user_") {
		t.Fatalf("expected generated user id, got %q", rows[0].UserID)
	}
	if !strings.HasPrefix(rows[0].SessionID, "session_") {
		t.Fatalf("expected generated session id, got %q", rows[0].SessionID)
	}
	if rows[0].SessionID != rows[1].SessionID {
		t.Fatalf("events in one tab must share a session")
	}
	if rows[1].ActionTarget == nil || *rows[1].ActionTarget != "Install" {
		t.Fatalf("expected action target from button_text, got %v", rows[1].ActionTarget)
	}
}

// TestFallbackToLegacy verifies a failing primary hands the batch to the
// legacy collector.
func TestFallbackToLegacy(t *testing.T) {
	ctx := context.Background()

	primary := &recordingBackend{status: http.StatusInternalServerError}
	primarySrv := httptest.NewServer(primary.handler())
	defer primarySrv.Close()

	legacy := &recordingBackend{status: http.StatusOK}
	legacySrv := httptest.NewServer(legacy.handler())
	defer legacySrv.Close()

	stats := observability.NewDeliveryStats(time.Hour)
	chain := transport.NewChain(
		transport.NewPrimaryClient(config.PrimaryConfig{Enabled: true, BaseURL: primarySrv.URL}, nil),
		transport.NewLegacyClient(config.LegacyConfig{Enabled: true, BaseURL: legacySrv.URL}, nil),
		nil,
		stats,
	)

	events := []types.EnrichedEvent{{
		Timestamp: time.Now().UTC(),
		EventName: "guide_completed",
		UserID:    "user_1",
		SessionID: "session_1",
	}}
	if err := chain.SendBatch(ctx, events); err != nil {
		t.Fatalf("expected legacy fallback to succeed: %v", err)
	}

	if primary.count() != 1 || legacy.count() != 1 {
		t.Fatalf("expected one attempt each, got primary=%d legacy=%d", primary.count(), legacy.count())
	}

	var payload struct {
		Batch   []types.EnrichedEvent `json:"batch"`
		BatchID string                `json:"batchId"`
		Source  string                `json:"source"`
	}
	if err := json.Unmarshal(legacy.lastBody(), &payload); err != nil {
		t.Fatalf("failed to decode legacy payload: %v", err)
	}
	if len(payload.Batch) != 1 || payload.Batch[0].EventName != "guide_completed" {
		t.Fatalf("unexpected legacy batch: %+v", payload.Batch)
	}
	if payload.BatchID == "" || payload.Source != "batch-analytics" {
		t.Fatalf("unexpected legacy envelope: id=%q source=%q", payload.BatchID, payload.Source)
	}

	if s, ok := stats.Transport(transport.TransportPrimary); !ok || s.Failures != 1 {
		t.Fatalf("expected one recorded primary failure")
	}
	if s, ok := stats.Transport(transport.TransportLegacy); !ok || s.Successes != 1 {
		t.Fatalf("expected one recorded legacy success")
	}
}

// TestRetryPersistsAcrossRestart verifies events failed while offline
// survive a restart in the store and deliver once the backend is back.
func TestRetryPersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()

	// A server that is already closed stands in for an unreachable backend.
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	store := newStore(t)
	clk := clock.Real{}

	deadChain := transport.NewChain(
		transport.NewPrimaryClient(config.PrimaryConfig{Enabled: true, BaseURL: downURL, Timeout: time.Second}, nil),
		transport.NewLegacyClient(config.LegacyConfig{}, nil),
		nil, nil,
	)
	queue := retry.NewQueue(config.RetryConfig{MaxQueueSize: 10, MaxAttempts: 5}, store, deadChain, clk)
	facade := newFacade(store, deadChain, nil, queue)

	env := analytics.Environment{PagePath: "/guide"}
	if err := facade.TrackEvent(ctx, "error_occurred", map[string]interface{}{"error_type": "install_failed"}, env); err != nil {
		t.Fatalf("track failed: %v", err)
	}
	if queue.Size() != 1 {
		t.Fatalf("expected 1 stored failure, got %d", queue.Size())
	}

	// Simulate a restart: fresh queue over the same store, backend healthy.
	backend := &recordingBackend{status: http.StatusCreated}
	backendSrv := httptest.NewServer(backend.handler())
	defer backendSrv.Close()

	liveChain := transport.NewChain(
		transport.NewPrimaryClient(config.PrimaryConfig{Enabled: true, BaseURL: backendSrv.URL}, nil),
		transport.NewLegacyClient(config.LegacyConfig{}, nil),
		nil, nil,
	)
	restarted := retry.NewQueue(config.RetryConfig{MaxQueueSize: 10, MaxAttempts: 5}, store, liveChain, clk)
	if restarted.Size() != 1 {
		t.Fatalf("expected stored failure to survive restart, got %d", restarted.Size())
	}

	restarted.RetryAll(ctx)

	if restarted.Size() != 0 {
		t.Fatalf("expected queue drained, %d remaining", restarted.Size())
	}
	if backend.count() != 1 {
		t.Fatalf("expected 1 redelivery, got %d", backend.count())
	}
	var rows []types.EnrichedEvent
	if err := json.Unmarshal(backend.lastBody(), &rows); err != nil {
		t.Fatalf("failed to decode redelivery: %v", err)
	}
	if len(rows) != 1 || rows[0].EventName != "error_occurred" {
		t.Fatalf("unexpected redelivered rows: %+v", rows)
	}
}

// TestExhaustedEventsArchived verifies events past the attempt limit
// move from the retry store into a dead-letter batch and back out.
func TestExhaustedEventsArchived(t *testing.T) {
	ctx := context.Background()

	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	store := newStore(t)
	clk := clock.Real{}
	deadChain := transport.NewChain(
		transport.NewPrimaryClient(config.PrimaryConfig{Enabled: true, BaseURL: downURL, Timeout: time.Second}, nil),
		transport.NewLegacyClient(config.LegacyConfig{}, nil),
		nil, nil,
	)
	queue := retry.NewQueue(config.RetryConfig{MaxQueueSize: 10, MaxAttempts: 1}, store, deadChain, clk)

	queue.Save(types.EnrichedEvent{EventName: "guide_completed", UserID: "user_1"})

	// First replay increments past 0, second pushes past the limit.
	queue.RetryAll(ctx)
	queue.RetryAll(ctx)
	if queue.Size() != 1 {
		t.Fatalf("expected 1 exhausted entry still stored, got %d", queue.Size())
	}

	archiveDir, err := os.MkdirTemp("", "waypost-archive-*")
	if err != nil {
		t.Fatalf("failed to create archive dir: %v", err)
	}
	defer os.RemoveAll(archiveDir)

	dirStore, err := archive.NewDirStore(archiveDir)
	if err != nil {
		t.Fatalf("failed to open archive dir: %v", err)
	}
	archiver := archive.NewArchiver(dirStore, queue, clk)

	path, n, err := archiver.Export(ctx)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 archived entry, got %d", n)
	}
	if queue.Size() != 0 {
		t.Fatalf("expected exhausted entry removed from retry store")
	}

	batch, err := archiver.ReadBatch(ctx, path)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if len(batch.Entries) != 1 || batch.Entries[0].Event.EventName != "guide_completed" {
		t.Fatalf("unexpected archived entries: %+v", batch.Entries)
	}
	if batch.Entries[0].RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %d", batch.Entries[0].RetryCount)
	}
}
