// Package app provides the unified application lifecycle for the
// Waypost relay: it wires the event pipeline, the guide tracker, and
// the HTTP surface, and owns startup and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/waypost/waypost/internal/analytics"
	httpapi "github.com/waypost/waypost/internal/api/http"
	"github.com/waypost/waypost/internal/archive"
	"github.com/waypost/waypost/internal/batch"
	"github.com/waypost/waypost/internal/cache"
	"github.com/waypost/waypost/internal/clock"
	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/internal/counters"
	"github.com/waypost/waypost/internal/guide"
	"github.com/waypost/waypost/internal/observability"
	"github.com/waypost/waypost/internal/retry"
	"github.com/waypost/waypost/internal/server"
	"github.com/waypost/waypost/internal/session"
	"github.com/waypost/waypost/internal/storage"
	"github.com/waypost/waypost/internal/transport"
	"github.com/waypost/waypost/pkg/types"
)

// statsPruneInterval bounds memory held by latency samples.
const statsPruneInterval = 5 * time.Minute

// App manages the Waypost relay lifecycle.
type App struct {
	cfg *config.Config

	store      *storage.SQLiteStore
	facade     *analytics.Facade
	queue      *batch.Queue
	retryQueue *retry.Queue
	cacheMgr   *cache.Manager
	counters   *counters.Service
	tracker    *guide.Tracker
	delivery   *observability.DeliveryStats
	archiver   *archive.Archiver
	shutdown   *server.ShutdownManager
	httpServer *http.Server

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an App with the given configuration.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	return &App{cfg: cfg}, nil
}

// Start initializes the pipeline and starts the HTTP server and
// background workers.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initPipeline(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	if err := a.startHTTP(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	a.startBackground(ctx)

	log.Printf("Waypost started: env=%s addr=%s", a.cfg.Environment, a.cfg.HTTP.Addr)
	return nil
}

// initPipeline wires storage, transports, queues, and the facades.
func (a *App) initPipeline(ctx context.Context) error {
	store, err := storage.NewSQLiteStore(a.cfg.StorePath())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = store
	log.Printf("Store initialized: %s", a.cfg.StorePath())

	clk := clock.Real{}
	// Sessions live in a memory store so each relay process gets a
	// fresh session id, matching the per-tab session scope. User id
	// and guide progress stay in the persistent store.
	sess := session.NewManager(storage.NewMemoryStore(), clk)
	a.delivery = observability.NewDeliveryStats(time.Hour)

	primary := transport.NewPrimaryClient(a.cfg.Primary, nil)
	legacy := transport.NewLegacyClient(a.cfg.Legacy, nil)
	chain := transport.NewChain(primary, legacy, nil, a.delivery)
	log.Printf("Transports initialized: primary=%t legacy=%t", primary.Enabled(), legacy.Enabled())

	a.retryQueue = retry.NewQueue(a.cfg.Retry, store, chain, clk)
	a.queue = batch.NewQueue(a.cfg.Batch, chain, a.retryQueue.SaveAll)

	a.cacheMgr = cache.NewManager(store, clk)
	a.counters = counters.NewService(primary, legacy, a.cacheMgr, clk)

	a.facade = analytics.New(analytics.Options{
		Store:       store,
		Session:     sess,
		Clock:       clk,
		Queue:       a.queue,
		Beacon:      chain,
		Failures:    a.retryQueue,
		Production:  a.cfg.IsProduction(),
		ExtraEvents: a.cfg.Analytics.ExtraEvents,
	})

	a.tracker = guide.NewTracker(store, clk, a.facade, a.counters, types.OSMac)
	a.tracker.Init(ctx, url.Values{}, analytics.Environment{})

	if a.cfg.Archive.Enabled {
		objStore, err := a.newObjectStore(ctx)
		if err != nil {
			return err
		}
		a.archiver = archive.NewArchiver(objStore, a.retryQueue, clk)
		log.Printf("Dead-letter archive enabled: type=%s", a.cfg.Archive.Type)
	}

	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig())
	return nil
}

func (a *App) newObjectStore(ctx context.Context) (archive.ObjectStore, error) {
	switch a.cfg.Archive.Type {
	case "local":
		return archive.NewDirStore(a.cfg.Archive.Path)
	case "s3":
		return archive.NewS3Store(ctx, a.cfg.Archive.S3)
	}
	return nil, fmt.Errorf("unsupported archive type: %s", a.cfg.Archive.Type)
}

// startHTTP registers the API endpoints and starts the listener.
func (a *App) startHTTP() error {
	mux := http.NewServeMux()
	api := httpapi.NewMux(httpapi.Handlers{
		Track:     httpapi.NewTrackHandler(a.facade),
		Guide:     httpapi.NewGuideHandler(a.tracker),
		Lifecycle: httpapi.NewLifecycleHandler(a.facade, a.retryQueue),
		Counters:  httpapi.NewCountersHandler(a.counters),
		Stats:     httpapi.NewStatsHandler(a.queue, a.retryQueue, a.cacheMgr, a.delivery),
	})
	mux.Handle("/v1/", server.ShutdownMiddleware(a.shutdown)(api))
	mux.HandleFunc("/health", a.healthHandler())

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Printf("HTTP server listening on %s", a.cfg.HTTP.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	return nil
}

// startBackground launches the flush loop, the startup retry pass, and
// the stats pruner.
func (a *App) startBackground(ctx context.Context) {
	a.queue.Start(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.Retry.StartupDelay):
		}
		if a.retryQueue.Size() > 0 {
			log.Printf("Replaying %d persisted failed events", a.retryQueue.Size())
			a.retryQueue.RetryAll(ctx)
		}
		a.archiveExhausted(ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(statsPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.delivery.Prune()
			}
		}
	}()
}

// archiveExhausted exports permanently failed events when the archive
// is configured.
func (a *App) archiveExhausted(ctx context.Context) {
	if a.archiver == nil {
		return
	}
	if _, n, err := a.archiver.Export(ctx); err != nil {
		log.Printf("Dead-letter export failed: %v", err)
	} else if n > 0 {
		log.Printf("Archived %d permanently failed events", n)
	}
}

// Stop gracefully stops the HTTP server and the pipeline. The batch
// queue drains through the beacon path on the way down.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	log.Printf("Initiating graceful shutdown...")

	if a.cancel != nil {
		a.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}

	if a.queue != nil {
		a.queue.Stop()
	}
	if a.tracker != nil {
		a.tracker.SaveProgress()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Printf("Shutdown timeout, some goroutines may not have finished")
	}

	a.cleanup()
	log.Printf("Waypost stopped")
	return nil
}

// cleanup releases shared resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("Store close error: %v", err)
		}
		a.store = nil
	}
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}

// Tracker exposes the guide tracker, used by integration tests.
func (a *App) Tracker() *guide.Tracker {
	return a.tracker
}

func (a *App) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":"waypost","env":"%s"}`, a.cfg.Environment)
	}
}
