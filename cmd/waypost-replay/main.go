// Package main implements the waypost-replay tool. It inspects the
// persisted retry queue, replays failed events through the configured
// transports, and browses dead-letter archive batches.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/waypost/waypost/internal/archive"
	"github.com/waypost/waypost/internal/clock"
	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/internal/observability"
	"github.com/waypost/waypost/internal/retry"
	"github.com/waypost/waypost/internal/storage"
	"github.com/waypost/waypost/internal/transport"
)

func main() {
	var (
		configFile string
		dataDir    string
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "waypost-replay - Inspect and replay failed events\n\n")
		fmt.Fprintf(os.Stderr, "Usage: waypost-replay [options] <command>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  list            List events waiting in the retry queue\n")
		fmt.Fprintf(os.Stderr, "  retry           Replay queued events through the transports\n")
		fmt.Fprintf(os.Stderr, "  export          Archive exhausted events as a dead-letter batch\n")
		fmt.Fprintf(os.Stderr, "  batches         List archived dead-letter batches\n")
		fmt.Fprintf(os.Stderr, "  show <path>     Print the contents of one archived batch\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(configFile, dataDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch flag.Arg(0) {
	case "list":
		err = runList(cfg)
	case "retry":
		err = runRetry(ctx, cfg)
	case "export":
		err = runExport(ctx, cfg)
	case "batches":
		err = runBatches(ctx, cfg)
	case "show":
		if flag.NArg() < 2 {
			log.Fatalf("show requires a batch path, see 'waypost-replay batches'")
		}
		err = runShow(ctx, cfg, flag.Arg(1))
	default:
		log.Fatalf("Unknown command: %s", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("%s failed: %v", flag.Arg(0), err)
	}
}

func loadConfig(configFile, dataDir string) (*config.Config, error) {
	_ = godotenv.Load()

	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openQueue opens the persisted retry queue backed by the relay store.
// The returned close function must be called before exit.
func openQueue(cfg *config.Config) (*retry.Queue, func(), error) {
	store, err := storage.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	clk := clock.Real{}
	primary := transport.NewPrimaryClient(cfg.Primary, nil)
	legacy := transport.NewLegacyClient(cfg.Legacy, nil)
	chain := transport.NewChain(primary, legacy, nil, observability.NewDeliveryStats(time.Hour))

	queue := retry.NewQueue(cfg.Retry, store, chain, clk)
	return queue, func() { store.Close() }, nil
}

func openArchiver(ctx context.Context, cfg *config.Config, source archive.Source) (*archive.Archiver, error) {
	if !cfg.Archive.Enabled {
		return nil, fmt.Errorf("archive is not enabled in configuration")
	}

	var store archive.ObjectStore
	var err error
	switch cfg.Archive.Type {
	case "local":
		store, err = archive.NewDirStore(cfg.Archive.Path)
	case "s3":
		store, err = archive.NewS3Store(ctx, cfg.Archive.S3)
	default:
		return nil, fmt.Errorf("unsupported archive type: %s", cfg.Archive.Type)
	}
	if err != nil {
		return nil, err
	}
	return archive.NewArchiver(store, source, clock.Real{}), nil
}

func runList(cfg *config.Config) error {
	queue, closeStore, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	entries := queue.Entries()
	if len(entries) == 0 {
		fmt.Println("Retry queue is empty")
		return nil
	}

	fmt.Printf("%d queued events:\n", len(entries))
	for _, e := range entries {
		fmt.Printf("  %-30s user=%-12s failed=%s retries=%d\n",
			e.Event.EventName, e.Event.UserID,
			e.FailedAt.Format(time.RFC3339), e.RetryCount)
	}
	return nil
}

func runRetry(ctx context.Context, cfg *config.Config) error {
	queue, closeStore, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	before := queue.Size()
	if before == 0 {
		fmt.Println("Retry queue is empty")
		return nil
	}

	fmt.Printf("Replaying %d events...\n", before)
	queue.RetryAll(ctx)
	fmt.Printf("Done: %d delivered, %d still queued\n", before-queue.Size(), queue.Size())
	return nil
}

func runExport(ctx context.Context, cfg *config.Config) error {
	queue, closeStore, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	archiver, err := openArchiver(ctx, cfg, queue)
	if err != nil {
		return err
	}

	path, n, err := archiver.Export(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("No exhausted events to archive")
		return nil
	}
	fmt.Printf("Archived %d events to %s\n", n, path)
	return nil
}

func runBatches(ctx context.Context, cfg *config.Config) error {
	archiver, err := openArchiver(ctx, cfg, nil)
	if err != nil {
		return err
	}

	paths, err := archiver.ListBatches(ctx)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Println("No archived batches")
		return nil
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}

func runShow(ctx context.Context, cfg *config.Config, path string) error {
	archiver, err := openArchiver(ctx, cfg, nil)
	if err != nil {
		return err
	}

	batch, err := archiver.ReadBatch(ctx, path)
	if err != nil {
		return err
	}

	fmt.Printf("Archived at %s, %d entries:\n", batch.ArchivedAt.Format(time.RFC3339), len(batch.Entries))
	for _, e := range batch.Entries {
		fmt.Printf("  %-30s user=%-12s session=%s failed=%s retries=%d\n",
			e.Event.EventName, e.Event.UserID, e.Event.SessionID,
			e.FailedAt.Format(time.RFC3339), e.RetryCount)
	}
	return nil
}
