// Package main implements the waypost binary: an analytics relay that
// accepts events over HTTP, forwards them to the configured backends,
// and tracks installation guide progress.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/waypost/waypost/internal/app"
	"github.com/waypost/waypost/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configFile  string
		dataDir     string
		httpAddr    string
		environment string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP server address")
	flag.StringVar(&environment, "env", "", "Runtime environment: production, development")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Waypost - Analytics Event Relay\n\n")
		fmt.Fprintf(os.Stderr, "Usage: waypost [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  waypost --data-dir /data/waypost\n")
		fmt.Fprintf(os.Stderr, "  waypost --env production --http-addr :8080\n")
		fmt.Fprintf(os.Stderr, "  waypost --config /etc/waypost/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  WAYPOST_ENV              Runtime environment (production, development)\n")
		fmt.Fprintf(os.Stderr, "  WAYPOST_DATA_DIR         Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  WAYPOST_HTTP_ADDR        HTTP server address\n")
		fmt.Fprintf(os.Stderr, "  WAYPOST_PRIMARY_URL      Primary backend base URL\n")
		fmt.Fprintf(os.Stderr, "  WAYPOST_LEGACY_URL       Legacy collector base URL\n")
		fmt.Fprintf(os.Stderr, "  WAYPOST_ARCHIVE_TYPE     Dead-letter archive type (local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("waypost version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := loadConfig(configFile, dataDir, httpAddr, environment)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Print startup banner
	printBanner(cfg)

	// Create and start the application
	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	// Wait for shutdown signal
	if err := application.WaitForShutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	// Graceful shutdown
	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, dataDir, httpAddr, environment string) (*config.Config, error) {
	// Local overrides from .env when present
	_ = godotenv.Load()

	var cfg *config.Config
	var err error

	// Start with defaults or load from file
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// Apply environment variables
	config.LoadFromEnv(cfg)

	// Apply command line flags (highest priority)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if environment != "" {
		cfg.Environment = config.Environment(environment)
	}

	return cfg, nil
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("╔═══════════════════════════════════════════╗")
	log.Printf("║                 WAYPOST                   ║")
	log.Printf("║        Analytics Event Relay              ║")
	log.Printf("╚═══════════════════════════════════════════╝")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Environment: %s", cfg.Environment)
	log.Printf("  Data Dir:    %s", cfg.DataDir)
	log.Printf("  HTTP:        %s", cfg.HTTP.Addr)
	log.Printf("")

	if cfg.Primary.Enabled {
		log.Printf("Primary Backend:")
		log.Printf("  URL: %s", cfg.Primary.BaseURL)
	}
	if cfg.Legacy.Enabled {
		log.Printf("Legacy Collector:")
		log.Printf("  URL: %s", cfg.Legacy.BaseURL)
	}
	if cfg.Archive.Enabled {
		log.Printf("Dead-Letter Archive:")
		log.Printf("  Type: %s", cfg.Archive.Type)
	}

	log.Printf("")
}
