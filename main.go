package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"audubon_monitor/config"
	"audubon_monitor/logging"
	"audubon_monitor/scraper"
	"audubon_monitor/storage"
)

var (
	outputPath = flag.String("output", "", "Path of the listings JSON document (overrides OUTPUT_PATH)")
	enableList = flag.String("sources", "", "Comma separated source ids to run; all others are disabled")
	disable    = flag.String("disable", "", "Comma separated source ids to skip")
	timeout    = flag.Duration("timeout", 0, "Per-source timeout (overrides ADAPTER_TIMEOUT)")
	threshold  = flag.Float64("threshold", 0, "Similarity threshold for title matching (overrides SIMILARITY_THRESHOLD)")
	workerN    = flag.Int("workers", 0, "Number of sources scraped concurrently (overrides WORKERS)")
	sourcesDir = flag.String("config", "", "Directory of per-source YAML overrides (overrides SOURCES_DIR)")
	dryRun     = flag.Bool("dry-run", false, "Run every source but do not write the document or sinks")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := applyFlags(cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogPath)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting audubon-monitor...")
	for _, src := range cfg.EnabledSources() {
		log.Printf("  - %s (%s, %s identity, %s)", src.Name, src.ID, src.Identity, src.Transport)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The run log is optional; a broken SQLite file must not block the run.
	var sqliteStore *storage.SQLiteStore
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			log.Printf("Warning: run log disabled: %v", err)
		} else if sqliteStore, err = storage.NewSQLiteStore(cfg.DBPath); err != nil {
			log.Printf("Warning: run log disabled: %v", err)
			sqliteStore = nil
		} else {
			defer sqliteStore.Close()
			log.Printf("SQLite run log: %s", cfg.DBPath)
		}
	}

	orchestrator := scraper.NewOrchestrator(cfg, storage.NewDocumentStore(cfg.OutputPath), sqliteStore)
	orchestrator.SetDryRun(*dryRun)

	var pgStore *storage.PostgresStore
	if cfg.Postgres.DBURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		pgStore, err = storage.NewPostgresStore(connectCtx, cfg.Postgres.DBURL)
		cancel()
		if err != nil {
			log.Printf("Warning: Postgres mirror disabled: %v", err)
			pgStore = nil
		} else {
			defer pgStore.Close()
			log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Postgres.DBURL))
		}
	}

	var archiver *storage.S3Archiver
	if cfg.S3.Bucket != "" {
		if archiver, err = storage.NewS3Archiver(ctx, cfg.S3); err != nil {
			log.Printf("Warning: S3 archive disabled: %v", err)
			archiver = nil
		} else {
			log.Printf("Archiving snapshots to s3://%s/%s", cfg.S3.Bucket, cfg.S3.Prefix)
		}
	}
	orchestrator.SetSinks(pgStore, archiver)

	report, err := orchestrator.Run(ctx)
	if err != nil {
		var pe *storage.PersistenceError
		if errors.As(err, &pe) {
			log.Fatalf("Run aborted, document untouched: %v", err)
		}
		log.Fatalf("Run failed: %v", err)
	}

	scraper.PrintSummary(os.Stdout, report)
	if err := report.SourceErrors(); err != nil {
		log.Printf("Sources failed this run:\n%v", err)
	}
	log.Println("Run complete!")
}

func applyFlags(cfg *config.Config) error {
	if *outputPath != "" {
		cfg.OutputPath = *outputPath
	}
	if *sourcesDir != "" {
		cfg.SourcesDir = *sourcesDir
		if err := cfg.LoadSources(cfg.SourcesDir); err != nil {
			return err
		}
		if disabled := os.Getenv("SOURCES_DISABLED"); disabled != "" {
			cfg.Disable(config.SplitList(disabled))
		}
	}
	if *enableList != "" {
		cfg.Enable(config.SplitList(*enableList))
	}
	if *disable != "" {
		cfg.Disable(config.SplitList(*disable))
	}
	if *timeout > 0 {
		cfg.AdapterTimeout = *timeout
	}
	if *threshold > 0 {
		cfg.SimilarityThreshold = *threshold
	}
	if *workerN > 0 {
		cfg.Workers = *workerN
	}
	return nil
}

// maskConnectionString hides the password of a connection URL for logging.
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	return u.Redacted()
}
