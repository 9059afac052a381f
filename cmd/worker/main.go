// Package main provides the ingestion worker CLI: the asynq server that runs
// uploaded PDFs through the pipeline, plus maintenance commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/pdfchat/internal/config"
	"github.com/bull/pdfchat/internal/jobs"
	"github.com/bull/pdfchat/internal/logger"
	"github.com/bull/pdfchat/internal/reconcile"
)

var rootCmd = &cobra.Command{
	Use:   "pdfchat-worker",
	Short: "PDF ingestion worker",
	Long:  "Consumes pdf:ingest jobs from Redis and indexes uploaded PDFs into Qdrant and MongoDB",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process ingestion jobs until interrupted",
	Long: `Starts the asynq server for the pdf:ingest task.

Each job:
1. Waits for the uploaded file to be fully written
2. Extracts page text
3. Splits it into overlapping chunks
4. Creates the document's Qdrant collection if needed
5. Embeds and upserts chunks in batches
6. Records the document in MongoDB

Environment variables:
  REDIS_ADDR          Redis address (default: localhost:6379)
  QUEUE_NAME          Queue to consume (default: file-upload-queue)
  WORKER_CONCURRENCY  Jobs processed at once (default: 5)
  UPLOAD_DIR          Directory jobs may read and remove files from (default: uploads)
  QDRANT_HOST         Qdrant hostname (default: localhost)
  QDRANT_PORT         Qdrant gRPC port (default: 6334)
  MONGO_URI           MongoDB connection string
  EMBEDDING_PROVIDER  openai or gemini (default: openai)
  OPENAI_API_KEY      Required for the openai provider
  GEMINI_API_KEY      Required for the gemini provider`,
	RunE: runWorker,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Delete Qdrant collections that have no metadata record",
	Long: `Scans every pdf_<timestamp>_* collection older than the grace period and
deletes those no MongoDB record refers to, then does the same for files in
UPLOAD_DIR. Collections and files owned by a queued, scheduled, retrying or
active job are left alone whatever their age.`,
	RunE: runReconcile,
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Print the state of an ingestion job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var (
	reconcileGrace  time.Duration
	reconcileDryRun bool
)

func init() {
	reconcileCmd.Flags().DurationVar(&reconcileGrace, "grace", 0, "skip collections younger than this (default: RECONCILE_GRACE or 1h)")
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "report orphans without deleting them")

	rootCmd.AddCommand(runCmd, reconcileCmd, statusCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

func setup() (*config.Config, *logger.Logger, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	d, err := connect(cmd.Context(), cfg, log, true)
	if err != nil {
		return err
	}
	defer d.Close()

	handler := jobs.NewHandler(d.pipeline(cfg, log), d.progress, log)
	server := jobs.NewServer(d.redisOpt, jobs.ServerConfig{
		Queue:       cfg.QueueName,
		Concurrency: cfg.WorkerConcurrency,
		DefaultBackoff: jobs.BackoffPolicy{
			Type:    "exponential",
			DelayMs: cfg.JobBackoff.Milliseconds(),
		},
	}, handler, log)

	log.Info("Worker ready",
		"queue", cfg.QueueName,
		"concurrency", cfg.WorkerConcurrency,
		"embedding_provider", cfg.EmbeddingProvider,
		"dimension", d.embedder.Dimension(),
	)
	// Run blocks until SIGTERM/SIGINT and waits for in-flight jobs.
	return server.Run()
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := cmd.Context()
	start := time.Now()

	d, err := connect(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer d.Close()

	grace := reconcileGrace
	if grace <= 0 {
		grace = cfg.ReconcileGrace
	}

	inspector := asynq.NewInspector(d.redisOpt)
	defer inspector.Close()

	fmt.Printf("Scanning collections and uploads older than %s...\n", grace)
	reconciler := reconcile.New(d.store, d.meta, jobs.NewInFlightScanner(inspector, cfg.QueueName), log)
	report, err := reconciler.Run(ctx, reconcile.Options{
		Grace:     grace,
		DryRun:    reconcileDryRun,
		UploadDir: cfg.UploadDir,
	})
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	fmt.Println()
	if reconcileDryRun {
		fmt.Println("Dry run complete!")
	} else {
		fmt.Println("Reconcile complete!")
	}
	fmt.Printf("  Collections: %d\n", report.Scanned)
	fmt.Printf("  Eligible: %d\n", report.Eligible)
	fmt.Printf("  Owned by unfinished jobs: %d\n", len(report.InFlight))
	fmt.Printf("  Orphans: %d\n", len(report.Orphans))
	fmt.Printf("  Deleted: %d\n", len(report.Deleted))
	for _, name := range report.Orphans {
		fmt.Printf("  - %s\n", name)
	}
	fmt.Printf("  Upload files: %d\n", report.Files.Scanned)
	fmt.Printf("  Orphaned files: %d\n", len(report.Files.Orphans))
	fmt.Printf("  Deleted files: %d\n", len(report.Files.Deleted))
	for _, path := range report.Files.Orphans {
		fmt.Printf("  - %s\n", path)
	}

	if len(report.Failed) > 0 {
		fmt.Println()
		fmt.Println("Failed:")
		for _, f := range report.Failed {
			fmt.Printf("  - %s: %s\n", f.Name, f.Reason)
		}
	}

	fmt.Println()
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	inspector, progress, closeFn := statusDeps(cfg)
	defer closeFn()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	st, err := jobs.NewStatusReader(inspector, progress, cfg.QueueName).Get(ctx, args[0])
	if err != nil {
		return err
	}

	out := json.NewEncoder(cmd.OutOrStdout())
	out.SetIndent("", "  ")
	return out.Encode(st)
}
