// Package main provides the HTTP API: PDF upload, job status, document management.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/bull/pdfchat/internal/api"
	"github.com/bull/pdfchat/internal/config"
	"github.com/bull/pdfchat/internal/embedding"
	"github.com/bull/pdfchat/internal/health"
	"github.com/bull/pdfchat/internal/jobs"
	"github.com/bull/pdfchat/internal/logger"
	"github.com/bull/pdfchat/internal/metadata"
	"github.com/bull/pdfchat/internal/storage"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}
	if cfg.LogMode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatal("Failed to create upload dir", "dir", cfg.UploadDir, "error", err)
	}

	store, err := storage.NewQdrantStorage(storage.Config{
		Host:            cfg.QdrantHost,
		Port:            cfg.QdrantPort,
		APIKey:          cfg.QdrantAPIKey,
		UseTLS:          cfg.QdrantUseTLS,
		VectorDimension: embedding.DimensionFor(cfg.EmbeddingProvider, cfg.EmbeddingModel),
	})
	if err != nil {
		log.Fatal("Failed to connect to Qdrant", "error", err)
	}
	defer store.Close()

	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	meta, err := metadata.Connect(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	connectCancel()
	if err != nil {
		log.Fatal("Failed to connect to MongoDB", "error", err)
	}
	defer meta.Close(context.Background())

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	client := asynq.NewClient(redisOpt)
	defer client.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()
	progress := jobs.NewProgressStore(rdb, cfg.JobRetention)

	enqueuer := jobs.NewEnqueuer(client, jobs.EnqueueOptions{
		Queue: cfg.QueueName,
		Retry: jobs.RetryPolicy{
			Attempts: cfg.JobAttempts,
			Backoff:  jobs.BackoffPolicy{Type: "exponential", DelayMs: cfg.JobBackoff.Milliseconds()},
			DelayMs:  cfg.JobDelay.Milliseconds(),
		},
		Timeout:   cfg.JobTimeout,
		Retention: cfg.JobRetention,
	})

	handler, err := api.NewHandler(api.HandlerConfig{
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Jobs:           enqueuer,
		Status:         jobs.NewStatusReader(inspector, progress, cfg.QueueName),
		Documents:      meta,
		Collections:    store,
		Health: map[string]health.Checker{
			"qdrant":  store,
			"mongodb": meta,
			"redis":   progress,
		},
	}, log)
	if err != nil {
		log.Fatal("Failed to create handler", "error", err)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           api.NewRouter(api.RouterConfig{Handler: handler, Logger: log, CORSOrigins: cfg.CORSOrigins}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", "addr", srv.Addr, "upload_dir", cfg.UploadDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down HTTP server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}
}
