// Package main provides the MCP server entry point for PDF ingestion status.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/bull/pdfchat/internal/config"
	"github.com/bull/pdfchat/internal/embedding"
	"github.com/bull/pdfchat/internal/health"
	"github.com/bull/pdfchat/internal/jobs"
	"github.com/bull/pdfchat/internal/logger"
	mcpserver "github.com/bull/pdfchat/internal/mcp"
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

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Initialize storage
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

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer inspector.Close()
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()
	progress := jobs.NewProgressStore(rdb, cfg.JobRetention)

	// Create MCP server
	server := mcpserver.NewServer(&mcpserver.Config{
		Status:      jobs.NewStatusReader(inspector, progress, cfg.QueueName),
		Documents:   meta,
		Collections: store,
	})

	// Create HTTP server with multiple endpoints
	mux := http.NewServeMux()
	mux.HandleFunc("/", mcpserver.NewLandingHandler())
	mux.HandleFunc("/health", health.NewHandler(map[string]health.Checker{
		"qdrant":  store,
		"mongodb": meta,
		"redis":   progress,
	}))
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, &mcpserver.HTTPHandlerOptions{
		Stateless: os.Getenv("MCP_STATEFUL") != "true",
		Tokens:    cfg.MCPAuthTokens,
	}))

	addr := "0.0.0.0:" + cfg.Port

	// Check if running in server mode (HTTP) or stdio mode (local development)
	if os.Getenv("SERVER_MODE") == "true" {
		if len(cfg.MCPAuthTokens) == 0 {
			log.Warn("MCP_AUTH_TOKENS is empty, document tools trust the user_id argument")
		}
		log.Info("Starting HTTP server", "addr", addr, "mcp", "/mcp", "health", "/health")
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", "error", err)
		}
		return
	}

	// Stdio mode: also serve /health in the background for local testing
	go func() {
		log.Info("Starting health server", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn("Health server error", "error", err)
		}
	}()

	log.Info("Starting ingestion MCP server (stdio mode)")
	if err := server.Run(ctx); err != nil {
		log.Error("Server error", "error", err)
		os.Exit(1)
	}
}
